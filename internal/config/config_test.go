package config_test

import (
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/okian/cgmrisk/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":8000")
			convey.So(cfg.SpikeThreshold, convey.ShouldEqual, 180)
			convey.So(cfg.HistoryPolicy, convey.ShouldEqual, config.HistoryPolicyReject)
			convey.So(cfg.MinHistory(), convey.ShouldEqual, 60*time.Minute)
			convey.So(cfg.TrainMarker, convey.ShouldEqual, "training")
			convey.So(cfg.TestMarker, convey.ShouldEqual, "testing")
			convey.So(cfg.WorkerCount, convey.ShouldEqual, runtime.NumCPU())
			convey.So(cfg.ExplainerTimeout(), convey.ShouldEqual, 10*time.Second)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given a default config", t, func() {
		cfg := config.New()

		convey.Convey("When the history policy is unknown", func() {
			cfg.HistoryPolicy = "guess"

			convey.Convey("Then validation fails with ErrInvalidConfig", func() {
				err := cfg.Validate()
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(errors.Is(err, config.ErrUnknownPolicy), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "history_policy")
			})
		})

		convey.Convey("When the spike threshold is not positive", func() {
			cfg.SpikeThreshold = 0

			convey.Convey("Then validation fails", func() {
				convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When both partition markers are equal", func() {
			cfg.TestMarker = "Training"

			convey.Convey("Then validation fails", func() {
				convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the degrade policy is selected", func() {
			cfg.HistoryPolicy = config.HistoryPolicyDegrade

			convey.Convey("Then validation passes", func() {
				convey.So(cfg.Validate(), convey.ShouldBeNil)
			})
		})
	})
}
