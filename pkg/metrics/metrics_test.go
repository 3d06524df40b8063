package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with a private registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then every collector is registered on it", func() {
				So(manager, ShouldNotBeNil)
				manager.sessionsProcessed.Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				So(len(families), ShouldBeGreaterThan, 0)
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test_namespace"),
				WithSubsystem("test_subsystem"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithMetricsEnabled(true),
				WithRefreshInterval(5*time.Second),
				WithCustomLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then the options are applied", func() {
				So(manager.namespace, ShouldEqual, "test_namespace")
				So(manager.subsystem, ShouldEqual, "test_subsystem")
				So(manager.histogramBuckets, ShouldResemble, []float64{0.1, 0.5, 1.0})
				So(manager.refreshInterval, ShouldEqual, 5*time.Second)
				So(manager.customLabels["env"], ShouldEqual, "test")
			})
		})

		Convey("When passing empty option values", func() {
			manager := NewManager(
				WithNamespace(""),
				WithSubsystem(""),
				WithHistogramBuckets(nil),
				WithRefreshInterval(0),
				WithPrometheusRegistry(prometheus.NewRegistry()),
			)

			Convey("Then defaults are kept", func() {
				So(manager.namespace, ShouldEqual, "cgmrisk")
				So(manager.subsystem, ShouldEqual, "engine")
				So(manager.histogramBuckets, ShouldResemble, prometheus.DefBuckets)
				So(manager.refreshInterval, ShouldEqual, defaultRefreshInterval)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		Convey("When recording training metrics", func() {
			before := testutil.ToFloat64(globalManager.sessionsProcessed)
			RecordSessionProcessed()
			RecordSessionProcessed()
			keptBefore := testutil.ToFloat64(globalManager.trainingRowsKept.WithLabelValues("train"))
			RecordTrainingRows("train", 10, 3, 2)

			Convey("Then the counters advance", func() {
				So(testutil.ToFloat64(globalManager.sessionsProcessed), ShouldEqual, before+2)
				So(testutil.ToFloat64(globalManager.trainingRowsKept.WithLabelValues("train")), ShouldEqual, keptBefore+10)
			})
		})

		Convey("When recording serving metrics", func() {
			before := testutil.ToFloat64(globalManager.predictionRejections.WithLabelValues("insufficient_history"))
			RecordPredictionRejection("insufficient_history")
			fallbacks := testutil.ToFloat64(globalManager.explainFallbacks)
			RecordExplanationFallback()

			Convey("Then the counters advance", func() {
				So(testutil.ToFloat64(globalManager.predictionRejections.WithLabelValues("insufficient_history")), ShouldEqual, before+1)
				So(testutil.ToFloat64(globalManager.explainFallbacks), ShouldEqual, fallbacks+1)
			})

			Convey("And observations do not panic", func() {
				So(func() {
					RecordPrediction("ok")
					RecordPredictionLatency(12)
					RecordRiskScore(0.73)
					RecordSessionLatency(40)
					RecordSessionFailed("parse")
					RecordSessionSkipped()
					RecordGridRows(288)
				}, ShouldNotPanic)
			})
		})

		Convey("When recording queue and HTTP metrics", func() {
			UpdateQueueCapacity(64)
			UpdateQueueSize(5)
			UpdateWorkerCount(4)

			Convey("Then gauges hold the last value", func() {
				So(testutil.ToFloat64(globalManager.queueCapacity), ShouldEqual, 64)
				So(testutil.ToFloat64(globalManager.queueSize), ShouldEqual, 5)
				So(testutil.ToFloat64(globalManager.workerCount), ShouldEqual, 4)
			})

			Convey("And request metrics do not panic", func() {
				So(func() {
					RecordHTTPRequest("predict", "POST", "200")
					RecordHTTPRequestDuration("predict", "POST", "200", 3)
					RecordErrorByEndpoint("predict", "POST", "client_error")
					RecordQueueEnqueue()
					RecordQueueDequeue()
					RecordQueueEnqueueError("closed")
				}, ShouldNotPanic)
			})
		})
	})
}

func TestGetRegistry(t *testing.T) {
	Convey("Given the custom registry", t, func() {
		RecordSessionProcessed()
		families, err := GetRegistry().Gather()

		Convey("Then it exposes the engine metrics", func() {
			So(err, ShouldBeNil)
			names := make([]string, 0, len(families))
			for _, f := range families {
				names = append(names, f.GetName())
			}
			So(names, ShouldContain, "cgmrisk_engine_sessions_processed_total")
		})
	})
}
