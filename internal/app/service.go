// Package app wires the domain packages into the serving and training
// use cases exposed by the CLI and the HTTP API.
package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/cgmrisk/internal/adapters/llm"
	"github.com/okian/cgmrisk/internal/config"
	"github.com/okian/cgmrisk/internal/domain/explain"
	"github.com/okian/cgmrisk/internal/domain/features"
	"github.com/okian/cgmrisk/internal/domain/risk"
	"github.com/okian/cgmrisk/pkg/logger"
)

// Service implements the API dependencies for spike prediction.
type Service struct {
	mu sync.RWMutex

	cfg        *config.Config
	classifier risk.Classifier
	explainer  explain.Explainer
	predictor  *Predictor

	started   bool
	startedAt time.Time

	served   atomic.Int64
	spikes   atomic.Int64
	degraded atomic.Int64
	rejected atomic.Int64

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClassifier uses c instead of loading the model artifact on Start.
func WithClassifier(c risk.Classifier) Option {
	return func(s *Service) {
		if c != nil {
			s.classifier = c
		}
	}
}

// WithServiceExplainer sets the primary explainer. It is still wrapped in the
// rule-based fallback.
func WithServiceExplainer(e explain.Explainer) Option {
	return func(s *Service) {
		if e != nil {
			s.explainer = e
		}
	}
}

// New constructs a Service from cfg. A nil cfg uses config.New().
func New(cfg *config.Config, opts ...Option) *Service {
	if cfg == nil {
		cfg = config.New()
	}
	s := &Service{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	return s
}

// Start loads the classifier and builds the prediction pipeline.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if s.classifier == nil {
		m, err := risk.LoadLogisticModel(s.cfg.ModelPath)
		if err != nil {
			return fmt.Errorf("load model: %w", err)
		}
		s.classifier = m
		s.logger.Info(ctx, "model loaded", logger.String("path", s.cfg.ModelPath))
	}

	primary := s.explainer
	if primary == nil && s.cfg.ExplainerAPIKey != "" {
		primary = llm.NewClient(s.cfg.ExplainerBaseURL, s.cfg.ExplainerAPIKey, s.cfg.ExplainerModel,
			llm.WithTimeout(s.cfg.ExplainerTimeout()))
	}

	s.predictor = NewPredictor(s.classifier,
		WithHistoryPolicy(s.cfg.HistoryPolicy),
		WithMinHistory(s.cfg.MinHistory()),
		WithEngine(features.New(features.WithSpikeThreshold(s.cfg.SpikeThreshold))),
		WithExplainer(primary),
		WithPredictorLogger(s.logger.Named("predictor")),
	)

	s.started = true
	s.startedAt = time.Now()
	s.logger.Info(ctx, "prediction service started",
		logger.String("history_policy", s.cfg.HistoryPolicy),
		logger.Int("min_history_minutes", s.cfg.MinHistoryMinutes),
		logger.Bool("remote_explainer", primary != nil))
	return nil
}

// Stop marks the service as stopped.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	s.started = false
	s.predictor = nil
	s.logger.Info(context.Background(), "prediction service stopped")
}

// Predict serves one prediction.
func (s *Service) Predict(ctx context.Context, req Request) (Prediction, error) {
	s.mu.RLock()
	p := s.predictor
	s.mu.RUnlock()
	if p == nil {
		return Prediction{}, ErrNotStarted
	}

	pred, err := p.Predict(ctx, req)
	if err != nil {
		s.rejected.Add(1)
		return Prediction{}, err
	}
	s.served.Add(1)
	if pred.WillSpike {
		s.spikes.Add(1)
	}
	if pred.Degraded {
		s.degraded.Add(1)
	}
	return pred, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":             s.started,
		"historyPolicy":       s.cfg.HistoryPolicy,
		"minHistoryMinutes":   s.cfg.MinHistoryMinutes,
		"spikeThreshold":      s.cfg.SpikeThreshold,
		"predictionsServed":   s.served.Load(),
		"predictionsSpike":    s.spikes.Load(),
		"predictionsDegraded": s.degraded.Load(),
		"predictionsFailed":   s.rejected.Load(),
	}
	if s.started {
		stats["uptimeSeconds"] = int64(time.Since(s.startedAt).Seconds())
	}
	return stats
}
