// Package training stores labeled feature examples and retrains the
// risk model from them.
package training

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// DefaultWriteTimeout bounds a single example write.
const DefaultWriteTimeout = 2 * time.Second

// Trainable is the model capability needed to retrain.
type Trainable interface {
	Train(vectors [][]float64, labels []int) error
	Accuracy(vectors [][]float64, labels []int) float64
	Persist(ctx context.Context, accuracy *float64) (*domain.Model, error)
}

// Result describes one retrain run.
type Result struct {
	Trained  bool          `json:"trained"`
	Samples  int           `json:"samples"`
	Accuracy *float64      `json:"accuracy,omitempty"`
	Model    *domain.Model `json:"model,omitempty"`
}

// Recorder persists training examples and drives retraining.
type Recorder struct {
	repo    domain.Repository
	cfg     domain.TrainingConfig
	metrics *metrics.Collector

	writeTimeout time.Duration

	// serializes retrains
	mu sync.Mutex
}

// NewRecorder creates a recorder. m may be nil.
func NewRecorder(repo domain.Repository, cfg domain.TrainingConfig, m *metrics.Collector) *Recorder {
	return &Recorder{
		repo:         repo,
		cfg:          cfg,
		metrics:      m,
		writeTimeout: DefaultWriteTimeout,
	}
}

// Record stores one example. Failures are logged and dropped so a
// broken store never holds up scoring.
func (r *Recorder) Record(ctx context.Context, txID string, vec *domain.FeatureVector, label int) {
	if vec == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	defer cancel()

	ex := &domain.TrainingExample{
		TransactionID: txID,
		Features:      vec.Payload(),
		Label:         label,
	}
	if err := r.repo.SaveTrainingExample(ctx, ex); err != nil {
		slog.Warn("failed to record training example",
			"transaction_id", txID,
			"error", err,
		)
		r.metrics.Degraded("training")
		return
	}
	r.metrics.TrainingExample(label)
}

// Retrain fits the model to the most recent examples and persists the
// result. Too few examples is not an error: the model is left as is and
// Result.Trained is false.
func (r *Recorder) Retrain(ctx context.Context, model Trainable) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	examples, err := r.repo.ListTrainingExamples(ctx, r.cfg.RetrainLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load training examples: %w", err)
	}

	if len(examples) < r.cfg.MinSamples {
		slog.Info("not enough training examples, skipping retrain",
			"samples", len(examples),
			"min_samples", r.cfg.MinSamples,
		)
		return &Result{Samples: len(examples)}, nil
	}

	vectors := make([][]float64, 0, len(examples))
	labels := make([]int, 0, len(examples))
	for _, ex := range examples {
		vectors = append(vectors, domain.VectorFromPayload(ex.Features))
		labels = append(labels, ex.Label)
	}

	if err := model.Train(vectors, labels); err != nil {
		return nil, err
	}

	acc := model.Accuracy(vectors, labels)
	rec, err := model.Persist(ctx, &acc)
	if err != nil {
		return nil, err
	}
	r.metrics.ModelState(true, &acc)

	slog.Info("model retrained",
		"samples", len(examples),
		"accuracy", acc,
		"version", rec.Version,
	)
	return &Result{Trained: true, Samples: len(examples), Accuracy: &acc, Model: rec}, nil
}
