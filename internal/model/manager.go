package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Manager owns the current model. Predictions read an atomically
// swapped snapshot; Initialize, Train, Load and Persist serialize on mu.
type Manager struct {
	repo domain.Repository
	kind string
	gain float64

	mu      sync.Mutex
	current atomic.Pointer[LinearModel]
	record  atomic.Pointer[domain.Model]
}

// NewManager creates a manager for the configured model kind. It holds
// no model until Initialize is called; Predict answers 0.5 until then.
func NewManager(repo domain.Repository, cfg domain.TrainingConfig) *Manager {
	gain := cfg.Gain
	if gain <= 0 {
		gain = 1
	}
	return &Manager{
		repo: repo,
		kind: cfg.ModelKind,
		gain: gain,
	}
}

// Kind returns the model kind tag.
func (m *Manager) Kind() string {
	return m.kind
}

// Initialize loads the latest persisted model of the configured kind,
// or installs a fresh untrained one. It is idempotent and never fails.
func (m *Manager) Initialize(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.Load() != nil {
		return
	}

	if m.repo != nil {
		rec, err := m.repo.LatestModel(ctx, m.kind)
		switch {
		case err == nil:
			if err := m.loadLocked(rec.Parameters); err != nil {
				slog.Warn("failed to load persisted model, starting untrained",
					"kind", m.kind,
					"version", rec.Version,
					"error", err,
				)
				return
			}
			m.record.Store(rec)
			slog.Info("model loaded", "kind", m.kind, "version", rec.Version)
			return
		case !errors.Is(err, domain.ErrNotFound):
			slog.Warn("failed to query persisted model", "kind", m.kind, "error", err)
		}
	}

	m.current.Store(NewLinearModel())
	slog.Info("model initialized untrained", "kind", m.kind)
}

// Predict returns the current model's estimate for x. Any failure
// degrades to the neutral 0.5.
func (m *Manager) Predict(x []float64) (p float64) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("model predict panicked", "panic", r)
			p = 0.5
		}
	}()

	cur := m.current.Load()
	if cur == nil {
		return 0.5
	}
	p, err := cur.Predict(x)
	if err != nil {
		slog.Warn("model predict failed", "error", err)
		return 0.5
	}
	return p
}

// IsTrained reports whether the current model has been trained.
func (m *Manager) IsTrained() bool {
	cur := m.current.Load()
	return cur != nil && cur.Trained
}

// Current returns the metadata of the persisted model the manager
// holds, or nil if it has not loaded or persisted one.
func (m *Manager) Current() *domain.Model {
	return m.record.Load()
}

// Train fits a new model and swaps it in. Zero examples is a no-op.
// Invalid input leaves the current model in place.
func (m *Manager) Train(vectors [][]float64, labels []int) error {
	if len(vectors) == 0 {
		slog.Info("no training examples, model unchanged", "kind", m.kind)
		return nil
	}

	next, err := Fit(vectors, labels, m.gain)
	if err != nil {
		return fmt.Errorf("failed to train model: %w", err)
	}

	m.mu.Lock()
	m.current.Store(next)
	m.mu.Unlock()

	slog.Info("model trained", "kind", m.kind, "samples", next.Samples)
	return nil
}

// Accuracy scores the current model on a labeled set.
func (m *Manager) Accuracy(vectors [][]float64, labels []int) float64 {
	cur := m.current.Load()
	if cur == nil {
		return 0
	}
	return cur.Accuracy(vectors, labels)
}

// Save serializes the current model.
func (m *Manager) Save() ([]byte, error) {
	cur := m.current.Load()
	if cur == nil {
		cur = NewLinearModel()
	}
	return json.Marshal(cur)
}

// Load replaces the current model with a serialized one. A blob that
// does not decode installs a fresh untrained model and returns the error.
func (m *Manager) Load(blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked(blob)
}

func (m *Manager) loadLocked(blob []byte) error {
	var lm LinearModel
	err := json.Unmarshal(blob, &lm)
	if err == nil && len(lm.Weights) != len(domain.FeatureNames) {
		err = fmt.Errorf("%w: model has %d weights, want %d", domain.ErrInvalidInput, len(lm.Weights), len(domain.FeatureNames))
	}
	if err != nil {
		m.current.Store(NewLinearModel())
		return fmt.Errorf("failed to decode model: %w", err)
	}
	if len(lm.Features) != len(lm.Weights) {
		lm.Features = append([]string(nil), domain.FeatureNames...)
	}
	lm.constrain()
	m.current.Store(&lm)
	return nil
}

// Persist appends the current model as a new version.
func (m *Manager) Persist(ctx context.Context, accuracy *float64) (*domain.Model, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.repo == nil {
		return nil, fmt.Errorf("%w: no repository configured", domain.ErrDependencyUnavailable)
	}

	params, err := m.Save()
	if err != nil {
		return nil, fmt.Errorf("failed to encode model: %w", err)
	}

	revision := 1
	latest, err := m.repo.LatestModel(ctx, m.kind)
	switch {
	case err == nil:
		revision = latest.Revision + 1
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("failed to read model history: %w", err)
	}

	rec := &domain.Model{
		Kind:       m.kind,
		Parameters: params,
		Version:    Version(revision),
		Revision:   revision,
		Accuracy:   accuracy,
	}
	if err := m.repo.SaveModel(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to persist model: %w", err)
	}
	m.record.Store(rec)

	slog.Info("model persisted", "kind", m.kind, "version", rec.Version)
	return rec, nil
}

// Version formats a revision as a semantic version string.
func Version(revision int) string {
	return fmt.Sprintf("1.0.%d", revision)
}
