// Package simulation synthesizes card traffic, including injected fraud
// patterns, and feeds it through the scoring pipeline on a schedule.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/training"
)

// ErrAlreadyRunning is returned by Start on a running driver.
var ErrAlreadyRunning = errors.New("simulation already running")

// Evaluator runs one transaction through the pipeline.
type Evaluator interface {
	Evaluate(ctx context.Context, tx *domain.Transaction) (*pipeline.Outcome, error)
}

// Status is the driver's externally visible state. Running reflects the
// schedule, not whether a tick is executing.
type Status struct {
	Running     bool       `json:"running"`
	Interval    string     `json:"interval"`
	Description string     `json:"description"`
	Ticks       int64      `json:"ticks"`
	Failures    int64      `json:"failures"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
}

// Options wires the driver. Recorder and Model enable periodic
// retraining; Metrics may be nil.
type Options struct {
	Generator *Generator
	Evaluator Evaluator
	Recorder  *training.Recorder
	Model     training.Trainable
	Metrics   *metrics.Collector
}

// Driver is a two-state machine, Stopped and Running. While running it
// fires a tick every interval; ticks may overlap.
type Driver struct {
	opts         Options
	interval     time.Duration
	description  string
	retrainEvery int64

	mu         sync.Mutex
	cancel     context.CancelFunc
	generation uint64
	startedAt  time.Time

	// seedMu serializes seeding when a restart overlaps a cancelled start.
	seedMu sync.Mutex

	inflight sync.WaitGroup
	ticks    atomic.Int64
	failures atomic.Int64
}

// NewDriver creates a stopped driver.
func NewDriver(cfg *domain.Config, opts Options) *Driver {
	return &Driver{
		opts:         opts,
		interval:     cfg.Simulation.Interval,
		description:  cfg.Simulation.Description,
		retrainEvery: int64(cfg.Training.RetrainEvery),
	}
}

// Start seeds an empty store, runs one tick immediately and then
// schedules a tick every interval until Stop. The driver reports Running
// from the moment Start is called; seeding happens outside the lock so
// Status and Stop stay responsive. A Stop during seeding cancels the
// start before the first tick.
func (d *Driver) Start() error {
	d.mu.Lock()
	if d.cancel != nil {
		d.mu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.generation++
	gen := d.generation
	d.startedAt = time.Now().UTC()
	d.inflight.Add(1)
	d.mu.Unlock()

	// Seeding runs to completion even if Stop arrives, so a cancelled
	// start never leaves a partially seeded store.
	d.seedMu.Lock()
	_, err := d.opts.Generator.EnsureSeeded(context.Background())
	d.seedMu.Unlock()
	if err != nil {
		d.abortStart(gen, cancel)
		return fmt.Errorf("failed to seed simulation entities: %w", err)
	}
	if ctx.Err() != nil {
		d.abortStart(gen, cancel)
		slog.Info("simulation stopped before first tick")
		return nil
	}

	slog.Info("simulation started",
		"interval", d.interval.String(),
		"description", d.description,
	)

	d.runTick()
	go d.loop(ctx)
	return nil
}

// abortStart undoes a Start that never reached its schedule loop. A
// later Start owns the driver if the generation moved on.
func (d *Driver) abortStart(gen uint64, cancel context.CancelFunc) {
	d.mu.Lock()
	if d.generation == gen {
		d.cancel = nil
	}
	d.mu.Unlock()
	cancel()
	d.inflight.Done()
}

// Stop cancels the schedule. In-flight ticks finish on their own; use
// Wait to block on them. Stop reports whether the driver was running.
func (d *Driver) Stop() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel == nil {
		return false
	}
	d.cancel()
	d.cancel = nil

	slog.Info("simulation stopped", "ticks", d.ticks.Load())
	return true
}

// Wait blocks until the schedule loop and every in-flight tick return.
// It also waits out a Start that is still seeding.
func (d *Driver) Wait() {
	d.inflight.Wait()
}

// Status reports whether the schedule is active.
func (d *Driver) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := Status{
		Running:     d.cancel != nil,
		Interval:    d.interval.String(),
		Description: d.description,
		Ticks:       d.ticks.Load(),
		Failures:    d.failures.Load(),
	}
	if s.Running {
		started := d.startedAt
		s.StartedAt = &started
	}
	return s
}

func (d *Driver) loop(ctx context.Context) {
	defer d.inflight.Done()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A tick and cancellation can be ready together.
			if ctx.Err() != nil {
				return
			}
			d.inflight.Add(1)
			go func() {
				defer d.inflight.Done()
				d.runTick()
			}()
		}
	}
}

// runTick executes one tick and absorbs any failure so the schedule
// survives.
func (d *Driver) runTick() {
	defer func() {
		if r := recover(); r != nil {
			d.failures.Add(1)
			d.opts.Metrics.Tick("error")
			slog.Error("simulation tick panicked", "panic", r)
		}
	}()

	// Ticks are not tied to the schedule's lifetime.
	ctx := context.Background()

	if _, err := d.Tick(ctx); err != nil {
		d.failures.Add(1)
		d.opts.Metrics.Tick("error")
		slog.Error("simulation tick failed", "error", err)
		return
	}
	d.opts.Metrics.Tick("ok")

	n := d.ticks.Add(1)
	if d.retrainEvery > 0 && n%d.retrainEvery == 0 {
		d.retrain(ctx)
	}
}

// Tick generates one transaction and evaluates it.
func (d *Driver) Tick(ctx context.Context) (*pipeline.Outcome, error) {
	tx, err := d.opts.Generator.Next(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to generate transaction: %w", err)
	}

	out, err := d.opts.Evaluator.Evaluate(ctx, tx)
	if err != nil {
		return nil, err
	}

	if tx.Note != "" {
		slog.Info("simulated fraud pattern scored",
			"transaction_id", tx.ID,
			"note", tx.Note,
			"risk_score", out.Signal.RiskScore,
		)
	}
	return out, nil
}

func (d *Driver) retrain(ctx context.Context) {
	if d.opts.Recorder == nil || d.opts.Model == nil {
		return
	}
	if _, err := d.opts.Recorder.Retrain(ctx, d.opts.Model); err != nil {
		slog.Error("automatic retrain failed", "error", err)
	}
}
