package simulation

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// poolLimit caps how many entities a tick chooses from.
const poolLimit = 1000

// Generator synthesizes transactions from the stored entity pool.
type Generator struct {
	repo      domain.Repository
	cfg       domain.SimulationConfig
	src       *Source
	injectors *Injectors
	now       func() time.Time
}

// NewGenerator creates a generator.
func NewGenerator(repo domain.Repository, cfg *domain.Config, src *Source) *Generator {
	return &Generator{
		repo:      repo,
		cfg:       cfg.Simulation,
		src:       src,
		injectors: NewInjectors(repo, cfg, src),
		now:       time.Now,
	}
}

// EnsureSeeded seeds the entity pool if the store is empty.
func (g *Generator) EnsureSeeded(ctx context.Context) (*SeedResult, error) {
	return Seed(ctx, g.repo, g.cfg, g.src)
}

// Next builds one unsaved transaction, possibly with a fraud pattern
// injected.
func (g *Generator) Next(ctx context.Context) (*domain.Transaction, error) {
	user, device, err := g.pickUserDevice(ctx)
	if err != nil {
		return nil, err
	}
	merchant, err := g.pickMerchant(ctx)
	if err != nil {
		return nil, err
	}

	tx := &domain.Transaction{
		ID:         uuid.New().String(),
		UserID:     user.ID,
		DeviceID:   device.ID,
		MerchantID: merchant.ID,
		Amount:     g.Amount(),
		Status:     domain.TransactionCompleted,
		Timestamp:  g.now().UTC(),
	}

	if g.src.Chance(g.cfg.InjectionRate) {
		g.injectors.Apply(ctx, tx)
	}
	return tx, nil
}

// Amount draws from the configured amount mixture.
func (g *Generator) Amount() decimal.Decimal {
	weights := make([]float64, len(g.cfg.Amounts))
	for i, p := range g.cfg.Amounts {
		weights[i] = p.Weight
	}
	p := g.cfg.Amounts[g.src.Weighted(weights)]

	var v float64
	if len(p.Values) > 0 {
		v = p.Values[g.src.IntN(len(p.Values))]
	} else {
		v = g.src.Between(p.Min, p.Max)
	}
	return positive(decimal.NewFromFloat(v).Round(2))
}

// pickUserDevice selects a user and one of their devices. A user
// without devices gets a fresh one.
func (g *Generator) pickUserDevice(ctx context.Context) (*domain.User, *domain.Device, error) {
	users, err := g.repo.ListUsers(ctx, poolLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list users: %w", err)
	}
	if len(users) == 0 {
		return nil, nil, fmt.Errorf("%w: no users to simulate, seed the store first", domain.ErrInsufficientData)
	}
	user := users[g.pick(len(users))]

	devices, err := g.repo.ListDevicesByUser(ctx, user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list devices: %w", err)
	}
	if len(devices) == 0 {
		d := &domain.Device{UserID: user.ID, Fingerprint: "fp-" + uuid.New().String()[:8]}
		if err := g.repo.SaveDevice(ctx, d); err != nil {
			return nil, nil, fmt.Errorf("failed to create device: %w", err)
		}
		return user, d, nil
	}
	return user, devices[g.pick(len(devices))], nil
}

func (g *Generator) pickMerchant(ctx context.Context) (*domain.Merchant, error) {
	merchants, err := g.repo.ListMerchants(ctx, poolLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list merchants: %w", err)
	}
	if len(merchants) == 0 {
		return nil, fmt.Errorf("%w: no merchants to simulate, seed the store first", domain.ErrInsufficientData)
	}
	return merchants[g.pick(len(merchants))], nil
}

// pick returns an index into a pool ordered suspicious-first (newest
// users, most recently seen devices, riskiest merchants). With
// probability SuspiciousBias it draws from the suspicious head.
func (g *Generator) pick(n int) int {
	if g.src.Chance(g.cfg.SuspiciousBias) {
		head := int(math.Ceil(float64(n) * g.cfg.SuspiciousFraction))
		head = min(max(head, 1), n)
		return g.src.IntN(head)
	}
	return g.src.IntN(n)
}

// positive keeps rounding from producing a zero amount.
func positive(d decimal.Decimal) decimal.Decimal {
	if !d.IsPositive() {
		return decimal.NewFromFloat(0.01)
	}
	return d
}
