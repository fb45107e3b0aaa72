package simulation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Off-hours window, local to the transaction timestamp.
const (
	offHoursStart = 22
	offHoursEnd   = 6
)

// Injectors applies fraud patterns to generated transactions. Each
// pattern only fires when its precondition holds for the chosen
// entities.
type Injectors struct {
	repo     domain.Repository
	cfg      []domain.InjectorConfig
	features domain.FeatureConfig
	src      *Source
}

// NewInjectors creates the injector set from configuration.
func NewInjectors(repo domain.Repository, cfg *domain.Config, src *Source) *Injectors {
	return &Injectors{
		repo:     repo,
		cfg:      cfg.Simulation.Injectors,
		features: cfg.Features,
		src:      src,
	}
}

// Apply picks one injector by weight and applies it to tx. It returns
// the injector name, or "" when nothing was applied.
func (in *Injectors) Apply(ctx context.Context, tx *domain.Transaction) string {
	if len(in.cfg) == 0 {
		return ""
	}

	weights := make([]float64, len(in.cfg))
	for i, c := range in.cfg {
		weights[i] = c.Weight
	}
	inj := in.cfg[in.src.Weighted(weights)]

	note, ok, err := in.check(ctx, inj.Name, tx)
	if err != nil {
		slog.Warn("fraud injector precondition failed",
			"injector", inj.Name,
			"transaction_id", tx.ID,
			"error", err,
		)
		return ""
	}
	if !ok {
		return ""
	}

	tx.Amount = positive(tx.Amount.Mul(decimal.NewFromFloat(inj.Factor)).Round(2))
	tx.Note = note

	slog.Debug("fraud pattern injected",
		"injector", inj.Name,
		"transaction_id", tx.ID,
		"amount", tx.Amount.String(),
	)
	return inj.Name
}

// check evaluates one injector's precondition and builds its note.
func (in *Injectors) check(ctx context.Context, name string, tx *domain.Transaction) (string, bool, error) {
	switch name {
	case domain.InjectRapidSuccession:
		since := tx.Timestamp.Add(-in.features.FrequencyWindow)
		n, err := in.repo.CountUserTransactions(ctx, tx.UserID, since)
		if err != nil || n == 0 {
			return "", false, err
		}
		return fmt.Sprintf("rapid succession: %d transactions in the last %s", n, in.features.FrequencyWindow), true, nil

	case domain.InjectOffHours:
		h := tx.Timestamp.Hour()
		if h < offHoursEnd || h >= offHoursStart {
			return fmt.Sprintf("off-hours purchase at %02d:00", h), true, nil
		}
		return "", false, nil

	case domain.InjectAmountDeviation:
		history, err := in.repo.ListUserTransactions(ctx, tx.UserID, tx.Timestamp.Add(-in.features.HistoryWindow), in.features.HistoryLimit)
		if err != nil || len(history) == 0 {
			return "", false, err
		}
		sum := decimal.Zero
		for _, h := range history {
			sum = sum.Add(h.Amount)
		}
		avg := sum.Div(decimal.NewFromInt(int64(len(history))))
		return fmt.Sprintf("amount deviates from user average of %s", avg.StringFixed(2)), true, nil

	case domain.InjectFirstPairing:
		n, err := in.repo.CountDeviceTransactions(ctx, tx.DeviceID, time.Time{})
		if err != nil || n > 0 {
			return "", false, err
		}
		return "first transaction for this user and device", true, nil
	}
	return "", false, fmt.Errorf("%w: unknown injector %q", domain.ErrInvalidInput, name)
}
