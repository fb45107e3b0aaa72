package simulation

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// merchantCategory bounds the static risk of merchants in a category.
type merchantCategory struct {
	name    string
	minRisk float64
	maxRisk float64
}

var merchantCategories = []merchantCategory{
	{"grocery", 5, 20},
	{"restaurant", 10, 30},
	{"utilities", 5, 15},
	{"electronics", 35, 60},
	{"travel", 30, 55},
	{"digital_goods", 50, 75},
	{"jewelry", 60, 85},
	{"gambling", 75, 95},
	{"crypto_exchange", 80, 98},
}

var (
	firstNames = []string{"Ada", "Ben", "Chloe", "Dev", "Elena", "Farid", "Grace", "Hugo", "Ines", "Jonas", "Kira", "Luca", "Mei", "Noah", "Olga", "Priya"}
	lastNames  = []string{"Adler", "Brooks", "Castro", "Dubois", "Eriksen", "Fischer", "Garcia", "Hale", "Ito", "Jensen", "Khan", "Lopez", "Moreau", "Novak"}
	merchantA  = []string{"North", "Blue", "Silver", "Quick", "Prime", "Urban", "Bright", "Lucky"}
)

// SeedResult counts the entities a seed created.
type SeedResult struct {
	Users     int  `json:"users"`
	Devices   int  `json:"devices"`
	Merchants int  `json:"merchants"`
	Skipped   bool `json:"skipped,omitempty"`
}

// Seed fills an empty store with users, their devices and merchants.
// A store that already has users is left alone.
func Seed(ctx context.Context, repo domain.Repository, cfg domain.SimulationConfig, src *Source) (*SeedResult, error) {
	existing, err := repo.ListUsers(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing users: %w", err)
	}
	if len(existing) > 0 {
		return &SeedResult{Skipped: true}, nil
	}

	res := &SeedResult{}
	now := time.Now().UTC()
	maxDevices := max(cfg.MaxDevicesPerUser, 1)

	for i := 0; i < cfg.Users; i++ {
		first := firstNames[src.IntN(len(firstNames))]
		last := lastNames[src.IntN(len(lastNames))]
		// Signups spread over the last year so some accounts are new.
		u := &domain.User{
			Name:      first + " " + last,
			Email:     fmt.Sprintf("%s.%s.%d@example.com", strings.ToLower(first), strings.ToLower(last), i),
			CreatedAt: now.Add(-time.Duration(src.Between(1, 365*24)) * time.Hour),
		}
		if err := repo.SaveUser(ctx, u); err != nil {
			return res, fmt.Errorf("failed to seed user: %w", err)
		}
		res.Users++

		for j := 0; j < 1+src.IntN(maxDevices); j++ {
			d := &domain.Device{
				UserID:      u.ID,
				Fingerprint: fmt.Sprintf("fp-%08x", src.IntN(math.MaxInt32)),
				LastSeen:    now.Add(-time.Duration(src.Between(0, 30*24) * float64(time.Hour))),
			}
			if err := repo.SaveDevice(ctx, d); err != nil {
				return res, fmt.Errorf("failed to seed device: %w", err)
			}
			res.Devices++
		}
	}

	for i := 0; i < cfg.Merchants; i++ {
		cat := merchantCategories[src.IntN(len(merchantCategories))]
		m := &domain.Merchant{
			Name:      fmt.Sprintf("%s %s #%d", merchantA[src.IntN(len(merchantA))], titleCase(cat.name), i+1),
			Category:  cat.name,
			RiskLevel: math.Round(src.Between(cat.minRisk, cat.maxRisk)),
		}
		if err := repo.SaveMerchant(ctx, m); err != nil {
			return res, fmt.Errorf("failed to seed merchant: %w", err)
		}
		res.Merchants++
	}

	slog.Info("simulation entities seeded",
		"users", res.Users,
		"devices", res.Devices,
		"merchants", res.Merchants,
	)
	return res, nil
}

func titleCase(s string) string {
	parts := strings.Split(s, "_")
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, " ")
}
