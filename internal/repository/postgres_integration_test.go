//go:build integration

package repository

import (
	"context"
	"os"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// TestPostgresRepository runs the repository contract against PostgreSQL.
// POSTGRES_URL points at an existing database; otherwise a container is started.
func TestPostgresRepository(t *testing.T) {
	ctx := context.Background()

	dsn := os.Getenv("POSTGRES_URL")
	if dsn == "" {
		ctr, err := postgres.Run(ctx, "postgres:16-alpine",
			postgres.WithDatabase("kestrel"),
			postgres.WithUsername("kestrel"),
			postgres.WithPassword("kestrel"),
			postgres.BasicWaitStrategies(),
		)
		if err != nil {
			t.Skipf("postgres container unavailable: %v", err)
		}
		t.Cleanup(func() { testcontainers.TerminateContainer(ctr) })

		dsn, err = ctr.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			t.Fatalf("connection string: %v", err)
		}
	}

	repo, err := New(domain.RepositoryConfig{Driver: "postgres", PostgresURL: dsn})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	exerciseRepository(t, repo)
}
