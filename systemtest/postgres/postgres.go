// Package postgres runs a throwaway Postgres for the system tests.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const image = "postgres:17-alpine"

type Database struct {
	Container *postgres.PostgresContainer
	URL       string
}

// Start runs the container and returns it with a sslmode=disable URL.
func Start(ctx context.Context, user, password, name string) (*Database, error) {
	container, err := postgres.Run(ctx,
		image,
		postgres.WithUsername(user),
		postgres.WithPassword(password),
		postgres.WithDatabase(name),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start Postgres container: %w", err)
	}

	state, err := container.State(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get container state: %w", err)
	}
	if !state.Running {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("postgres container is not running")
	}

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to build connection string: %w", err)
	}

	return &Database{Container: container, URL: url}, nil
}

func (d *Database) Terminate(ctx context.Context) error {
	if err := d.Container.Terminate(ctx); err != nil {
		return fmt.Errorf("failed to terminate Postgres container: %w", err)
	}
	return nil
}
