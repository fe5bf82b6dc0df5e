// Package util provides test helpers shared by package-level integration tests.
package util

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/devradar/devradar/pkg/config"
	"github.com/devradar/devradar/pkg/database"
)

var (
	sharedConnStr string
	containerOnce sync.Once
	containerErr  error
)

// SetupTestDatabase starts (or reuses) a shared Postgres testcontainer, creates
// a uniquely-named schema for the running test, applies embedded migrations
// into it, and returns a ready database.Client. The schema is dropped when
// the test completes.
func SetupTestDatabase(t *testing.T) *database.Client {
	ctx := context.Background()
	connStr := getOrCreateSharedDatabase(t)
	schemaName := generateSchemaName(t)

	admin, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	_, err = admin.Exec(ctx, fmt.Sprintf("CREATE SCHEMA %s", schemaName))
	require.NoError(t, err)
	admin.Close()

	scopedDSN := addSearchPath(connStr, schemaName)
	client, err := database.NewClient(ctx, &config.DatabaseConfig{
		URL:      scopedDSN,
		MaxConns: 5,
		MinConns: 1,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		drop, err := pgxpool.New(context.Background(), connStr)
		if err == nil {
			_, _ = drop.Exec(context.Background(), fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schemaName))
			drop.Close()
		}
		client.Close()
	})

	return client
}

func getOrCreateSharedDatabase(t *testing.T) string {
	containerOnce.Do(func() {
		ctx := context.Background()
		pgContainer, err := postgres.Run(ctx,
			"postgres:17-alpine",
			postgres.WithDatabase("test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			containerErr = fmt.Errorf("failed to start postgres container: %w", err)
			return
		}
		connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			containerErr = fmt.Errorf("failed to get connection string: %w", err)
			return
		}
		sharedConnStr = connStr
	})

	require.NoError(t, containerErr, "failed to set up shared test container")
	return sharedConnStr
}

func generateSchemaName(t *testing.T) string {
	name := strings.ToLower(t.Name())
	name = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, name)
	if len(name) > 40 {
		name = name[:40]
	}
	randomBytes := make([]byte, 4)
	_, err := rand.Read(randomBytes)
	require.NoError(t, err)
	return fmt.Sprintf("test_%s_%s", name, hex.EncodeToString(randomBytes))
}

func addSearchPath(connStr, schema string) string {
	separator := "?"
	if strings.Contains(connStr, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%ssearch_path=%s", connStr, separator, schema)
}
