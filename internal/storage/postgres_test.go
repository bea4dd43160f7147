//go:build integration

package storage

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/your-org/faceid/internal/config"
	"github.com/your-org/faceid/internal/identity"
)

func setupTestContainer(t *testing.T) (*PostgresStore, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	cfg := config.DatabaseConfig{
		URL:      fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port()),
		MaxConns: 5,
	}
	store, err := NewPostgresStore(ctx, cfg)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("Failed to connect: %v", err)
	}

	if _, err := store.Migrate(ctx); err != nil {
		store.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("Failed to run migrations: %v", err)
	}

	return store, func() {
		store.Close()
		_ = container.Terminate(ctx)
	}
}

func TestPostgresStore(t *testing.T) {
	store, cleanup := setupTestContainer(t)
	if store == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()

	t.Run("MigrateIsIdempotent", func(t *testing.T) {
		applied, err := store.Migrate(ctx)
		if err != nil {
			t.Fatalf("Migrate: %v", err)
		}
		if len(applied) != 0 {
			t.Errorf("second run applied %v", applied)
		}
	})

	t.Run("EmptyQuery", func(t *testing.T) {
		_, ok, err := store.QueryTop1(ctx, unit(0))
		if err != nil {
			t.Fatalf("QueryTop1: %v", err)
		}
		if ok {
			t.Error("expected no match on empty table")
		}
	})

	t.Run("InsertQueryDelete", func(t *testing.T) {
		created := time.Now().UTC().Truncate(time.Microsecond)
		for i := 0; i < 3; i++ {
			if err := store.Insert(ctx, identity.Record{FaceID: faceName(i), Embedding: unit(i), CreatedAt: created}); err != nil {
				t.Fatalf("Insert: %v", err)
			}
		}

		m, ok, err := store.QueryTop1(ctx, blend(0.9))
		if err != nil || !ok {
			t.Fatalf("QueryTop1 = %v, %v", ok, err)
		}
		if m.FaceID != faceName(0) {
			t.Errorf("nearest = %s, want %s", m.FaceID, faceName(0))
		}
		if math.Abs(float64(m.Score)-0.9) > 1e-4 {
			t.Errorf("score = %v, want 0.9", m.Score)
		}
		if !m.CreatedAt.Equal(created) {
			t.Errorf("created_at = %v, want %v", m.CreatedAt, created)
		}

		n, err := store.DeleteByFaceID(ctx, faceName(0))
		if err != nil || n != 1 {
			t.Fatalf("DeleteByFaceID = %d, %v", n, err)
		}
		n, _ = store.DeleteByFaceID(ctx, faceName(0))
		if n != 0 {
			t.Errorf("second delete removed %d rows", n)
		}
	})

	t.Run("DeleteAll", func(t *testing.T) {
		if err := store.DeleteAll(ctx); err != nil {
			t.Fatalf("DeleteAll: %v", err)
		}
		if c, _ := store.Count(ctx); c != 0 {
			t.Errorf("Count = %d after DeleteAll", c)
		}
		if err := store.DeleteAll(ctx); err != nil {
			t.Errorf("DeleteAll on empty table: %v", err)
		}
	})
}
