package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/faceid/internal/config"
	"github.com/your-org/faceid/internal/identity"
	"github.com/your-org/faceid/internal/observability"
)

// PostgresStore keeps identities in a pgvector table and answers nearest
// neighbour queries with the cosine distance operator. Writes are committed
// per statement, so Flush has nothing to do.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ identity.Store = (*PostgresStore)(nil)

func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return identity.Unavailable("ping postgres", err)
	}
	return nil
}

func observeStore(op string, start time.Time) {
	observability.StoreDuration.WithLabelValues(config.BackendPostgres, op).Observe(time.Since(start).Seconds())
}

func (s *PostgresStore) Insert(ctx context.Context, rec identity.Record) error {
	if err := rec.Embedding.Validate(); err != nil {
		return err
	}
	defer observeStore("insert", time.Now())

	_, err := s.pool.Exec(ctx,
		`INSERT INTO face_identities (face_id, embedding, created_at) VALUES ($1, $2, $3)`,
		rec.FaceID, pgvector.NewVector(rec.Embedding), rec.CreatedAt,
	)
	if err != nil {
		return identity.Unavailable("insert face identity", err)
	}
	observability.StoredIdentities.WithLabelValues(config.BackendPostgres).Inc()
	return nil
}

// Flush is a no-op: every statement commits on its own.
func (s *PostgresStore) Flush(context.Context) error {
	return nil
}

func (s *PostgresStore) QueryTop1(ctx context.Context, emb identity.Embedding) (identity.Match, bool, error) {
	if err := emb.Validate(); err != nil {
		return identity.Match{}, false, err
	}
	defer observeStore("query", time.Now())

	var m identity.Match
	var score float64
	err := s.pool.QueryRow(ctx, `
		SELECT face_id, 1 - (embedding <=> $1) AS score, created_at
		FROM face_identities
		ORDER BY embedding <=> $1
		LIMIT 1`,
		pgvector.NewVector(emb),
	).Scan(&m.FaceID, &score, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return identity.Match{}, false, nil
		}
		return identity.Match{}, false, identity.Unavailable("query nearest face", err)
	}
	m.Score = float32(score)
	return m, true, nil
}

func (s *PostgresStore) DeleteByFaceID(ctx context.Context, faceID string) (int64, error) {
	defer observeStore("delete", time.Now())

	tag, err := s.pool.Exec(ctx, `DELETE FROM face_identities WHERE face_id = $1`, faceID)
	if err != nil {
		return 0, identity.Unavailable("delete face identity", err)
	}
	n := tag.RowsAffected()
	observability.StoredIdentities.WithLabelValues(config.BackendPostgres).Sub(float64(n))
	return n, nil
}

func (s *PostgresStore) DeleteAll(ctx context.Context) error {
	defer observeStore("delete_all", time.Now())

	if _, err := s.pool.Exec(ctx, `TRUNCATE face_identities`); err != nil {
		return identity.Unavailable("delete all face identities", err)
	}
	observability.StoredIdentities.WithLabelValues(config.BackendPostgres).Set(0)
	return nil
}

// Count returns the number of stored identities and resets the gauge to it.
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM face_identities`).Scan(&n); err != nil {
		return 0, identity.Unavailable("count face identities", err)
	}
	observability.StoredIdentities.WithLabelValues(config.BackendPostgres).Set(float64(n))
	return n, nil
}
