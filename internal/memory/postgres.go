package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresProfileStore persists user profiles in PostgreSQL. Facts are kept
// as jsonb so the open extension bag needs no schema migration.
type PostgresProfileStore struct {
	pool *pgxpool.Pool
}

func NewPostgresProfileStore(ctx context.Context, databaseURL string) (*PostgresProfileStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresProfileStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS user_profiles (
			user_id TEXT PRIMARY KEY,
			facts JSONB NOT NULL DEFAULT '{}'::jsonb,
			list_facts JSONB NOT NULL DEFAULT '{}'::jsonb,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresProfileStore) Get(ctx context.Context, userID string) (Profile, bool, error) {
	var (
		factsRaw []byte
		listsRaw []byte
		updated  time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT facts, list_facts, updated_at FROM user_profiles WHERE user_id=$1`,
		userID,
	).Scan(&factsRaw, &listsRaw, &updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{}, false, nil
	}
	if err != nil {
		return Profile{}, false, fmt.Errorf("query profile: %w", err)
	}

	p := NewProfile(userID)
	p.UpdatedAt = updated
	if err := json.Unmarshal(factsRaw, &p.Facts); err != nil {
		return Profile{}, false, fmt.Errorf("decode facts: %w", err)
	}
	if err := json.Unmarshal(listsRaw, &p.ListFacts); err != nil {
		return Profile{}, false, fmt.Errorf("decode list facts: %w", err)
	}
	return p, true, nil
}

func (s *PostgresProfileStore) Put(ctx context.Context, profile Profile) error {
	factsRaw, err := json.Marshal(profile.Facts)
	if err != nil {
		return fmt.Errorf("encode facts: %w", err)
	}
	listsRaw, err := json.Marshal(profile.ListFacts)
	if err != nil {
		return fmt.Errorf("encode list facts: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO user_profiles (user_id, facts, list_facts, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (user_id) DO UPDATE
		 SET facts = EXCLUDED.facts, list_facts = EXCLUDED.list_facts, updated_at = now()`,
		profile.UserID,
		factsRaw,
		listsRaw,
	)
	if err != nil {
		return fmt.Errorf("put profile: %w", err)
	}
	return nil
}

func (s *PostgresProfileStore) Close() error {
	s.pool.Close()
	return nil
}
