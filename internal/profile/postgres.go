package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists profiles in a user_profiles table with the bucket
// map as jsonb. Expected schema:
//
//	CREATE TABLE user_profiles (
//	    user_id    text PRIMARY KEY,
//	    bucket_map jsonb NOT NULL DEFAULT '{}',
//	    updated_at timestamptz NOT NULL DEFAULT now()
//	);
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Lookup reads the user's profile, or (nil, nil) when no row exists.
func (s *PostgresStore) Lookup(ctx context.Context, userID string) (*Profile, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT bucket_map FROM user_profiles WHERE user_id = $1`, userID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup profile %q: %w", userID, err)
	}
	bucketMap := map[string]Decision{}
	if err := json.Unmarshal(raw, &bucketMap); err != nil {
		return nil, fmt.Errorf("decode profile %q: %w", userID, err)
	}
	return &Profile{UserID: userID, ExperimentBucketMap: bucketMap}, nil
}

// Save upserts the user's profile row.
func (s *PostgresStore) Save(ctx context.Context, p *Profile) error {
	raw, err := json.Marshal(p.ExperimentBucketMap)
	if err != nil {
		return fmt.Errorf("encode profile %q: %w", p.UserID, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO user_profiles (user_id, bucket_map, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (user_id) DO UPDATE SET bucket_map = $2, updated_at = now()`,
		p.UserID, raw)
	if err != nil {
		return fmt.Errorf("save profile %q: %w", p.UserID, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
