// Package pg implements the vault Store on PostgreSQL for agents that share
// custody of secrets across hosts.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/chainsafe/elements-duel/pkg/vault"
)

type pgStore struct {
	db *bun.DB
}

// NewStore creates a new postgres implementation of the vault store
func NewStore(db *bun.DB) vault.Store {
	return &pgStore{db: db}
}

func (s *pgStore) Put(ctx context.Context, entry *vault.Secret) error {
	_, err := s.db.NewInsert().
		Model(toSecretDao(entry)).
		On("CONFLICT (game_id) DO UPDATE").
		Set("move = EXCLUDED.move").
		Set("secret = EXCLUDED.secret").
		Set("commitment_hash = EXCLUDED.commitment_hash").
		Set("created_at = EXCLUDED.created_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to upsert secret: %w", err)
	}
	return nil
}

func (s *pgStore) Get(ctx context.Context, gameID uint64) (*vault.Secret, error) {
	dao := new(SecretDao)
	err := s.db.NewSelect().
		Model(dao).
		Where("game_id = ?", int64(gameID)).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, vault.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get secret: %w", err)
	}
	return toSecret(dao), nil
}

func (s *pgStore) Delete(ctx context.Context, gameID uint64) error {
	_, err := s.db.NewDelete().
		Model((*SecretDao)(nil)).
		Where("game_id = ?", int64(gameID)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	return nil
}

func (s *pgStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.NewDelete().
		Model((*SecretDao)(nil)).
		Where("created_at < ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired secrets: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Close is a no-op; the bun.DB is owned by the caller
func (s *pgStore) Close() error { return nil }
