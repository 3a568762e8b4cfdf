// Package vault keeps commitment pre-images between the create and reveal
// halves of a duel. An entry lost here can only be settled by the
// opponent's timeout claim.
package vault

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/chainsafe/elements-duel/internal/metrics"
	"github.com/chainsafe/elements-duel/pkg/game"
)

// DefaultRetention is how long an entry is kept regardless of game outcome
const DefaultRetention = 30 * 24 * time.Hour

// ErrNotFound is returned by stores when no entry exists for a game id
var ErrNotFound = errors.New("secret not found")

// Secret is one stored commitment pre-image
type Secret struct {
	GameID         uint64      `json:"gameId"`
	Move           game.Move   `json:"move"`
	Secret         string      `json:"secret"`
	CommitmentHash common.Hash `json:"commitmentHash"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// Store persists entries. The Secret field handed to a Store is already sealed.
type Store interface {
	Put(ctx context.Context, s *Secret) error
	Get(ctx context.Context, gameID uint64) (*Secret, error)
	Delete(ctx context.Context, gameID uint64) error
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}

// Vault is the durable, expiring gameId -> pre-image map
type Vault struct {
	store     Store
	sealer    Sealer
	retention time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// Option configures a Vault
type Option func(*Vault)

// WithRetention overrides DefaultRetention
func WithRetention(d time.Duration) Option {
	return func(v *Vault) {
		if d > 0 {
			v.retention = d
		}
	}
}

// WithSealer encrypts secrets at rest
func WithSealer(s Sealer) Option {
	return func(v *Vault) { v.sealer = s }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(v *Vault) { v.now = now }
}

// New creates a Vault over store
func New(store Store, logger *zap.Logger, opts ...Option) *Vault {
	v := &Vault{
		store:     store,
		sealer:    PlainSealer{},
		retention: DefaultRetention,
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Save stores the pre-image for gameID, replacing any prior entry
func (v *Vault) Save(ctx context.Context, gameID uint64, move game.Move, secret string, hash common.Hash) error {
	sealed, err := v.sealer.Seal([]byte(secret), sealedFor(gameID))
	if err != nil {
		return fmt.Errorf("failed to seal secret: %w", err)
	}

	entry := &Secret{
		GameID:         gameID,
		Move:           move,
		Secret:         sealed,
		CommitmentHash: hash,
		CreatedAt:      v.now().UTC(),
	}
	if err := v.store.Put(ctx, entry); err != nil {
		return fmt.Errorf("failed to store secret for game %d: %w", gameID, err)
	}

	v.logger.Debug("Stored commitment secret",
		zap.Uint64("game_id", gameID),
		zap.String("commitment", hash.Hex()))
	return nil
}

// Get returns the entry for gameID. The bool is false when there is no
// entry or the entry is past retention.
func (v *Vault) Get(ctx context.Context, gameID uint64) (*Secret, bool, error) {
	entry, err := v.store.Get(ctx, gameID)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load secret for game %d: %w", gameID, err)
	}

	if v.expired(entry.CreatedAt) {
		return nil, false, nil
	}

	plain, err := v.sealer.Open(entry.Secret, sealedFor(gameID))
	if err != nil {
		return nil, false, fmt.Errorf("failed to open secret for game %d: %w", gameID, err)
	}
	out := *entry
	out.Secret = string(plain)
	return &out, true, nil
}

// sealedFor is the additional data tying a sealed secret to its game
func sealedFor(gameID uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, gameID)
}

// Remove deletes the entry for gameID. Removing a missing entry is not an error.
func (v *Vault) Remove(ctx context.Context, gameID uint64) error {
	if err := v.store.Delete(ctx, gameID); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to remove secret for game %d: %w", gameID, err)
	}
	return nil
}

// PurgeExpired deletes every entry older than the retention window and
// returns how many were removed.
func (v *Vault) PurgeExpired(ctx context.Context) (int, error) {
	cutoff := v.now().Add(-v.retention)
	n, err := v.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired secrets: %w", err)
	}

	metrics.VaultPurged.Add(float64(n))
	if n > 0 {
		v.logger.Info("Purged expired commitment secrets",
			zap.Int("count", n),
			zap.Time("cutoff", cutoff))
	}
	return n, nil
}

// Close releases the underlying store
func (v *Vault) Close() error {
	return v.store.Close()
}

func (v *Vault) expired(createdAt time.Time) bool {
	return createdAt.Before(v.now().Add(-v.retention))
}
