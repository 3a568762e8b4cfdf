// Package leveldb implements the vault Store on a local goleveldb database,
// the default backend: entries never leave the machine running the agent.
package leveldb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/chainsafe/elements-duel/pkg/vault"
)

var secretPrefix = []byte("secret/")

// Store keeps one JSON value per game id under secret/<big-endian id>
type Store struct {
	db *leveldb.DB
}

// Open opens (or creates) the database at path, recovering it if corrupted
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{
		OpenFilesCacheCapacity: 16,
		BlockCacheCapacity:     8 * opt.MiB,
		WriteBuffer:            4 * opt.MiB,
		Filter:                 filter.NewBloomFilter(10),
	})
	var corrupted *lerrors.ErrCorrupted
	if errors.As(err, &corrupted) {
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open vault database %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func key(gameID uint64) []byte {
	k := make([]byte, len(secretPrefix)+8)
	copy(k, secretPrefix)
	binary.BigEndian.PutUint64(k[len(secretPrefix):], gameID)
	return k
}

func (s *Store) Put(_ context.Context, entry *vault.Secret) error {
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode secret: %w", err)
	}
	return s.db.Put(key(entry.GameID), value, &opt.WriteOptions{Sync: true})
}

func (s *Store) Get(_ context.Context, gameID uint64) (*vault.Secret, error) {
	value, err := s.db.Get(key(gameID), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, vault.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	entry := new(vault.Secret)
	if err := json.Unmarshal(value, entry); err != nil {
		return nil, fmt.Errorf("failed to decode secret: %w", err)
	}
	return entry, nil
}

func (s *Store) Delete(_ context.Context, gameID uint64) error {
	return s.db.Delete(key(gameID), &opt.WriteOptions{Sync: true})
}

func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	iter := s.db.NewIterator(util.BytesPrefix(secretPrefix), nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		var entry vault.Secret
		if err := json.Unmarshal(iter.Value(), &entry); err != nil {
			return 0, fmt.Errorf("failed to decode secret: %w", err)
		}
		if entry.CreatedAt.Before(cutoff) {
			batch.Delete(append([]byte(nil), iter.Key()...))
		}
	}
	if err := iter.Error(); err != nil {
		return 0, err
	}

	if batch.Len() == 0 {
		return 0, nil
	}
	if err := s.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return 0, err
	}
	return batch.Len(), nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
