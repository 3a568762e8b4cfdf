// Package commitment computes and verifies commit-reveal commitments.
//
// A commitment is keccak256 over the packed encoding of the 8-bit move code
// followed by the UTF-8 bytes of the secret, the same bytes the ledger hashes
// when it checks a reveal.
package commitment

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/chainsafe/elements-duel/pkg/game"
)

const secretBytes = 32

var (
	ErrInvalidMove   = errors.New("move must be fire, water or plant")
	ErrEmptySecret   = errors.New("secret must not be empty")
	ErrInvalidSecret = errors.New("secret must be valid UTF-8")
)

// Encode returns the canonical pre-image bytes: move code then secret
func Encode(move game.Move, secret string) []byte {
	out := make([]byte, 0, 1+len(secret))
	out = append(out, byte(move))
	return append(out, secret...)
}

// Compute returns the commitment hash for (move, secret)
func Compute(move game.Move, secret string) (common.Hash, error) {
	if !move.Valid() {
		return common.Hash{}, ErrInvalidMove
	}
	if secret == "" {
		return common.Hash{}, ErrEmptySecret
	}
	if !utf8.ValidString(secret) {
		return common.Hash{}, ErrInvalidSecret
	}
	return crypto.Keccak256Hash(Encode(move, secret)), nil
}

// Verify reports whether (move, secret) opens commitment
func Verify(commitment common.Hash, move game.Move, secret string) bool {
	h, err := Compute(move, secret)
	if err != nil {
		return false
	}
	return h == commitment
}

// NewSecret returns a random hex secret
func NewSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
