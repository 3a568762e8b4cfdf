package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const sealInfo = "elements-duel/vault/v1"

// Sealer protects secrets at rest. The additional data binds a sealed value
// to its row; opening with different data fails.
type Sealer interface {
	Seal(plaintext, additionalData []byte) (string, error)
	Open(sealed string, additionalData []byte) ([]byte, error)
}

// PlainSealer stores secrets as-is
type PlainSealer struct{}

func (PlainSealer) Seal(plaintext, _ []byte) (string, error) { return string(plaintext), nil }

func (PlainSealer) Open(sealed string, _ []byte) ([]byte, error) { return []byte(sealed), nil }

// AESSealer seals with AES-256-GCM under a key derived from a master key.
// Output is base64(nonce || ciphertext || tag).
type AESSealer struct {
	gcm cipher.AEAD
}

// NewAESSealer derives the vault key from masterKey with HKDF-SHA256
func NewAESSealer(masterKey []byte) (*AESSealer, error) {
	if len(masterKey) < 32 {
		return nil, fmt.Errorf("master key must be at least 32 bytes")
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, nil, []byte(sealInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive vault key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &AESSealer{gcm: gcm}, nil
}

// NewAESSealerFromBase64 decodes a base64 master key
func NewAESSealerFromBase64(encoded string) (*AESSealer, error) {
	masterKey, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode master key: %w", err)
	}
	return NewAESSealer(masterKey)
}

func (s *AESSealer) Seal(plaintext, additionalData []byte) (string, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return base64.StdEncoding.EncodeToString(s.gcm.Seal(nonce, nonce, plaintext, additionalData)), nil
}

func (s *AESSealer) Open(sealed string, additionalData []byte) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}

	nonceSize := s.gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]

	plaintext, err := s.gcm.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}
