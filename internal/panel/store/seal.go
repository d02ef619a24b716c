package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// sealSalt is a fixed domain-separation salt for deriving the sealing key
// from the configured passphrase. The sealed tokens only ever live in the
// panel's own database, so a per-row salt buys nothing here.
var sealSalt = []byte("cartera-panel/session-seal/v1")

// ErrSealedTokenCorrupt reports a sealed blob that failed authentication.
var ErrSealedTokenCorrupt = errors.New("store: sealed token corrupt")

// Sealer encrypts refresh tokens at rest with AES-256-GCM under a key
// derived from a passphrase via argon2id.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives the sealing key and prepares the AEAD.
func NewSealer(passphrase string) (*Sealer, error) {
	if passphrase == "" {
		return nil, errors.New("store: sealing passphrase must not be empty")
	}

	key := argon2.IDKey([]byte(passphrase), sealSalt, 1, 64*1024, 4, 32)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise AEAD: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext. Output layout: [nonce][ciphertext+tag].
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a sealed blob produced by Seal.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < s.aead.NonceSize() {
		return nil, ErrSealedTokenCorrupt
	}

	nonce, ciphertext := sealed[:s.aead.NonceSize()], sealed[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrSealedTokenCorrupt
	}
	return plaintext, nil
}
