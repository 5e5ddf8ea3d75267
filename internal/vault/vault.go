// Package vault seals persisted blobs with a symmetric AEAD.
//
// Keys are derived with HKDF-SHA256 from a process-wide secret and a
// per-database salt. Sealed blobs are laid out as nonce || ciphertext and
// bound to their storage name through the additional data.
package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// keyInfo separates blob keys from any other use of the same secret.
const keyInfo = "adrecon/blob/v1"

// SaltSize is the salt length generated for new databases.
const SaltSize = 16

var (
	// ErrEmptySecret is returned when no secret is configured.
	ErrEmptySecret = errors.New("vault: secret is empty")

	// ErrShortCiphertext is returned when a sealed blob is shorter than a nonce.
	ErrShortCiphertext = errors.New("vault: ciphertext too short")
)

// Vault seals and opens blobs. Safe for concurrent use.
type Vault struct {
	aead cipher.AEAD
}

// New derives a key from secret and salt and returns a Vault.
func New(secret, salt []byte) (*Vault, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// NewSalt returns SaltSize random bytes.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// Seal encrypts plaintext. name is authenticated but not encrypted, so a
// blob copied under another name fails to open.
func (v *Vault) Seal(name string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, v.aead.NonceSize(), v.aead.NonceSize()+len(plaintext)+v.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return v.aead.Seal(nonce, nonce, plaintext, []byte(name)), nil
}

// Open decrypts a blob produced by Seal under the same name.
func (v *Vault) Open(name string, sealed []byte) ([]byte, error) {
	ns := v.aead.NonceSize()
	if len(sealed) < ns {
		return nil, ErrShortCiphertext
	}
	plaintext, err := v.aead.Open(nil, sealed[:ns], sealed[ns:], []byte(name))
	if err != nil {
		return nil, fmt.Errorf("vault: open %s: %w", name, err)
	}
	return plaintext, nil
}
