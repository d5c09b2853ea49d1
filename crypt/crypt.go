// Package crypt holds the symmetric key material and the per-chunk cipher
// used by the pipeline.
package crypt

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeySize is the ChaCha20-Poly1305 key length in bytes.
	KeySize = chacha20poly1305.KeySize
	// NonceSize is the base nonce length in bytes.
	NonceSize = chacha20poly1305.NonceSize
	// Overhead is the per-chunk authentication tag length in bytes.
	Overhead = chacha20poly1305.Overhead

	// MaterialSize is the serialized key material length: key followed by
	// base nonce, no header.
	MaterialSize = KeySize + NonceSize
)

// ErrEntropy indicates the secure random source could not supply usable
// random bytes.
var ErrEntropy = errors.New("entropy source unavailable")

// KeyMaterial is the per-run secret: the cipher key and the base nonce from
// which per-chunk nonces are derived. It is created once, shared read-only
// by all workers, and never mutated after creation.
type KeyMaterial struct {
	Key       [KeySize]byte
	BaseNonce [NonceSize]byte
}

// New generates fresh key material from crypto/rand.
func New() (*KeyMaterial, error) {
	km := &KeyMaterial{}
	if err := fillRandom(km.Key[:]); err != nil {
		return nil, err
	}
	if err := fillRandom(km.BaseNonce[:]); err != nil {
		return nil, err
	}
	return km, nil
}

func fillRandom(b []byte) error {
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return fmt.Errorf("%w: %v", ErrEntropy, err)
	}
	if degenerate(b) {
		return fmt.Errorf("%w: degenerate random sample", ErrEntropy)
	}
	return nil
}

// degenerate reports whether every byte of the sample is identical, which a
// working CSPRNG will not produce for these lengths.
func degenerate(b []byte) bool {
	for _, c := range b[1:] {
		if c != b[0] {
			return false
		}
	}
	return true
}

// Persist writes the raw key||nonce layout to w.
func (km *KeyMaterial) Persist(w io.Writer) error {
	if _, err := w.Write(km.Key[:]); err != nil {
		return fmt.Errorf("writing key material: %w", err)
	}
	if _, err := w.Write(km.BaseNonce[:]); err != nil {
		return fmt.Errorf("writing key material: %w", err)
	}
	return nil
}

// Load reads the raw key||nonce layout from r.
func Load(r io.Reader) (*KeyMaterial, error) {
	km := &KeyMaterial{}
	if _, err := io.ReadFull(r, km.Key[:]); err != nil {
		return nil, fmt.Errorf("reading key material: %w", err)
	}
	if _, err := io.ReadFull(r, km.BaseNonce[:]); err != nil {
		return nil, fmt.Errorf("reading key material: %w", err)
	}
	return km, nil
}

// PersistFile writes the key material to path, readable only by the owner.
func (km *KeyMaterial) PersistFile(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating key file: %w", err)
	}
	if err := km.Persist(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing key file: %w", err)
	}
	return nil
}

// LoadFile reads key material previously written with PersistFile.
func LoadFile(path string) (*KeyMaterial, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening key file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Zero wipes the key material in place.
func (km *KeyMaterial) Zero() {
	for i := range km.Key {
		km.Key[i] = 0
	}
	for i := range km.BaseNonce {
		km.BaseNonce[i] = 0
	}
}
