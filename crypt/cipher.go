package crypt

import (
	"crypto/cipher"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ChunkCipher seals and opens individual chunks. Every worker constructs its
// own instance so no cipher state is shared across goroutines. Chunk
// transformations are self-contained: the nonce and the additional data both
// derive from the chunk index, so chunks can be processed in any order.
type ChunkCipher struct {
	aead cipher.AEAD
	base [NonceSize]byte
}

// NewChunkCipher builds a cipher from the shared key material.
func NewChunkCipher(km *KeyMaterial) (*ChunkCipher, error) {
	aead, err := chacha20poly1305.New(km.Key[:])
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	return &ChunkCipher{aead: aead, base: km.BaseNonce}, nil
}

// nonce XORs the base nonce with the little-endian chunk index. The upper
// four nonce bytes stay untouched, which is unique up to 2^64 chunks.
func (c *ChunkCipher) nonce(index uint64) [NonceSize]byte {
	out := c.base
	var ctr [8]byte
	binary.LittleEndian.PutUint64(ctr[:], index)
	for i, b := range ctr {
		out[i] ^= b
	}
	return out
}

// aad binds the chunk index into the authentication tag so a valid chunk
// spliced to a different position fails to open.
func aad(index uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], index)
	return b[:]
}

// Seal encrypts payload as chunk index and returns ciphertext with the
// Poly1305 tag appended.
func (c *ChunkCipher) Seal(index uint64, payload []byte) []byte {
	nonce := c.nonce(index)
	return c.aead.Seal(nil, nonce[:], payload, aad(index))
}

// Open decrypts and authenticates a chunk sealed with the same index.
func (c *ChunkCipher) Open(index uint64, payload []byte) ([]byte, error) {
	nonce := c.nonce(index)
	plain, err := c.aead.Open(nil, nonce[:], payload, aad(index))
	if err != nil {
		return nil, fmt.Errorf("chunk authentication failed: %w", err)
	}
	return plain, nil
}
