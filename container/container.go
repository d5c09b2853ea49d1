// Package container defines the framed on-disk format: a fixed binary
// header followed by length-prefixed ciphertext frames, one per chunk, in
// chunk order.
package container

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	magic   = "CKCRYPT"
	Version = byte(1)

	// FlagZstd marks per-chunk zstd compression underneath the cipher.
	FlagZstd = byte(1 << 0)

	nonceSize = 12

	// maxFrameSize guards frame reads against corrupt length prefixes.
	maxFrameSize = 1 << 28
)

// Header is serialized little-endian exactly in field order.
type Header struct {
	Magic     [7]byte
	Version   byte
	Flags     byte
	ChunkSize uint32
	BaseNonce [nonceSize]byte
}

// NewHeader builds a header for an encryption run.
func NewHeader(chunkSize int, baseNonce [nonceSize]byte, compressed bool) Header {
	h := Header{
		Version:   Version,
		ChunkSize: uint32(chunkSize),
		BaseNonce: baseNonce,
	}
	copy(h.Magic[:], magic)
	if compressed {
		h.Flags |= FlagZstd
	}
	return h
}

// Compressed reports whether frames carry zstd-compressed plaintext.
func (h Header) Compressed() bool {
	return h.Flags&FlagZstd != 0
}

// WriteHeader writes the fixed header layout to w.
func WriteHeader(w io.Writer, h Header) error {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, h); err != nil {
		return fmt.Errorf("encoding container header: %w", err)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("writing container header: %w", err)
	}
	return nil
}

// ReadHeader reads and validates the header from r.
func ReadHeader(r io.Reader) (Header, error) {
	var h Header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return Header{}, fmt.Errorf("reading container header: %w", err)
	}
	if string(h.Magic[:]) != magic {
		return Header{}, fmt.Errorf("not a container file: bad magic %q", h.Magic)
	}
	if h.Version != Version {
		return Header{}, fmt.Errorf("unsupported container version %d", h.Version)
	}
	if h.ChunkSize == 0 {
		return Header{}, fmt.Errorf("container header has zero chunk size")
	}
	return h, nil
}

// WriteFrame writes one length-prefixed frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(payload))); err != nil {
		return fmt.Errorf("writing frame length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("writing frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one frame. It returns io.EOF at a clean end of stream and
// io.ErrUnexpectedEOF when the stream is truncated mid-frame.
func ReadFrame(r io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("reading frame length: %w", err)
	}
	if length > maxFrameSize {
		return nil, fmt.Errorf("frame length %d exceeds limit", length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("reading frame payload: %w", err)
	}
	return payload, nil
}
