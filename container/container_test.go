package container

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNonce() [nonceSize]byte {
	var n [nonceSize]byte
	for i := range n {
		n[i] = byte(i + 1)
	}
	return n
}

func TestHeaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	h := NewHeader(1<<20, testNonce(), true)
	require.NoError(t, WriteHeader(&buf, h))

	got, err := ReadHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, h, got)
	assert.True(t, got.Compressed())
	assert.Equal(t, uint32(1<<20), got.ChunkSize)
}

func TestHeaderWithoutCompressionFlag(t *testing.T) {
	h := NewHeader(4096, testNonce(), false)
	assert.False(t, h.Compressed())
}

func TestReadHeaderRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	h := NewHeader(4096, testNonce(), false)
	copy(h.Magic[:], "NOTCKPT")
	require.NoError(t, WriteHeader(&buf, h))

	_, err := ReadHeader(&buf)
	assert.Error(t, err)
}

func TestReadHeaderRejectsUnknownVersion(t *testing.T) {
	var buf bytes.Buffer
	h := NewHeader(4096, testNonce(), false)
	h.Version = 99
	require.NoError(t, WriteHeader(&buf, h))

	_, err := ReadHeader(&buf)
	assert.Error(t, err)
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	first := []byte("first frame")
	second := []byte("second")
	require.NoError(t, WriteFrame(&buf, first))
	require.NoError(t, WriteFrame(&buf, second))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, first, got)

	got, err = ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, second, got)

	_, err = ReadFrame(&buf)
	assert.Equal(t, io.EOF, err, "clean end of stream reports io.EOF")
}

func TestReadFrameDetectsTruncation(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("payload")))
	truncated := buf.Bytes()[:buf.Len()-3]

	_, err := ReadFrame(bytes.NewReader(truncated))
	require.Error(t, err)
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff})

	_, err := ReadFrame(&buf)
	assert.Error(t, err)
}

func TestEmptyFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, nil))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Empty(t, got)
}
