package chunkcrypt

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chunkcrypt/container"
)

func TestFixedSplitterWindows(t *testing.T) {
	s := &fixedSplitter{r: bytes.NewReader([]byte("0123456789")), window: 4}

	c, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), c.Index)
	assert.Equal(t, []byte("0123"), c.Payload)

	c, err = s.Next()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), c.Index)
	assert.Equal(t, []byte("4567"), c.Payload)

	c, err = s.Next()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), c.Index)
	assert.Equal(t, []byte("89"), c.Payload, "final chunk carries the short remainder")

	_, err = s.Next()
	assert.Equal(t, io.EOF, err)
}

func TestFixedSplitterExactMultiple(t *testing.T) {
	s := &fixedSplitter{r: bytes.NewReader([]byte("01234567")), window: 4}

	for i := 0; i < 2; i++ {
		c, err := s.Next()
		require.NoError(t, err)
		assert.Len(t, c.Payload, 4)
	}

	_, err := s.Next()
	assert.Equal(t, io.EOF, err, "no trailing empty chunk on an exact multiple")
}

func TestFixedSplitterEmptySource(t *testing.T) {
	s := &fixedSplitter{r: bytes.NewReader(nil), window: 4}
	_, err := s.Next()
	assert.Equal(t, io.EOF, err)
}

func TestFrameSourceAssignsDenseIndices(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, container.WriteFrame(&buf, []byte("one")))
	require.NoError(t, container.WriteFrame(&buf, []byte("two")))

	s := &frameSource{r: &buf}

	c, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), c.Index)
	assert.Equal(t, []byte("one"), c.Payload)

	c, err = s.Next()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), c.Index)

	_, err = s.Next()
	assert.Equal(t, io.EOF, err)
}

func TestFrameSinkWritesFrames(t *testing.T) {
	var buf bytes.Buffer
	sink := frameSink{w: &buf}

	require.NoError(t, sink.WriteChunk(testChunk(0, "payload")))

	got, err := container.ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}
