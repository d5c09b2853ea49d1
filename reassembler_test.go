package chunkcrypt

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chunkcrypt/internal/queue"
)

func testChunk(index uint64, payload string) *Chunk {
	return &Chunk{Index: index, Payload: []byte(payload)}
}

func TestOutOfOrderChunksAreBufferedUntilContiguous(t *testing.T) {
	var buf bytes.Buffer
	r := newReassembler(rawSink{w: &buf})

	// Chunk 2 completes first and must wait for 0 and 1.
	require.NoError(t, r.accept(testChunk(2, "c")))
	assert.Empty(t, buf.Bytes(), "chunk ahead of the cursor must not be written yet")
	assert.Len(t, r.pending, 1)

	require.NoError(t, r.accept(testChunk(0, "a")))
	assert.Equal(t, "a", buf.String())

	require.NoError(t, r.accept(testChunk(1, "b")))
	assert.Equal(t, "abc", buf.String(), "buffered chunk must flush once the gap closes")
	assert.Empty(t, r.pending)

	assert.NoError(t, r.reconcile(3))
}

func TestReassemblerThroughQueue(t *testing.T) {
	var buf bytes.Buffer
	r := newReassembler(rawSink{w: &buf})

	out := queue.New[*Chunk]()
	for _, index := range []uint64{3, 1, 0, 2} {
		out.Push(testChunk(index, string(rune('a'+index))))
	}
	out.Close()

	require.NoError(t, r.collect(out))
	assert.Equal(t, "abcd", buf.String())
	assert.NoError(t, r.reconcile(4))
}

func TestDuplicateEmittedIndexIsFatal(t *testing.T) {
	r := newReassembler(rawSink{w: &bytes.Buffer{}})

	require.NoError(t, r.accept(testChunk(0, "a")))
	err := r.accept(testChunk(0, "a"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOrderingViolated))
}

func TestDuplicateBufferedIndexIsFatal(t *testing.T) {
	r := newReassembler(rawSink{w: &bytes.Buffer{}})

	require.NoError(t, r.accept(testChunk(5, "f")))
	err := r.accept(testChunk(5, "f"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOrderingViolated))
}

func TestReconcileDetectsCountMismatch(t *testing.T) {
	r := newReassembler(rawSink{w: &bytes.Buffer{}})

	require.NoError(t, r.accept(testChunk(0, "a")))
	err := r.reconcile(2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOrderingViolated))
}

func TestReconcileDetectsStrandedChunks(t *testing.T) {
	r := newReassembler(rawSink{w: &bytes.Buffer{}})

	require.NoError(t, r.accept(testChunk(1, "b")))
	err := r.reconcile(2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOrderingViolated))
}

func TestErrorMarkerAdvancesCursorWithoutWriting(t *testing.T) {
	var buf bytes.Buffer
	r := newReassembler(rawSink{w: &buf})

	require.NoError(t, r.accept(testChunk(0, "a")))
	require.NoError(t, r.accept(&Chunk{Index: 1, Err: errors.New("bad chunk")}))
	require.NoError(t, r.accept(testChunk(2, "c")))

	assert.Equal(t, "ac", buf.String())
	assert.NoError(t, r.reconcile(3))

	require.Len(t, r.errs, 1)
	var ce *ChunkError
	require.True(t, errors.As(r.errs[0], &ce))
	assert.Equal(t, uint64(1), ce.Index)
}
