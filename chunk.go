package chunkcrypt

import (
	"io"

	"chunkcrypt/container"
)

// Chunk is the unit of work flowing through the pipeline. Exactly one stage
// owns a chunk at a time; the owning worker replaces Payload in place. Err is
// the error marker a worker sets instead of data when the transform fails.
type Chunk struct {
	Index   uint64
	Payload []byte
	Err     error
}

// chunkSource produces chunks with dense 0-based indices and returns io.EOF
// after the last one.
type chunkSource interface {
	Next() (*Chunk, error)
}

// chunkSink receives chunks strictly in index order.
type chunkSink interface {
	WriteChunk(c *Chunk) error
}

// fixedSplitter reads the source in fixed-size windows. The final chunk may
// be shorter; a source whose length is an exact multiple of the window
// produces no trailing empty chunk.
type fixedSplitter struct {
	r      io.Reader
	window int
	next   uint64
}

func (s *fixedSplitter) Next() (*Chunk, error) {
	buf := make([]byte, s.window)
	n, err := io.ReadFull(s.r, buf)
	if n == 0 {
		if err == io.EOF || err == io.ErrUnexpectedEOF || err == nil {
			return nil, io.EOF
		}
		return nil, err
	}
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, err
	}

	c := &Chunk{Index: s.next, Payload: buf[:n]}
	s.next++
	return c, nil
}

// frameSource reads length-prefixed container frames, assigning indices in
// read order.
type frameSource struct {
	r    io.Reader
	next uint64
}

func (s *frameSource) Next() (*Chunk, error) {
	payload, err := container.ReadFrame(s.r)
	if err != nil {
		return nil, err
	}
	c := &Chunk{Index: s.next, Payload: payload}
	s.next++
	return c, nil
}

// rawSink writes chunk payloads back-to-back with no framing.
type rawSink struct {
	w io.Writer
}

func (s rawSink) WriteChunk(c *Chunk) error {
	_, err := s.w.Write(c.Payload)
	return err
}

// frameSink writes each chunk as a length-prefixed container frame.
type frameSink struct {
	w io.Writer
}

func (s frameSink) WriteChunk(c *Chunk) error {
	return container.WriteFrame(s.w, c.Payload)
}
