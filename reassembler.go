package chunkcrypt

import (
	"fmt"

	"chunkcrypt/internal/queue"
)

// reassembler restores original chunk order from out-of-order completions.
// A chunk matching the next expected index is written immediately; anything
// ahead of the cursor waits in the pending map, so occupancy is bounded by
// the number of chunks completed out of order.
type reassembler struct {
	sink    chunkSink
	next    uint64
	pending map[uint64]*Chunk
	errs    []error
	written uint64
}

func newReassembler(sink chunkSink) *reassembler {
	return &reassembler{
		sink:    sink,
		pending: make(map[uint64]*Chunk),
	}
}

// collect consumes the output queue until it is closed and drained, writing
// chunks to the sink in strict index order.
func (r *reassembler) collect(out *queue.Queue[*Chunk]) error {
	for {
		c, ok := out.Pop()
		if !ok {
			return nil
		}
		if err := r.accept(c); err != nil {
			return err
		}
	}
}

func (r *reassembler) accept(c *Chunk) error {
	if c.Index < r.next {
		return &OrderingError{Index: c.Index, Detail: "index already emitted"}
	}
	if _, dup := r.pending[c.Index]; dup {
		return &OrderingError{Index: c.Index, Detail: "index already buffered"}
	}
	if c.Index != r.next {
		r.pending[c.Index] = c
		return nil
	}

	if err := r.emit(c); err != nil {
		return err
	}
	for {
		buffered, ok := r.pending[r.next]
		if !ok {
			return nil
		}
		delete(r.pending, r.next)
		if err := r.emit(buffered); err != nil {
			return err
		}
	}
}

func (r *reassembler) emit(c *Chunk) error {
	r.next++
	if c.Err != nil {
		r.errs = append(r.errs, &ChunkError{Index: c.Index, Err: c.Err})
		return nil
	}
	if err := r.sink.WriteChunk(c); err != nil {
		return fmt.Errorf("writing chunk %d: %w", c.Index, err)
	}
	r.written += uint64(len(c.Payload))
	c.Payload = nil
	return nil
}

// reconcile checks the final cursor against the splitter's total count.
func (r *reassembler) reconcile(total uint64) error {
	if len(r.pending) != 0 {
		return &OrderingError{Index: r.next, Detail: fmt.Sprintf("%d chunks stranded ahead of cursor", len(r.pending))}
	}
	if r.next != total {
		return &OrderingError{Index: r.next, Detail: fmt.Sprintf("emitted %d of %d chunks", r.next, total)}
	}
	return nil
}
