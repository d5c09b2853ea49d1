package chunkcrypt

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"

	"chunkcrypt/crypt"
	"chunkcrypt/internal/queue"
)

// transformFunc rewrites a chunk's payload in place. Each worker gets its
// own instance so cipher and compressor state is never shared.
type transformFunc func(c *Chunk) error

// worker loops until the input queue is closed and drained. A transform
// failure turns the chunk into an error marker instead of stalling the
// pipeline; the chunk is forwarded either way so the reassembler can keep
// its count.
func worker(transform transformFunc, in, out *queue.Queue[*Chunk], wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		c, ok := in.Pop()
		if !ok {
			return
		}
		if err := transform(c); err != nil {
			c.Err = err
			c.Payload = nil
		}
		out.Push(c)
	}
}

func encryptTransform(km *crypt.KeyMaterial, compress bool) (transformFunc, error) {
	cc, err := crypt.NewChunkCipher(km)
	if err != nil {
		return nil, err
	}
	var enc *zstd.Encoder
	if compress {
		enc, err = zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}
	}
	return func(c *Chunk) error {
		payload := c.Payload
		if enc != nil {
			payload = enc.EncodeAll(payload, nil)
		}
		c.Payload = cc.Seal(c.Index, payload)
		return nil
	}, nil
}

func decryptTransform(km *crypt.KeyMaterial, compress bool) (transformFunc, error) {
	cc, err := crypt.NewChunkCipher(km)
	if err != nil {
		return nil, err
	}
	var dec *zstd.Decoder
	if compress {
		dec, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("creating zstd decoder: %w", err)
		}
	}
	return func(c *Chunk) error {
		plain, err := cc.Open(c.Index, c.Payload)
		if err != nil {
			return err
		}
		if dec != nil {
			plain, err = dec.DecodeAll(plain, nil)
			if err != nil {
				return fmt.Errorf("decompressing chunk: %w", err)
			}
		}
		c.Payload = plain
		return nil
	}, nil
}

// newTransforms builds one independent transform per worker.
func newTransforms(op Operation, km *crypt.KeyMaterial, compress bool, n int) ([]transformFunc, error) {
	transforms := make([]transformFunc, n)
	for i := range transforms {
		var (
			t   transformFunc
			err error
		)
		if op == Encrypt {
			t, err = encryptTransform(km, compress)
		} else {
			t, err = decryptTransform(km, compress)
		}
		if err != nil {
			return nil, err
		}
		transforms[i] = t
	}
	return transforms, nil
}
