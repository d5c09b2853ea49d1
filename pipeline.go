// Package chunkcrypt encrypts and decrypts files by splitting them into
// fixed-size chunks, transforming the chunks on a pool of workers, and
// reassembling the results in original order while writing the destination.
package chunkcrypt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"

	"chunkcrypt/container"
	"chunkcrypt/crypt"
	"chunkcrypt/internal/queue"
)

var log *logrus.Logger

// Operation selects the direction of a run.
type Operation int

const (
	Encrypt Operation = iota
	Decrypt
)

func (op Operation) String() string {
	switch op {
	case Encrypt:
		return "encrypt"
	case Decrypt:
		return "decrypt"
	default:
		return fmt.Sprintf("Operation(%d)", int(op))
	}
}

// DefaultChunkSize is the plaintext window size used when Config.ChunkSize
// is zero.
const DefaultChunkSize = 1 << 20

// Config carries the per-run pipeline settings.
type Config struct {
	ChunkSize int            // plaintext bytes per chunk, DefaultChunkSize when zero
	Workers   int            // cipher goroutines, all CPUs when zero
	Container bool           // use the framed container format instead of raw chunks
	Compress  bool           // zstd-compress chunks; requires Container
	Logger    *logrus.Logger // defaults to logrus.New()
}

func (c *Config) checkConfig() error {
	if c.ChunkSize < 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.Workers < 0 {
		return fmt.Errorf("worker count must be positive, got %d", c.Workers)
	}
	if c.Compress && !c.Container {
		return fmt.Errorf("compression requires the container format")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.ChunkSize == 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.Workers == 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	if c.Logger == nil {
		c.Logger = logrus.New()
	}
}

// Run executes one pipeline pass from src to dst. Every run builds its own
// queues and workers; nothing is shared between runs. On failure of any kind
// the destination must be treated as incomplete or untrusted.
//
// Cancelling ctx stops the splitter, drains the queues, and joins all
// workers before the context error is returned; no goroutines are left
// behind.
func Run(ctx context.Context, op Operation, src io.Reader, dst io.Writer, km *crypt.KeyMaterial, cfg Config) error {
	cfg.applyDefaults()
	log = cfg.Logger

	if err := cfg.checkConfig(); err != nil {
		return fmt.Errorf("invalid pipeline config: %w", err)
	}
	if km == nil {
		return fmt.Errorf("key material is required")
	}
	if op != Encrypt && op != Decrypt {
		return fmt.Errorf("unknown operation %d", int(op))
	}

	source, sink, km, err := buildEndpoints(op, src, dst, km, &cfg)
	if err != nil {
		return err
	}

	transforms, err := newTransforms(op, km, cfg.Compress, cfg.Workers)
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"operation":  op.String(),
		"chunk_size": cfg.ChunkSize,
		"workers":    cfg.Workers,
		"container":  cfg.Container,
	}).Debug("starting pipeline run")

	in := queue.New[*Chunk]()
	out := queue.New[*Chunk]()

	totalCh := make(chan uint64, 1)
	splitErrCh := make(chan error, 1)
	go split(ctx, source, in, totalCh, splitErrCh)

	var wg sync.WaitGroup
	for _, transform := range transforms {
		wg.Add(1)
		go worker(transform, in, out, &wg)
	}
	go func() {
		wg.Wait()
		out.Close()
	}()

	re := newReassembler(sink)
	collectErr := re.collect(out)

	// The splitter has finished by the time the output queue drains, but a
	// fatal collect error can leave chunks queued; drain so the splitter and
	// workers are fully joined before reporting.
	if collectErr != nil {
		for {
			if _, ok := out.Pop(); !ok {
				break
			}
		}
	}
	total := <-totalCh
	splitErr := <-splitErrCh

	if collectErr != nil {
		return collectErr
	}
	if splitErr != nil {
		return splitErr
	}
	if err := re.reconcile(total); err != nil {
		return err
	}
	if len(re.errs) > 0 {
		return fmt.Errorf("%d of %d chunks failed: %w", len(re.errs), total, errors.Join(re.errs...))
	}

	log.WithFields(logrus.Fields{
		"operation":     op.String(),
		"chunks":        total,
		"bytes_written": re.written,
	}).Debug("pipeline run complete")
	return nil
}

// buildEndpoints wires the chunk source and sink for the selected operation
// and format. For container decryption the chunk size, base nonce, and
// compression flag come from the header rather than the caller.
func buildEndpoints(op Operation, src io.Reader, dst io.Writer, km *crypt.KeyMaterial, cfg *Config) (chunkSource, chunkSink, *crypt.KeyMaterial, error) {
	if !cfg.Container {
		window := cfg.ChunkSize
		if op == Decrypt {
			window += crypt.Overhead
		}
		return &fixedSplitter{r: src, window: window}, rawSink{w: dst}, km, nil
	}

	if op == Encrypt {
		hdr := container.NewHeader(cfg.ChunkSize, km.BaseNonce, cfg.Compress)
		if err := container.WriteHeader(dst, hdr); err != nil {
			return nil, nil, nil, err
		}
		return &fixedSplitter{r: src, window: cfg.ChunkSize}, frameSink{w: dst}, km, nil
	}

	hdr, err := container.ReadHeader(src)
	if err != nil {
		return nil, nil, nil, err
	}
	headerKM := &crypt.KeyMaterial{Key: km.Key, BaseNonce: hdr.BaseNonce}
	cfg.ChunkSize = int(hdr.ChunkSize)
	cfg.Compress = hdr.Compressed()
	return &frameSource{r: src}, rawSink{w: dst}, headerKM, nil
}

// split reads the source sequentially, enqueueing chunks tagged with dense
// indices, then closes the input queue. The total chunk count and any read
// or cancellation error are delivered once the splitter exits.
func split(ctx context.Context, source chunkSource, in *queue.Queue[*Chunk], totalCh chan<- uint64, errCh chan<- error) {
	defer in.Close()

	var total uint64
	var splitErr error
	for {
		if err := ctx.Err(); err != nil {
			splitErr = err
			break
		}
		c, err := source.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			splitErr = fmt.Errorf("reading source: %w", err)
			break
		}
		in.Push(c)
		total++
	}

	totalCh <- total
	errCh <- splitErr
}
