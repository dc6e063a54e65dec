// Package chunker batches content payloads into size-bounded chunks for
// upload.
package chunker

import (
	"context"
	"sort"

	"github.com/custodia-labs/ferry/internal/core/domain"
)

// DefaultChunkSize is the default batch threshold in bytes.
const DefaultChunkSize int64 = 1_000_000

// Handler receives each emitted batch. It is called synchronously and the
// chunker never retries a failed call.
type Handler func(ctx context.Context, batch []domain.ContentData) error

// Chunker accumulates content descriptors keyed by URL and hands them to
// its handler once their combined size reaches the threshold.
//
// A Chunker is not safe for concurrent use.
type Chunker struct {
	chunkSize int64
	handler   Handler
	pending   map[string]domain.ContentData
	total     int64
}

// Option configures the chunker.
type Option func(*Chunker)

// WithChunkSize sets the batch threshold in bytes.
func WithChunkSize(size int64) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

// New creates a chunker that emits batches to handler.
func New(handler Handler, opts ...Option) *Chunker {
	c := &Chunker{
		chunkSize: DefaultChunkSize,
		handler:   handler,
		pending:   make(map[string]domain.ContentData),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ChunkSize returns the batch threshold.
func (c *Chunker) ChunkSize() int64 {
	return c.chunkSize
}

// Add buffers a descriptor. A URL already pending is ignored. When the
// pending total reaches the threshold the buffer is flushed.
func (c *Chunker) Add(ctx context.Context, data domain.ContentData) error {
	if _, ok := c.pending[data.URL]; !ok {
		c.pending[data.URL] = data
		c.total += data.Size
	}
	if c.total >= c.chunkSize {
		return c.Flush(ctx)
	}
	return nil
}

// Flush hands everything pending to the handler and empties the buffer.
// It is a no-op when nothing is pending. The buffer is emptied even when
// the handler fails.
func (c *Chunker) Flush(ctx context.Context) error {
	if len(c.pending) == 0 {
		return nil
	}

	batch := make([]domain.ContentData, 0, len(c.pending))
	for _, d := range c.pending {
		batch = append(batch, d)
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].URL < batch[j].URL })

	c.pending = make(map[string]domain.ContentData)
	c.total = 0

	return c.handler(ctx, batch)
}

// Pending returns the number of buffered descriptors.
func (c *Chunker) Pending() int {
	return len(c.pending)
}

// PendingSize returns the combined size of buffered descriptors.
func (c *Chunker) PendingSize() int64 {
	return c.total
}
