package pool

import (
	"context"
	"sync/atomic"

	"github.com/assetcorp/sirannon/internal/sirannonerr"
)

// Options configures a ConnectionPool — spec §4.2 constructor inputs.
type Options struct {
	Path         string
	ReadOnly     bool
	ReadPoolSize int
	WALMode      bool
}

// ConnectionPool owns exactly one writer connection (absent for read-only
// databases) and a fixed-size ring of K reader connections, assigned
// round-robin — spec §3, §4.2.
type ConnectionPool struct {
	opts Options

	writer  *connHandle
	readers []*connHandle

	readIdx atomic.Uint64
	closed  atomic.Bool
}

// Open builds and opens a ConnectionPool per spec §4.2. ReadPoolSize is
// clamped to >=1.
func Open(ctx context.Context, opts Options) (*ConnectionPool, error) {
	if opts.ReadPoolSize < 1 {
		opts.ReadPoolSize = 1
	}

	p := &ConnectionPool{opts: opts}

	if !opts.ReadOnly {
		writer, err := openWriter(ctx, opts.Path, opts.WALMode)
		if err != nil {
			return nil, sirannonerr.Wrap(sirannonerr.CodeConnectionPoolError, "open writer connection", err)
		}
		p.writer = writer
	}

	readers := make([]*connHandle, 0, opts.ReadPoolSize)
	for i := 0; i < opts.ReadPoolSize; i++ {
		reader, err := openReader(ctx, opts.Path)
		if err != nil {
			for _, r := range readers {
				r.close()
			}
			if p.writer != nil {
				p.writer.close()
			}
			return nil, sirannonerr.Wrap(sirannonerr.CodeConnectionPoolError, "open reader connection", err)
		}
		readers = append(readers, reader)
	}
	p.readers = readers

	return p, nil
}

// AcquireWriter returns the writer connection. Fails on read-only pools and
// after Close() — spec §4.2, §3 invariant.
func (p *ConnectionPool) AcquireWriter() (*connHandle, error) {
	if p.closed.Load() {
		return nil, sirannonerr.New(sirannonerr.CodeConnectionPoolError, "pool is closed")
	}
	if p.writer == nil {
		return nil, sirannonerr.New(sirannonerr.CodeConnectionPoolError, "pool has no writer (read-only)")
	}
	return p.writer, nil
}

// AcquireReader returns the next reader in round-robin order. Readers are
// not exclusively checked out — spec §4.2.
func (p *ConnectionPool) AcquireReader() (*connHandle, error) {
	if p.closed.Load() {
		return nil, sirannonerr.New(sirannonerr.CodeConnectionPoolError, "pool is closed")
	}
	idx := p.readIdx.Add(1) - 1
	return p.readers[int(idx%uint64(len(p.readers)))], nil
}

// ReadOnly reports whether this pool was opened without a writer.
func (p *ConnectionPool) ReadOnly() bool {
	return p.writer == nil
}

// Close closes every connection. Idempotent — spec §4.2.
func (p *ConnectionPool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	var firstErr error
	if p.writer != nil {
		if err := p.writer.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, r := range p.readers {
		if err := r.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
