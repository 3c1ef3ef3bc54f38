package colorconv

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/duoview/internal/media"
)

// DefaultTimeout bounds how long Convert waits for a batch to complete.
const DefaultTimeout = 50 * time.Millisecond

var errCanceled = errors.New("colorconv: batch canceled")

// Batch emulates a conversion unit: planes and destination are registered,
// the conversion is triggered, and the caller waits on a completion handle.
// Work is striped across goroutines.
type Batch struct {
	workers int
	timeout time.Duration

	mu       sync.Mutex
	k        *kernel
	inflight sync.WaitGroup

	// beforeRun is called on the batch goroutine before any stripe starts.
	beforeRun func()
}

// BatchOption configures a Batch.
type BatchOption func(*Batch)

// WithWorkers sets the number of stripes. Values below 1 use GOMAXPROCS.
func WithWorkers(n int) BatchOption {
	return func(b *Batch) { b.workers = n }
}

// WithTimeout sets the completion wait bound.
func WithTimeout(d time.Duration) BatchOption {
	return func(b *Batch) { b.timeout = d }
}

// NewBatch creates an unconfigured batch converter.
func NewBatch(opts ...BatchOption) *Batch {
	b := &Batch{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(b)
	}
	if b.workers < 1 {
		b.workers = runtime.GOMAXPROCS(0)
	}
	return b
}

// Configure sets the conversion parameters. It waits, up to the batch
// timeout, for any in-flight batch so a stripe never observes a
// half-updated kernel.
func (b *Batch) Configure(p Params) error {
	if err := p.validate(); err != nil {
		return err
	}
	if err := b.waitIdle(b.timeout); err != nil {
		return fmt.Errorf("colorconv: configure: %w", err)
	}
	b.mu.Lock()
	b.k = newKernel(p)
	b.mu.Unlock()
	return nil
}

func (b *Batch) waitIdle(d time.Duration) error {
	idle := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(idle)
	}()
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-idle:
		return nil
	case <-t.C:
		return fmt.Errorf("%w waiting for in-flight batch", ErrTimeout)
	}
}

// Job is a triggered conversion.
type Job struct {
	done chan struct{}
	stop atomic.Bool
	err  error
}

// Done is closed when every stripe has finished. After Done no goroutine
// touches the job's destination.
func (j *Job) Done() <-chan struct{} { return j.done }

// Cancel asks the stripes to stop at the next row pair. Rows already
// written stay written; Done still has to be waited on.
func (j *Job) Cancel() { j.stop.Store(true) }

// Err returns the job error once Done is closed.
func (j *Job) Err() error { return j.err }

// Start registers src and dst and triggers conversion without waiting.
func (b *Batch) Start(src, dst *media.Picture) (*Job, error) {
	b.mu.Lock()
	k := b.k
	b.mu.Unlock()
	if k == nil {
		return nil, ErrNotConfigured
	}
	if err := checkPictures(k.params, src, dst); err != nil {
		return nil, err
	}

	stripes := b.workers
	h := k.params.Height
	if stripes > h/2 {
		stripes = h / 2
	}
	// Stripe boundaries stay on even rows so 4:2:0 chroma rows are never split.
	rowsPer := ((h / stripes) + 1) &^ 1

	job := &Job{done: make(chan struct{})}
	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		defer close(job.done)

		if b.beforeRun != nil {
			b.beforeRun()
		}
		if job.stop.Load() {
			job.err = errCanceled
			return
		}

		var g errgroup.Group
		for y0 := 0; y0 < h; y0 += rowsPer {
			y1 := min(y0+rowsPer, h)
			g.Go(func() error {
				for y := y0; y < y1; y += 2 {
					if job.stop.Load() {
						return errCanceled
					}
					k.rows(src, dst.Pix, y, min(y+2, y1))
				}
				return nil
			})
		}
		job.err = g.Wait()
	}()
	return job, nil
}

// Convert triggers a batch and waits for completion, the context, or the
// configured timeout, whichever comes first. On timeout or cancellation the
// stripes are stopped and Convert returns only once none of them can write
// to dst.
func (b *Batch) Convert(ctx context.Context, src, dst *media.Picture) error {
	start := time.Now()
	job, err := b.Start(src, dst)
	if err != nil {
		return err
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case <-job.Done():
		if job.err != nil {
			return fmt.Errorf("colorconv: batch: %w", job.err)
		}
	case <-timer.C:
		job.Cancel()
		<-job.Done()
		return fmt.Errorf("%w after %s", ErrTimeout, b.timeout)
	case <-ctx.Done():
		job.Cancel()
		<-job.Done()
		return ctx.Err()
	}

	b.mu.Lock()
	p := b.k.params
	b.mu.Unlock()
	stampOutput(p, src, dst)
	dst.ConvertTime = time.Since(start)
	return nil
}

// Close waits for any in-flight batch to finish.
func (b *Batch) Close() error {
	b.inflight.Wait()
	return nil
}
