package pow

import (
	"context"
	"runtime"

	"github.com/bardlex/cnpool/pkg/errors"
	"github.com/bardlex/cnpool/pkg/log"
)

// task is one hash request queued to the worker pool.
type task struct {
	algo   Algo
	blob   []byte
	seed   []byte
	result chan taskResult
}

type taskResult struct {
	hash []byte
	err  error
}

// Pool is a bounded worker pool for CPU-bound hashing. Sessions submit work
// and suspend on the result; the pool size caps hashing parallelism so
// connection tasks stay responsive. The default size is runtime.NumCPU, the
// logical CPU count; physical cores are not detected.
type Pool struct {
	logger  *log.Logger
	tasks   chan task
	workers int
	rx      *rxSet
}

// NewPool creates a hash worker pool. A size of 0 defaults to the number of
// CPUs.
func NewPool(size int, logger *log.Logger) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}

	return &Pool{
		logger:  logger.WithComponent("pow"),
		tasks:   make(chan task, size*4),
		workers: size,
		rx:      newRXSet(),
	}
}

// Prewarm builds the RandomX dataset for an upcoming seed in the background
// so the epoch switch does not stall submissions.
func (p *Pool) Prewarm(seed []byte) {
	if len(seed) == 0 {
		return
	}

	h := p.rx.get(seed)
	go func() {
		if _, err := h.hash(seed, make([]byte, 76)); err != nil {
			p.logger.WithError(err).Warn("seed pre-warm failed")
		} else {
			p.logger.Info("pre-warmed next seed", "seed_bytes", len(seed))
		}
	}()
}

// Start launches the workers. They exit when ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info("hash workers starting", "workers", p.workers)

	for i := 0; i < p.workers; i++ {
		go p.worker(ctx)
	}
}

func (p *Pool) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-p.tasks:
			hash, err := p.computeSafe(t.algo, t.blob, t.seed)
			select {
			case t.result <- taskResult{hash: hash, err: err}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// computeSafe converts hasher panics into errors so one malformed blob
// cannot take a worker down.
func (p *Pool) computeSafe(algo Algo, blob, seed []byte) (hash []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("hash worker panic", "algo", algo.WireName(), "panic", r)
			err = errors.New(errors.ErrorTypeInternal, "pow_hash", "hash worker panicked").
				WithContext("algo", algo.WireName())
		}
	}()

	return p.sum(algo, blob, seed)
}

// Hash queues a blob for hashing and waits for the result. The call is a
// suspension point: it respects ctx while the pool is saturated and while
// the hash is being computed.
func (p *Pool) Hash(ctx context.Context, algo Algo, blob, seed []byte) ([]byte, error) {
	t := task{
		algo:   algo,
		blob:   blob,
		seed:   seed,
		result: make(chan taskResult, 1),
	}

	select {
	case p.tasks <- t:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-t.result:
		return res.hash, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
