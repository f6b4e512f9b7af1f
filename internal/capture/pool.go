package capture

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/pagecapture/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/pagecapture/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/pagecapture/internal/shared/id"
)

// PoolConfig sizes the pool and bounds each job.
type PoolConfig struct {
	Size           int
	JobTimeout     time.Duration
	ReplaceTimeout time.Duration
	// ReplaceFailures consecutive replacement failures open the breaker
	ReplaceFailures uint32
	// ReplaceCooldown is how long the breaker stays open
	ReplaceCooldown time.Duration
}

// DefaultPoolConfig returns a pool of two contexts
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Size:            2,
		JobTimeout:      2 * time.Minute,
		ReplaceTimeout:  30 * time.Second,
		ReplaceFailures: 3,
		ReplaceCooldown: 30 * time.Second,
	}
}

type slot struct {
	id string
	ec ExecutionContext
}

type outcome struct {
	result *Result
	err    error
}

type job struct {
	id   string
	ctx  context.Context
	spec JobSpec
	elem *list.Element
	done chan outcome
}

// Pool runs jobs on a fixed set of isolated execution contexts. Jobs wait
// in FIFO order for a free context; excess demand queues, it is never
// rejected for contention.
type Pool struct {
	cfg     PoolConfig
	factory ContextFactory
	runner  JobRunner
	breaker *resilience.Breaker
	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu     sync.Mutex
	slots  []*slot
	free   []*slot
	queue  *list.List
	closed bool

	wake    chan struct{}
	stop    chan struct{}
	stopped chan struct{}
	running sync.WaitGroup
}

// NewPool creates cfg.Size execution contexts concurrently and starts the
// dispatcher. If any context fails to start, the ones already created are
// closed.
func NewPool(ctx context.Context, factory ContextFactory, runner JobRunner, cfg PoolConfig, logger *zap.Logger, metrics *monitoring.Metrics) (*Pool, error) {
	if cfg.Size <= 0 {
		cfg.Size = DefaultPoolConfig().Size
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	slots := make([]*slot, cfg.Size)
	g, gctx := errgroup.WithContext(ctx)
	for i := range slots {
		i := i
		g.Go(func() error {
			sid := id.NewContextID().String()
			ec, err := factory.NewContext(gctx, sid)
			if err != nil {
				return fmt.Errorf("create execution context %d: %w", i, err)
			}
			slots[i] = &slot{id: sid, ec: ec}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, s := range slots {
			if s != nil {
				_ = s.ec.Close()
			}
		}
		return nil, err
	}

	p := &Pool{
		cfg:     cfg,
		factory: factory,
		runner:  runner,
		logger:  logger,
		metrics: metrics,
		slots:   slots,
		free:    append([]*slot(nil), slots...),
		queue:   list.New(),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	failures := cfg.ReplaceFailures
	if failures == 0 {
		failures = 3
	}
	p.breaker = resilience.New("execution-context", resilience.Settings{
		MaxRequests: 1,
		Timeout:     cfg.ReplaceCooldown,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	p.mu.Lock()
	p.publishLocked()
	p.mu.Unlock()

	go p.dispatch()

	logger.Info("capture pool started", zap.Int("size", cfg.Size))
	return p, nil
}

// Submit validates spec, waits for a free execution context and runs the
// job on it. Cancelling ctx while queued removes the job from the queue;
// once running, cancellation propagates to the runner.
func (p *Pool) Submit(ctx context.Context, spec JobSpec) (*Result, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	j := &job{
		id:   id.NewJobID().String(),
		ctx:  ctx,
		spec: spec,
		done: make(chan outcome, 1),
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	j.elem = p.queue.PushBack(j)
	p.publishLocked()
	p.mu.Unlock()

	p.signal()

	select {
	case out := <-j.done:
		return out.result, out.err
	case <-ctx.Done():
	}

	p.mu.Lock()
	queued := j.elem != nil
	if queued {
		p.queue.Remove(j.elem)
		j.elem = nil
		p.publishLocked()
	}
	p.mu.Unlock()

	if queued {
		p.logger.Debug("job cancelled while queued", zap.String("job_id", j.id))
		return nil, ctx.Err()
	}

	// Already dispatched or rejected by Close; the runner sees the
	// cancelled ctx and returns promptly.
	out := <-j.done
	return out.result, out.err
}

func (p *Pool) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pool) dispatch() {
	defer close(p.stopped)

	for {
		p.mu.Lock()
		for len(p.free) > 0 && p.queue.Len() > 0 {
			j := p.queue.Remove(p.queue.Front()).(*job)
			j.elem = nil

			s := p.free[0]
			p.free = p.free[1:]

			p.running.Add(1)
			go p.execute(s, j)
		}
		p.publishLocked()
		p.mu.Unlock()

		select {
		case <-p.wake:
		case <-p.stop:
			return
		}
	}
}

func (p *Pool) execute(s *slot, j *job) {
	defer p.running.Done()

	ctx := WithJobID(j.ctx, j.id)
	if p.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.JobTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := p.run(ctx, s, j)
	if res != nil {
		res.ID = j.id
	}

	label := "ok"
	if err != nil {
		label = outcomeLabel(err)
		p.logger.Warn("capture job failed",
			zap.String("job_id", j.id),
			zap.String("context_id", s.id),
			zap.String("url", j.spec.URL),
			zap.Error(err),
		)
	}
	p.metrics.RecordJob(label, time.Since(start))

	p.release(s)
	j.done <- outcome{result: res, err: err}
}

func (p *Pool) run(ctx context.Context, s *slot, j *job) (res *Result, err error) {
	defer func() {
		if v := recover(); v != nil {
			p.logger.Error("capture job panicked", zap.String("job_id", j.id), zap.Any("panic", v))
			res, err = nil, protocolError("run job", fmt.Errorf("panic: %v", v))
		}
	}()

	if !s.ec.Alive() {
		if err := p.replace(ctx, s); err != nil {
			return nil, protocolError("replace execution context", err)
		}
	}
	return p.runner.Run(ctx, s.ec, j.spec)
}

// replace swaps a dead execution context for a new one under the breaker.
// The slot is held by the calling job, so s.ec is not shared.
func (p *Pool) replace(ctx context.Context, s *slot) error {
	err := p.breaker.Execute(func() error {
		rctx := ctx
		if p.cfg.ReplaceTimeout > 0 {
			var cancel context.CancelFunc
			rctx, cancel = context.WithTimeout(ctx, p.cfg.ReplaceTimeout)
			defer cancel()
		}

		ec, err := p.factory.NewContext(rctx, s.id)
		if err != nil {
			return err
		}

		old := s.ec
		s.ec = ec
		if err := old.Close(); err != nil {
			p.logger.Debug("closing dead execution context", zap.String("context_id", s.id), zap.Error(err))
		}
		return nil
	})

	switch {
	case err == nil:
		p.metrics.RecordReplacement("ok")
		p.logger.Info("execution context replaced", zap.String("context_id", s.id))
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrTooManyRequests):
		p.metrics.RecordReplacement("rejected")
	default:
		p.metrics.RecordReplacement("error")
	}
	return err
}

func (p *Pool) release(s *slot) {
	p.mu.Lock()
	p.free = append(p.free, s)
	p.publishLocked()
	p.mu.Unlock()

	p.signal()
}

// publishLocked updates the pool gauges; p.mu must be held
func (p *Pool) publishLocked() {
	p.metrics.SetPool(len(p.slots), len(p.slots)-len(p.free), p.queue.Len())
}

// Stats reports pool occupancy
func (p *Pool) Stats() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	return map[string]interface{}{
		"size":      len(p.slots),
		"available": len(p.free),
		"in_use":    len(p.slots) - len(p.free),
		"queued":    p.queue.Len(),
		"closed":    p.closed,
		"breaker":   p.breaker.State().String(),
	}
}

// Close rejects queued jobs with ErrPoolClosed, waits for running jobs and
// closes every execution context. Close is idempotent.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	var pending []*job
	for e := p.queue.Front(); e != nil; e = e.Next() {
		j := e.Value.(*job)
		j.elem = nil
		pending = append(pending, j)
	}
	p.queue.Init()
	p.publishLocked()
	p.mu.Unlock()

	for _, j := range pending {
		j.done <- outcome{err: ErrPoolClosed}
	}

	close(p.stop)
	<-p.stopped
	p.running.Wait()

	var errs []error
	for _, s := range p.slots {
		if err := s.ec.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close execution context %s: %w", s.id, err))
		}
	}

	p.logger.Info("capture pool closed", zap.Int("rejected", len(pending)))
	return errors.Join(errs...)
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}
	if k := KindOf(err); k != 0 {
		return k.String()
	}
	return "error"
}
