// Package pool runs tasks on a fixed set of worker goroutines fed by an
// unbounded FIFO queue.
package pool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emirpasic/gods/queues/linkedlistqueue"
	"github.com/rs/zerolog"
)

// DefaultWorkers is used when Config.Workers is not positive.
const DefaultWorkers = 10

// ErrStopped is returned for tasks submitted to, or abandoned by, a stopped pool.
var ErrStopped = errors.New("pool stopped")

// Task is a unit of work. Name is only used for logging.
type Task struct {
	Name string
	Run  func(ctx context.Context) error

	done func(error)
}

// Config holds pool configuration
type Config struct {
	Workers int
	Logger  zerolog.Logger
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Workers   int
	Queued    int
	InFlight  int64
	Completed uint64
	Failed    uint64
}

// Pool is a producer/consumer worker pool. Submit never blocks.
type Pool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   *linkedlistqueue.Queue
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc

	workers int
	logger  zerolog.Logger

	inFlight  atomic.Int64
	completed atomic.Uint64
	failed    atomic.Uint64
}

// New creates a pool and starts its workers.
func New(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		queue:   linkedlistqueue.New(),
		ctx:     ctx,
		cancel:  cancel,
		workers: cfg.Workers,
		logger:  cfg.Logger.With().Str("component", "pool").Logger(),
	}
	p.cond = sync.NewCond(&p.mu)

	for i := 0; i < cfg.Workers; i++ {
		go p.worker(i)
	}
	p.logger.Debug().Int("workers", cfg.Workers).Msg("worker pool started")
	return p
}

// Submit enqueues t. It returns ErrStopped once the pool is stopped.
func (p *Pool) Submit(t Task) error {
	if t.Run == nil {
		return fmt.Errorf("task %q: nil Run", t.Name)
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		p.logger.Warn().Str("task", t.Name).Msg("task submitted after stop; dropped")
		return ErrStopped
	}
	p.queue.Enqueue(t)
	p.mu.Unlock()

	p.cond.Signal()
	return nil
}

// RunBatch submits tasks and blocks until every one has finished, returning
// their results in order. Tasks the pool abandons report ErrStopped.
func (p *Pool) RunBatch(tasks ...Task) []error {
	errs := make([]error, len(tasks))

	var wg sync.WaitGroup
	wg.Add(len(tasks))
	for i := range tasks {
		t := tasks[i]
		t.done = func(err error) {
			errs[i] = err
			wg.Done()
		}
		if err := p.Submit(t); err != nil {
			t.done(err)
		}
	}
	wg.Wait()
	return errs
}

// Stop makes workers exit after their current task. Queued tasks are
// abandoned and running tasks see their context cancelled. Stop does not
// wait for running tasks.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	abandoned := p.queue.Values()
	p.queue.Clear()
	p.mu.Unlock()

	p.cond.Broadcast()
	p.cancel()

	for _, v := range abandoned {
		if t := v.(Task); t.done != nil {
			t.done(ErrStopped)
		}
	}
	p.logger.Debug().Int("abandoned", len(abandoned)).Msg("worker pool stopped")
}

// Stats returns current counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	queued := p.queue.Size()
	p.mu.Unlock()

	return Stats{
		Workers:   p.workers,
		Queued:    queued,
		InFlight:  p.inFlight.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
	}
}

func (p *Pool) next() (Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.queue.Empty() && !p.stopped {
		p.cond.Wait()
	}
	if p.stopped {
		return Task{}, false
	}
	v, _ := p.queue.Dequeue()
	return v.(Task), true
}

func (p *Pool) worker(idx int) {
	for {
		t, ok := p.next()
		if !ok {
			return
		}

		p.inFlight.Add(1)
		start := time.Now()
		err := p.exec(t)
		p.inFlight.Add(-1)

		if err != nil {
			p.failed.Add(1)
			p.logger.Error().Err(err).Str("task", t.Name).Int("worker", idx).Dur("dur", time.Since(start)).Msg("task failed")
		} else {
			p.completed.Add(1)
			p.logger.Debug().Str("task", t.Name).Int("worker", idx).Dur("dur", time.Since(start)).Msg("task completed")
		}
		if t.done != nil {
			t.done(err)
		}
	}
}

// exec runs one task, converting a panic into an error so one bad task
// cannot kill its worker.
func (p *Pool) exec(t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			p.logger.Error().Str("task", t.Name).Interface("panic", r).Str("stack", string(debug.Stack())).Msg("task panic")
		}
	}()
	return t.Run(p.ctx)
}
