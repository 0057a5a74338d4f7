// Package pool provides the bounded worker pool that runs blocking
// extraction jobs off the session goroutines.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrPoolClosed  = errors.New("pool is closed")
	ErrTaskTimeout = errors.New("task submission timeout")
)

// Task represents a unit of work.
type Task func(ctx context.Context) error

// Config configures the pool.
type Config struct {
	// 并发执行的最大任务数
	MaxWorkers int `yaml:"max_workers" env:"MAX_WORKERS"`
	// 排队上限
	QueueSize int `yaml:"queue_size" env:"QUEUE_SIZE"`
	// 队列满时提交方最长等待时间
	SubmitTimeout time.Duration `yaml:"submit_timeout" env:"SUBMIT_TIMEOUT"`
	// 空闲 worker 退出时间
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`

	PanicHandler func(any) `yaml:"-" env:"-"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:    4,
		QueueSize:     64,
		SubmitTimeout: 10 * time.Second,
		IdleTimeout:   60 * time.Second,
	}
}

type job struct {
	task   Task
	ctx    context.Context
	result chan error
}

// Pool runs tasks on at most MaxWorkers goroutines. Workers are spawned
// on demand and exit after IdleTimeout without work.
type Pool struct {
	cfg   Config
	queue chan job

	mu     sync.RWMutex // 保护 closed 与 queue 的关闭
	closed bool
	wg     sync.WaitGroup

	workers   atomic.Int32
	active    atomic.Int32
	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
}

// New creates a new pool.
func New(cfg Config) *Pool {
	def := DefaultConfig()
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = def.MaxWorkers
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = def.SubmitTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	return &Pool{
		cfg:   cfg,
		queue: make(chan job, cfg.QueueSize),
	}
}

// SubmitWait queues task and blocks until it has run, returning its error.
// The caller's ctx bounds both queueing and waiting; a task that already
// started is not interrupted by the caller giving up.
func (p *Pool) SubmitWait(ctx context.Context, task Task) error {
	j := job{task: task, ctx: ctx, result: make(chan error, 1)}

	if err := p.enqueue(ctx, j); err != nil {
		return err
	}

	select {
	case err := <-j.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) enqueue(ctx context.Context, j job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}
	p.submitted.Add(1)

	select {
	case p.queue <- j:
		p.ensureWorker()
		return nil
	default:
	}

	// 队列已满：先尝试扩容 worker，再有限等待
	p.ensureWorker()
	timer := time.NewTimer(p.cfg.SubmitTimeout)
	defer timer.Stop()

	select {
	case p.queue <- j:
		p.ensureWorker()
		return nil
	case <-timer.C:
		p.rejected.Add(1)
		return fmt.Errorf("%w after %s", ErrTaskTimeout, p.cfg.SubmitTimeout)
	case <-ctx.Done():
		p.rejected.Add(1)
		return ctx.Err()
	}
}

func (p *Pool) ensureWorker() {
	for {
		current := p.workers.Load()
		if current >= int32(p.cfg.MaxWorkers) {
			return
		}
		if p.workers.CompareAndSwap(current, current+1) {
			p.wg.Add(1)
			go p.worker()
			return
		}
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	defer func() {
		p.workers.Add(-1)
		// 退出与入队竞争时补一个 worker
		if len(p.queue) > 0 {
			p.ensureWorker()
		}
	}()

	timer := time.NewTimer(p.cfg.IdleTimeout)
	defer timer.Stop()

	for {
		select {
		case j, ok := <-p.queue:
			if !ok {
				return
			}

			p.active.Add(1)
			err := p.run(j)
			p.active.Add(-1)

			if err != nil {
				p.failed.Add(1)
			} else {
				p.completed.Add(1)
			}
			j.result <- err

			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(p.cfg.IdleTimeout)

		case <-timer.C:
			// 有排队任务时不退出，避免任务滞留
			if len(p.queue) == 0 {
				return
			}
			timer.Reset(p.cfg.IdleTimeout)
		}
	}
}

func (p *Pool) run(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if p.cfg.PanicHandler != nil {
				p.cfg.PanicHandler(r)
			}
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()

	// 提交方已放弃的任务直接跳过
	if cerr := j.ctx.Err(); cerr != nil {
		return cerr
	}
	return j.task(j.ctx)
}

// Close stops accepting tasks, drains the queue and waits for workers.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}

// Stats returns pool statistics.
func (p *Pool) Stats() Stats {
	return Stats{
		MaxWorkers: p.cfg.MaxWorkers,
		Workers:    int(p.workers.Load()),
		Active:     int(p.active.Load()),
		Queued:     len(p.queue),
		Submitted:  p.submitted.Load(),
		Completed:  p.completed.Load(),
		Failed:     p.failed.Load(),
		Rejected:   p.rejected.Load(),
	}
}

// Stats contains pool statistics.
type Stats struct {
	MaxWorkers int   `json:"max_workers"`
	Workers    int   `json:"workers"`
	Active     int   `json:"active"`
	Queued     int   `json:"queued"`
	Submitted  int64 `json:"submitted"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Rejected   int64 `json:"rejected"`
}
