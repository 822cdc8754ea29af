package workers

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"chart_engine_backend/models"
)

// TaskKind is the closed set of computations the pool knows how to run.
type TaskKind int

const (
	KindSMA TaskKind = iota
	KindEMA
	KindRSI
	KindMACD
	KindBollinger
	KindHeikinAshi
)

func (k TaskKind) String() string {
	switch k {
	case KindSMA:
		return "sma"
	case KindEMA:
		return "ema"
	case KindRSI:
		return "rsi"
	case KindMACD:
		return "macd"
	case KindBollinger:
		return "bollinger"
	case KindHeikinAshi:
		return "heikin_ashi"
	default:
		return "unknown"
	}
}

// TaskParams carries the strongly-typed knobs for every task kind.
// Unused fields are ignored by kinds that do not need them.
type TaskParams struct {
	Period int     `json:"period,omitempty"`
	Fast   int     `json:"fast,omitempty"`
	Slow   int     `json:"slow,omitempty"`
	Signal int     `json:"signal,omitempty"`
	Width  float64 `json:"width,omitempty"`
}

// TaskResult resolves a submitted task to a value or a typed failure.
type TaskResult struct {
	ID    uint64
	Value interface{}
	Err   error
}

// Runner executes one task body. A panicking runner is treated as a
// worker crash.
type Runner func(kind TaskKind, candles []models.Candle, params TaskParams) (interface{}, error)

var (
	// ErrWorkerCrashed rejects the in-flight task of a crashed worker.
	ErrWorkerCrashed = errors.New("worker crashed")
	// ErrNoWorkers rejects tasks when every slot has been retired.
	ErrNoWorkers = errors.New("no workers available")
	// ErrPoolStopped rejects tasks submitted after shutdown.
	ErrPoolStopped = errors.New("worker pool stopped")
)

// WorkerSlot tracks one worker's scheduling state. Slots are created at
// pool construction and replaced, not destroyed, on crash recovery.
type WorkerSlot struct {
	Busy       bool `json:"busy"`
	RetryCount int  `json:"retry_count"`
	Retired    bool `json:"retired"`
}

// Config holds pool tunables.
type Config struct {
	Workers      int
	QueueSize    int
	RetryCeiling int
	BackoffBase  time.Duration
	BackoffCap   time.Duration
}

// DefaultConfig returns the production pool settings.
func DefaultConfig() Config {
	return Config{
		Workers:      4,
		QueueSize:    256,
		RetryCeiling: 3,
		BackoffBase:  time.Second,
		BackoffCap:   10 * time.Second,
	}
}

type task struct {
	id      uint64
	kind    TaskKind
	candles []models.Candle
	params  TaskParams
	result  chan TaskResult
}

// Pool is a fixed-size worker pool with crash isolation. Workers pull
// from a shared FIFO queue; a crashed worker rejects its in-flight task
// immediately, then is restarted after an exponential backoff until its
// retry ceiling, after which the slot is retired and pool capacity
// shrinks by one.
type Pool struct {
	cfg    Config
	runner Runner

	tasks  chan *task
	quit   chan struct{}
	nextID uint64

	mu      sync.Mutex
	slots   []*WorkerSlot
	stopped bool

	wg sync.WaitGroup
}

// NewPool creates and starts a worker pool.
func NewPool(cfg Config, runner Runner) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RetryCeiling <= 0 {
		cfg.RetryCeiling = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 10 * time.Second
	}

	p := &Pool{
		cfg:    cfg,
		runner: runner,
		tasks:  make(chan *task, cfg.QueueSize),
		quit:   make(chan struct{}),
		slots:  make([]*WorkerSlot, cfg.Workers),
	}
	for i := range p.slots {
		p.slots[i] = &WorkerSlot{}
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.workerLoop(i)
	}
	return p
}

// Execute submits a task and returns a channel that resolves to exactly
// one result. Callers never block indefinitely: a crash rejects the
// task, and a pool with no live workers rejects immediately.
func (p *Pool) Execute(kind TaskKind, candles []models.Candle, params TaskParams) <-chan TaskResult {
	result := make(chan TaskResult, 1)
	id := atomic.AddUint64(&p.nextID, 1)

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		result <- TaskResult{ID: id, Err: ErrPoolStopped}
		return result
	}
	live := 0
	for _, s := range p.slots {
		if !s.Retired {
			live++
		}
	}
	p.mu.Unlock()

	if live == 0 {
		result <- TaskResult{ID: id, Err: ErrNoWorkers}
		return result
	}

	t := &task{id: id, kind: kind, candles: candles, params: params, result: result}
	select {
	case p.tasks <- t:
	case <-p.quit:
		result <- TaskResult{ID: id, Err: ErrPoolStopped}
	}
	return result
}

// Stop shuts the pool down. In-flight tasks finish; queued tasks are
// rejected.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	close(p.quit)
	p.wg.Wait()

	// Drain anything still queued so no caller is left waiting.
	for {
		select {
		case t := <-p.tasks:
			t.result <- TaskResult{ID: t.id, Err: ErrPoolStopped}
		default:
			return
		}
	}
}

// Stats reports live scheduling state for the status endpoint.
type Stats struct {
	Workers    int `json:"workers"`
	Busy       int `json:"busy"`
	Retired    int `json:"retired"`
	QueueDepth int `json:"queue_depth"`
}

// GetStats returns a snapshot of the pool state.
func (p *Pool) GetStats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Stats{Workers: len(p.slots), QueueDepth: len(p.tasks)}
	for _, s := range p.slots {
		if s.Retired {
			st.Retired++
		} else if s.Busy {
			st.Busy++
		}
	}
	return st
}

func (p *Pool) workerLoop(slot int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.quit:
			return
		case t, ok := <-p.tasks:
			if !ok {
				return
			}
			p.setBusy(slot, true)
			crashed := p.runTask(t)
			p.setBusy(slot, false)
			if crashed {
				p.handleCrash(slot)
				return
			}
			p.resetRetries(slot)
		}
	}
}

// runTask executes one task, converting a panic into an immediate
// rejection so the caller never blocks on a crashed worker.
func (p *Pool) runTask(t *task) (crashed bool) {
	defer func() {
		if r := recover(); r != nil {
			crashed = true
			t.result <- TaskResult{ID: t.id, Err: fmt.Errorf("%w: %v", ErrWorkerCrashed, r)}
		}
	}()

	value, err := p.runner(t.kind, t.candles, t.params)
	t.result <- TaskResult{ID: t.id, Value: value, Err: err}
	return false
}

func (p *Pool) setBusy(slot int, busy bool) {
	p.mu.Lock()
	p.slots[slot].Busy = busy
	p.mu.Unlock()
}

func (p *Pool) resetRetries(slot int) {
	p.mu.Lock()
	p.slots[slot].RetryCount = 0
	p.mu.Unlock()
}

// handleCrash schedules a backed-off replacement for the slot, or
// retires it once the retry ceiling is reached.
func (p *Pool) handleCrash(slot int) {
	p.mu.Lock()
	s := p.slots[slot]
	s.RetryCount++
	if s.RetryCount >= p.cfg.RetryCeiling {
		s.Retired = true
		p.mu.Unlock()
		log.Printf("worker slot %d retired after %d crashes; pool capacity reduced", slot, s.RetryCount)
		return
	}
	retry := s.RetryCount
	p.mu.Unlock()

	delay := p.cfg.BackoffBase << (retry - 1)
	if delay > p.cfg.BackoffCap {
		delay = p.cfg.BackoffCap
	}
	log.Printf("worker slot %d crashed (attempt %d), restarting in %v", slot, retry, delay)

	time.AfterFunc(delay, func() {
		// The Add must happen under the same lock as the stopped check,
		// or it can race Stop's Wait.
		p.mu.Lock()
		if p.stopped || p.slots[slot].Retired {
			p.mu.Unlock()
			return
		}
		p.wg.Add(1)
		p.mu.Unlock()

		go p.workerLoop(slot)
	})
}
