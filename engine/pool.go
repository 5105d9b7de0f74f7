// Package engine runs per-block pipeline work across a worker pool while
// keeping results in stream order.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/lineforge/jsontable/taberr"
)

// State is the scheduler lifecycle state.
type State int32

const (
	Idle State = iota
	Running
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Task computes one block's result. Seq is the block's stream-order
// sequence number; tasks share no mutable state.
type Task struct {
	Seq int
	Run func() (interface{}, error)
}

type slot struct {
	value interface{}
	err   error
	done  bool
}

// PoolStats contains scheduler statistics.
type PoolStats struct {
	Name      string `json:"name"`
	Workers   int    `json:"workers"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
	State     string `json:"state"`
}

// Pool is a fixed-size worker pool whose results land in slots indexed by
// task sequence number. Submission blocks while all workers are busy, so at
// most `workers` blocks are in flight at once.
type Pool struct {
	name     string
	workers  int
	taskChan chan *Task
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	slots []slot
	state State

	completed int64
	failed    int64
	hasFailed int32
}

// NewPool creates a pool and starts its workers.
func NewPool(name string, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		name:     name,
		workers:  workers,
		taskChan: make(chan *Task),
		ctx:      ctx,
		cancel:   cancel,
		state:    Idle,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.taskChan:
			if !ok {
				return
			}
			p.runTask(task)
		}
	}
}

func (p *Pool) runTask(task *Task) {
	var (
		value interface{}
		err   error
	)
	func() {
		// One panicking task must not take down the pool. Builders panic
		// when storage cannot be obtained, so a recovered panic is
		// classified as an allocation failure.
		defer func() {
			if r := recover(); r != nil {
				value = nil
				err = taberr.New(taberr.Allocation, "panic in block task: %v", r)
			}
		}()
		value, err = task.Run()
	}()
	p.setSlot(task.Seq, value, err)
}

func (p *Pool) setSlot(seq int, value interface{}, err error) {
	if err != nil {
		atomic.AddInt64(&p.failed, 1)
		atomic.StoreInt32(&p.hasFailed, 1)
	} else {
		atomic.AddInt64(&p.completed, 1)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.slots) <= seq {
		p.slots = append(p.slots, slot{})
	}
	p.slots[seq] = slot{value: value, err: err, done: true}
}

// Submit queues one task, blocking until a worker is free.
func (p *Pool) Submit(task *Task) error {
	p.mu.Lock()
	if p.state == Idle {
		p.state = Running
	}
	if p.state != Running {
		p.mu.Unlock()
		return errors.New("pool is not running")
	}
	p.mu.Unlock()

	select {
	case <-p.ctx.Done():
		return errors.New("pool is shut down")
	case p.taskChan <- task:
		return nil
	}
}

// HasFailed reports whether any submitted task has failed so far. Callers
// use it to stop submitting further blocks; the definitive error is chosen
// by Wait.
func (p *Pool) HasFailed() bool {
	return atomic.LoadInt32(&p.hasFailed) == 1
}

// Wait closes submission, waits for every submitted task to settle, and
// returns the results in sequence order. When tasks failed, the error
// reported is the one from the lowest-sequence failing block regardless of
// completion order, and the values of tasks that did succeed are returned
// alongside the error so the caller can reclaim whatever they hold.
func (p *Pool) Wait() ([]interface{}, error) {
	close(p.taskChan)
	p.wg.Wait()
	p.cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for seq, s := range p.slots {
		if s.done && s.err != nil {
			firstErr = taberr.WithBlock(s.err, taberr.Stream, seq)
			break
		}
	}
	if firstErr == nil {
		for seq, s := range p.slots {
			if !s.done {
				firstErr = fmt.Errorf("block %d never settled", seq)
				break
			}
		}
	}
	if firstErr != nil {
		p.state = Failed
		settled := p.settledLocked()
		p.slots = nil
		return settled, firstErr
	}
	results := make([]interface{}, len(p.slots))
	for seq, s := range p.slots {
		results[seq] = s.value
	}
	p.state = Done
	return results, nil
}

// settledLocked returns the values of tasks that completed without error,
// in sequence order. Caller must hold p.mu.
func (p *Pool) settledLocked() []interface{} {
	var settled []interface{}
	for _, s := range p.slots {
		if s.done && s.err == nil && s.value != nil {
			settled = append(settled, s.value)
		}
	}
	return settled
}

// Abort cancels outstanding work and discards all results. The values of
// tasks that already succeeded are returned so the caller can reclaim them.
func (p *Pool) Abort() []interface{} {
	p.cancel()
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Running || p.state == Idle {
		p.state = Failed
	}
	settled := p.settledLocked()
	p.slots = nil
	return settled
}

// CurrentState returns the scheduler state.
func (p *Pool) CurrentState() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Stats returns scheduler statistics.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Name:      p.name,
		Workers:   p.workers,
		Completed: atomic.LoadInt64(&p.completed),
		Failed:    atomic.LoadInt64(&p.failed),
		State:     p.CurrentState().String(),
	}
}
