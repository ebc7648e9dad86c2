package fanout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"xdigest/pkg/logger"
)

// WorkFunc processes one input. It must not panic; failures are expressed in Out.
type WorkFunc[In, Out any] func(ctx context.Context, in In) Out

// Job is one unit of work with its position in the batch
type Job[In any] struct {
	Index int
	Input In
}

// Result is the output of a job
type Result[Out any] struct {
	Index    int
	Value    Out
	Duration time.Duration
}

// Pool runs jobs on a fixed number of workers. At most numWorkers jobs are
// in flight at any moment; a slow or failing job never stops the others.
type Pool[In, Out any] struct {
	numWorkers  int
	jobQueue    chan Job[In]
	resultQueue chan Result[Out]
	wg          sync.WaitGroup
	ctx         context.Context
	work        WorkFunc[In, Out]
	logger      logger.Logger

	mu     sync.Mutex
	closed bool
}

// NewPool creates a pool with room for queueSize pending jobs. Jobs run with ctx.
func NewPool[In, Out any](ctx context.Context, numWorkers, queueSize int, work WorkFunc[In, Out], log logger.Logger) *Pool[In, Out] {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if queueSize < numWorkers {
		queueSize = numWorkers
	}

	return &Pool[In, Out]{
		numWorkers:  numWorkers,
		jobQueue:    make(chan Job[In], queueSize),
		resultQueue: make(chan Result[Out], numWorkers),
		ctx:         ctx,
		work:        work,
		logger:      logger.OrGlobal(log).WithField("component", "fanout"),
	}
}

// Start launches the workers
func (p *Pool[In, Out]) Start() {
	p.logger.DebugWithFields("Starting worker pool", map[string]interface{}{
		"num_workers": p.numWorkers,
	})

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop closes the queue, waits for queued jobs to finish and closes Results
func (p *Pool[In, Out]) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobQueue)
	p.mu.Unlock()

	p.wg.Wait()
	close(p.resultQueue)
}

// Submit queues a job. It blocks while the queue is full.
func (p *Pool[In, Out]) Submit(job Job[In]) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("worker pool is stopped")
	}
	p.jobQueue <- job
	return nil
}

// Results returns the result channel; it is closed by Stop
func (p *Pool[In, Out]) Results() <-chan Result[Out] {
	return p.resultQueue
}

// Workers returns the number of workers
func (p *Pool[In, Out]) Workers() int {
	return p.numWorkers
}

func (p *Pool[In, Out]) worker(id int) {
	defer p.wg.Done()

	for job := range p.jobQueue {
		start := time.Now()
		value := p.work(p.ctx, job.Input)
		p.resultQueue <- Result[Out]{Index: job.Index, Value: value, Duration: time.Since(start)}
	}

	p.logger.DebugWithFields("Worker stopping - job queue closed", map[string]interface{}{
		"worker_id": id,
	})
}

// Map runs work over inputs on numWorkers workers and returns the outputs in
// input order. Every input is queued before any result is read, and Map
// returns only after every job has completed. No more workers than inputs
// are started.
func Map[In, Out any](ctx context.Context, numWorkers int, inputs []In, work WorkFunc[In, Out], log logger.Logger) []Out {
	out := make([]Out, len(inputs))
	if len(inputs) == 0 {
		return out
	}
	numWorkers = min(numWorkers, len(inputs))

	p := NewPool(ctx, numWorkers, len(inputs), work, log)
	p.Start()
	for i, in := range inputs {
		// the queue holds every input, so Submit cannot block here
		_ = p.Submit(Job[In]{Index: i, Input: in})
	}
	go p.Stop()

	for r := range p.Results() {
		out[r.Index] = r.Value
	}
	return out
}
