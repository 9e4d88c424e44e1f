// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of AccessFlow

// Package taskqueue provides a keyed single-flight work queue. At most one
// task runs per key at a time; dispatching a key that already has a queued
// task replaces the queued task, so only the latest requested computation
// for a key ever runs.
package taskqueue

import (
	"sync"
	"time"

	"github.com/accessflow/accessflow/pkg/lock"
	"github.com/accessflow/accessflow/pkg/metrics"
	"github.com/accessflow/accessflow/pkg/spanstat"
)

// Task is one unit of work bound to a key.
type Task func()

// Queue runs tasks on a fixed worker pool with per-key single-flight
// semantics.
type Queue struct {
	mu   lock.Mutex
	cond *sync.Cond

	// pending holds the latest task per key; order holds the keys that
	// are runnable, oldest first. A key running right now is in running
	// and not in order; if it is redispatched meanwhile it reenters
	// order when the running task finishes.
	pending map[string]Task
	order   []string
	running map[string]struct{}

	// runTime accumulates the time spent executing tasks.
	runTime time.Duration

	stopping bool
	wg       sync.WaitGroup
}

// New starts a queue with the given number of workers. At least one
// worker is always started.
func New(workers int) *Queue {
	if workers < 1 {
		workers = 1
	}
	q := &Queue{
		pending: make(map[string]Task),
		running: make(map[string]struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go q.worker()
	}
	return q
}

// Dispatch queues task under key. If the key already has a queued task it
// is replaced; if a task for the key is currently running, the new task
// waits for it to finish. Dispatch after Stop is a no-op.
func (q *Queue) Dispatch(key string, task Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopping {
		return
	}
	_, wasPending := q.pending[key]
	q.pending[key] = task
	if !wasPending {
		if _, isRunning := q.running[key]; !isRunning {
			q.order = append(q.order, key)
		}
	}
	metrics.TaskQueueDepth.Set(float64(len(q.pending) + len(q.running)))
	q.cond.Broadcast()
}

// Stop drains queued tasks and waits for the workers to exit. Tasks
// dispatched afterwards are dropped.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopping = true
	q.cond.Broadcast()
	q.mu.Unlock()
	q.wg.Wait()
}

// TotalRunTime returns the cumulated execution time of completed tasks.
func (q *Queue) TotalRunTime() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.runTime
}

// WaitIdle blocks until no task is queued or running.
func (q *Queue) WaitIdle() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.pending) > 0 || len(q.running) > 0 {
		q.cond.Wait()
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	q.mu.Lock()
	for {
		for !q.stopping && len(q.order) == 0 {
			q.cond.Wait()
		}
		if len(q.order) == 0 {
			break
		}
		key := q.order[0]
		q.order = q.order[1:]
		task := q.pending[key]
		delete(q.pending, key)
		q.running[key] = struct{}{}
		q.mu.Unlock()

		var span spanstat.SpanStat
		span.Start()
		task()
		span.End(true)
		metrics.TaskRunDuration.Observe(span.Total().Seconds())

		q.mu.Lock()
		q.runTime += span.Total()
		delete(q.running, key)
		if _, redispatched := q.pending[key]; redispatched {
			q.order = append(q.order, key)
		}
		metrics.TaskQueueDepth.Set(float64(len(q.pending) + len(q.running)))
		q.cond.Broadcast()
	}
	q.mu.Unlock()
}
