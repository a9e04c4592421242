// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dre

import (
	"container/list"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/jacobsa/timeutil"

	"github.com/jcnelson/runfs/internal/runfserr"
)

// semaphoreCapacity bounds the counting semaphore's buffered channel. It
// is large enough that Enqueue never blocks in practice (spec requires
// enqueue to never block the caller); if the backlog ever exceeded this
// many pending signals, the pending list itself — not the semaphore —
// is the real backpressure signal, and we fall back to a non-blocking
// send that drops no work (see Enqueue).
const semaphoreCapacity = 1 << 20

// Queue is a single-consumer FIFO of removal Jobs, backed by a
// mutex-protected intrusive list (container/list.List, the standard
// library's own intrusive doubly-linked list) and a counting semaphore
// implemented as a buffered channel.
type Queue struct {
	detacher Detacher
	clock    timeutil.Clock
	metrics  Metrics
	logger   *log.Logger

	mu   sync.Mutex
	work *list.List // GUARDED_BY(mu); each element is a Job

	sem chan struct{}

	running atomic.Bool
	started atomic.Bool
	doneCh  chan struct{}
}

// New constructs a Queue that will call detacher.Detach for each job.
// clock, metrics, and logger may be nil; sensible no-op defaults are
// substituted.
func New(detacher Detacher, clock timeutil.Clock, metrics Metrics, logger *log.Logger) *Queue {
	if clock == nil {
		clock = timeutil.RealClock()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = log.Default()
	}

	return &Queue{
		detacher: detacher,
		clock:    clock,
		metrics:  metrics,
		logger:   logger,
		work:     list.New(),
		sem:      make(chan struct{}, semaphoreCapacity),
		doneCh:   make(chan struct{}),
	}
}

// Start spawns the single worker goroutine. Start may be called at most
// once per Queue.
func (q *Queue) Start() error {
	if !q.started.CompareAndSwap(false, true) {
		return runfserr.New(runfserr.Invalid, fmt.Errorf("dre: already running"))
	}

	q.running.Store(true)
	go q.workerLoop()
	return nil
}

// Enqueue appends job at the tail under the mutex and signals the
// semaphore exactly once. Enqueue always succeeds while the queue is
// alive and never blocks the caller — essential because Enqueue is
// called from within VFS handlers that may themselves hold entry
// write-locks.
func (q *Queue) Enqueue(job Job) {
	q.mu.Lock()
	q.work.PushBack(job)
	depth := q.work.Len()
	q.mu.Unlock()

	select {
	case q.sem <- struct{}{}:
	default:
		// The semaphore buffer is saturated; the pending list already holds
		// the job and its length alone is sufficient to wake the worker
		// again once it drains below capacity, so dropping this particular
		// wakeup cannot lose the job.
	}

	q.metrics.JobEnqueued(depth)
}

// Stop sets the running flag to false, signals the semaphore to break
// the worker out of its wait, and awaits the worker's exit.
func (q *Queue) Stop() {
	if !q.running.CompareAndSwap(true, false) {
		return
	}

	select {
	case q.sem <- struct{}{}:
	default:
	}

	<-q.doneCh
}

// Free drains and releases any remaining jobs. Stop must be called
// first.
func (q *Queue) Free() error {
	if q.running.Load() {
		return runfserr.New(runfserr.Invalid, fmt.Errorf("dre: Free called before Stop"))
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.work.Init()
	return nil
}
