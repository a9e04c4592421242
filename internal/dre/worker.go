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
	"time"

	"github.com/jcnelson/runfs/internal/runfserr"
)

// workerLoop is the DRE's single consumer. On each iteration it waits for
// a wakeup, detaches the entire pending list under the mutex (so
// producers are never blocked while the consumer works through a big
// backlog), and processes jobs in FIFO order. After each job it checks
// the running flag so shutdown latency is bounded at one job.
func (q *Queue) workerLoop() {
	defer close(q.doneCh)

	for {
		<-q.sem

		if !q.running.Load() {
			return
		}

		pending := q.detachPending()

		for e := pending.Front(); e != nil; e = e.Next() {
			job := e.Value.(Job)
			q.runJob(job)

			if !q.running.Load() {
				return
			}
		}
	}
}

// detachPending atomically swaps the work list for an empty one and
// returns what was pending, so the worker can process it without holding
// the mutex (and without blocking Enqueue).
func (q *Queue) detachPending() *list.List {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending := q.work
	q.work = list.New()
	return pending
}

// runJob executes a single job, retrying indefinitely on a transient
// NoMem error (the bag is already excised from the live tree; dropping
// it would leak, and memory pressure is expected to be transient). Any
// other error is logged and the job discarded — there is nothing to
// roll back to.
func (q *Queue) runJob(job Job) {
	const retryBackoff = 10 * time.Millisecond

	for {
		err := q.detacher.Detach(job)
		if err == nil {
			q.metrics.JobProcessed()
			return
		}

		if runfserr.Is(err, runfserr.NoMem) {
			q.metrics.JobRetried()
			q.logger.Printf("dre: transient NoMem detaching %q, retrying: %v", job.Path, err)
			time.Sleep(retryBackoff)
			continue
		}

		q.metrics.JobDropped()
		q.logger.Printf("dre: detach %q failed, discarding job: %v", job.Path, err)
		return
	}
}
