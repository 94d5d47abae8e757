package collab

import (
	"runtime"
	"sync"
)

// flowQueue is the single-consumer serial queue for one flow id,
// generalized from worker.Pool's fixed named queues to one dynamically
// created and disposed queue per live flow id.
type flowQueue struct {
	jobs chan job
	done chan struct{}
}

// queues owns the dynamic flowId -> flowQueue map. A flow's queue is
// created lazily on first submission and disposed once drained with no
// remaining room members, matching the design's "no pending work and no
// members" disposal rule.
type queues struct {
	mu      sync.Mutex
	byFlow  map[string]*flowQueue
	process func(flowID string, j job)
	idle    func(flowID string) bool
}

func newQueues(process func(string, job), idle func(string) bool) *queues {
	return &queues{byFlow: make(map[string]*flowQueue), process: process, idle: idle}
}

// submit enqueues j on flowID's queue, creating the queue and its
// consumer goroutine if this is the first submission. The lookup and the
// channel send happen under the same lock drain uses to tear a queue
// down, so a submission can never land on a queue that drain has already
// removed from the map: either this call observes the queue still
// present and its send lands before any subsequent teardown, or it
// observes the queue gone and creates a fresh one. The send never blocks
// while the lock is held: when the queue's buffer is full, submit releases
// the lock, yields, and retries, so drain can take the lock and keep
// consuming.
func (q *queues) submit(flowID string, j job) {
	for {
		q.mu.Lock()
		fq, ok := q.byFlow[flowID]
		if !ok {
			fq = &flowQueue{jobs: make(chan job, 64), done: make(chan struct{})}
			q.byFlow[flowID] = fq
			go q.drain(flowID, fq)
		}
		select {
		case fq.jobs <- j:
			q.mu.Unlock()
			return
		default:
		}
		q.mu.Unlock()
		runtime.Gosched()
	}
}

// drain is the single consumer for one flow's queue. It processes jobs
// strictly in submission order; after each job, if the queue is empty and
// the flow has no remaining room members, the queue is disposed. The
// empty/idle check and the map deletion happen under the same lock submit
// holds across its send, so a submission racing a teardown always either
// lands before the delete (and drain's locked recheck sees the new job and
// keeps the queue alive) or after it (and finds the queue already gone,
// creating a new one) — never silently enqueuing into an orphaned channel.
func (q *queues) drain(flowID string, fq *flowQueue) {
	for {
		select {
		case j := <-fq.jobs:
			q.process(flowID, j)

			q.mu.Lock()
			if len(fq.jobs) == 0 && q.idle(flowID) {
				delete(q.byFlow, flowID)
				q.mu.Unlock()
				return
			}
			q.mu.Unlock()
		case <-fq.done:
			return
		}
	}
}

// stopAll disposes every live queue, for coordinator shutdown.
func (q *queues) stopAll() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for flowID, fq := range q.byFlow {
		close(fq.done)
		delete(q.byFlow, flowID)
	}
}
