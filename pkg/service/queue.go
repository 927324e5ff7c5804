package service

import (
	"context"
	"sync"
)

// task is one unit of serialized work against a single conversation.
type task struct {
	ctx  context.Context
	run  func(ctx context.Context) error
	done chan error
}

// mutationQueue serializes all writes to one conversation. A single worker
// runs tasks strictly in submission order; closing the queue lets the worker
// drain what was already queued and then exit.
type mutationQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	tasks  []*task
	closed bool
}

func newMutationQueue() *mutationQueue {
	q := &mutationQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *mutationQueue) push(t *task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrServiceClosed
	}
	q.tasks = append(q.tasks, t)
	q.cond.Signal()
	return nil
}

func (q *mutationQueue) pop() (*task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.tasks) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.tasks) == 0 {
		return nil, false
	}
	t := q.tasks[0]
	q.tasks = q.tasks[1:]
	return t, true
}

func (q *mutationQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

func (q *mutationQueue) worker() {
	for {
		t, ok := q.pop()
		if !ok {
			return
		}
		// A caller that gave up waiting gets its context error instead of a
		// late application it can no longer observe.
		if err := t.ctx.Err(); err != nil {
			t.done <- err
			continue
		}
		t.done <- t.run(t.ctx)
	}
}
