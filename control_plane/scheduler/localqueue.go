package scheduler

import (
	"sync"

	"github.com/fluxforge/orchestrator/control_plane/types"
)

// LocalQueue is one agent's private work deque. The owning
// agent pushes and pops from the front (LIFO, cache-friendly for the
// worker that just produced the task); stealers take from the back
// (FIFO, so a steal never contends with the owner's own hot path and
// takes the longest-waiting local task first).
type LocalQueue struct {
	mu    sync.Mutex
	tasks []*types.Task
}

// NewLocalQueue creates an empty local queue for one agent.
func NewLocalQueue() *LocalQueue {
	return &LocalQueue{}
}

// PushFront adds a task to the owner-facing end of the deque.
func (q *LocalQueue) PushFront(t *types.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append([]*types.Task{t}, q.tasks...)
}

// PopFront removes and returns the owner's next task, or nil if empty.
func (q *LocalQueue) PopFront() *types.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil
	}
	t := q.tasks[0]
	q.tasks = q.tasks[1:]
	return t
}

// StealBack removes and returns the oldest task from the back of the
// deque for a stealing agent, or nil if empty. A queue with only one
// task left is not a valid steal target: the owner is assumed to be
// actively working it; the last task is never a steal candidate.
func (q *LocalQueue) StealBack() *types.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) < 2 {
		return nil
	}
	n := len(q.tasks)
	t := q.tasks[n-1]
	q.tasks = q.tasks[:n-1]
	return t
}

// Len returns the current depth of the deque.
func (q *LocalQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Peek returns the owner's next task without removing it, or nil if empty.
func (q *LocalQueue) Peek() *types.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil
	}
	return q.tasks[0]
}
