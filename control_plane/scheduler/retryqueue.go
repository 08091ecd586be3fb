package scheduler

import (
	"container/heap"
	"math"
	"sync"
	"time"

	"github.com/fluxforge/orchestrator/control_plane/types"
)

// retryItem holds a task awaiting its next retry attempt.
type retryItem struct {
	task    *types.Task
	readyAt time.Time
	index   int
}

// retryHeap orders by readyAt ascending — a min-heap keyed on wake time.
type retryHeap []*retryItem

func (h retryHeap) Len() int            { return len(h) }
func (h retryHeap) Less(i, j int) bool  { return h[i].readyAt.Before(h[j].readyAt) }
func (h retryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *retryHeap) Push(x any) {
	item := x.(*retryItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *retryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// RetryQueue holds tasks that failed transiently, releasing each back to
// intake after an exponential backoff delay. Base and
// ceiling bound the delay: delay = min(base * 2^attempt, ceiling).
type RetryQueue struct {
	mu      sync.Mutex
	heap    retryHeap
	base    time.Duration
	ceiling time.Duration
	now     func() time.Time
}

// NewRetryQueue creates a retry queue with the given backoff base and ceiling.
func NewRetryQueue(base, ceiling time.Duration) *RetryQueue {
	q := &RetryQueue{base: base, ceiling: ceiling, now: time.Now}
	heap.Init(&q.heap)
	return q
}

// Delay returns the backoff delay for the given attempt count (0-indexed).
func (q *RetryQueue) Delay(attempt int) time.Duration {
	d := float64(q.base) * math.Pow(2, float64(attempt))
	if d > float64(q.ceiling) {
		d = float64(q.ceiling)
	}
	return time.Duration(d)
}

// Schedule enqueues task to become ready after its backoff delay, based
// on task.Attempt.
func (q *RetryQueue) Schedule(task *types.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	readyAt := q.now().Add(q.Delay(task.Attempt))
	heap.Push(&q.heap, &retryItem{task: task, readyAt: readyAt})
}

// DrainReady removes and returns every task whose backoff has elapsed.
func (q *RetryQueue) DrainReady() []*types.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	var ready []*types.Task
	for q.heap.Len() > 0 && !q.heap[0].readyAt.After(now) {
		item := heap.Pop(&q.heap).(*retryItem)
		ready = append(ready, item.task)
	}
	return ready
}

// Len returns the number of tasks currently awaiting retry.
func (q *RetryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}
