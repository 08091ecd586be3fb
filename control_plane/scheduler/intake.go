package scheduler

import (
	"container/heap"
	"sync"
	"time"

	"github.com/fluxforge/orchestrator/control_plane/faults"
	"github.com/fluxforge/orchestrator/control_plane/types"
)

// intakeItem is one entry in the global intake heap.
type intakeItem struct {
	task *types.Task
}

// intakeHeap orders strictly by (priority descending, SubmitTime
// ascending): the global intake ordering. This replaces the
// teacher's queue.go TaskQueue, which instead applied a continuous aging
// discount to priority; here aging is handled separately by the
// starvation guard's explicit one-level promotion.
type intakeHeap []*intakeItem

func (h intakeHeap) Len() int { return len(h) }

func (h intakeHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority // Critical first
	}
	return h[i].task.SubmitTime.Before(h[j].task.SubmitTime)
}

func (h intakeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *intakeHeap) Push(x any) { *h = append(*h, x.(*intakeItem)) }

func (h *intakeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// IntakeQueue is the global, multi-producer multi-consumer priority queue
// every newly submitted task enters.
type IntakeQueue struct {
	mu       sync.Mutex
	heap     intakeHeap
	capacity int
}

// NewIntakeQueue creates an intake queue bounded at capacity tasks.
// capacity <= 0 means unbounded.
func NewIntakeQueue(capacity int) *IntakeQueue {
	q := &IntakeQueue{capacity: capacity}
	heap.Init(&q.heap)
	return q
}

// Submit enqueues task. It never blocks; it fails with CapacityExhausted
// only if the queue is already at its configured bound.
func (q *IntakeQueue) Submit(task *types.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.capacity > 0 && len(q.heap) >= q.capacity {
		return faults.New(faults.CapacityExhausted, "global intake queue is full").WithRetryAfter(1)
	}
	if task.SubmitTime.IsZero() {
		task.SubmitTime = time.Now()
	}
	heap.Push(&q.heap, &intakeItem{task: task})
	return nil
}

// DrainUpTo removes up to n tasks matching match, highest priority first,
// used by Claim's bulk move from intake into a local queue.
func (q *IntakeQueue) DrainUpTo(n int, match func(*types.Task) bool) []*types.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	var setAside []*intakeItem
	var out []*types.Task
	for q.heap.Len() > 0 && len(out) < n {
		item := heap.Pop(&q.heap).(*intakeItem)
		if match(item.task) {
			out = append(out, item.task)
		} else {
			setAside = append(setAside, item)
		}
	}
	for _, item := range setAside {
		heap.Push(&q.heap, item)
	}
	return out
}

// Len returns the current intake depth.
func (q *IntakeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

// OldestWait returns how long the oldest task in intake has been waiting,
// or zero if intake is empty.
func (q *IntakeQueue) OldestWait(now time.Time) time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.heap.Len() == 0 {
		return 0
	}
	oldest := q.heap[0].task.SubmitTime
	for _, item := range q.heap {
		if item.task.SubmitTime.Before(oldest) {
			oldest = item.task.SubmitTime
		}
	}
	return now.Sub(oldest)
}

// PromoteStarved scans intake for tasks waiting longer than age and
// promotes each one priority level (bounded at Critical), the starvation
// guard. Returns the number promoted.
func (q *IntakeQueue) PromoteStarved(age time.Duration, now time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	promoted := 0
	for _, item := range q.heap {
		if now.Sub(item.task.SubmitTime) > age && item.task.Priority < types.Critical {
			item.task.Priority = item.task.Priority.Promote()
			promoted++
		}
	}
	if promoted > 0 {
		heap.Init(&q.heap)
	}
	return promoted
}
