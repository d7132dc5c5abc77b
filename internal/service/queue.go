package service

import (
	"container/heap"
	"errors"
	"fmt"
	"sync"

	"github.com/bank_turns/backend/internal/models"
)

var (
	ErrDuplicateTurn  = errors.New("turn already queued")
	ErrTurnNotPending = errors.New("turn is not pending")
	ErrNilTurn        = errors.New("nil turn")
)

type queueItem struct {
	turn *models.Turn
	seq  uint64
}

type turnHeap []queueItem

func (h turnHeap) Len() int { return len(h) }

func (h turnHeap) Less(i, j int) bool {
	a, b := h[i].turn, h[j].turn
	if models.Less(a, b) {
		return true
	}
	if models.Less(b, a) {
		return false
	}
	return h[i].seq < h[j].seq
}

func (h turnHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *turnHeap) Push(x any) { *h = append(*h, x.(queueItem)) }

func (h *turnHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = queueItem{}
	*h = old[:n-1]
	return item
}

// TurnQueue holds pending turns in dispatch order. The mutex is held only
// for the heap operation itself.
type TurnQueue struct {
	mu     sync.Mutex
	items  turnHeap
	queued map[string]bool
	seq    uint64
	notify chan struct{}
}

func NewTurnQueue() *TurnQueue {
	return &TurnQueue{
		queued: map[string]bool{},
		notify: make(chan struct{}, 1),
	}
}

func (q *TurnQueue) Enqueue(t *models.Turn) error {
	if t == nil {
		return ErrNilTurn
	}
	if t.Status() != models.StatusPending {
		return fmt.Errorf("%w: %s", ErrTurnNotPending, t.ID)
	}
	q.mu.Lock()
	if q.queued[t.ID] {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateTurn, t.ID)
	}
	q.seq++
	heap.Push(&q.items, queueItem{turn: t, seq: q.seq})
	q.queued[t.ID] = true
	q.mu.Unlock()

	q.Signal()
	return nil
}

// DequeueNext removes the highest-priority, earliest pending turn. It never
// blocks; ok is false when nothing is pending.
func (q *TurnQueue) DequeueNext() (*models.Turn, bool) {
	return q.DequeueNextFor(nil)
}

// DequeueNextFor is DequeueNext restricted to turns accept returns true for.
// A nil accept takes anything.
func (q *TurnQueue) DequeueNextFor(accept func(*models.Turn) bool) (*models.Turn, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if accept == nil {
		for q.items.Len() > 0 {
			item := heap.Pop(&q.items).(queueItem)
			delete(q.queued, item.turn.ID)
			if item.turn.Status() == models.StatusPending {
				return item.turn, true
			}
		}
		return nil, false
	}

	best := -1
	for i := 0; i < q.items.Len(); i++ {
		t := q.items[i].turn
		if t.Status() != models.StatusPending || !accept(t) {
			continue
		}
		if best < 0 || q.items.Less(i, best) {
			best = i
		}
	}
	if best < 0 {
		return nil, false
	}
	item := heap.Remove(&q.items, best).(queueItem)
	delete(q.queued, item.turn.ID)
	return item.turn, true
}

func (q *TurnQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Snapshot returns the queued turns in dispatch order without removing them.
func (q *TurnQueue) Snapshot() []*models.Turn {
	q.mu.Lock()
	cp := make(turnHeap, len(q.items))
	copy(cp, q.items)
	q.mu.Unlock()

	out := make([]*models.Turn, 0, len(cp))
	for cp.Len() > 0 {
		out = append(out, heap.Pop(&cp).(queueItem).turn)
	}
	return out
}

// Drain empties the queue and returns the pending turns in dispatch order.
func (q *TurnQueue) Drain() []*models.Turn {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.queued = map[string]bool{}
	q.mu.Unlock()

	out := make([]*models.Turn, 0, len(items))
	for items.Len() > 0 {
		t := heap.Pop(&items).(queueItem).turn
		if t.Status() == models.StatusPending {
			out = append(out, t)
		}
	}
	return out
}

// Notify fires after enqueues. It is level-triggered with capacity one, so a
// consumer that wakes should keep polling until DequeueNext reports empty.
func (q *TurnQueue) Notify() <-chan struct{} {
	return q.notify
}

func (q *TurnQueue) Signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
