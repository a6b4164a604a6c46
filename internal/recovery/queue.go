// internal/recovery/queue.go
package recovery

import (
	"sort"
	"time"

	"github.com/Keeganp1988/GeoGuardian-sub003/internal/types"
)

const (
	queueCapacity  = 50
	defaultRetries = 3
)

// Kind names one class of queued reconciliation work.
type Kind string

const (
	KindSync                Kind = "sync"
	KindSubscriptionRefresh Kind = "subscription_refresh"
	KindConnectionSync      Kind = "connection_sync"
)

// priorityOf ranks kinds for dispatch: targeted connection fixes first,
// then bulk sync, then the full subscription rebuild.
func priorityOf(kind Kind) int {
	switch kind {
	case KindConnectionSync:
		return 2
	case KindSync:
		return 1
	default:
		return 0
	}
}

// Operation is one queued unit of reconciliation work. It stays queued
// until its handler succeeds or its retries are exhausted.
type Operation struct {
	ID               types.OperationID `json:"id"`
	Kind             Kind              `json:"kind"`
	Payload          any               `json:"payload,omitempty"`
	Priority         int               `json:"priority"`
	EnqueuedAt       time.Time         `json:"enqueued_at"`
	RetriesRemaining int               `json:"retries_remaining"`
}

func newOperation(kind Kind, payload any, retries int) Operation {
	return Operation{
		ID:               types.NewOperationID(),
		Kind:             kind,
		Payload:          payload,
		Priority:         priorityOf(kind),
		EnqueuedAt:       time.Now(),
		RetriesRemaining: retries,
	}
}

// queue is a bounded FIFO drained in priority order. Not safe for
// concurrent use; the Manager serializes access under its mutex.
type queue struct {
	ops []Operation
}

// push appends op, evicting the oldest entry first when at capacity.
func (q *queue) push(op Operation) (evicted bool) {
	if len(q.ops) >= queueCapacity {
		q.ops = q.ops[1:]
		evicted = true
	}
	q.ops = append(q.ops, op)
	return evicted
}

// drainOrder returns a copy sorted by descending priority, FIFO within
// equal priority.
func (q *queue) drainOrder() []Operation {
	out := make([]Operation, len(q.ops))
	copy(out, q.ops)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

func (q *queue) containsKind(kind Kind) bool {
	for _, op := range q.ops {
		if op.Kind == kind {
			return true
		}
	}
	return false
}

func (q *queue) remove(id types.OperationID) bool {
	for i, op := range q.ops {
		if op.ID == id {
			q.ops = append(q.ops[:i], q.ops[i+1:]...)
			return true
		}
	}
	return false
}

// decrement lowers the retry budget for id and reports the remainder.
// ok is false when id is no longer queued.
func (q *queue) decrement(id types.OperationID) (remaining int, ok bool) {
	for i := range q.ops {
		if q.ops[i].ID == id {
			q.ops[i].RetriesRemaining--
			return q.ops[i].RetriesRemaining, true
		}
	}
	return 0, false
}

func (q *queue) size() int { return len(q.ops) }

func (q *queue) clear() { q.ops = nil }
