package application

import (
	"context"
	"sync"
)

const DefaultQueueCapacity = 256

// BridgeQueue is a bounded FIFO of Message shared between exactly one
// producer and one consumer. It is the only buffer between the two
// transports: there is no disk persistence behind it.
//
// Overflow policy: drop-oldest. Enqueue never blocks; when the queue is
// full the oldest queued Message is discarded and counted. The newest
// reading is the valuable one for a sensor stream, and a blocked producer
// would stall the serial loop.
type BridgeQueue struct {
	mu       sync.Mutex
	items    []Message
	capacity int
	dropped  uint64

	notEmpty chan struct{}
}

func NewBridgeQueue(capacity int) *BridgeQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &BridgeQueue{
		items:    make([]Message, 0, capacity),
		capacity: capacity,
		notEmpty: make(chan struct{}, 1),
	}
}

// Enqueue appends m, discarding the oldest queued Message if the queue is
// full.
func (q *BridgeQueue) Enqueue(m Message) {
	q.mu.Lock()
	if len(q.items) >= q.capacity {
		q.items = q.items[1:]
		q.dropped++
	}
	q.items = append(q.items, m)
	q.mu.Unlock()

	q.signal()
}

// Requeue puts m back at the head of the queue. Used by a consumer whose
// delivery attempt failed, so retry after reconnect preserves order. If the
// queue is full the newest queued Message is discarded instead of the
// oldest: the head slot belongs to the message being retried.
func (q *BridgeQueue) Requeue(m Message) {
	q.mu.Lock()
	if len(q.items) >= q.capacity {
		q.items = q.items[:len(q.items)-1]
		q.dropped++
	}
	q.items = append([]Message{m}, q.items...)
	q.mu.Unlock()

	q.signal()
}

// Dequeue removes and returns the oldest Message, blocking until one is
// available or ctx is cancelled.
func (q *BridgeQueue) Dequeue(ctx context.Context) (Message, error) {
	for {
		if m, ok := q.TryDequeue(); ok {
			return m, nil
		}

		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-q.notEmpty:
		}
	}
}

// TryDequeue removes and returns the oldest Message without blocking.
func (q *BridgeQueue) TryDequeue() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Message{}, false
	}
	m := q.items[0]
	q.items = q.items[1:]
	return m, true
}

func (q *BridgeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns the number of Messages discarded by the overflow policy.
func (q *BridgeQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

func (q *BridgeQueue) signal() {
	select {
	case q.notEmpty <- struct{}{}:
	default:
	}
}
