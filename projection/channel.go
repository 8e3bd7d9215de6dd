package projection

import (
	"sync"
	"time"

	"github.com/stardustapp/skychat-sub000/data"
)

// DefaultBroadcastTimeout bounds how long Next waits on a full queue before
// the subscriber is failed as too slow.
const DefaultBroadcastTimeout = 5 * time.Second

// slotPoll is how often Next rechecks a full queue for room.
const slotPoll = time.Millisecond

// Channel is the transport-facing sink a projection publishes into.
// Stopped is closed when the consumer goes away; producers must then
// unregister their native listeners.
type Channel interface {
	Next(n data.Notification) error
	Error(err error) error
	Done() error
	Stopped() <-chan struct{}
}

// Event is one item read from a Queue. Exactly one of the fields is set,
// and Err or Done mark the last event of the feed.
type Event struct {
	Notification *data.Notification
	Err          error
	Done         bool
}

func (e Event) Terminal() bool {
	return e.Err != nil || e.Done
}

// Queue is a buffered Channel. If the consumer does not drain Events within
// the broadcast timeout the queue fails with data.ErrSlowConsumer.
type Queue struct {
	events  chan Event
	size    int
	stopped chan struct{}
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	err    error

	stopOnce sync.Once
}

func NewQueue(size int, timeout time.Duration) *Queue {
	if size <= 0 {
		size = 64
	}
	if timeout <= 0 {
		timeout = DefaultBroadcastTimeout
	}
	return &Queue{
		// Next never fills the last slot, so a terminal event always fits.
		events:  make(chan Event, size+1),
		size:    size,
		stopped: make(chan struct{}),
		timeout: timeout,
	}
}

// Events yields notifications followed by one terminal event, after which
// it is closed.
func (q *Queue) Events() <-chan Event {
	return q.events
}

func (q *Queue) Stopped() <-chan struct{} {
	return q.stopped
}

// Stop is called by the consumer to cancel the feed.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.stopped)
	})
}

// Err reports why the queue terminated, nil for a clean Done.
func (q *Queue) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

func (q *Queue) Next(n data.Notification) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		if q.err != nil {
			return q.err
		}
		return data.ErrClosed
	}

	select {
	case <-q.stopped:
		q.finishLocked(Event{Done: true}, nil)
		return data.ErrClosed
	default:
	}

	timer := time.NewTimer(q.timeout)
	defer timer.Stop()

	// Only producers send, and always under mu, so the buffer cannot grow
	// between the length check and the send.
	if len(q.events) >= q.size {
		ticker := time.NewTicker(slotPoll)
		defer ticker.Stop()

		for len(q.events) >= q.size {
			select {
			case <-q.stopped:
				q.finishLocked(Event{Done: true}, nil)
				return data.ErrClosed
			case <-timer.C:
				q.finishLocked(Event{Err: data.ErrSlowConsumer}, data.ErrSlowConsumer)
				q.Stop()
				return data.ErrSlowConsumer
			case <-ticker.C:
			}
		}
	}

	q.events <- Event{Notification: &n}
	return nil
}

func (q *Queue) Error(err error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return data.ErrClosed
	}
	q.finishLocked(Event{Err: err}, err)
	return nil
}

func (q *Queue) Done() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return data.ErrClosed
	}
	q.finishLocked(Event{Done: true}, nil)
	return nil
}

// finishLocked pushes the terminal event into the reserved slot and closes
// the stream.
func (q *Queue) finishLocked(ev Event, err error) {
	q.closed = true
	q.err = err

	q.events <- ev
	close(q.events)
}
