package entry

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/stardustapp/skychat-sub000/data"
	"github.com/stardustapp/skychat-sub000/projection"
)

// Subscription is the cancellation token of one live feed. Stopping it runs
// the producer's release function once, signals Done on the projection and
// makes the producer context report cancellation so late native callbacks
// can be dropped.
type Subscription struct {
	id    string
	state *projection.State

	ctx    context.Context
	cancel context.CancelFunc

	once     sync.Once
	mu       sync.Mutex
	released bool
	release  []func()
	done     chan struct{}
}

// NewSubscription ties state to the lifetime of ctx and of the consumer
// behind ch. release unregisters the producer's native listener and may be
// nil.
func NewSubscription(ctx context.Context, ch projection.Channel, state *projection.State, release func()) *Subscription {
	subCtx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		id:     uuid.Must(uuid.NewV7()).String(),
		state:  state,
		ctx:    subCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if release != nil {
		s.release = append(s.release, release)
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-ch.Stopped():
		case <-s.done:
			return
		}
		s.Stop()
	}()

	return s
}

func (s *Subscription) ID() string {
	return s.id
}

// Context is cancelled once the subscription stops. Producers run their
// watch loops under it.
func (s *Subscription) Context() context.Context {
	return s.ctx
}

func (s *Subscription) State() *projection.State {
	return s.state
}

// Stop is safe to call repeatedly and from any goroutine.
func (s *Subscription) Stop() {
	s.once.Do(func() {
		s.cancel()

		s.mu.Lock()
		s.released = true
		release := s.release
		s.release = nil
		s.mu.Unlock()

		for _, fn := range release {
			fn()
		}
		s.state.MarkDone()
		close(s.done)
	})
}

// OnRelease adds fn to the release functions. Producers that can only
// register their native listener after the subscription exists attach the
// unregister call here; fn runs immediately when the subscription already
// stopped.
func (s *Subscription) OnRelease(fn func()) {
	if fn == nil {
		return
	}

	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		fn()
		return
	}
	s.release = append(s.release, fn)
	s.mu.Unlock()
}

// Crash terminates the feed with err and releases the producer.
func (s *Subscription) Crash(err error) {
	s.state.MarkCrashed(err)
	s.Stop()
}

// Guard runs a producer callback unless the subscription already stopped. A
// *data.ProtocolBug raised by fn crashes this subscription only; any other
// panic is re-raised.
func (s *Subscription) Guard(fn func()) {
	if s.Stopped() || s.ctx.Err() != nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			bug, ok := data.AsProtocolBug(r)
			if !ok {
				panic(r)
			}
			s.Crash(bug)
		}
	}()
	fn()
}

// Done is closed after Stop completed.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) Stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
