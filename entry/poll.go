package entry

import (
	"context"
	"time"

	"github.com/stardustapp/skychat-sub000/data"
	"github.com/stardustapp/skychat-sub000/enumerate"
	"github.com/stardustapp/skychat-sub000/log"
	"github.com/stardustapp/skychat-sub000/projection"
)

const DefaultPollInterval = 2 * time.Second

// Reconcile offers a reconstructed tree to state. Folder roots publish their
// children only; scalar roots are published at "". A nil root retracts
// everything. A root that changes between Folder and another type panics
// with a *data.ProtocolBug.
func Reconcile(state *projection.State, root *data.Entry) {
	if root == nil {
		state.RemoveRoot()
	} else {
		state.OfferRoot(root)
	}
	state.MarkReady()
}

// Project trims root to depth and reconciles it into state.
func Project(state *projection.State, root *data.Entry, depth int) {
	if root != nil {
		e := enumerate.New(depth)
		e.Walk(root)
		root = e.Reconstruct()
	}
	Reconcile(state, root)
}

// PollSubscribe gives any enumerable handle a live feed by re-enumerating it
// every interval and reconciling the result.
func PollSubscribe(ctx context.Context, h Enumerable, depth int, ch projection.Channel, interval time.Duration, logger *log.Logger) (*Subscription, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	state := projection.NewState(ch, projection.WithLogger(logger))
	snapshot := func(ctx context.Context) (*data.Entry, error) {
		e := enumerate.New(depth)
		if err := h.Enumerate(ctx, e); err != nil {
			return nil, err
		}
		return e.Reconstruct(), nil
	}

	// The first pass runs inline so that enumeration errors surface to the
	// caller instead of as a crashed feed.
	root, err := snapshot(ctx)
	if err != nil {
		return nil, err
	}

	sub := NewSubscription(ctx, ch, state, nil)
	sub.Guard(func() {
		Reconcile(state, root)
	})

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-sub.Context().Done():
				return
			case <-ticker.C:
			}

			root, err := snapshot(sub.Context())
			if sub.Stopped() || sub.Context().Err() != nil {
				return
			}
			if err != nil {
				sub.Crash(err)
				return
			}
			sub.Guard(func() {
				Reconcile(state, root)
			})
		}
	}()

	return sub, nil
}
