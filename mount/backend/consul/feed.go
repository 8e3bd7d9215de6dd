package consul

import (
	"context"
	"time"

	"github.com/hashicorp/consul/api"

	"github.com/stardustapp/skychat-sub000/mount/backend"
)

// indexPairs maps each key to the pair last seen for it.
func indexPairs(pairs api.KVPairs) map[string]*api.KVPair {
	out := make(map[string]*api.KVPair, len(pairs))
	for _, pair := range pairs {
		out[pair.Key] = pair
	}
	return out
}

// runFeed issues blocking queries on the prefix and publishes every key
// whose ModifyIndex moved, plus removals for keys that vanished.
func (cb *ConsulBackend) runFeed(ctx context.Context, known map[string]*api.KVPair, index uint64) {
	defer close(cb.feed)

	backoff := time.Second
	for {
		opts := (&api.QueryOptions{WaitIndex: index, WaitTime: cb.config.WaitTime}).WithContext(ctx)
		pairs, meta, err := cb.kv.List(cb.config.Prefix, opts)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			cb.logger.Warn("consul change feed failed, retrying in %s: %v", backoff, err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		// The index may go backwards after a snapshot restore; start over.
		if meta.LastIndex < index {
			index = 0
			continue
		}
		index = meta.LastIndex

		current := indexPairs(pairs)
		var snaps []*backend.Snapshot
		for key, pair := range current {
			if prev, ok := known[key]; ok && prev.ModifyIndex == pair.ModifyIndex {
				continue
			}
			snap, err := backend.DecodeDocument(cb.pathOf(key), pair.Value)
			if err != nil {
				cb.logger.Warn("skipping undecodable document %s: %v", key, err)
				continue
			}
			snaps = append(snaps, snap)
		}
		for key := range known {
			if _, ok := current[key]; !ok {
				snaps = append(snaps, backend.Missing(cb.pathOf(key)))
			}
		}
		known = current

		cb.hub.Publish(snaps...)
	}
}
