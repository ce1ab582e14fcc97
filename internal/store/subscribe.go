package store

import (
	"context"

	"github.com/matheus3301/wppcrm/internal/gateway"
	"go.uber.org/zap"
)

// Subscribe pushes the current result of q and then a fresh snapshot after
// every committed batch that touched q's collection. Changes arriving during
// a refresh coalesce into one more refresh, so none is missed. A slow reader
// only ever sees the latest snapshot. Snapshots are pushed in commit order.
func (db *DB) Subscribe(ctx context.Context, q gateway.Query) (<-chan []gateway.Document, func(), error) {
	dirty, unwatch := db.watch(q.Collection)
	initial, err := db.Query(ctx, q)
	if err != nil {
		unwatch()
		return nil, nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan []gateway.Document, 1)
	out <- initial

	go func() {
		defer close(out)
		defer unwatch()
		for {
			select {
			case <-ctx.Done():
				return
			case <-dirty:
				docs, err := db.Query(ctx, q)
				if err != nil {
					if ctx.Err() == nil {
						db.logger.Error("subscription refresh failed",
							zap.String("collection", q.Collection), zap.Error(err))
					}
					continue
				}
				latest(out, docs)
			}
		}
	}()

	return out, cancel, nil
}

// watch registers a wake-up channel for collection. The channel holds at
// most one pending signal.
func (db *DB) watch(collection string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	db.watchMu.Lock()
	id := db.watchSeq
	db.watchSeq++
	if db.watchers[collection] == nil {
		db.watchers[collection] = make(map[int]chan struct{})
	}
	db.watchers[collection][id] = ch
	db.watchMu.Unlock()

	return ch, func() {
		db.watchMu.Lock()
		defer db.watchMu.Unlock()
		delete(db.watchers[collection], id)
		if len(db.watchers[collection]) == 0 {
			delete(db.watchers, collection)
		}
	}
}

func (db *DB) wake(collections []string) {
	db.watchMu.Lock()
	defer db.watchMu.Unlock()
	for _, c := range collections {
		for _, ch := range db.watchers[c] {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}
}

// latest replaces any unread snapshot in ch with docs. The caller is the
// only sender.
func latest(ch chan []gateway.Document, docs []gateway.Document) {
	select {
	case <-ch:
	default:
	}
	ch <- docs
}
