// Package sync feeds open conversations from the document store into the
// timeline and the local cache.
package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/matheus3301/wppcrm/internal/cache"
	"github.com/matheus3301/wppcrm/internal/gateway"
	"github.com/matheus3301/wppcrm/internal/message"
	"github.com/matheus3301/wppcrm/internal/timeline"
	"go.uber.org/zap"
)

// Options tunes the engine.
type Options struct {
	// SelfName is the operator display name for records sent by this side.
	SelfName string
	// RefetchInitialInterval is the first retry delay of Refetch.
	RefetchInitialInterval time.Duration
	// RefetchMaxRetries bounds the retries of one Refetch.
	RefetchMaxRetries uint64
}

// Engine keeps a live message stream per open conversation. Every snapshot
// is normalized, merged with the private notes, placed in the timeline and
// written back to the cache.
type Engine struct {
	gw     gateway.Gateway
	paths  gateway.Paths
	norm   *message.Normalizer
	cache  *cache.Cache
	tl     *timeline.Timeline
	logger *zap.Logger
	opts   Options

	ctx    context.Context
	cancel context.CancelFunc

	mu      gosync.Mutex
	streams map[string]context.CancelFunc
	wg      gosync.WaitGroup
}

// NewEngine creates a new sync engine.
func NewEngine(gw gateway.Gateway, paths gateway.Paths, norm *message.Normalizer, c *cache.Cache, tl *timeline.Timeline, logger *zap.Logger, opts Options) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RefetchInitialInterval <= 0 {
		opts.RefetchInitialInterval = 200 * time.Millisecond
	}
	if opts.RefetchMaxRetries == 0 {
		opts.RefetchMaxRetries = 5
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		gw:      gw,
		paths:   paths,
		norm:    norm,
		cache:   c,
		tl:      tl,
		logger:  logger,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		streams: make(map[string]context.CancelFunc),
	}
}

// Stop closes every open conversation and waits for the streams to drain.
func (e *Engine) Stop() {
	e.cancel()
	e.mu.Lock()
	for id, cancel := range e.streams {
		cancel()
		delete(e.streams, id)
	}
	e.mu.Unlock()
	e.wg.Wait()
}

// Open shows the cached copy of a conversation at once, then subscribes to
// its message stream. Opening an already open conversation is a no-op.
// The stream outlives ctx; it ends on Close or Stop.
func (e *Engine) Open(ctx context.Context, conversationID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.IsOpen(conversationID) {
		return nil
	}

	if cached, ok := e.cache.Get(conversationID); ok {
		e.tl.Replace(conversationID, cached)
		e.logger.Debug("conversation restored from cache",
			zap.String("conversation", conversationID), zap.Int("messages", len(cached)))
	}

	ch, cancel, err := e.gw.Subscribe(e.ctx, gateway.Query{Collection: e.paths.Messages(conversationID)})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", conversationID, err)
	}

	e.mu.Lock()
	if _, ok := e.streams[conversationID]; ok {
		e.mu.Unlock()
		cancel()
		return nil
	}
	e.streams[conversationID] = cancel
	e.wg.Add(1)
	e.mu.Unlock()

	go e.consume(conversationID, ch)
	e.logger.Info("conversation opened", zap.String("conversation", conversationID))
	return nil
}

// Close ends the stream of a conversation. The timeline keeps its content.
func (e *Engine) Close(conversationID string) {
	e.mu.Lock()
	cancel, ok := e.streams[conversationID]
	delete(e.streams, conversationID)
	e.mu.Unlock()
	if ok {
		cancel()
		e.logger.Info("conversation closed", zap.String("conversation", conversationID))
	}
}

// IsOpen reports whether the conversation has a live stream.
func (e *Engine) IsOpen(conversationID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.streams[conversationID]
	return ok
}

// OpenConversations returns the conversations with a live stream.
func (e *Engine) OpenConversations() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.streams))
	for id := range e.streams {
		ids = append(ids, id)
	}
	return ids
}

// Refetch reloads a conversation from the store and replaces the timeline
// wholesale, retrying with exponential backoff.
func (e *Engine) Refetch(ctx context.Context, conversationID string) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = e.opts.RefetchInitialInterval
	exp.Reset()
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, e.opts.RefetchMaxRetries), ctx)

	op := func() error {
		msgs, err := e.gw.Query(ctx, gateway.Query{Collection: e.paths.Messages(conversationID)})
		if err != nil {
			return fmt.Errorf("fetch messages: %w", err)
		}
		notes, err := e.gw.Query(ctx, gateway.Query{Collection: e.paths.PrivateNotes(conversationID)})
		if err != nil {
			return fmt.Errorf("fetch notes: %w", err)
		}
		e.apply(conversationID, msgs, notes)
		return nil
	}
	notify := func(err error, wait time.Duration) {
		e.logger.Warn("refetch failed, retrying",
			zap.String("conversation", conversationID),
			zap.Duration("wait", wait),
			zap.Error(err))
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return fmt.Errorf("refetch %s: %w", conversationID, err)
	}
	return nil
}

func (e *Engine) consume(conversationID string, ch <-chan []gateway.Document) {
	defer e.wg.Done()
	for docs := range ch {
		notes, err := e.gw.Query(e.ctx, gateway.Query{Collection: e.paths.PrivateNotes(conversationID)})
		if err != nil {
			if e.ctx.Err() != nil {
				return
			}
			e.logger.Warn("private notes unavailable", zap.String("conversation", conversationID), zap.Error(err))
		}
		e.apply(conversationID, docs, notes)
	}
}

func (e *Engine) apply(conversationID string, msgDocs, noteDocs []gateway.Document) {
	nctx := message.Context{ConversationID: conversationID, SelfName: e.opts.SelfName}
	merged := e.norm.Merge(records(msgDocs), records(noteDocs), nctx)
	e.tl.Replace(conversationID, merged)
	e.cache.Store(conversationID, func() []message.Envelope {
		return e.tl.Messages(conversationID)
	})
}

// records exposes documents as raw records, filling in the id from the path.
func records(docs []gateway.Document) []message.Record {
	out := make([]message.Record, 0, len(docs))
	for _, d := range docs {
		raw := make(message.Record, len(d.Data)+1)
		for k, v := range d.Data {
			raw[k] = v
		}
		if _, ok := raw["id"]; !ok {
			raw["id"] = d.ID()
		}
		out = append(out, raw)
	}
	return out
}
