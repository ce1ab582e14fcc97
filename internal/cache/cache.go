// Package cache keeps a bounded, compressed, expiring copy of recent
// conversation messages for instant reloads. It is a latency optimization
// only: every failure degrades to a cache miss.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/matheus3301/wppcrm/internal/message"
	"go.uber.org/zap"
)

// KeyPrefix prefixes every conversation entry key.
const KeyPrefix = "messages_"

// Defaults applied to zero Options fields.
const (
	DefaultTTL         = 30 * time.Minute
	DefaultMaxMessages = 100
	DefaultEntryLimit  = 2 << 20
	DefaultTotalLimit  = 5 << 20
)

// Options tunes the cache policies.
type Options struct {
	TTL         time.Duration
	MaxMessages int
	// EntryLimit is the largest compressed entry written.
	EntryLimit int
	// TotalLimit is the budget for all entries enforced by Sweep.
	TotalLimit int
	Now        func() time.Time
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.MaxMessages <= 0 {
		o.MaxMessages = DefaultMaxMessages
	}
	if o.EntryLimit <= 0 {
		o.EntryLimit = DefaultEntryLimit
	}
	if o.TotalLimit <= 0 {
		o.TotalLimit = DefaultTotalLimit
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// entry is the persisted layout of one conversation.
type entry struct {
	Messages  []message.Envelope `json:"messages"`
	Timestamp int64              `json:"timestamp"`
	Expiry    int64              `json:"expiry"`
}

// Cache stores per-conversation message tails in a Storage.
type Cache struct {
	storage Storage
	opts    Options
	enc     *zstd.Encoder
	dec     *zstd.Decoder
	logger  *zap.Logger

	// locks serializes read-modify-write per conversation.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a cache over storage.
func New(storage Storage, opts Options, logger *zap.Logger) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &Cache{
		storage: storage,
		opts:    opts.withDefaults(),
		enc:     enc,
		dec:     dec,
		logger:  logger,
		locks:   make(map[string]*sync.Mutex),
	}, nil
}

// Key returns the storage key of a conversation.
func Key(conversationID string) string {
	return KeyPrefix + conversationID
}

// Put stores the most recent messages of a conversation and returns how many
// were kept. Oversized entries degrade from the full tail to half, then a
// quarter; a quota failure triggers one eviction pass. Returns 0 when the
// write was skipped, which callers may ignore.
func (c *Cache) Put(conversationID string, msgs []message.Envelope) int {
	unlock := c.lock(conversationID)
	defer unlock()
	return c.put(conversationID, msgs)
}

// Store writes the messages returned by snapshot, taking the snapshot while
// holding the conversation lock so a concurrent Remove cannot be undone by a
// stale copy.
func (c *Cache) Store(conversationID string, snapshot func() []message.Envelope) int {
	unlock := c.lock(conversationID)
	defer unlock()
	return c.put(conversationID, snapshot())
}

func (c *Cache) lock(conversationID string) func() {
	c.mu.Lock()
	l, ok := c.locks[conversationID]
	if !ok {
		l = new(sync.Mutex)
		c.locks[conversationID] = l
	}
	c.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (c *Cache) put(conversationID string, msgs []message.Envelope) int {
	now := c.opts.Now()
	evicted := false
	for i, n := range c.degradeSteps() {
		tail := lastN(msgs, n)
		data, err := c.encode(entry{
			Messages:  tail,
			Timestamp: now.UnixMilli(),
			Expiry:    now.Add(c.opts.TTL).UnixMilli(),
		})
		if err != nil {
			c.logger.Warn("cache encode failed", zap.String("conversation", conversationID), zap.Error(err))
			break
		}
		if len(data) > c.opts.EntryLimit {
			continue
		}
		err = c.storage.Set(Key(conversationID), data)
		if errors.Is(err, ErrQuotaExceeded) && !evicted {
			evicted = true
			c.evictAll()
			err = c.storage.Set(Key(conversationID), data)
		}
		if errors.Is(err, ErrQuotaExceeded) {
			continue
		}
		if err != nil {
			c.logger.Warn("cache write failed", zap.String("conversation", conversationID), zap.Error(err))
			break
		}
		if i == 0 {
			writesTotal.WithLabelValues("full").Inc()
		} else {
			writesTotal.WithLabelValues("degraded").Inc()
		}
		return len(tail)
	}
	writesTotal.WithLabelValues("skipped").Inc()
	c.logger.Debug("cache write skipped", zap.String("conversation", conversationID), zap.Int("messages", len(msgs)))
	return 0
}

// Get returns the cached messages of a conversation, or false when the entry
// is absent, unreadable or past its expiry.
func (c *Cache) Get(conversationID string) ([]message.Envelope, bool) {
	unlock := c.lock(conversationID)
	defer unlock()
	return c.get(conversationID)
}

func (c *Cache) get(conversationID string) ([]message.Envelope, bool) {
	e, ok := c.load(conversationID)
	if !ok {
		lookupsTotal.WithLabelValues("miss").Inc()
		return nil, false
	}
	if c.opts.Now().UnixMilli() > e.Expiry {
		lookupsTotal.WithLabelValues("expired").Inc()
		_ = c.storage.Remove(Key(conversationID))
		return nil, false
	}
	lookupsTotal.WithLabelValues("hit").Inc()
	return e.Messages, true
}

// Append adds env to the conversation entry, replacing a message with the
// same id. A missing or expired entry starts empty.
func (c *Cache) Append(conversationID string, env message.Envelope) {
	unlock := c.lock(conversationID)
	defer unlock()
	msgs, _ := c.get(conversationID)
	out := make([]message.Envelope, 0, len(msgs)+1)
	for _, m := range msgs {
		if m.ID != env.ID {
			out = append(out, m)
		}
	}
	c.put(conversationID, append(out, env))
}

// Remove deletes one message from the conversation entry. Returns false when
// the entry or message was not present.
func (c *Cache) Remove(conversationID, messageID string) bool {
	unlock := c.lock(conversationID)
	defer unlock()
	msgs, ok := c.get(conversationID)
	if !ok {
		return false
	}
	out := make([]message.Envelope, 0, len(msgs))
	for _, m := range msgs {
		if m.ID != messageID {
			out = append(out, m)
		}
	}
	if len(out) == len(msgs) {
		return false
	}
	c.put(conversationID, out)
	return true
}

// Purge drops the conversation entry.
func (c *Cache) Purge(conversationID string) error {
	unlock := c.lock(conversationID)
	defer unlock()
	return c.storage.Remove(Key(conversationID))
}

// SweepResult summarizes one budget pass.
type SweepResult struct {
	Entries int
	Bytes   int
	Dropped int
}

// Sweep sums the size of every conversation entry and drops all of them when
// the total exceeds the budget.
func (c *Cache) Sweep() (SweepResult, error) {
	keys, err := c.storage.Keys(KeyPrefix)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list cache keys: %w", err)
	}
	res := SweepResult{Entries: len(keys)}
	for _, k := range keys {
		v, ok, err := c.storage.Get(k)
		if err != nil {
			return res, fmt.Errorf("read %s: %w", k, err)
		}
		if ok {
			res.Bytes += len(v)
		}
	}
	if res.Bytes <= c.opts.TotalLimit {
		return res, nil
	}
	res.Dropped = c.removeKeys(keys)
	return res, nil
}

func (c *Cache) evictAll() {
	keys, err := c.storage.Keys(KeyPrefix)
	if err != nil {
		c.logger.Warn("cache eviction failed", zap.Error(err))
		return
	}
	dropped := c.removeKeys(keys)
	c.logger.Info("cache quota exhausted, entries dropped", zap.Int("dropped", dropped))
}

func (c *Cache) removeKeys(keys []string) int {
	dropped := 0
	for _, k := range keys {
		if !strings.HasPrefix(k, KeyPrefix) {
			continue
		}
		if err := c.storage.Remove(k); err != nil {
			c.logger.Warn("cache remove failed", zap.String("key", k), zap.Error(err))
			continue
		}
		dropped++
	}
	sweepDroppedTotal.Add(float64(dropped))
	return dropped
}

func (c *Cache) degradeSteps() []int {
	n := c.opts.MaxMessages
	return []int{n, n / 2, n / 4}
}

func (c *Cache) load(conversationID string) (entry, bool) {
	data, ok, err := c.storage.Get(Key(conversationID))
	if err != nil || !ok {
		return entry{}, false
	}
	raw, err := c.dec.DecodeAll(data, nil)
	if err != nil {
		c.logger.Warn("cache entry unreadable, dropping", zap.String("conversation", conversationID), zap.Error(err))
		_ = c.storage.Remove(Key(conversationID))
		return entry{}, false
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.logger.Warn("cache entry undecodable, dropping", zap.String("conversation", conversationID), zap.Error(err))
		_ = c.storage.Remove(Key(conversationID))
		return entry{}, false
	}
	return e, true
}

func (c *Cache) encode(e entry) ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return c.enc.EncodeAll(raw, nil), nil
}

func lastN(msgs []message.Envelope, n int) []message.Envelope {
	if len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}
