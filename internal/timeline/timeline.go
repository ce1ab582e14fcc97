// Package timeline holds the in-memory ordered view of open conversations.
package timeline

import (
	"slices"
	"sync"

	"github.com/matheus3301/wppcrm/internal/bus"
	"github.com/matheus3301/wppcrm/internal/message"
)

// Change is the payload of bus.TimelineUpdated.
type Change struct {
	ConversationID string
	Count          int
}

type conversation struct {
	msgs    []message.Envelope
	pending map[string]struct{}
}

// Timeline keeps one ordered envelope list per conversation with ids unique
// within each. Envelopes added with AppendPending survive Replace until they
// are settled or removed.
type Timeline struct {
	mu    sync.RWMutex
	convs map[string]*conversation
	bus   *bus.Bus
}

// New creates an empty timeline publishing changes on b (may be nil).
func New(b *bus.Bus) *Timeline {
	return &Timeline{convs: make(map[string]*conversation), bus: b}
}

func (t *Timeline) conv(id string) *conversation {
	c, ok := t.convs[id]
	if !ok {
		c = &conversation{pending: make(map[string]struct{})}
		t.convs[id] = c
	}
	return c
}

// Replace swaps the conversation content for msgs, which must already be
// sorted. Pending envelopes whose id is absent from msgs are kept at the end.
func (t *Timeline) Replace(conversationID string, msgs []message.Envelope) {
	t.mu.Lock()
	c := t.conv(conversationID)
	out := make([]message.Envelope, 0, len(msgs)+len(c.pending))
	index := make(map[string]int, len(msgs))
	for _, m := range msgs {
		if i, dup := index[m.ID]; dup {
			out[i] = m
			continue
		}
		index[m.ID] = len(out)
		out = append(out, m)
	}
	for _, m := range c.msgs {
		if _, ok := c.pending[m.ID]; !ok {
			continue
		}
		if _, exists := index[m.ID]; !exists {
			out = append(out, m)
		}
	}
	c.msgs = out
	n := len(out)
	t.mu.Unlock()
	t.notify(conversationID, n)
}

// Append adds env at the end, or replaces the envelope with the same id in place.
func (t *Timeline) Append(env message.Envelope) {
	t.mu.Lock()
	c := t.conv(env.ConversationID)
	t.upsert(c, env)
	n := len(c.msgs)
	t.mu.Unlock()
	t.notify(env.ConversationID, n)
}

// AppendPending appends an optimistic envelope that Replace must not drop.
func (t *Timeline) AppendPending(env message.Envelope) {
	t.mu.Lock()
	c := t.conv(env.ConversationID)
	t.upsert(c, env)
	c.pending[env.ID] = struct{}{}
	n := len(c.msgs)
	t.mu.Unlock()
	t.notify(env.ConversationID, n)
}

// Settle lets the next Replace drop the pending envelope id.
func (t *Timeline) Settle(conversationID, id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.convs[conversationID]; ok {
		delete(c.pending, id)
	}
}

func (t *Timeline) upsert(c *conversation, env message.Envelope) {
	for i := range c.msgs {
		if c.msgs[i].ID == env.ID {
			c.msgs[i] = env
			return
		}
	}
	c.msgs = append(c.msgs, env)
}

// Remove deletes one envelope. Returns false if it was not present.
func (t *Timeline) Remove(conversationID, id string) bool {
	t.mu.Lock()
	c, ok := t.convs[conversationID]
	if !ok {
		t.mu.Unlock()
		return false
	}
	delete(c.pending, id)
	i := slices.IndexFunc(c.msgs, func(m message.Envelope) bool { return m.ID == id })
	if i < 0 {
		t.mu.Unlock()
		return false
	}
	c.msgs = slices.Delete(c.msgs, i, i+1)
	n := len(c.msgs)
	t.mu.Unlock()
	t.notify(conversationID, n)
	return true
}

// Patch applies fn to the envelope with the given id. Returns false if absent.
func (t *Timeline) Patch(conversationID, id string, fn func(*message.Envelope)) bool {
	t.mu.Lock()
	c, ok := t.convs[conversationID]
	if !ok {
		t.mu.Unlock()
		return false
	}
	i := slices.IndexFunc(c.msgs, func(m message.Envelope) bool { return m.ID == id })
	if i < 0 {
		t.mu.Unlock()
		return false
	}
	fn(&c.msgs[i])
	n := len(c.msgs)
	t.mu.Unlock()
	t.notify(conversationID, n)
	return true
}

// Messages returns a copy of the conversation envelopes.
func (t *Timeline) Messages(conversationID string) []message.Envelope {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.convs[conversationID]
	if !ok {
		return nil
	}
	return slices.Clone(c.msgs)
}

// Drop forgets a conversation.
func (t *Timeline) Drop(conversationID string) {
	t.mu.Lock()
	delete(t.convs, conversationID)
	t.mu.Unlock()
}

// Conversations lists the conversations held, sorted.
func (t *Timeline) Conversations() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.convs))
	for id := range t.convs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (t *Timeline) notify(conversationID string, n int) {
	t.bus.Emit(bus.TimelineUpdated, Change{ConversationID: conversationID, Count: n})
}
