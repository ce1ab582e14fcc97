// Package outbox shows outgoing messages at once and reconciles them with
// the server answer: confirmed sends are refetched, failed ones are removed.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/wppcrm/internal/bus"
	"github.com/matheus3301/wppcrm/internal/cache"
	"github.com/matheus3301/wppcrm/internal/gateway"
	"github.com/matheus3301/wppcrm/internal/message"
	"github.com/matheus3301/wppcrm/internal/restapi"
	"github.com/matheus3301/wppcrm/internal/store"
	"github.com/matheus3301/wppcrm/internal/timeline"
	"go.uber.org/zap"
)

// TempPrefix prefixes the local id of a send until the server record replaces it.
const TempPrefix = "temp_"

// DefaultRetain is how long a finished send stays in memory before Status
// answers from the journal.
const DefaultRetain = 10 * time.Minute

// ErrEmptyMessage is returned for a draft with nothing to send.
var ErrEmptyMessage = errors.New("empty message")

// Operator is the identity a draft is sent as.
type Operator struct {
	Name       string
	PhoneIndex *int
}

// Draft is a message the operator composed.
type Draft struct {
	ConversationID string
	Type           message.Type
	Text           string
	// MediaURL and FileName apply to media types.
	MediaURL string
	FileName string
	Operator Operator
}

// Receipt identifies a submitted send.
type Receipt struct {
	TempID string
	State  State
}

// Refetcher reloads a conversation from the store.
type Refetcher interface {
	Refetch(ctx context.Context, conversationID string) error
}

// Journal records sends. *store.DB implements it.
type Journal interface {
	RecordOutbox(e *store.OutboxEntry) error
	MarkOutbox(tempID, state, errMsg string) error
	GetOutbox(tempID string) (*store.OutboxEntry, error)
}

// Transition is the payload of the outbox.* bus events.
type Transition struct {
	TempID         string
	ConversationID string
	From, To       State
	Err            string
}

// Coordinator runs optimistic sends.
type Coordinator struct {
	companyID string
	sender    restapi.Sender
	tl        *timeline.Timeline
	cache     *cache.Cache
	refetcher Refetcher
	journal   Journal
	bus       *bus.Bus
	logger    *zap.Logger
	now       func() time.Time
	retain    time.Duration

	mu    sync.Mutex
	sends map[string]*send
	wg    sync.WaitGroup
}

type send struct {
	m *machine
	// doneAt is set once the send reached a terminal state.
	doneAt time.Time
}

// Config wires a Coordinator.
type Config struct {
	CompanyID string
	Sender    restapi.Sender
	Timeline  *timeline.Timeline
	Cache     *cache.Cache
	Refetcher Refetcher
	// Journal is optional.
	Journal Journal
	Bus     *bus.Bus
	Logger  *zap.Logger
	Now     func() time.Time
	// Retain defaults to DefaultRetain.
	Retain time.Duration
}

// NewCoordinator creates a coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Retain <= 0 {
		cfg.Retain = DefaultRetain
	}
	return &Coordinator{
		companyID: cfg.CompanyID,
		sender:    cfg.Sender,
		tl:        cfg.Timeline,
		cache:     cfg.Cache,
		refetcher: cfg.Refetcher,
		journal:   cfg.Journal,
		bus:       cfg.Bus,
		logger:    cfg.Logger,
		now:       cfg.Now,
		retain:    cfg.Retain,
		sends:     make(map[string]*send),
	}
}

// Submit shows the draft in the timeline and the cache under a temporary id,
// then sends it in the background. The returned receipt is PendingRemote.
// Send failures roll the envelope back and are only logged.
func (c *Coordinator) Submit(ctx context.Context, d Draft) (Receipt, error) {
	if d.Operator.Name == "" {
		return Receipt{}, gateway.ErrNotAuthenticated
	}
	if d.ConversationID == "" {
		return Receipt{}, &message.ValidationError{Field: "conversation", Reason: "is missing"}
	}
	if d.Type == "" {
		d.Type = message.TypeText
	}
	if strings.TrimSpace(d.Text) == "" && d.MediaURL == "" {
		return Receipt{}, ErrEmptyMessage
	}

	m := newMachine()
	tempID := TempPrefix + uuid.NewString()
	submitted := c.now()
	env := message.Envelope{
		ID:             tempID,
		ConversationID: d.ConversationID,
		FromMe:         true,
		AuthorName:     d.Operator.Name,
		CreatedAtMs:    submitted.UnixMilli(),
		Type:           d.Type,
		Payload:        payloadFor(d),
	}

	c.mu.Lock()
	c.pruneLocked(submitted)
	c.sends[tempID] = &send{m: m}
	c.mu.Unlock()

	// Local durability precedes the network.
	c.tl.AppendPending(env)
	c.cache.Append(d.ConversationID, env)
	if c.journal != nil {
		if err := c.journal.RecordOutbox(&store.OutboxEntry{
			TempID:         tempID,
			ConversationID: d.ConversationID,
			MessageType:    string(d.Type),
			Body:           env.Body(),
			AuthorName:     d.Operator.Name,
			State:          string(PendingLocal),
		}); err != nil {
			c.logger.Warn("outbox journal write failed", zap.String("temp_id", tempID), zap.Error(err))
		}
	}
	c.transition(m, env, PendingLocal, nil)
	c.transition(m, env, PendingRemote, nil)

	inFlight.Inc()
	c.wg.Add(1)
	go c.deliver(context.WithoutCancel(ctx), m, env, d, submitted)

	return Receipt{TempID: tempID, State: PendingRemote}, nil
}

// Status returns the current state of a send. Sends finished longer than
// the retain period ago are answered from the journal.
func (c *Coordinator) Status(tempID string) (State, bool) {
	c.mu.Lock()
	c.pruneLocked(c.now())
	s, ok := c.sends[tempID]
	c.mu.Unlock()
	if ok {
		return s.m.Current(), true
	}
	if c.journal == nil {
		return "", false
	}
	e, err := c.journal.GetOutbox(tempID)
	if err != nil {
		if !errors.Is(err, gateway.ErrNotFound) {
			c.logger.Warn("outbox journal read failed", zap.String("temp_id", tempID), zap.Error(err))
		}
		return "", false
	}
	return State(e.State), true
}

// Tracked returns how many sends are held in memory.
func (c *Coordinator) Tracked() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sends)
}

func (c *Coordinator) pruneLocked(now time.Time) {
	for id, s := range c.sends {
		if !s.doneAt.IsZero() && now.Sub(s.doneAt) >= c.retain {
			delete(c.sends, id)
		}
	}
}

// Wait blocks until every in-flight send and its follow-up refetch finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) deliver(ctx context.Context, m *machine, env message.Envelope, d Draft, submitted time.Time) {
	defer c.wg.Done()
	defer inFlight.Dec()

	err := c.sender.Send(ctx, restapi.SendRequest{
		Type:       string(d.Type),
		CompanyID:  c.companyID,
		ChatID:     d.ConversationID,
		PhoneIndex: d.Operator.PhoneIndex,
		UserName:   d.Operator.Name,
		Fields:     fieldsFor(d),
	})
	sendDuration.Observe(time.Since(submitted).Seconds())

	if err != nil {
		c.logger.Warn("send failed, rolling back",
			zap.String("temp_id", env.ID),
			zap.String("conversation", env.ConversationID),
			zap.Error(err))
		c.tl.Remove(env.ConversationID, env.ID)
		c.cache.Remove(env.ConversationID, env.ID)
		c.transition(m, env, RolledBack, err)
		return
	}

	c.transition(m, env, Confirmed, nil)
	c.logger.Info("message sent", zap.String("temp_id", env.ID), zap.String("conversation", env.ConversationID))

	// The server record replaces the temp envelope on the next reload.
	c.tl.Settle(env.ConversationID, env.ID)
	if c.refetcher == nil {
		return
	}
	if err := c.refetcher.Refetch(ctx, env.ConversationID); err != nil {
		c.logger.Warn("refetch after send failed", zap.String("conversation", env.ConversationID), zap.Error(err))
	}
}

func (c *Coordinator) transition(m *machine, env message.Envelope, to State, cause error) {
	from, err := m.Transition(to)
	if err != nil {
		c.logger.Error("outbox state", zap.String("temp_id", env.ID), zap.Error(err))
		return
	}
	t := Transition{TempID: env.ID, ConversationID: env.ConversationID, From: from, To: to}
	if cause != nil {
		t.Err = cause.Error()
	}
	if c.journal != nil && to != PendingLocal {
		if err := c.journal.MarkOutbox(env.ID, string(to), t.Err); err != nil {
			c.logger.Warn("outbox journal update failed", zap.String("temp_id", env.ID), zap.Error(err))
		}
	}
	if to.Terminal() {
		sendsTotal.WithLabelValues(string(to)).Inc()
		c.mu.Lock()
		if s, ok := c.sends[env.ID]; ok {
			s.doneAt = c.now()
		}
		c.mu.Unlock()
	}

	switch to {
	case PendingLocal, PendingRemote:
		c.bus.Emit(bus.OutboxPending, t)
	case Confirmed:
		c.bus.Emit(bus.OutboxConfirmed, t)
	case RolledBack:
		c.bus.Emit(bus.OutboxRolledBack, t)
	}
}

func payloadFor(d Draft) message.Payload {
	switch d.Type {
	case message.TypeImage, message.TypeVideo, message.TypeGIF, message.TypeAudio,
		message.TypeVoice, message.TypePTT, message.TypeDocument, message.TypeSticker:
		return &message.Media{Link: d.MediaURL, Caption: d.Text, FileName: d.FileName}
	default:
		return &message.Text{Body: d.Text}
	}
}

func fieldsFor(d Draft) map[string]any {
	if d.MediaURL == "" {
		return map[string]any{"message": d.Text}
	}
	f := map[string]any{"url": d.MediaURL}
	if d.Text != "" {
		f["caption"] = d.Text
	}
	if d.FileName != "" {
		f["fileName"] = d.FileName
	}
	return f
}

// String renders a receipt for logs and the CLI.
func (r Receipt) String() string {
	return fmt.Sprintf("%s (%s)", r.TempID, r.State)
}
