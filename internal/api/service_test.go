package api

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/wppcrm/internal/assign"
	"github.com/matheus3301/wppcrm/internal/bus"
	"github.com/matheus3301/wppcrm/internal/cache"
	"github.com/matheus3301/wppcrm/internal/gateway"
	"github.com/matheus3301/wppcrm/internal/message"
	"github.com/matheus3301/wppcrm/internal/outbox"
	"github.com/matheus3301/wppcrm/internal/restapi"
	"github.com/matheus3301/wppcrm/internal/roster"
	"github.com/matheus3301/wppcrm/internal/store"
	intsync "github.com/matheus3301/wppcrm/internal/sync"
	"github.com/matheus3301/wppcrm/internal/timeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

var paths = gateway.Paths{CompanyID: "acme"}

type stubSender struct {
	mu    sync.Mutex
	calls []restapi.SendRequest
	err   error
}

func (s *stubSender) Send(_ context.Context, req restapi.SendRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	return s.err
}

type harness struct {
	db     *store.DB
	client *Client
	sender *stubSender
	coord  *outbox.Coordinator
}

func newHarness(t *testing.T, operator Operator) *harness {
	t.Helper()
	// Short path for the 104-char Unix socket limit on macOS.
	tmpDir, err := os.MkdirTemp("/tmp", "wppcrm-api-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })

	b := bus.New()
	db, err := store.Open(filepath.Join(tmpDir, "console.db"), store.WithBus(b))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.BatchWrite(context.Background(), []gateway.Op{
		gateway.Set(paths.Employee("e1"), map[string]any{"name": "Bia", "role": "agent", "quotaLeads": 5, "assignedContacts": 2}),
		gateway.Set(paths.Contact("c1"), map[string]any{"contactName": "Carla", "chat_id": "5511@c.us", "tags": []any{"lead"}}),
		gateway.Set(paths.Contact("c2"), map[string]any{"contactName": "Davi", "chat_id": "5522@c.us", "tags": []any{"stop bot"}}),
		gateway.Set(paths.Messages("c1")+"/m1", map[string]any{"type": "text", "text": map[string]any{"body": "hello"}, "timestamp": 1700000000}),
	}))

	c, err := cache.New(db, cache.Options{}, nil)
	require.NoError(t, err)
	tl := timeline.New(b)
	engine := intsync.NewEngine(db, paths, message.NewNormalizer(nil), c, tl, nil, intsync.Options{SelfName: operator.Name})
	t.Cleanup(engine.Stop)

	r := roster.New(nil, b, nil)
	require.NoError(t, r.Start(context.Background(), db, paths))
	t.Cleanup(r.Stop)

	sender := &stubSender{}
	coord := outbox.NewCoordinator(outbox.Config{
		CompanyID: paths.CompanyID,
		Sender:    sender,
		Timeline:  tl,
		Cache:     c,
		Refetcher: engine,
		Journal:   db,
		Bus:       b,
	})

	svc := NewConsole(Deps{
		Profile:  "test",
		Operator: operator,
		Roster:   r,
		Ledger:   assign.NewLedger(db, paths, nil, b, nil),
		Outbox:   coord,
		Engine:   engine,
		Timeline: tl,
		DB:       db,
		Bus:      b,
	})

	socketPath := filepath.Join(tmpDir, "d.sock")
	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	srv := grpc.NewServer()
	Register(srv, svc)
	go func() { _ = srv.Serve(listener) }()
	t.Cleanup(srv.GracefulStop)

	client, err := Dial(socketPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.Eventually(t, func() bool { return r.Stats().Total == 2 }, 2*time.Second, 5*time.Millisecond)
	return &harness{db: db, client: client, sender: sender, coord: coord}
}

func code(err error) codes.Code {
	return grpcstatus.Code(err)
}

func TestListContactsAndStats(t *testing.T) {
	h := newHarness(t, Operator{Name: "Root", Role: "admin"})
	ctx := context.Background()

	page, err := h.client.ListContacts(ctx, &ListContactsRequest{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Contacts, 2)
	assert.Equal(t, "Carla", page.Contacts[0].Name)

	page, err = h.client.ListContacts(ctx, &ListContactsRequest{Tags: []string{"stop bot"}})
	require.NoError(t, err)
	require.Len(t, page.Contacts, 1)
	assert.Equal(t, "c2", page.Contacts[0].ID)

	stats, err := h.client.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "test", stats.Profile)
	assert.Equal(t, 2, stats.Contacts)
	assert.Equal(t, 1, stats.BotStopped)
	assert.False(t, stats.AllBotsStopped)
	assert.Equal(t, 1, stats.Employees)
}

func TestUnauthenticatedCallsAreRejected(t *testing.T) {
	h := newHarness(t, Operator{})
	ctx := context.Background()

	_, err := h.client.ListContacts(ctx, &ListContactsRequest{})
	assert.Equal(t, codes.Unauthenticated, code(err))

	err = h.client.Assign(ctx, "c1", "Bia")
	assert.Equal(t, codes.Unauthenticated, code(err))

	_, err = h.client.SendMessage(ctx, &SendMessageRequest{ConversationID: "c1", Text: "hi"})
	assert.Equal(t, codes.Unauthenticated, code(err))
}

func TestAssignThroughService(t *testing.T) {
	h := newHarness(t, Operator{Name: "Root", Role: "admin"})
	ctx := context.Background()

	require.NoError(t, h.client.Assign(ctx, "c1", "Bia"))

	doc, err := h.db.GetDocument(ctx, paths.Employee("e1"))
	require.NoError(t, err)
	assert.Equal(t, int64(4), gateway.AsInt(doc.Data["quotaLeads"]))
	assert.Equal(t, int64(3), gateway.AsInt(doc.Data["assignedContacts"]))

	err = h.client.Assign(ctx, "c1", "Nobody")
	assert.Equal(t, codes.NotFound, code(err))

	err = h.client.Assign(ctx, "missing", "Bia")
	assert.Equal(t, codes.NotFound, code(err))

	resp, err := h.client.Reconcile(ctx)
	require.NoError(t, err)
	require.Len(t, resp.Drifts, 1)
	assert.Equal(t, int64(1), resp.Drifts[0].Now)
}

func TestConversationAndSend(t *testing.T) {
	h := newHarness(t, Operator{Name: "Root", Role: "admin"})
	ctx := context.Background()

	_, err := h.client.OpenConversation(ctx, "c1", 0)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		resp, err := h.client.ListMessages(ctx, "c1", 0)
		return err == nil && len(resp.Messages) == 1 && resp.Open
	}, 2*time.Second, 5*time.Millisecond)

	sent, err := h.client.SendMessage(ctx, &SendMessageRequest{ConversationID: "c1", Text: "on my way"})
	require.NoError(t, err)
	assert.Equal(t, string(outbox.PendingRemote), sent.State)
	h.coord.Wait()

	st, err := h.client.SendStatus(ctx, sent.TempID)
	require.NoError(t, err)
	assert.Equal(t, string(outbox.Confirmed), st.State)

	journal, err := h.client.ListOutbox(ctx, "c1", 10)
	require.NoError(t, err)
	require.Len(t, journal.Entries, 1)
	assert.Equal(t, "on my way", journal.Entries[0].Body)

	_, err = h.client.SendMessage(ctx, &SendMessageRequest{ConversationID: "c1", Text: "  "})
	assert.Equal(t, codes.InvalidArgument, code(err))

	_, err = h.client.SendStatus(ctx, "temp_unknown")
	assert.Equal(t, codes.NotFound, code(err))

	require.NoError(t, h.client.CloseConversation(ctx, "c1"))
	resp, err := h.client.ListMessages(ctx, "c1", 1)
	require.NoError(t, err)
	assert.False(t, resp.Open)
	assert.Len(t, resp.Messages, 1)
}

func TestPutDocumentsAndWatch(t *testing.T) {
	h := newHarness(t, Operator{Name: "Root", Role: "admin"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	events := make(chan EventView, 8)
	watchErr := make(chan error, 1)
	go func() {
		watchErr <- h.client.WatchEvents(ctx, "roster.", func(e EventView) error {
			events <- e
			return nil
		})
	}()

	// The stream has no handshake; keep writing until the watcher sees one.
	var evt EventView
	require.Eventually(t, func() bool {
		_, err := h.client.PutDocuments(ctx, []Document{
			{Path: paths.Contact("c3"), Data: map[string]any{"contactName": "Edu"}},
		})
		if err != nil {
			return false
		}
		select {
		case evt = <-events:
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, bus.RosterUpdated, evt.Kind)

	_, err := h.client.PutDocuments(ctx, []Document{{Path: "nocollection", Data: map[string]any{}}})
	assert.Equal(t, codes.InvalidArgument, code(err))

	cancel()
	if err := <-watchErr; err != nil && !errors.Is(err, context.Canceled) && code(err) != codes.Canceled {
		t.Errorf("WatchEvents error = %v", err)
	}
}
