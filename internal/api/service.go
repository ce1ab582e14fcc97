// Package api exposes the console core to local clients over gRPC.
package api

import (
	"context"
	"time"

	"github.com/matheus3301/wppcrm/internal/assign"
	"github.com/matheus3301/wppcrm/internal/bus"
	"github.com/matheus3301/wppcrm/internal/gateway"
	"github.com/matheus3301/wppcrm/internal/message"
	"github.com/matheus3301/wppcrm/internal/outbox"
	"github.com/matheus3301/wppcrm/internal/roster"
	"github.com/matheus3301/wppcrm/internal/store"
	intsync "github.com/matheus3301/wppcrm/internal/sync"
	"github.com/matheus3301/wppcrm/internal/timeline"
	"go.uber.org/zap"
)

// Operator is the identity the daemon acts as.
type Operator struct {
	Name       string
	Role       string
	PhoneIndex *int
}

// Deps wires a Console.
type Deps struct {
	Profile  string
	Operator Operator
	Roster   *roster.Roster
	Ledger   *assign.Ledger
	Outbox   *outbox.Coordinator
	Engine   *intsync.Engine
	Timeline *timeline.Timeline
	DB       *store.DB
	Bus      *bus.Bus
	Logger   *zap.Logger
}

// Console implements ConsoleServer.
type Console struct {
	Deps
	startedAt time.Time
}

var _ ConsoleServer = (*Console)(nil)

// NewConsole creates the console service.
func NewConsole(d Deps) *Console {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Console{Deps: d, startedAt: time.Now()}
}

func (s *Console) authenticated() error {
	if s.Operator.Name == "" {
		return gateway.ErrNotAuthenticated
	}
	return nil
}

func (s *Console) viewer() roster.Viewer {
	return roster.Viewer{Name: s.Operator.Name, Role: s.Operator.Role, PhoneIndex: s.Operator.PhoneIndex}
}

func (s *Console) ListContacts(_ context.Context, req *ListContactsRequest) (*ListContactsResponse, error) {
	if err := s.authenticated(); err != nil {
		return nil, toStatus("list contacts", err)
	}
	page := s.Roster.View(s.viewer(), roster.Filter{Tags: req.Tags, Query: req.Query, Page: req.Page})
	resp := &ListContactsResponse{
		Contacts:  make([]ContactView, 0, len(page.Contacts)),
		Total:     page.Total,
		Page:      page.Page,
		PageCount: page.PageCount,
	}
	for _, c := range page.Contacts {
		resp.Contacts = append(resp.Contacts, contactView(c))
	}
	return resp, nil
}

func (s *Console) ListEmployees(_ context.Context, _ *Empty) (*ListEmployeesResponse, error) {
	return &ListEmployeesResponse{Employees: s.Roster.Employees()}, nil
}

func (s *Console) Assign(ctx context.Context, req *AssignRequest) (*Empty, error) {
	if err := s.authenticated(); err != nil {
		return nil, toStatus("assign", err)
	}
	if err := s.Ledger.Assign(ctx, req.ContactID, req.Employee); err != nil {
		return nil, toStatus("assign", err)
	}
	return &Empty{}, nil
}

func (s *Console) Unassign(ctx context.Context, req *AssignRequest) (*Empty, error) {
	if err := s.authenticated(); err != nil {
		return nil, toStatus("unassign", err)
	}
	if err := s.Ledger.Unassign(ctx, req.ContactID, req.Employee); err != nil {
		return nil, toStatus("unassign", err)
	}
	return &Empty{}, nil
}

func (s *Console) SendMessage(ctx context.Context, req *SendMessageRequest) (*SendMessageResponse, error) {
	receipt, err := s.Outbox.Submit(ctx, outbox.Draft{
		ConversationID: req.ConversationID,
		Type:           message.Type(req.Type),
		Text:           req.Text,
		MediaURL:       req.MediaURL,
		FileName:       req.FileName,
		Operator:       outbox.Operator{Name: s.Operator.Name, PhoneIndex: s.Operator.PhoneIndex},
	})
	if err != nil {
		return nil, toStatus("send message", err)
	}
	return &SendMessageResponse{TempID: receipt.TempID, State: string(receipt.State)}, nil
}

func (s *Console) SendStatus(_ context.Context, req *SendStatusRequest) (*SendMessageResponse, error) {
	state, ok := s.Outbox.Status(req.TempID)
	if !ok {
		return nil, toStatus("send status", gateway.ErrNotFound)
	}
	return &SendMessageResponse{TempID: req.TempID, State: string(state)}, nil
}

func (s *Console) OpenConversation(ctx context.Context, req *ConversationRequest) (*ListMessagesResponse, error) {
	if err := s.Engine.Open(ctx, req.ConversationID); err != nil {
		return nil, toStatus("open conversation", err)
	}
	return s.ListMessages(ctx, req)
}

func (s *Console) CloseConversation(_ context.Context, req *ConversationRequest) (*Empty, error) {
	s.Engine.Close(req.ConversationID)
	return &Empty{}, nil
}

func (s *Console) ListMessages(_ context.Context, req *ConversationRequest) (*ListMessagesResponse, error) {
	msgs := s.Timeline.Messages(req.ConversationID)
	if req.Limit > 0 && len(msgs) > req.Limit {
		msgs = msgs[len(msgs)-req.Limit:]
	}
	if msgs == nil {
		msgs = []message.Envelope{}
	}
	return &ListMessagesResponse{Messages: msgs, Open: s.Engine.IsOpen(req.ConversationID)}, nil
}

func (s *Console) ListOutbox(_ context.Context, req *ConversationRequest) (*ListOutboxResponse, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	entries, err := s.DB.ListOutbox(req.ConversationID, limit)
	if err != nil {
		return nil, toStatus("list outbox", err)
	}
	return &ListOutboxResponse{Entries: entries}, nil
}

func (s *Console) Reconcile(ctx context.Context, _ *Empty) (*ReconcileResponse, error) {
	drifts, err := s.Ledger.Reconcile(ctx)
	if err != nil {
		return nil, toStatus("reconcile", err)
	}
	return &ReconcileResponse{Drifts: drifts}, nil
}

func (s *Console) GetStats(_ context.Context, _ *Empty) (*StatsResponse, error) {
	st := s.Roster.Stats()
	counts, err := s.DB.CountOutbox()
	if err != nil {
		return nil, toStatus("stats", err)
	}
	return &StatsResponse{
		Profile:           s.Profile,
		Operator:          s.Operator.Name,
		UptimeMs:          time.Since(s.startedAt).Milliseconds(),
		Contacts:          st.Total,
		BotStopped:        st.BotStopped,
		AllBotsStopped:    st.AllBotsStopped,
		Employees:         len(s.Roster.Employees()),
		OpenConversations: s.Engine.OpenConversations(),
		Outbox:            counts,
	}, nil
}

// PutDocuments writes raw documents in one batch. It is how a local store
// gets seeded from an export of the remote one.
func (s *Console) PutDocuments(ctx context.Context, req *PutDocumentsRequest) (*PutDocumentsResponse, error) {
	ops := make([]gateway.Op, 0, len(req.Documents))
	for _, d := range req.Documents {
		if gateway.Collection(d.Path) == "" {
			return nil, toStatus("put documents", &message.ValidationError{Field: "path", Reason: "has no collection: " + d.Path})
		}
		ops = append(ops, gateway.Set(d.Path, d.Data))
	}
	if err := s.DB.BatchWrite(ctx, ops); err != nil {
		return nil, toStatus("put documents", err)
	}
	s.Logger.Info("documents imported", zap.Int("count", len(ops)))
	return &PutDocumentsResponse{Written: len(ops)}, nil
}

func (s *Console) WatchEvents(req *WatchRequest, stream EventSender) error {
	ch, unsub := s.Bus.Subscribe(req.Prefix, 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			if err := stream.Send(&EventView{
				Kind:             evt.Kind,
				OccurredAtUnixMs: evt.Timestamp.UnixMilli(),
				Payload:          evt.Payload,
			}); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}
