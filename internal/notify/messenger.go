// Package notify tells employees and admins about new assignments by
// messaging them through the REST write surface.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/wppcrm/internal/assign"
	"github.com/matheus3301/wppcrm/internal/gateway"
	"github.com/matheus3301/wppcrm/internal/restapi"
	"github.com/matheus3301/wppcrm/internal/roster"
	"go.uber.org/zap"
)

// UserSuffix ends the chat id of a person.
const UserSuffix = "@c.us"

// Config wires a Messenger.
type Config struct {
	CompanyID string
	Sender    restapi.Sender
	Gateway   gateway.Gateway
	Paths     gateway.Paths
	// SenderName signs the notifications.
	SenderName string
	PhoneIndex *int
	Timeout    time.Duration
	Logger     *zap.Logger
}

// Messenger implements assign.Notifier.
type Messenger struct {
	cfg Config
	wg  sync.WaitGroup
}

var _ assign.Notifier = (*Messenger)(nil)

// NewMessenger creates a messenger.
func NewMessenger(cfg Config) *Messenger {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Messenger{cfg: cfg}
}

// Assigned queues a message to the assigned employee and every admin.
// It returns at once; failures are logged.
func (m *Messenger) Assigned(ctx context.Context, a assign.Assignment) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.Timeout)
		defer cancel()
		m.deliver(ctx, a)
	}()
}

// Wait blocks until queued notifications are done.
func (m *Messenger) Wait() {
	m.wg.Wait()
}

func (m *Messenger) deliver(ctx context.Context, a assign.Assignment) {
	recipients := []roster.Employee{a.Employee}
	admins, err := m.admins(ctx)
	if err != nil {
		m.cfg.Logger.Warn("admin lookup failed", zap.Error(err))
	}
	for _, adm := range admins {
		if adm.ID != a.Employee.ID {
			recipients = append(recipients, adm)
		}
	}

	for _, r := range recipients {
		chat := ChatID(r.Phone)
		if chat == "" {
			m.cfg.Logger.Debug("recipient has no phone", zap.String("employee", r.Name))
			continue
		}
		err := m.cfg.Sender.Send(ctx, restapi.SendRequest{
			Type:       "text",
			CompanyID:  m.cfg.CompanyID,
			ChatID:     chat,
			PhoneIndex: m.cfg.PhoneIndex,
			UserName:   m.cfg.SenderName,
			Fields:     map[string]any{"message": Text(a, r.ID == a.Employee.ID)},
		})
		if err != nil {
			m.cfg.Logger.Warn("assignment notification failed",
				zap.String("employee", r.Name),
				zap.String("contact", a.ContactID),
				zap.Error(err))
		}
	}
}

func (m *Messenger) admins(ctx context.Context) ([]roster.Employee, error) {
	if m.cfg.Gateway == nil {
		return nil, nil
	}
	docs, err := m.cfg.Gateway.Query(ctx, gateway.Query{
		Collection: m.cfg.Paths.Employees(),
		Where:      []gateway.Filter{{Field: "role", Value: "admin"}},
		OrderBy:    "name",
	})
	if err != nil {
		return nil, err
	}
	out := make([]roster.Employee, 0, len(docs))
	for _, d := range docs {
		e, err := roster.EmployeeFromDocument(d)
		if err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// ChatID turns a phone number into a person chat id. Returns "" when the
// number has no digits.
func ChatID(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return b.String() + UserSuffix
}

// Text renders the notification body.
func Text(a assign.Assignment, toAssignee bool) string {
	name := a.ContactName
	if name == "" {
		name = a.ContactID
	}
	var b strings.Builder
	if toAssignee {
		fmt.Fprintf(&b, "New contact assigned to you: %s", name)
	} else {
		fmt.Fprintf(&b, "%s was assigned to %s", name, a.Employee.Name)
	}
	if a.ContactPhone != "" {
		fmt.Fprintf(&b, " (%s)", a.ContactPhone)
	}
	if a.Previous != "" {
		fmt.Fprintf(&b, ", previously with %s", a.Previous)
	}
	return b.String()
}
