// Package assign moves contacts between employees while keeping the
// employees' lead quota and assignment counters in step.
package assign

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/matheus3301/wppcrm/internal/bus"
	"github.com/matheus3301/wppcrm/internal/gateway"
	"github.com/matheus3301/wppcrm/internal/roster"
	"go.uber.org/zap"
)

// ErrUnknownEmployee is returned when no employee has the requested name.
var ErrUnknownEmployee = errors.New("unknown employee")

// Notifier tells people about a new assignment. It must not block.
type Notifier interface {
	Assigned(ctx context.Context, a Assignment)
}

// Assignment describes a completed assign.
type Assignment struct {
	ContactID    string
	ContactName  string
	ContactPhone string
	Employee     roster.Employee
	Previous     string
}

// Change is the payload of the ledger.* bus events.
type Change struct {
	ContactID string
	Employee  string
	Previous  string
}

// Ledger performs assignments as single atomic batches.
type Ledger struct {
	gw       gateway.Gateway
	paths    gateway.Paths
	notifier Notifier
	bus      *bus.Bus
	logger   *zap.Logger
}

// NewLedger creates a ledger. notifier may be nil.
func NewLedger(gw gateway.Gateway, paths gateway.Paths, notifier Notifier, b *bus.Bus, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{gw: gw, paths: paths, notifier: notifier, bus: b, logger: logger}
}

// Assign tags the contact with employeeName. A contact held by another
// employee moves over: the previous employee gets a lead back and one
// assignment less, the new one spends a lead (never below zero) and gains
// an assignment. The contact and both employees are written in one batch.
//
// The previous holder is read before the batch, so two concurrent assigns of
// the same contact can both release the same holder.
func (l *Ledger) Assign(ctx context.Context, contactID, employeeName string) error {
	contact, err := l.contact(ctx, contactID)
	if err != nil {
		return err
	}
	employees, err := l.employees(ctx)
	if err != nil {
		return err
	}
	target, ok := findEmployee(employees, employeeName)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEmployee, employeeName)
	}

	if contact.HasTag(target.Name) {
		l.logger.Debug("contact already assigned", zap.String("contact", contactID), zap.String("employee", target.Name))
		return nil
	}
	var previous *roster.Employee
	for _, t := range contact.Tags {
		if e, ok := findEmployee(employees, t); ok && e.ID != target.ID {
			previous = &e
			break
		}
	}

	tags := withoutTag(contact.Tags, target.Name)
	if previous != nil {
		tags = withoutTag(tags, previous.Name)
	}
	tags = append(tags, target.Name)

	ops := []gateway.Op{
		gateway.Update(l.paths.Contact(contactID), map[string]any{
			"tags":       tags,
			"assignedTo": target.Name,
		}),
		gateway.Update(l.paths.Employee(target.ID), map[string]any{
			"quotaLeads":       gateway.Increment(-1).AtLeast(0),
			"assignedContacts": gateway.Increment(1),
		}),
	}
	if previous != nil {
		ops = append(ops, gateway.Update(l.paths.Employee(previous.ID), map[string]any{
			"quotaLeads":       gateway.Increment(1),
			"assignedContacts": gateway.Increment(-1).AtLeast(0),
		}))
	}
	if err := l.gw.BatchWrite(ctx, ops); err != nil {
		return fmt.Errorf("assign %s to %s: %w", contactID, target.Name, err)
	}
	assignmentsTotal.WithLabelValues("assign").Inc()

	change := Change{ContactID: contactID, Employee: target.Name}
	if previous != nil {
		change.Previous = previous.Name
	}
	l.logger.Info("contact assigned",
		zap.String("contact", contactID),
		zap.String("employee", target.Name),
		zap.String("previous", change.Previous))
	l.bus.Emit(bus.LedgerAssigned, change)

	if l.notifier != nil {
		l.notifier.Assigned(ctx, Assignment{
			ContactID:    contactID,
			ContactName:  contact.Name,
			ContactPhone: contact.Phone,
			Employee:     target,
			Previous:     change.Previous,
		})
	}
	return nil
}

// Unassign removes employeeName from the contact, returns the lead and
// clears assignedTo. A contact not tagged with the employee is left as is.
func (l *Ledger) Unassign(ctx context.Context, contactID, employeeName string) error {
	contact, err := l.contact(ctx, contactID)
	if err != nil {
		return err
	}
	employees, err := l.employees(ctx)
	if err != nil {
		return err
	}
	target, ok := findEmployee(employees, employeeName)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEmployee, employeeName)
	}
	if !contact.HasTag(target.Name) {
		return nil
	}

	ops := []gateway.Op{
		gateway.Update(l.paths.Contact(contactID), map[string]any{
			"tags":       withoutTag(contact.Tags, target.Name),
			"assignedTo": gateway.DeleteField,
		}),
		gateway.Update(l.paths.Employee(target.ID), map[string]any{
			"quotaLeads":       gateway.Increment(1),
			"assignedContacts": gateway.Increment(-1).AtLeast(0),
		}),
	}
	if err := l.gw.BatchWrite(ctx, ops); err != nil {
		return fmt.Errorf("unassign %s from %s: %w", contactID, target.Name, err)
	}
	assignmentsTotal.WithLabelValues("unassign").Inc()

	l.logger.Info("contact unassigned", zap.String("contact", contactID), zap.String("employee", target.Name))
	l.bus.Emit(bus.LedgerUnassigned, Change{ContactID: contactID, Employee: target.Name})
	return nil
}

// Drift is one corrected counter.
type Drift struct {
	Employee string
	Was, Now int64
}

// Reconcile recounts every employee's assignedContacts from the contact
// tags and writes the corrections in one batch.
func (l *Ledger) Reconcile(ctx context.Context) ([]Drift, error) {
	employees, err := l.employees(ctx)
	if err != nil {
		return nil, err
	}
	docs, err := l.gw.Query(ctx, gateway.Query{Collection: l.paths.Contacts()})
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}

	counts := make(map[string]int64, len(employees))
	for _, d := range docs {
		c, err := roster.ContactFromDocument(d)
		if err != nil {
			l.logger.Warn("contact skipped", zap.String("path", d.Path), zap.Error(err))
			continue
		}
		for _, e := range employees {
			if c.HasTag(e.Name) {
				counts[e.ID]++
			}
		}
	}

	var drifts []Drift
	var ops []gateway.Op
	for _, e := range employees {
		if e.AssignedContacts == counts[e.ID] {
			continue
		}
		drifts = append(drifts, Drift{Employee: e.Name, Was: e.AssignedContacts, Now: counts[e.ID]})
		ops = append(ops, gateway.Update(l.paths.Employee(e.ID), map[string]any{"assignedContacts": counts[e.ID]}))
	}
	if len(ops) > 0 {
		if err := l.gw.BatchWrite(ctx, ops); err != nil {
			return nil, fmt.Errorf("write reconciliation: %w", err)
		}
		for _, d := range drifts {
			l.logger.Warn("assignment counter drift corrected",
				zap.String("employee", d.Employee), zap.Int64("was", d.Was), zap.Int64("now", d.Now))
		}
	}
	driftTotal.Add(float64(len(drifts)))
	l.bus.Emit(bus.LedgerReconciled, drifts)
	return drifts, nil
}

func (l *Ledger) contact(ctx context.Context, id string) (roster.Contact, error) {
	doc, err := l.gw.GetDocument(ctx, l.paths.Contact(id))
	if err != nil {
		return roster.Contact{}, fmt.Errorf("contact %s: %w", id, err)
	}
	return roster.ContactFromDocument(doc)
}

func (l *Ledger) employees(ctx context.Context) ([]roster.Employee, error) {
	docs, err := l.gw.Query(ctx, gateway.Query{Collection: l.paths.Employees(), OrderBy: "name"})
	if err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}
	out := make([]roster.Employee, 0, len(docs))
	for _, d := range docs {
		e, err := roster.EmployeeFromDocument(d)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func findEmployee(es []roster.Employee, name string) (roster.Employee, bool) {
	for _, e := range es {
		if strings.EqualFold(e.Name, name) {
			return e, true
		}
	}
	return roster.Employee{}, false
}

func withoutTag(tags []string, tag string) []string {
	return slices.DeleteFunc(slices.Clone(tags), func(t string) bool {
		return strings.EqualFold(t, tag)
	})
}
