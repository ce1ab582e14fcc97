// Package roster keeps the live contact list and answers filtered views of it.
package roster

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/matheus3301/wppcrm/internal/bus"
	"github.com/matheus3301/wppcrm/internal/gateway"
	"go.uber.org/zap"
)

// Stats is derived from counters kept current on every mutation.
type Stats struct {
	Total          int
	BotStopped     int
	AllBotsStopped bool
}

// Roster holds the contact set, the employees and the phone line names.
type Roster struct {
	mu         sync.RWMutex
	contacts   map[string]Contact
	employees  map[string]Employee
	phones     map[string]int
	total      int
	botStopped int

	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an empty roster. phones maps line names to line indexes.
func New(phones map[string]int, b *bus.Bus, logger *zap.Logger) *Roster {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Roster{
		contacts:  make(map[string]Contact),
		employees: make(map[string]Employee),
		phones:    make(map[string]int, len(phones)),
		bus:       b,
		logger:    logger,
	}
	for name, idx := range phones {
		r.phones[strings.ToLower(name)] = idx
	}
	return r
}

// Upsert adds or replaces a contact.
func (r *Roster) Upsert(c Contact) {
	r.mu.Lock()
	r.upsert(c)
	r.mu.Unlock()
	r.notify()
}

func (r *Roster) upsert(c Contact) {
	if old, ok := r.contacts[c.ID]; ok {
		r.uncount(old)
	}
	r.contacts[c.ID] = c
	r.count(c)
}

// Remove drops a contact.
func (r *Roster) Remove(id string) {
	r.mu.Lock()
	if old, ok := r.contacts[id]; ok {
		r.uncount(old)
		delete(r.contacts, id)
	}
	r.mu.Unlock()
	r.notify()
}

// ReplaceContacts applies a full snapshot, touching counters only for the
// contacts that changed.
func (r *Roster) ReplaceContacts(cs []Contact) {
	r.mu.Lock()
	keep := make(map[string]bool, len(cs))
	for _, c := range cs {
		keep[c.ID] = true
		r.upsert(c)
	}
	for id, old := range r.contacts {
		if !keep[id] {
			r.uncount(old)
			delete(r.contacts, id)
		}
	}
	r.mu.Unlock()
	r.notify()
}

// SetEmployees replaces the employee list.
func (r *Roster) SetEmployees(es []Employee) {
	r.mu.Lock()
	r.employees = make(map[string]Employee, len(es))
	for _, e := range es {
		r.employees[e.ID] = e
	}
	r.mu.Unlock()
}

func (r *Roster) count(c Contact) {
	r.total++
	if c.botStopped() {
		r.botStopped++
	}
}

func (r *Roster) uncount(c Contact) {
	r.total--
	if c.botStopped() {
		r.botStopped--
	}
}

// Stats returns the bot counters.
func (r *Roster) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{
		Total:          r.total,
		BotStopped:     r.botStopped,
		AllBotsStopped: r.total > 0 && r.botStopped == r.total,
	}
}

// Contact returns one contact.
func (r *Roster) Contact(id string) (Contact, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contacts[id]
	return c, ok
}

// All returns every contact, sorted by id.
func (r *Roster) All() []Contact {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Contact, 0, len(r.contacts))
	for _, c := range r.contacts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Employees returns the employees, sorted by name.
func (r *Roster) Employees() []Employee {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Employee, 0, len(r.employees))
	for _, e := range r.employees {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// View returns one page of the contacts visible to v under f.
func (r *Roster) View(v Viewer, f Filter) Page {
	contacts := r.All()
	r.mu.RLock()
	e := env{viewer: v, employees: make(map[string]bool, len(r.employees)), phones: r.phones}
	for _, emp := range r.employees {
		e.employees[strings.ToLower(emp.Name)] = true
	}
	r.mu.RUnlock()
	return view(contacts, e, f)
}

// Start follows the contacts and employees collections until Stop.
func (r *Roster) Start(ctx context.Context, gw gateway.Gateway, paths gateway.Paths) error {
	ctx, cancel := context.WithCancel(ctx)
	contacts, stopContacts, err := gw.Subscribe(ctx, gateway.Query{Collection: paths.Contacts()})
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe contacts: %w", err)
	}
	employees, stopEmployees, err := gw.Subscribe(ctx, gateway.Query{Collection: paths.Employees(), OrderBy: "name"})
	if err != nil {
		stopContacts()
		cancel()
		return fmt.Errorf("subscribe employees: %w", err)
	}
	r.cancel = func() {
		stopContacts()
		stopEmployees()
		cancel()
	}

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		for docs := range contacts {
			r.ReplaceContacts(r.decodeContacts(docs))
		}
	}()
	go func() {
		defer r.wg.Done()
		for docs := range employees {
			r.SetEmployees(r.decodeEmployees(docs))
		}
	}()
	return nil
}

// Stop ends the streams started by Start.
func (r *Roster) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Roster) decodeContacts(docs []gateway.Document) []Contact {
	out := make([]Contact, 0, len(docs))
	for _, d := range docs {
		c, err := ContactFromDocument(d)
		if err != nil {
			r.logger.Warn("contact skipped", zap.String("path", d.Path), zap.Error(err))
			continue
		}
		out = append(out, c)
	}
	return out
}

func (r *Roster) decodeEmployees(docs []gateway.Document) []Employee {
	out := make([]Employee, 0, len(docs))
	for _, d := range docs {
		e, err := EmployeeFromDocument(d)
		if err != nil {
			r.logger.Warn("employee skipped", zap.String("path", d.Path), zap.Error(err))
			continue
		}
		out = append(out, e)
	}
	return out
}

func (r *Roster) notify() {
	r.bus.Emit(bus.RosterUpdated, r.Stats())
}
