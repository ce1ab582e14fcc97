package assign

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/wppcrm/internal/bus"
	"github.com/matheus3301/wppcrm/internal/gateway"
	"github.com/matheus3301/wppcrm/internal/roster"
	"github.com/matheus3301/wppcrm/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var paths = gateway.Paths{CompanyID: "acme"}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Assignment
}

func (n *recordingNotifier) Assigned(_ context.Context, a Assignment) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, a)
}

type fixture struct {
	db       *store.DB
	ledger   *Ledger
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	n := &recordingNotifier{}
	return &fixture{db: db, ledger: NewLedger(db, paths, n, bus.New(), nil), notifier: n}
}

func (f *fixture) seed(t *testing.T, ops ...gateway.Op) {
	t.Helper()
	require.NoError(t, f.db.BatchWrite(context.Background(), ops))
}

func (f *fixture) employee(t *testing.T, id string) roster.Employee {
	t.Helper()
	doc, err := f.db.GetDocument(context.Background(), paths.Employee(id))
	require.NoError(t, err)
	e, err := roster.EmployeeFromDocument(doc)
	require.NoError(t, err)
	return e
}

func (f *fixture) contact(t *testing.T, id string) (roster.Contact, map[string]any) {
	t.Helper()
	doc, err := f.db.GetDocument(context.Background(), paths.Contact(id))
	require.NoError(t, err)
	c, err := roster.ContactFromDocument(doc)
	require.NoError(t, err)
	return c, doc.Data
}

func employeeOp(id, name string, quota, assigned int) gateway.Op {
	return gateway.Set(paths.Employee(id), map[string]any{
		"name": name, "role": "agent", "quotaLeads": quota, "assignedContacts": assigned,
	})
}

func contactOp(id string, tags ...string) gateway.Op {
	if tags == nil {
		tags = []string{}
	}
	return gateway.Set(paths.Contact(id), map[string]any{"contactName": "Contact " + id, "phone": "55119" + id, "tags": tags})
}

func TestAssignUnassignedContact(t *testing.T) {
	f := newFixture(t)
	f.seed(t, employeeOp("e1", "E1", 5, 2), contactOp("x", "vip"))

	require.NoError(t, f.ledger.Assign(context.Background(), "x", "E1"))

	e1 := f.employee(t, "e1")
	assert.Equal(t, int64(4), e1.QuotaLeads)
	assert.Equal(t, int64(3), e1.AssignedContacts)

	c, data := f.contact(t, "x")
	assert.Equal(t, []string{"vip", "E1"}, c.Tags)
	assert.Equal(t, "E1", data["assignedTo"])

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "x", f.notifier.sent[0].ContactID)
	assert.Equal(t, "E1", f.notifier.sent[0].Employee.Name)
	assert.Empty(t, f.notifier.sent[0].Previous)
}

func TestReassignmentConservesAssignments(t *testing.T) {
	f := newFixture(t)
	f.seed(t, employeeOp("a", "Ana", 1, 3), employeeOp("b", "Bruno", 2, 1), contactOp("x", "Ana", "vip"))

	require.NoError(t, f.ledger.Assign(context.Background(), "x", "bruno"))

	a, b := f.employee(t, "a"), f.employee(t, "b")
	assert.Equal(t, int64(2), a.AssignedContacts)
	assert.Equal(t, int64(2), a.QuotaLeads)
	assert.Equal(t, int64(2), b.AssignedContacts)
	assert.Equal(t, int64(1), b.QuotaLeads)
	assert.Equal(t, int64(4), a.AssignedContacts+b.AssignedContacts, "sum is unchanged")

	c, data := f.contact(t, "x")
	assert.Equal(t, []string{"vip", "Bruno"}, c.Tags)
	assert.Equal(t, "Bruno", data["assignedTo"])
	assert.Equal(t, "Ana", f.notifier.sent[0].Previous)
}

func TestAssignSameEmployeeIsNoop(t *testing.T) {
	f := newFixture(t)
	f.seed(t, employeeOp("a", "Ana", 3, 1), contactOp("x", "Ana"))

	require.NoError(t, f.ledger.Assign(context.Background(), "x", "Ana"))
	a := f.employee(t, "a")
	assert.Equal(t, int64(3), a.QuotaLeads)
	assert.Equal(t, int64(1), a.AssignedContacts)
	assert.Empty(t, f.notifier.sent)
}

func TestAssignToSecondTaggedEmployeeIsNoop(t *testing.T) {
	f := newFixture(t)
	f.seed(t, employeeOp("a", "Ana", 3, 1), employeeOp("b", "Bruno", 2, 1), contactOp("x", "Ana", "Bruno"))

	require.NoError(t, f.ledger.Assign(context.Background(), "x", "Bruno"))

	a, b := f.employee(t, "a"), f.employee(t, "b")
	assert.Equal(t, int64(3), a.QuotaLeads)
	assert.Equal(t, int64(1), a.AssignedContacts)
	assert.Equal(t, int64(2), b.QuotaLeads)
	assert.Equal(t, int64(1), b.AssignedContacts)

	c, _ := f.contact(t, "x")
	assert.Equal(t, []string{"Ana", "Bruno"}, c.Tags)
	assert.Empty(t, f.notifier.sent)
}

func TestQuotaClampsAtZero(t *testing.T) {
	f := newFixture(t)
	f.seed(t, employeeOp("a", "Ana", 0, 0), contactOp("x"))

	require.NoError(t, f.ledger.Assign(context.Background(), "x", "Ana"))
	a := f.employee(t, "a")
	assert.Equal(t, int64(0), a.QuotaLeads)
	assert.Equal(t, int64(1), a.AssignedContacts)
}

func TestUnassign(t *testing.T) {
	f := newFixture(t)
	f.seed(t, employeeOp("a", "Ana", 4, 3), contactOp("x"))
	ctx := context.Background()
	require.NoError(t, f.ledger.Assign(ctx, "x", "Ana"))

	require.NoError(t, f.ledger.Unassign(ctx, "x", "Ana"))
	a := f.employee(t, "a")
	assert.Equal(t, int64(4), a.QuotaLeads)
	assert.Equal(t, int64(3), a.AssignedContacts)

	c, data := f.contact(t, "x")
	assert.Empty(t, c.Tags)
	_, ok := data["assignedTo"]
	assert.False(t, ok, "assignedTo is cleared")

	// Unassigning again changes nothing.
	require.NoError(t, f.ledger.Unassign(ctx, "x", "Ana"))
	assert.Equal(t, int64(4), f.employee(t, "a").QuotaLeads)
}

func TestAssignErrors(t *testing.T) {
	f := newFixture(t)
	f.seed(t, employeeOp("a", "Ana", 1, 0), contactOp("x"))
	ctx := context.Background()

	err := f.ledger.Assign(ctx, "missing", "Ana")
	assert.ErrorIs(t, err, gateway.ErrNotFound)

	err = f.ledger.Assign(ctx, "x", "Nobody")
	assert.ErrorIs(t, err, ErrUnknownEmployee)
}

// TestQuotaNeverNegative drives random assign/unassign sequences and checks
// the quota floor after every step.
func TestQuotaNeverNegative(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	names := []string{"Ana", "Bruno", "Carla"}
	f.seed(t, employeeOp("e0", "Ana", 1, 0), employeeOp("e1", "Bruno", 0, 0), employeeOp("e2", "Carla", 2, 0))
	contacts := []string{"c0", "c1", "c2", "c3"}
	for _, c := range contacts {
		f.seed(t, contactOp(c))
	}

	rng := rand.New(rand.NewSource(7))
	for step := 0; step < 60; step++ {
		contact := contacts[rng.Intn(len(contacts))]
		name := names[rng.Intn(len(names))]
		if rng.Intn(3) == 0 {
			require.NoError(t, f.ledger.Unassign(ctx, contact, name))
		} else {
			require.NoError(t, f.ledger.Assign(ctx, contact, name))
		}
		for _, id := range []string{"e0", "e1", "e2"} {
			e := f.employee(t, id)
			require.GreaterOrEqual(t, e.QuotaLeads, int64(0), "step %d employee %s", step, e.Name)
			require.GreaterOrEqual(t, e.AssignedContacts, int64(0), "step %d employee %s", step, e.Name)
		}
	}

	drifts, err := f.ledger.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, drifts, "incremental counters match the tags")
}

func TestReconcileCorrectsDrift(t *testing.T) {
	f := newFixture(t)
	f.seed(t,
		employeeOp("a", "Ana", 1, 7),
		employeeOp("b", "Bruno", 1, 0),
		contactOp("x", "Ana"),
		contactOp("y", "bruno"),
		contactOp("z", "Bruno", "vip"),
	)

	drifts, err := f.ledger.Reconcile(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []Drift{{Employee: "Ana", Was: 7, Now: 1}, {Employee: "Bruno", Was: 0, Now: 2}}, drifts)
	assert.Equal(t, int64(1), f.employee(t, "a").AssignedContacts)
	assert.Equal(t, int64(2), f.employee(t, "b").AssignedContacts)
}

type failingGateway struct {
	gateway.Gateway
}

func (failingGateway) Query(context.Context, gateway.Query) ([]gateway.Document, error) {
	return nil, errors.New("offline")
}

func TestReconcilerLoop(t *testing.T) {
	f := newFixture(t)
	f.seed(t, employeeOp("a", "Ana", 1, 5), contactOp("x", "Ana"))

	r := NewReconciler(f.ledger, time.Hour, nil)
	r.Start(context.Background())
	require.Eventually(t, func() bool {
		return f.employee(t, "a").AssignedContacts == 1
	}, 2*time.Second, 5*time.Millisecond)
	r.Stop()

	// Failures are logged, not fatal.
	r = NewReconciler(NewLedger(failingGateway{}, paths, nil, nil, nil), time.Hour, nil)
	r.Start(context.Background())
	r.Stop()
}
