package roster

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/wppcrm/internal/gateway"
	"github.com/matheus3301/wppcrm/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var admin = Viewer{Name: "Root", Role: "admin"}

func intp(i int) *int { return &i }

func ids(p Page) []string {
	out := make([]string, len(p.Contacts))
	for i, c := range p.Contacts {
		out[i] = c.ID
	}
	return out
}

func newRoster(contacts ...Contact) *Roster {
	r := New(map[string]int{"Sales Line": 1}, nil, nil)
	r.SetEmployees([]Employee{{ID: "e1", Name: "Ana"}, {ID: "e2", Name: "Bruno"}})
	for _, c := range contacts {
		r.Upsert(c)
	}
	return r
}

func TestViewOrderPinnedFirst(t *testing.T) {
	r := newRoster(
		Contact{ID: "B", Pinned: false, LastMessageAtMs: 200},
		Contact{ID: "A", Pinned: true, LastMessageAtMs: 100},
		Contact{ID: "C"},
	)
	assert.Equal(t, []string{"A", "B", "C"}, ids(r.View(admin, Filter{})))
}

func TestContactTimestampsAreNormalized(t *testing.T) {
	seconds, err := ContactFromDocument(gateway.Document{Path: "x/contacts/s", Data: map[string]any{
		"last_message": map[string]any{"timestamp": float64(1700000001)},
	}})
	require.NoError(t, err)
	millis, err := ContactFromDocument(gateway.Document{Path: "x/contacts/m", Data: map[string]any{
		"last_message": map[string]any{"timestamp": float64(1700000000500)},
	}})
	require.NoError(t, err)
	missing, err := ContactFromDocument(gateway.Document{Path: "x/contacts/z", Data: map[string]any{}})
	require.NoError(t, err)

	r := newRoster(missing, millis, seconds)
	assert.Equal(t, []string{"s", "m", "z"}, ids(r.View(admin, Filter{})))
}

func TestTagPredicates(t *testing.T) {
	r := newRoster(
		Contact{ID: "unread-mine", Tags: []string{"ana"}, UnreadCount: 2},
		Contact{ID: "read-mine", Tags: []string{"Ana"}},
		Contact{ID: "unread-other", Tags: []string{"Bruno"}, UnreadCount: 1},
		Contact{ID: "unassigned", Tags: []string{"vip"}},
		Contact{ID: "snoozed", Tags: []string{"Snooze"}},
		Contact{ID: "stopped", Tags: []string{"stop bot", "Ana"}},
		Contact{ID: "group", ChatID: "123-456@g.us"},
		Contact{ID: "line1", PhoneIndex: intp(1)},
		Contact{ID: "resolved", Tags: []string{"resolved"}},
	)
	viewer := Viewer{Name: "Ana", Role: "admin"}

	tests := []struct {
		tags []string
		want []string
	}{
		{[]string{"mine", "unread"}, []string{"unread-mine"}},
		{[]string{"all", "unread"}, []string{"line1", "read-mine", "resolved", "stopped", "unassigned", "unread-mine", "unread-other"}},
		{[]string{"unassigned"}, []string{"group", "line1", "resolved", "snoozed", "unassigned"}},
		{[]string{"SNOOZE"}, []string{"snoozed"}},
		{[]string{"stop bot"}, []string{"stopped"}},
		{[]string{"active bot", "mine"}, []string{"read-mine", "unread-mine"}},
		{[]string{"group"}, []string{"group"}},
		{[]string{"sales line"}, []string{"line1"}},
		{[]string{"vip"}, []string{"unassigned"}},
		{[]string{"resolved"}, []string{"resolved"}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.tags), func(t *testing.T) {
			assert.ElementsMatch(t, tt.want, ids(r.View(viewer, Filter{Tags: tt.tags})))
		})
	}
}

func TestVisibilityAndLineScoping(t *testing.T) {
	r := newRoster(
		Contact{ID: "a", Tags: []string{"Ana"}},
		Contact{ID: "b", Tags: []string{"Bruno"}},
		Contact{ID: "a1", Tags: []string{"Ana"}, PhoneIndex: intp(1)},
	)

	agent := Viewer{Name: "Ana", Role: "agent"}
	assert.ElementsMatch(t, []string{"a", "a1"}, ids(r.View(agent, Filter{})))

	agent.PhoneIndex = intp(1)
	assert.Equal(t, []string{"a1"}, ids(r.View(agent, Filter{})))

	boundAdmin := Viewer{Name: "Root", Role: "Admin", PhoneIndex: intp(0)}
	assert.ElementsMatch(t, []string{"a", "b"}, ids(r.View(boundAdmin, Filter{})))
}

func TestSearch(t *testing.T) {
	r := newRoster(
		Contact{ID: "1", Name: "Maria Silva", Phone: "5511999990000", Tags: []string{"vip"}},
		Contact{ID: "2", Name: "Mario Souza", Phone: "5521888880000"},
		Contact{ID: "3", Name: "Joao", Phone: "5511777770000", Tags: []string{"VIP"}},
	)

	tests := []struct {
		query string
		want  []string
	}{
		{"mari", []string{"1", "2"}},
		{"MARIA", []string{"1"}},
		{"5511", []string{"1", "3"}},
		{"vip 5511", []string{"1", "3"}},
		{"vip souza", nil},
		{"  ", []string{"1", "2", "3"}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got := ids(r.View(admin, Filter{Query: tt.query}))
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.ElementsMatch(t, tt.want, got)
		})
	}
}

func TestPagination(t *testing.T) {
	r := newRoster()
	for i := 0; i < 120; i++ {
		r.Upsert(Contact{ID: fmt.Sprintf("c%03d", i), LastMessageAtMs: int64(1000 - i)})
	}

	p := r.View(admin, Filter{Page: 2})
	assert.Equal(t, 120, p.Total)
	assert.Equal(t, 3, p.PageCount)
	assert.Len(t, p.Contacts, 20)
	assert.Equal(t, "c100", p.Contacts[0].ID)

	assert.Empty(t, r.View(admin, Filter{Page: 9}).Contacts)
}

func TestViewStateResetsPageOnQueryChange(t *testing.T) {
	var s ViewState
	s.SetPage(3)
	s.SetTags("unread")
	s.SetQuery("")
	assert.Equal(t, 3, s.Filter().Page, "same query keeps the page")

	s.SetQuery("ana")
	assert.Equal(t, 0, s.Filter().Page)
	assert.Equal(t, []string{"unread"}, s.Filter().Tags)

	s.SetPage(2)
	s.SetTags("mine")
	assert.Equal(t, 2, s.Filter().Page)
}

func TestStatsAreIncremental(t *testing.T) {
	r := newRoster()
	assert.Equal(t, Stats{}, r.Stats())

	r.Upsert(Contact{ID: "a", Tags: []string{"stop bot"}})
	assert.Equal(t, Stats{Total: 1, BotStopped: 1, AllBotsStopped: true}, r.Stats())

	r.Upsert(Contact{ID: "b"})
	assert.Equal(t, Stats{Total: 2, BotStopped: 1}, r.Stats())

	r.Upsert(Contact{ID: "b", Tags: []string{"Stop Bot"}})
	assert.Equal(t, Stats{Total: 2, BotStopped: 2, AllBotsStopped: true}, r.Stats())

	r.ReplaceContacts([]Contact{{ID: "b"}, {ID: "c"}})
	assert.Equal(t, Stats{Total: 2, BotStopped: 0}, r.Stats())

	r.Remove("b")
	r.Remove("missing")
	assert.Equal(t, Stats{Total: 1}, r.Stats())
}

func TestStartFollowsStore(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	paths := gateway.Paths{CompanyID: "acme"}
	ctx := context.Background()
	require.NoError(t, db.BatchWrite(ctx, []gateway.Op{
		gateway.Set(paths.Contact("c1"), map[string]any{"contactName": "Maria", "tags": []string{"stop bot"}}),
		gateway.Set(paths.Employee("e1"), map[string]any{"name": "Ana", "role": "agent", "quotaLeads": 3}),
	}))

	r := New(nil, nil, nil)
	require.NoError(t, r.Start(ctx, db, paths))
	defer r.Stop()

	require.Eventually(t, func() bool {
		return r.Stats().Total == 1 && len(r.Employees()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	c, ok := r.Contact("c1")
	require.True(t, ok)
	assert.Equal(t, "Maria", c.Name)
	assert.Equal(t, int64(3), r.Employees()[0].QuotaLeads)

	require.NoError(t, db.BatchWrite(ctx, []gateway.Op{
		gateway.Set(paths.Contact("c2"), map[string]any{"contactName": "Joao"}),
	}))
	require.Eventually(t, func() bool {
		s := r.Stats()
		return s.Total == 2 && !s.AllBotsStopped
	}, 2*time.Second, 5*time.Millisecond)
}
