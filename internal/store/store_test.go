package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/wppcrm/internal/cache"
	"github.com/matheus3301/wppcrm/internal/gateway"
)

func testDB(t *testing.T, opts ...Option) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path, opts...)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seed(t *testing.T, db *DB, ops ...gateway.Op) {
	t.Helper()
	if err := db.BatchWrite(context.Background(), ops); err != nil {
		t.Fatal(err)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate; a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2 (init + outbox)", result.Version)
	}
}

func TestGetDocument(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seed(t, db, gateway.Set("companies/acme/employees/e1", map[string]any{"name": "Ana", "quotaLeads": 5}))

	doc, err := db.GetDocument(ctx, "companies/acme/employees/e1")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Data["name"] != "Ana" {
		t.Errorf("name = %v, want Ana", doc.Data["name"])
	}
	if gateway.AsInt(doc.Data["quotaLeads"]) != 5 {
		t.Errorf("quotaLeads = %v, want 5", doc.Data["quotaLeads"])
	}

	_, err = db.GetDocument(ctx, "companies/acme/employees/missing")
	if !errors.Is(err, gateway.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestQueryFiltersAndOrders(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	col := "companies/acme/contacts"
	seed(t, db,
		gateway.Set(col+"/a", map[string]any{"name": "A", "role": "lead", "ts": 3}),
		gateway.Set(col+"/b", map[string]any{"name": "B", "role": "lead", "ts": 1}),
		gateway.Set(col+"/c", map[string]any{"name": "C", "role": "client", "ts": 2}),
		gateway.Set("companies/other/contacts/d", map[string]any{"name": "D", "role": "lead"}),
	)

	tests := []struct {
		name string
		q    gateway.Query
		want []string
	}{
		{"whole collection by path", gateway.Query{Collection: col}, []string{"a", "b", "c"}},
		{"equality filter", gateway.Query{Collection: col, Where: []gateway.Filter{{Field: "role", Value: "lead"}}}, []string{"a", "b"}},
		{"numeric filter", gateway.Query{Collection: col, Where: []gateway.Filter{{Field: "ts", Value: 2}}}, []string{"c"}},
		{"ordered ascending", gateway.Query{Collection: col, OrderBy: "ts"}, []string{"b", "c", "a"}},
		{"ordered descending", gateway.Query{Collection: col, OrderBy: "ts", Descending: true}, []string{"a", "c", "b"}},
		{"missing field never matches", gateway.Query{Collection: col, Where: []gateway.Filter{{Field: "nope", Value: "x"}}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := db.Query(ctx, tt.q)
			if err != nil {
				t.Fatal(err)
			}
			var got []string
			for _, d := range docs {
				got = append(got, d.ID())
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestBatchWriteTransforms(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	path := "companies/acme/employees/e1"
	seed(t, db, gateway.Set(path, map[string]any{"quotaLeads": 0, "assignedContacts": 1, "note": "x"}))

	seed(t, db, gateway.Update(path, map[string]any{
		"quotaLeads":       gateway.Increment(-1).AtLeast(0),
		"assignedContacts": gateway.Increment(1),
		"note":             gateway.DeleteField,
	}))

	doc, err := db.GetDocument(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if got := gateway.AsInt(doc.Data["quotaLeads"]); got != 0 {
		t.Errorf("quotaLeads = %d, want 0 (clamped)", got)
	}
	if got := gateway.AsInt(doc.Data["assignedContacts"]); got != 2 {
		t.Errorf("assignedContacts = %d, want 2", got)
	}
	if _, ok := doc.Data["note"]; ok {
		t.Error("note should have been deleted")
	}
}

func TestBatchWriteIsAtomic(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	path := "companies/acme/employees/e1"
	seed(t, db, gateway.Set(path, map[string]any{"quotaLeads": 5}))

	err := db.BatchWrite(ctx, []gateway.Op{
		gateway.Update(path, map[string]any{"quotaLeads": gateway.Increment(-1)}),
		gateway.Update("companies/acme/employees/missing", map[string]any{"quotaLeads": gateway.Increment(1)}),
	})
	if !errors.Is(err, gateway.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	doc, err := db.GetDocument(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if got := gateway.AsInt(doc.Data["quotaLeads"]); got != 5 {
		t.Errorf("quotaLeads = %d, want 5 (batch must not partially apply)", got)
	}
}

func TestBatchWriteDelete(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	path := "companies/acme/contacts/c1"
	seed(t, db, gateway.Set(path, map[string]any{"name": "C"}))
	seed(t, db, gateway.Delete(path))

	if _, err := db.GetDocument(ctx, path); !errors.Is(err, gateway.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSubscribePushesSnapshots(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	col := "companies/acme/contacts/c1/messages"
	seed(t, db, gateway.Set(col+"/m1", map[string]any{"type": "text"}))

	ch, cancel, err := db.Subscribe(ctx, gateway.Query{Collection: col})
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	if docs := recv(t, ch); len(docs) != 1 {
		t.Fatalf("initial snapshot has %d docs, want 1", len(docs))
	}

	// Writes to other collections do not trigger a snapshot.
	seed(t, db, gateway.Set("companies/acme/contacts/c2/messages/x", map[string]any{}))
	seed(t, db, gateway.Set(col+"/m2", map[string]any{"type": "text"}))

	if docs := recv(t, ch); len(docs) != 2 {
		t.Fatalf("snapshot has %d docs, want 2", len(docs))
	}

	cancel()
	for range ch {
	}
}

func TestSubscribeSurvivesUnrelatedWriteBursts(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	col := "companies/acme/contacts/c1/messages"

	ch, cancel, err := db.Subscribe(ctx, gateway.Query{Collection: col})
	if err != nil {
		t.Fatal(err)
	}
	recv(t, ch)

	for i := 0; i < 200; i++ {
		seed(t, db, gateway.Set(fmt.Sprintf("companies/acme/contacts/c%d", i), map[string]any{"name": "x"}))
	}
	seed(t, db, gateway.Set(col+"/m1", map[string]any{"type": "text"}))
	if docs := recv(t, ch); len(docs) != 1 {
		t.Fatalf("snapshot has %d docs, want 1", len(docs))
	}

	// A burst of relevant writes coalesces but the last one is always seen.
	for i := 2; i <= 50; i++ {
		seed(t, db, gateway.Set(fmt.Sprintf("%s/m%d", col, i), map[string]any{"type": "text"}))
	}
	for {
		if docs := recv(t, ch); len(docs) == 50 {
			break
		}
	}

	cancel()
	for range ch {
	}
	db.watchMu.Lock()
	defer db.watchMu.Unlock()
	if len(db.watchers) != 0 {
		t.Errorf("watchers left after cancel: %v", db.watchers)
	}
}

func recv(t *testing.T, ch <-chan []gateway.Document) []gateway.Document {
	t.Helper()
	select {
	case docs, ok := <-ch:
		if !ok {
			t.Fatal("subscription closed")
		}
		return docs
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for snapshot")
	}
	return nil
}

func TestCacheArea(t *testing.T) {
	db := testDB(t)

	if err := db.Set("messages_c1", []byte("abc")); err != nil {
		t.Fatal(err)
	}
	if err := db.Set("messages_c2", []byte("de")); err != nil {
		t.Fatal(err)
	}
	if err := db.Set("other", []byte("z")); err != nil {
		t.Fatal(err)
	}

	v, ok, err := db.Get("messages_c1")
	if err != nil || !ok || string(v) != "abc" {
		t.Fatalf("Get = %q, %v, %v", v, ok, err)
	}

	keys, err := db.Keys("messages_")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 || keys[0] != "messages_c1" || keys[1] != "messages_c2" {
		t.Errorf("keys = %v", keys)
	}

	if err := db.Remove("messages_c1"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := db.Get("messages_c1"); ok {
		t.Error("removed key still present")
	}
}

func TestCacheAreaQuota(t *testing.T) {
	db := testDB(t, WithCacheQuota(10))

	if err := db.Set("a", make([]byte, 6)); err != nil {
		t.Fatal(err)
	}
	if err := db.Set("b", make([]byte, 6)); !errors.Is(err, cache.ErrQuotaExceeded) {
		t.Fatalf("err = %v, want ErrQuotaExceeded", err)
	}
	// Overwriting a key only counts the new value.
	if err := db.Set("a", make([]byte, 10)); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxJournal(t *testing.T) {
	db := testDB(t)

	for _, id := range []string{"temp_1", "temp_2"} {
		if err := db.RecordOutbox(&OutboxEntry{TempID: id, ConversationID: "c1", MessageType: "text", Body: "hi", AuthorName: "Ana", State: "pending_local"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.MarkOutbox("temp_1", "confirmed", ""); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutbox("temp_2", "rolled_back", "timeout"); err != nil {
		t.Fatal(err)
	}

	entries, err := db.ListOutbox("c1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[1].State != "rolled_back" || entries[1].ErrorMessage != "timeout" {
		t.Errorf("entry = %+v", entries[1])
	}

	e, err := db.GetOutbox("temp_2")
	if err != nil {
		t.Fatal(err)
	}
	if e.State != "rolled_back" || e.ConversationID != "c1" {
		t.Errorf("GetOutbox = %+v", e)
	}
	if _, err := db.GetOutbox("temp_9"); !errors.Is(err, gateway.ErrNotFound) {
		t.Errorf("GetOutbox(missing) err = %v, want ErrNotFound", err)
	}

	counts, err := db.CountOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if counts["confirmed"] != 1 || counts["rolled_back"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}
