package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/matheus3301/wppcrm/internal/bus"
	"github.com/matheus3301/wppcrm/internal/gateway"
)

var _ gateway.Gateway = (*DB)(nil)

// GetDocument returns the document at path or gateway.ErrNotFound.
func (db *DB) GetDocument(ctx context.Context, path string) (gateway.Document, error) {
	var raw string
	err := db.QueryRowContext(ctx, `SELECT data FROM documents WHERE path = ?`, path).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return gateway.Document{}, fmt.Errorf("%s: %w", path, gateway.ErrNotFound)
	}
	if err != nil {
		return gateway.Document{}, fmt.Errorf("get %s: %w", path, err)
	}
	data, err := decodeData(raw)
	if err != nil {
		return gateway.Document{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return gateway.Document{Path: path, Data: data}, nil
}

// Query returns the documents of one collection matching every filter,
// ordered by OrderBy when set and by path otherwise.
func (db *DB) Query(ctx context.Context, q gateway.Query) ([]gateway.Document, error) {
	rows, err := db.QueryContext(ctx, `SELECT path, data FROM documents WHERE collection = ? ORDER BY path`, q.Collection)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	defer func() { _ = rows.Close() }()

	var docs []gateway.Document
	for rows.Next() {
		var path, raw string
		if err := rows.Scan(&path, &raw); err != nil {
			return nil, err
		}
		data, err := decodeData(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		if matches(data, q.Where) {
			docs = append(docs, gateway.Document{Path: path, Data: data})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if q.OrderBy != "" {
		sort.SliceStable(docs, func(i, j int) bool {
			c := compareValues(docs[i].Data[q.OrderBy], docs[j].Data[q.OrderBy])
			if q.Descending {
				return c > 0
			}
			return c < 0
		})
	}
	return docs, nil
}

// BatchWrite applies all ops in one transaction. An update of a missing
// document aborts the batch with gateway.ErrNotFound and nothing is written.
func (db *DB) BatchWrite(ctx context.Context, ops []gateway.Op) error {
	if len(ops) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	touched := make(map[string]struct{})
	for _, op := range ops {
		if err := applyOp(ctx, tx, op, now); err != nil {
			return fmt.Errorf("%s %s: %w", op.Kind, op.Path, err)
		}
		touched[gateway.Collection(op.Path)] = struct{}{}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	collections := make([]string, 0, len(touched))
	for c := range touched {
		collections = append(collections, c)
	}
	sort.Strings(collections)
	db.wake(collections)
	db.bus.Emit(bus.DocChanged, bus.DocChange{Collections: collections})
	return nil
}

func applyOp(ctx context.Context, tx *sql.Tx, op gateway.Op, now int64) error {
	switch op.Kind {
	case gateway.OpDelete:
		_, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, op.Path)
		return err

	case gateway.OpSet:
		return putData(ctx, tx, op.Path, applyFields(map[string]any{}, op.Fields), now)

	case gateway.OpUpdate:
		var raw string
		err := tx.QueryRowContext(ctx, `SELECT data FROM documents WHERE path = ?`, op.Path).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return gateway.ErrNotFound
		}
		if err != nil {
			return err
		}
		data, err := decodeData(raw)
		if err != nil {
			return err
		}
		return putData(ctx, tx, op.Path, applyFields(data, op.Fields), now)

	default:
		return fmt.Errorf("unsupported op %s", op.Kind)
	}
}

func applyFields(data, fields map[string]any) map[string]any {
	for k, v := range fields {
		if gateway.IsDeleteField(v) {
			delete(data, k)
			continue
		}
		if t, ok := v.(gateway.Transform); ok {
			data[k] = t.Apply(data[k])
			continue
		}
		data[k] = v
	}
	return data
}

func putData(ctx context.Context, tx *sql.Tx, path string, data map[string]any, now int64) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (path, collection, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at`,
		path, gateway.Collection(path), string(raw), now)
	return err
}

func decodeData(raw string) (map[string]any, error) {
	data := make(map[string]any)
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, err
	}
	return data, nil
}

func matches(data map[string]any, where []gateway.Filter) bool {
	for _, f := range where {
		v, ok := data[f.Field]
		if !ok || compareValues(v, f.Value) != 0 {
			return false
		}
	}
	return true
}

// compareValues orders numbers numerically, strings lexically, false before
// true, and missing values first. Mixed kinds order by kind.
func compareValues(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch ra {
	case rankNumber:
		fa, fb := toFloat(a), toFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case rankString:
		sa, sb := a.(string), b.(string)
		switch {
		case sa < sb:
			return -1
		case sa > sb:
			return 1
		}
		return 0
	case rankBool:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		}
		return 1
	case rankNull:
		return 0
	}
	// Composite values only compare equal when their encodings match.
	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	if string(ja) == string(jb) {
		return 0
	}
	if string(ja) < string(jb) {
		return -1
	}
	return 1
}

const (
	rankNull = iota
	rankBool
	rankNumber
	rankString
	rankOther
)

func rank(v any) int {
	switch v.(type) {
	case nil:
		return rankNull
	case bool:
		return rankBool
	case int, int32, int64, float32, float64, json.Number:
		return rankNumber
	case string:
		return rankString
	default:
		return rankOther
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	case json.Number:
		f, _ := n.Float64()
		return f
	}
	return 0
}
