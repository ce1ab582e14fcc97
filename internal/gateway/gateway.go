// Package gateway defines the contract the console core consumes from the
// remote document store: point reads, equality queries, push subscriptions
// and all-or-nothing batched writes.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a document path does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrNotAuthenticated is returned when an operation has no operator identity.
	ErrNotAuthenticated = errors.New("not authenticated")
)

// Document is a loosely-typed record addressed by a slash-separated path.
// The last path segment is the document ID; everything before it is the collection.
type Document struct {
	Path string
	Data map[string]any
}

// ID returns the last segment of the document path.
func (d Document) ID() string {
	return ID(d.Path)
}

// Collection returns the collection path a document path belongs to.
func Collection(path string) string {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return ""
	}
	return path[:i]
}

// ID returns the last segment of path.
func ID(path string) string {
	return path[strings.LastIndex(path, "/")+1:]
}

// Join builds a path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// Filter is an equality predicate on a top-level field.
type Filter struct {
	Field string
	Value any
}

// Query selects documents of a single collection.
type Query struct {
	Collection string
	Where      []Filter
	OrderBy    string
	Descending bool
}

// OpKind selects the write semantics of an Op.
type OpKind int

const (
	// OpSet replaces the document, creating it if missing.
	OpSet OpKind = iota
	// OpUpdate merges fields into an existing document; missing documents abort the batch.
	OpUpdate
	// OpDelete removes the document.
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpSet:
		return "set"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("op(%d)", int(k))
	}
}

// Op is one write inside a batch. Field values may be plain JSON-compatible
// values or transforms (Increment, DeleteField).
type Op struct {
	Kind   OpKind
	Path   string
	Fields map[string]any
}

// Set returns a full-document replacement op.
func Set(path string, fields map[string]any) Op {
	return Op{Kind: OpSet, Path: path, Fields: fields}
}

// Update returns a field-merge op.
func Update(path string, fields map[string]any) Op {
	return Op{Kind: OpUpdate, Path: path, Fields: fields}
}

// Delete returns a delete op.
func Delete(path string) Op {
	return Op{Kind: OpDelete, Path: path}
}

// Gateway is the remote store as seen by the console core.
type Gateway interface {
	GetDocument(ctx context.Context, path string) (Document, error)
	Query(ctx context.Context, q Query) ([]Document, error)
	// Subscribe pushes a full snapshot of q on every committed change to its
	// collection, starting with the current state. The returned cancel func
	// tears the subscription down and closes the channel.
	Subscribe(ctx context.Context, q Query) (<-chan []Document, func(), error)
	// BatchWrite applies all ops atomically.
	BatchWrite(ctx context.Context, ops []Op) error
}

// Decode converts a document's data into v via its JSON representation.
func Decode(doc Document, v any) error {
	raw, err := json.Marshal(doc.Data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", doc.Path, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", doc.Path, err)
	}
	return nil
}
