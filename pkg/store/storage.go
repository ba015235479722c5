package store

import (
	"context"
	"errors"
	"time"
)

// ErrNodeNotFound is returned by MergeEdge when either endpoint is missing.
var ErrNodeNotFound = errors.New("store: edge endpoint not found")

// NodeRef addresses a node by label and natural key.
type NodeRef struct {
	Label    string
	KeyField string
	ID       string
}

// GraphStore defines the primitives the graph services issue against a
// property-graph backend. Implementations must make MergeNode and MergeEdge
// idempotent and safe for concurrent use.
//
// MergeNode upserts a node by natural key and replaces its full attribute set.
// MergeEdge creates the (src, edgeType, dst) edge unless it already exists.
// RunPattern executes one of the read patterns declared in this package.
type GraphStore interface {
	MergeNode(ctx context.Context, label, keyField, keyValue string, attributes map[string]any) error
	MergeEdge(ctx context.Context, src NodeRef, edgeType string, dst NodeRef) error
	RunPattern(ctx context.Context, pattern Pattern, params map[string]any) ([]Row, error)
	Close(ctx context.Context) error
}

// Row is one result record of a pattern, keyed by column name.
type Row map[string]any

// String returns the column as a string, or "" when absent.
func (r Row) String(key string) string {
	if s, ok := r[key].(string); ok {
		return s
	}
	return ""
}

// Props returns the column as a property bag, or nil when absent.
func (r Row) Props(key string) map[string]any {
	if m, ok := r[key].(map[string]any); ok {
		return m
	}
	return nil
}

// QueryObserver is notified after every primitive an adapter executes. op is
// "merge_node", "merge_edge" or a pattern name.
type QueryObserver func(backend, op string, took time.Duration, err error)
