package store

import (
	"fmt"
	"regexp"
	"sort"
)

// Pattern is a read query understood by every GraphStore. Each pattern
// documents the parameters it expects and the columns of the rows it returns.
type Pattern interface {
	PatternName() string
}

// NodeLookup finds one node by natural key.
//
// Params: "id". Rows: "id", "label", "props". Zero rows if absent.
type NodeLookup struct {
	Label    string
	KeyField string
}

// NodeScan lists nodes of one label ordered by natural key.
//
// Params: "limit". Rows: "id", "label", "props".
type NodeScan struct {
	Label    string
	KeyField string
}

// AttributeMatch finds other nodes of the same label whose Attribute is
// non-null and exactly equal to the subject's value. The subject itself is
// never returned.
//
// Params: "id". Rows: "id", ordered.
type AttributeMatch struct {
	Label     string
	KeyField  string
	Attribute string
}

// Participants walks subject <-[SubjectEdge]- (via:ViaLabel) -[FarEdge]-> far
// and returns the distinct far nodes. Subject and far share Label.
//
// Params: "id". Rows: "id", ordered.
type Participants struct {
	Label       string
	KeyField    string
	ViaLabel    string
	SubjectEdge string
	FarEdge     string
}

// PairedTargets returns every (first, second) combination where the subject
// has a FirstEdge to first and a SecondEdge to second, both of TargetLabel.
//
// Params: "id". Rows: "first", "second", ordered.
type PairedTargets struct {
	Label          string
	KeyField       string
	FirstEdge      string
	SecondEdge     string
	TargetLabel    string
	TargetKeyField string
}

// Adjacent lists every edge touching the subject in either direction.
// "other_label" is "" when the far endpoint carries no known label.
//
// Params: "id". Rows: "type", "direction" ("out"|"in"), "other_label",
// "other_id", "other_props"; ordered by type, direction and other_id.
type Adjacent struct {
	Label    string
	KeyField string
}

// EdgeScan lists edges in the store's stable order (insertion order where the
// backend keeps one). When "within" is set only edges whose both endpoints
// are listed are returned, and "limit" counts those.
//
// Params: "limit", optional "within" (map[string][]string label -> ids).
// Rows: "source", "source_label", "type", "target", "target_label".
type EdgeScan struct{}

func (NodeLookup) PatternName() string     { return "node_lookup" }
func (NodeScan) PatternName() string       { return "node_scan" }
func (AttributeMatch) PatternName() string { return "attribute_match" }
func (Participants) PatternName() string   { return "participants" }
func (PairedTargets) PatternName() string  { return "paired_targets" }
func (Adjacent) PatternName() string       { return "adjacent" }
func (EdgeScan) PatternName() string       { return "edge_scan" }

// Directions reported by Adjacent.
const (
	DirectionOut = "out"
	DirectionIn  = "in"
)

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether s can be inlined into a query as a label,
// property name or relationship type.
func ValidIdentifier(s string) bool {
	return identifierRe.MatchString(s)
}

// CheckIdentifiers returns an error naming the first invalid identifier.
func CheckIdentifiers(names ...string) error {
	for _, n := range names {
		if !ValidIdentifier(n) {
			return fmt.Errorf("store: invalid identifier %q", n)
		}
	}
	return nil
}

// ParamString reads a required string parameter.
func ParamString(params map[string]any, key string) (string, error) {
	v, ok := params[key].(string)
	if !ok {
		return "", fmt.Errorf("store: missing string parameter %q", key)
	}
	return v, nil
}

// ParamLimit reads an optional non-negative limit parameter. A missing
// parameter yields -1, meaning unbounded.
func ParamLimit(params map[string]any, key string) (int, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return -1, nil
	}
	var n int
	switch v := raw.(type) {
	case int:
		n = v
	case int32:
		n = int(v)
	case int64:
		n = int(v)
	default:
		return 0, fmt.Errorf("store: parameter %q must be an integer, got %T", key, raw)
	}
	if n < 0 {
		return 0, fmt.Errorf("store: parameter %q must not be negative", key)
	}
	return n, nil
}

// ParamWithin reads the optional endpoint filter used by EdgeScan. The
// second return value is false when no filter was supplied.
func ParamWithin(params map[string]any, key string) (map[string][]string, bool, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return nil, false, nil
	}
	within, ok := raw.(map[string][]string)
	if !ok {
		return nil, false, fmt.Errorf("store: parameter %q must be map[string][]string, got %T", key, raw)
	}
	return within, true, nil
}

// SortedLabels returns the keys of within in lexical order.
func SortedLabels(within map[string][]string) []string {
	labels := make([]string, 0, len(within))
	for l := range within {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}
