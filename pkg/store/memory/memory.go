package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"sort"
	"sync"

	"github.com/OFFIS-RIT/linkgraph/pkg/store"
)

var ErrClosed = errors.New("memory store: closed")

type nodeKey struct {
	label string
	id    string
}

type edge struct {
	src      nodeKey
	edgeType string
	dst      nodeKey
}

// Store is an in-process GraphStore. Edges keep their insertion order so
// EdgeScan is stable across calls.
type Store struct {
	mu     sync.RWMutex
	nodes  map[nodeKey]map[string]any
	edges  []edge
	seen   map[edge]struct{}
	closed bool
}

func New() *Store {
	return &Store{
		nodes: make(map[nodeKey]map[string]any),
		seen:  make(map[edge]struct{}),
	}
}

func (s *Store) MergeNode(ctx context.Context, label, keyField, keyValue string, attributes map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if label == "" || keyValue == "" {
		return fmt.Errorf("memory store: label and key are required")
	}

	props := make(map[string]any, len(attributes)+1)
	for k, v := range attributes {
		if v != nil {
			props[k] = v
		}
	}
	props[keyField] = keyValue

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.nodes[nodeKey{label, keyValue}] = props
	return nil
}

func (s *Store) MergeEdge(ctx context.Context, src store.NodeRef, edgeType string, dst store.NodeRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e := edge{
		src:      nodeKey{src.Label, src.ID},
		edgeType: edgeType,
		dst:      nodeKey{dst.Label, dst.ID},
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.nodes[e.src]; !ok {
		return fmt.Errorf("%w: %s %q", store.ErrNodeNotFound, src.Label, src.ID)
	}
	if _, ok := s.nodes[e.dst]; !ok {
		return fmt.Errorf("%w: %s %q", store.ErrNodeNotFound, dst.Label, dst.ID)
	}
	if _, ok := s.seen[e]; ok {
		return nil
	}
	s.seen[e] = struct{}{}
	s.edges = append(s.edges, e)
	return nil
}

func (s *Store) RunPattern(ctx context.Context, pattern store.Pattern, params map[string]any) ([]store.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	switch p := pattern.(type) {
	case store.NodeLookup:
		return s.nodeLookup(p, params)
	case store.NodeScan:
		return s.nodeScan(p, params)
	case store.AttributeMatch:
		return s.attributeMatch(p, params)
	case store.Participants:
		return s.participants(p, params)
	case store.PairedTargets:
		return s.pairedTargets(p, params)
	case store.Adjacent:
		return s.adjacent(p, params)
	case store.EdgeScan:
		return s.edgeScan(params)
	default:
		return nil, fmt.Errorf("memory store: unsupported pattern %T", pattern)
	}
}

func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// EdgeCount returns the number of stored edges.
func (s *Store) EdgeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.edges)
}

// HasEdge reports whether the exact (src, type, dst) edge exists.
func (s *Store) HasEdge(srcLabel, srcID, edgeType, dstLabel, dstID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seen[edge{nodeKey{srcLabel, srcID}, edgeType, nodeKey{dstLabel, dstID}}]
	return ok
}

func (s *Store) nodeLookup(p store.NodeLookup, params map[string]any) ([]store.Row, error) {
	id, err := store.ParamString(params, "id")
	if err != nil {
		return nil, err
	}
	props, ok := s.nodes[nodeKey{p.Label, id}]
	if !ok {
		return nil, nil
	}
	return []store.Row{{"id": id, "label": p.Label, "props": maps.Clone(props)}}, nil
}

func (s *Store) nodeScan(p store.NodeScan, params map[string]any) ([]store.Row, error) {
	limit, err := store.ParamLimit(params, "limit")
	if err != nil {
		return nil, err
	}
	ids := s.idsOf(p.Label)
	if limit >= 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	rows := make([]store.Row, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, store.Row{
			"id":    id,
			"label": p.Label,
			"props": maps.Clone(s.nodes[nodeKey{p.Label, id}]),
		})
	}
	return rows, nil
}

func (s *Store) attributeMatch(p store.AttributeMatch, params map[string]any) ([]store.Row, error) {
	id, err := store.ParamString(params, "id")
	if err != nil {
		return nil, err
	}
	subject, ok := s.nodes[nodeKey{p.Label, id}]
	if !ok {
		return nil, nil
	}
	want, ok := subject[p.Attribute]
	if !ok || want == nil {
		return nil, nil
	}

	var rows []store.Row
	for _, other := range s.idsOf(p.Label) {
		if other == id {
			continue
		}
		got, ok := s.nodes[nodeKey{p.Label, other}][p.Attribute]
		if ok && valuesEqual(got, want) {
			rows = append(rows, store.Row{"id": other})
		}
	}
	return rows, nil
}

func (s *Store) participants(p store.Participants, params map[string]any) ([]store.Row, error) {
	id, err := store.ParamString(params, "id")
	if err != nil {
		return nil, err
	}
	subject := nodeKey{p.Label, id}

	via := make(map[nodeKey]struct{})
	for _, e := range s.edges {
		if e.dst == subject && e.edgeType == p.SubjectEdge && e.src.label == p.ViaLabel {
			via[e.src] = struct{}{}
		}
	}

	far := make(map[string]struct{})
	for _, e := range s.edges {
		if _, ok := via[e.src]; ok && e.edgeType == p.FarEdge && e.dst.label == p.Label {
			far[e.dst.id] = struct{}{}
		}
	}
	return idRows(far), nil
}

func (s *Store) pairedTargets(p store.PairedTargets, params map[string]any) ([]store.Row, error) {
	id, err := store.ParamString(params, "id")
	if err != nil {
		return nil, err
	}
	subject := nodeKey{p.Label, id}

	var firsts, seconds []string
	for _, e := range s.edges {
		if e.src != subject || e.dst.label != p.TargetLabel {
			continue
		}
		switch e.edgeType {
		case p.FirstEdge:
			firsts = append(firsts, e.dst.id)
		case p.SecondEdge:
			seconds = append(seconds, e.dst.id)
		}
	}
	sort.Strings(firsts)
	sort.Strings(seconds)

	var rows []store.Row
	for _, f := range firsts {
		for _, sec := range seconds {
			rows = append(rows, store.Row{"first": f, "second": sec})
		}
	}
	return rows, nil
}

func (s *Store) adjacent(p store.Adjacent, params map[string]any) ([]store.Row, error) {
	id, err := store.ParamString(params, "id")
	if err != nil {
		return nil, err
	}
	subject := nodeKey{p.Label, id}

	var rows []store.Row
	for _, e := range s.edges {
		var other nodeKey
		var direction string
		switch subject {
		case e.src:
			other, direction = e.dst, store.DirectionOut
		case e.dst:
			other, direction = e.src, store.DirectionIn
		default:
			continue
		}
		rows = append(rows, store.Row{
			"type":        e.edgeType,
			"direction":   direction,
			"other_label": other.label,
			"other_id":    other.id,
			"other_props": maps.Clone(s.nodes[other]),
		})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.String("type") != b.String("type") {
			return a.String("type") < b.String("type")
		}
		if a.String("direction") != b.String("direction") {
			return a.String("direction") > b.String("direction")
		}
		return a.String("other_id") < b.String("other_id")
	})
	return rows, nil
}

func (s *Store) edgeScan(params map[string]any) ([]store.Row, error) {
	limit, err := store.ParamLimit(params, "limit")
	if err != nil {
		return nil, err
	}
	within, filtered, err := store.ParamWithin(params, "within")
	if err != nil {
		return nil, err
	}

	var allowed map[nodeKey]struct{}
	if filtered {
		allowed = make(map[nodeKey]struct{})
		for label, ids := range within {
			for _, id := range ids {
				allowed[nodeKey{label, id}] = struct{}{}
			}
		}
	}

	var rows []store.Row
	for _, e := range s.edges {
		if limit >= 0 && len(rows) >= limit {
			break
		}
		if filtered {
			_, srcOK := allowed[e.src]
			_, dstOK := allowed[e.dst]
			if !srcOK || !dstOK {
				continue
			}
		}
		rows = append(rows, store.Row{
			"source":       e.src.id,
			"source_label": e.src.label,
			"type":         e.edgeType,
			"target":       e.dst.id,
			"target_label": e.dst.label,
		})
	}
	return rows, nil
}

func (s *Store) idsOf(label string) []string {
	var ids []string
	for k := range s.nodes {
		if k.label == label {
			ids = append(ids, k.id)
		}
	}
	sort.Strings(ids)
	return ids
}

func idRows(set map[string]struct{}) []store.Row {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	rows := make([]store.Row, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, store.Row{"id": id})
	}
	return rows
}

func valuesEqual(a, b any) bool {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	default:
		return reflect.DeepEqual(a, b)
	}
}
