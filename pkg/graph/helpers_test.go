package graph

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/OFFIS-RIT/linkgraph/pkg/common"
	"github.com/OFFIS-RIT/linkgraph/pkg/store"
	"github.com/OFFIS-RIT/linkgraph/pkg/store/memory"
)

var errInjected = errors.New("injected store failure")

// faultStore wraps the memory store and fails selected operations.
type faultStore struct {
	*memory.Store

	mu             sync.Mutex
	failMergeNode  bool
	failAttribute  map[string]bool
	failEdgeType   map[string]bool
	failPattern    map[string]bool
	mergeEdgeCalls int
	patternsRun    []string
}

func newFaultStore() *faultStore {
	return &faultStore{
		Store:         memory.New(),
		failAttribute: map[string]bool{},
		failEdgeType:  map[string]bool{},
		failPattern:   map[string]bool{},
	}
}

func (f *faultStore) MergeNode(ctx context.Context, label, keyField, keyValue string, attributes map[string]any) error {
	f.mu.Lock()
	fail := f.failMergeNode
	f.mu.Unlock()
	if fail {
		return errInjected
	}
	return f.Store.MergeNode(ctx, label, keyField, keyValue, attributes)
}

func (f *faultStore) MergeEdge(ctx context.Context, src store.NodeRef, edgeType string, dst store.NodeRef) error {
	f.mu.Lock()
	f.mergeEdgeCalls++
	fail := f.failEdgeType[edgeType]
	f.mu.Unlock()
	if fail {
		return errInjected
	}
	return f.Store.MergeEdge(ctx, src, edgeType, dst)
}

func (f *faultStore) RunPattern(ctx context.Context, pattern store.Pattern, params map[string]any) ([]store.Row, error) {
	f.mu.Lock()
	f.patternsRun = append(f.patternsRun, pattern.PatternName())
	fail := f.failPattern[pattern.PatternName()]
	if am, ok := pattern.(store.AttributeMatch); ok && f.failAttribute[am.Attribute] {
		fail = true
	}
	f.mu.Unlock()
	if fail {
		return nil, errInjected
	}
	return f.Store.RunPattern(ctx, pattern, params)
}

type recordingTracer struct {
	mu     sync.Mutex
	events []TraceEvent
}

func (r *recordingTracer) Record(ev TraceEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingTracer) steps(kind TraceEventKind) []TraceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []TraceEvent
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func newClient(t *testing.T, s store.GraphStore, mode SharedEdgeMode) *GraphClient {
	t.Helper()
	g, err := NewGraphClient(NewGraphClientParams{Store: s, SharedEdges: mode})
	if err != nil {
		t.Fatalf("NewGraphClient: %v", err)
	}
	return g
}

func mustActor(t *testing.T, g *GraphClient, a common.Actor) {
	t.Helper()
	if _, err := g.UpsertActor(context.Background(), a); err != nil {
		t.Fatalf("UpsertActor(%s): %v", a.ActorID, err)
	}
}

func mustEvent(t *testing.T, g *GraphClient, e common.Event) {
	t.Helper()
	if _, err := g.UpsertEvent(context.Background(), e); err != nil {
		t.Fatalf("UpsertEvent(%s): %v", e.EventID, err)
	}
}

func actorIDs(conns []Connection) []string {
	ids := make([]string, 0, len(conns))
	for _, c := range conns {
		ids = append(ids, c.NodeID)
	}
	return ids
}
