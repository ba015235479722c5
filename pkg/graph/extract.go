package graph

import (
	"context"
	"encoding/json"
	"maps"
	"time"

	"github.com/OFFIS-RIT/linkgraph/pkg/common"
	"github.com/OFFIS-RIT/linkgraph/pkg/store"
)

// Limits bound a bulk extraction. Each count applies independently.
// Negative values are treated as zero.
type Limits struct {
	Actors int `json:"actors"`
	Events int `json:"events"`
	Edges  int `json:"edges"`
}

// DefaultLimits keeps a visualization payload to a few hundred nodes.
var DefaultLimits = Limits{Actors: 200, Events: 500, Edges: 2000}

func (l Limits) clamp() Limits {
	return Limits{Actors: max(l.Actors, 0), Events: max(l.Events, 0), Edges: max(l.Edges, 0)}
}

// GraphNode is one node of an extraction. Label is the display label: the
// actor's name (or id) or the event's amount.
type GraphNode struct {
	ID         string
	Label      string
	Type       common.EntityKind
	Properties map[string]any
}

// MarshalJSON renders the node as {"data": {...properties, id, label, type}}.
func (n GraphNode) MarshalJSON() ([]byte, error) {
	data := make(map[string]any, len(n.Properties)+3)
	maps.Copy(data, n.Properties)
	data["id"] = n.ID
	data["label"] = n.Label
	data["type"] = n.Type
	return json.Marshal(map[string]any{"data": data})
}

// GraphEdge is one edge of an extraction. ID is "<source>-<type>-<target>",
// stable across extractions.
type GraphEdge struct {
	ID         string
	Source     string
	SourceType common.EntityKind
	Target     string
	TargetType common.EntityKind
	Type       common.EdgeType
}

func (e GraphEdge) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{"data": map[string]any{
		"id":     e.ID,
		"source": e.Source,
		"target": e.Target,
		"type":   e.Type,
		"label":  e.Type,
	}})
}

// GraphData is a bulk extraction. Every edge's endpoints are in Nodes.
type GraphData struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// EdgeID returns the deterministic identity of an edge.
func EdgeID(source string, edgeType common.EdgeType, target string) string {
	return source + "-" + string(edgeType) + "-" + target
}

type nodeKey struct {
	kind common.EntityKind
	id   string
}

// ExtractGraph returns up to limits.Actors actors and limits.Events events
// ordered by id, and up to limits.Edges edges between them. Edges are taken
// first-come-first-served in the store's stable edge order; an edge touching
// a node outside the returned set is never emitted.
func (g *GraphClient) ExtractGraph(ctx context.Context, limits Limits) (*GraphData, error) {
	start := time.Now()
	limits = limits.clamp()

	data := &GraphData{Nodes: []GraphNode{}, Edges: []GraphEdge{}}
	present := make(map[nodeKey]struct{})
	within := map[string][]string{}

	for _, part := range []struct {
		kind  common.EntityKind
		limit int
	}{
		{common.KindActor, limits.Actors},
		{common.KindEvent, limits.Events},
	} {
		nodes, err := g.scan(ctx, part.kind, part.limit)
		if err != nil {
			return nil, storeFailure("extract graph", err)
		}
		ids := make([]string, 0, len(nodes))
		for _, n := range nodes {
			present[nodeKey{n.Type, n.ID}] = struct{}{}
			ids = append(ids, n.ID)
		}
		within[part.kind.Label()] = ids
		data.Nodes = append(data.Nodes, nodes...)
	}

	if limits.Edges > 0 && len(present) > 0 {
		rows, err := g.store.RunPattern(ctx, store.EdgeScan{}, map[string]any{
			"limit":  limits.Edges,
			"within": within,
		})
		if err != nil {
			return nil, storeFailure("extract graph", err)
		}

		seen := make(map[string]struct{}, len(rows))
		for _, r := range rows {
			e := GraphEdge{
				Source:     r.String("source"),
				SourceType: common.KindFromLabel(r.String("source_label")),
				Target:     r.String("target"),
				TargetType: common.KindFromLabel(r.String("target_label")),
				Type:       common.EdgeType(r.String("type")),
			}
			if _, ok := present[nodeKey{e.SourceType, e.Source}]; !ok {
				continue
			}
			if _, ok := present[nodeKey{e.TargetType, e.Target}]; !ok {
				continue
			}
			e.ID = EdgeID(e.Source, e.Type, e.Target)
			key := string(e.SourceType) + "|" + string(e.TargetType) + "|" + e.ID
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			data.Edges = append(data.Edges, e)
			if len(data.Edges) == limits.Edges {
				break
			}
		}
	}

	recordExtract(g.trace, len(data.Nodes), len(data.Edges), time.Since(start).Milliseconds())
	return data, nil
}

func (g *GraphClient) scan(ctx context.Context, kind common.EntityKind, limit int) ([]GraphNode, error) {
	if limit == 0 {
		return nil, nil
	}
	rows, err := g.store.RunPattern(ctx, store.NodeScan{Label: kind.Label(), KeyField: kind.KeyField()},
		map[string]any{"limit": limit})
	if err != nil {
		return nil, err
	}

	nodes := make([]GraphNode, 0, len(rows))
	for _, r := range rows {
		props := r.Props("props")
		n := GraphNode{ID: r.String("id"), Type: kind, Properties: props}
		switch kind {
		case common.KindActor:
			n.Label = common.ActorFromProperties(props).DisplayName()
		case common.KindEvent:
			n.Label = common.EventFromProperties(props).DisplayLabel()
		}
		if n.Label == "" {
			n.Label = n.ID
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}
