package graph

import (
	"context"

	"github.com/OFFIS-RIT/linkgraph/pkg/common"
	"github.com/OFFIS-RIT/linkgraph/pkg/store"
)

// ListActors returns up to limit actors ordered by actor_id. A non-positive
// limit selects the client's default; limits above MaxListLimit are capped.
func (g *GraphClient) ListActors(ctx context.Context, limit int) ([]common.Actor, error) {
	rows, err := g.list(ctx, common.KindActor, limit)
	if err != nil {
		return nil, err
	}
	actors := make([]common.Actor, 0, len(rows))
	for _, r := range rows {
		actors = append(actors, common.ActorFromProperties(r.Props("props")))
	}
	return actors, nil
}

// ListEvents returns up to limit events ordered by event_id.
func (g *GraphClient) ListEvents(ctx context.Context, limit int) ([]common.Event, error) {
	rows, err := g.list(ctx, common.KindEvent, limit)
	if err != nil {
		return nil, err
	}
	events := make([]common.Event, 0, len(rows))
	for _, r := range rows {
		events = append(events, common.EventFromProperties(r.Props("props")))
	}
	return events, nil
}

func (g *GraphClient) list(ctx context.Context, kind common.EntityKind, limit int) ([]store.Row, error) {
	rows, err := g.store.RunPattern(ctx, store.NodeScan{Label: kind.Label(), KeyField: kind.KeyField()},
		map[string]any{"limit": g.effectiveListLimit(limit)})
	if err != nil {
		return nil, storeFailure("list "+string(kind)+"s", err)
	}
	return rows, nil
}

func (g *GraphClient) effectiveListLimit(limit int) int {
	if limit <= 0 {
		return g.listLimit
	}
	return min(limit, MaxListLimit)
}
