package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/linkgraph/pkg/common"
	"github.com/OFFIS-RIT/linkgraph/pkg/store"
)

const stepParticipation = "participation"

// UpsertActor writes the actor by actor_id, replacing all attributes, and
// then derives its relationships.
//
// The returned error is nil, a *WriteError or invalid-entity error (nothing
// persisted), or a *DerivationError (actor persisted, some edges missing).
func (g *GraphClient) UpsertActor(ctx context.Context, actor common.Actor) (out common.Actor, err error) {
	start := time.Now()
	defer func() {
		recordUpsert(g.trace, common.KindActor, actor.ActorID, time.Since(start).Milliseconds(), err)
	}()

	actor.Normalize()
	if err := actor.Validate(); err != nil {
		return common.Actor{}, invalidEntity(common.KindActor, err)
	}

	if err := g.store.MergeNode(ctx, common.LabelActor, common.KeyActor, actor.ActorID, actor.Properties()); err != nil {
		return common.Actor{}, &WriteError{Kind: common.KindActor, ID: actor.ActorID, Err: err}
	}

	report := g.deriveActor(ctx, actor.ActorID)
	return actor, report.Err()
}

// UpsertEvent writes the event by event_id, replacing all attributes, links
// it to its sender and receiver when both actors exist, and then derives
// its relationships.
//
// Besides the errors of UpsertActor it may return a *DanglingReferenceError
// (possibly joined with a *DerivationError) when participation was skipped.
// In that case the event is persisted and a later upsert retries the links.
//
// Sender and receiver are immutable: re-upserting an existing event with
// different participants is rejected before anything is written.
func (g *GraphClient) UpsertEvent(ctx context.Context, event common.Event) (out common.Event, err error) {
	start := time.Now()
	defer func() {
		recordUpsert(g.trace, common.KindEvent, event.EventID, time.Since(start).Milliseconds(), err)
	}()

	event.Normalize()
	if err := event.Validate(); err != nil {
		return common.Event{}, invalidEntity(common.KindEvent, err)
	}
	if err := g.checkParticipants(ctx, event); err != nil {
		return common.Event{}, err
	}

	if err := g.store.MergeNode(ctx, common.LabelEvent, common.KeyEvent, event.EventID, event.Properties()); err != nil {
		return common.Event{}, &WriteError{Kind: common.KindEvent, ID: event.EventID, Err: err}
	}

	stepStart := time.Now()
	edges, missing, linkErr := g.linkParticipants(ctx, event)
	participation := StepResult{Step: stepParticipation, Edges: edges, Duration: time.Since(stepStart), Err: linkErr}
	recordStep(g.trace, common.KindEvent, event.EventID, participation)

	var dangling error
	if len(missing) > 0 {
		recordDangling(g.trace, event.EventID, missing)
		dangling = &DanglingReferenceError{EventID: event.EventID, Missing: missing}
	}

	report := g.deriveEvent(ctx, event.EventID)
	report.Steps = append([]StepResult{participation}, report.Steps...)

	return event, errors.Join(dangling, report.Err())
}

// checkParticipants rejects a change of sender or receiver on a stored
// event. Edges derived from the old participants would otherwise remain.
func (g *GraphClient) checkParticipants(ctx context.Context, event common.Event) error {
	rows, err := g.store.RunPattern(ctx, store.NodeLookup{Label: common.LabelEvent, KeyField: common.KeyEvent},
		map[string]any{"id": event.EventID})
	if err != nil {
		return &WriteError{Kind: common.KindEvent, ID: event.EventID, Err: fmt.Errorf("lookup event: %w", err)}
	}
	if len(rows) == 0 {
		return nil
	}
	stored := common.EventFromProperties(rows[0].Props("props"))
	if stored.SenderID != event.SenderID || stored.ReceiverID != event.ReceiverID {
		return invalidEntity(common.KindEvent, fmt.Errorf(
			"participants of event %q are immutable (stored %s -> %s, got %s -> %s)",
			event.EventID, stored.SenderID, stored.ReceiverID, event.SenderID, event.ReceiverID))
	}
	return nil
}

// linkParticipants merges SENT_BY and RECEIVED_BY only when both actors
// exist. Missing actor ids are returned, not treated as failures.
func (g *GraphClient) linkParticipants(ctx context.Context, event common.Event) (int, []string, error) {
	var missing []string
	for _, id := range uniqueIDs(event.SenderID, event.ReceiverID) {
		found, err := g.exists(ctx, common.KindActor, id)
		if err != nil {
			return 0, nil, err
		}
		if !found {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return 0, missing, nil
	}

	src := nodeRef(common.KindEvent, event.EventID)
	links := []struct {
		edge  common.EdgeType
		actor string
	}{
		{common.EdgeSentBy, event.SenderID},
		{common.EdgeReceivedBy, event.ReceiverID},
	}

	merged := 0
	for _, l := range links {
		err := g.store.MergeEdge(ctx, src, string(l.edge), nodeRef(common.KindActor, l.actor))
		if errors.Is(err, store.ErrNodeNotFound) {
			missing = append(missing, l.actor)
			continue
		}
		if err != nil {
			return merged, missing, fmt.Errorf("merge %s: %w", l.edge, err)
		}
		merged++
	}
	return merged, missing, nil
}

func (g *GraphClient) exists(ctx context.Context, kind common.EntityKind, id string) (bool, error) {
	rows, err := g.store.RunPattern(ctx, store.NodeLookup{Label: kind.Label(), KeyField: kind.KeyField()},
		map[string]any{"id": id})
	if err != nil {
		return false, fmt.Errorf("lookup %s %q: %w", kind, id, err)
	}
	return len(rows) > 0, nil
}

func nodeRef(kind common.EntityKind, id string) store.NodeRef {
	return store.NodeRef{Label: kind.Label(), KeyField: kind.KeyField(), ID: id}
}

func uniqueIDs(ids ...string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		dup := false
		for _, o := range out {
			if o == id {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, id)
		}
	}
	return out
}
