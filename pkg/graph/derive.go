package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/linkgraph/pkg/common"
	"github.com/OFFIS-RIT/linkgraph/pkg/store"
)

const stepParticipationChain = "participation_chain"

// StepResult is the outcome of one derivation step.
type StepResult struct {
	Step     string
	Edges    int
	Duration time.Duration
	Err      error
}

// DerivationReport lists every step that ran for one entity. Steps are
// independent: a failed step never prevents the later ones from running.
type DerivationReport struct {
	Kind  common.EntityKind
	ID    string
	Steps []StepResult
}

// EdgesMerged sums the edges merged by all steps. Merging an existing edge
// still counts, so repeated runs report the same number.
func (r *DerivationReport) EdgesMerged() int {
	n := 0
	for _, s := range r.Steps {
		n += s.Edges
	}
	return n
}

// Err returns a *DerivationError listing the failed steps, or nil.
func (r *DerivationReport) Err() error {
	var failures []StepFailure
	for _, s := range r.Steps {
		if s.Err != nil {
			failures = append(failures, StepFailure{Step: s.Step, Err: s.Err})
		}
	}
	if len(failures) == 0 {
		return nil
	}
	return &DerivationError{Kind: r.Kind, ID: r.ID, Failures: failures}
}

// DeriveForActor re-runs relationship derivation for an existing actor:
// shared-attribute matches against every other actor plus CREDIT_TO and
// DEBIT_FROM along the actor's participation chains.
//
// Running it repeatedly leaves the edge set unchanged after the first run.
// It returns ErrNotFound when the actor does not exist.
func (g *GraphClient) DeriveForActor(ctx context.Context, actorID string) (*DerivationReport, error) {
	if err := g.requireEntity(ctx, common.KindActor, actorID); err != nil {
		return nil, err
	}
	report := g.deriveActor(ctx, actorID)
	return report, report.Err()
}

// DeriveForEvent re-runs relationship derivation for an existing event:
// shared device and source matches plus the CREDIT_TO/DEBIT_FROM pair
// between its sender and receiver.
func (g *GraphClient) DeriveForEvent(ctx context.Context, eventID string) (*DerivationReport, error) {
	if err := g.requireEntity(ctx, common.KindEvent, eventID); err != nil {
		return nil, err
	}
	report := g.deriveEvent(ctx, eventID)
	return report, report.Err()
}

// Derive dispatches to DeriveForActor or DeriveForEvent.
func (g *GraphClient) Derive(ctx context.Context, kind common.EntityKind, id string) (*DerivationReport, error) {
	switch kind {
	case common.KindActor:
		return g.DeriveForActor(ctx, id)
	case common.KindEvent:
		return g.DeriveForEvent(ctx, id)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidEntity, kind)
	}
}

func (g *GraphClient) requireEntity(ctx context.Context, kind common.EntityKind, id string) error {
	found, err := g.exists(ctx, kind, id)
	if err != nil {
		return storeFailure("derive", err)
	}
	if !found {
		return fmt.Errorf("%w: %s %q", ErrNotFound, kind, id)
	}
	return nil
}

func (g *GraphClient) deriveActor(ctx context.Context, actorID string) *DerivationReport {
	report := &DerivationReport{Kind: common.KindActor, ID: actorID}

	for _, attr := range common.ActorSharedAttributes {
		report.Steps = append(report.Steps, g.runStep(ctx, common.KindActor, actorID, stepName(attr.Edge), func() (int, error) {
			return g.deriveShared(ctx, common.KindActor, actorID, attr)
		}))
	}

	chains := []struct {
		edge      common.EdgeType
		subjectIs common.EdgeType
		farIs     common.EdgeType
	}{
		{common.EdgeCreditTo, common.EdgeSentBy, common.EdgeReceivedBy},
		{common.EdgeDebitFrom, common.EdgeReceivedBy, common.EdgeSentBy},
	}
	for _, c := range chains {
		report.Steps = append(report.Steps, g.runStep(ctx, common.KindActor, actorID, stepName(c.edge), func() (int, error) {
			return g.deriveChain(ctx, actorID, c.edge, c.subjectIs, c.farIs)
		}))
	}
	return report
}

func (g *GraphClient) deriveEvent(ctx context.Context, eventID string) *DerivationReport {
	report := &DerivationReport{Kind: common.KindEvent, ID: eventID}

	for _, attr := range common.EventSharedAttributes {
		report.Steps = append(report.Steps, g.runStep(ctx, common.KindEvent, eventID, stepName(attr.Edge), func() (int, error) {
			return g.deriveShared(ctx, common.KindEvent, eventID, attr)
		}))
	}

	report.Steps = append(report.Steps, g.runStep(ctx, common.KindEvent, eventID, stepParticipationChain, func() (int, error) {
		return g.deriveEventChain(ctx, eventID)
	}))
	return report
}

func (g *GraphClient) runStep(ctx context.Context, kind common.EntityKind, id, name string, fn func() (int, error)) StepResult {
	start := time.Now()
	edges, err := fn()
	res := StepResult{Step: name, Edges: edges, Duration: time.Since(start), Err: err}
	recordStep(g.trace, kind, id, res)
	return res
}

// deriveShared merges subject -[attr.Edge]-> match for every other node of
// the same kind with an identical non-null value. In symmetric mode the
// reverse edge is merged in the same pass.
func (g *GraphClient) deriveShared(ctx context.Context, kind common.EntityKind, id string, attr common.SharedAttribute) (int, error) {
	rows, err := g.store.RunPattern(ctx, store.AttributeMatch{
		Label:     kind.Label(),
		KeyField:  kind.KeyField(),
		Attribute: attr.Attribute,
	}, map[string]any{"id": id})
	if err != nil {
		return 0, fmt.Errorf("match %s: %w", attr.Attribute, err)
	}

	subject := nodeRef(kind, id)
	merged := 0
	var errs []error
	for _, other := range store.IDColumn(rows, "id") {
		if other == id {
			continue
		}
		target := nodeRef(kind, other)
		if err := g.store.MergeEdge(ctx, subject, string(attr.Edge), target); err != nil {
			errs = append(errs, fmt.Errorf("%s -> %s: %w", id, other, err))
			continue
		}
		merged++
		if g.edgeMode == SharedEdgesSubjectOnly {
			continue
		}
		if err := g.store.MergeEdge(ctx, target, string(attr.Edge), subject); err != nil {
			errs = append(errs, fmt.Errorf("%s -> %s: %w", other, id, err))
			continue
		}
		merged++
	}
	return merged, errors.Join(errs...)
}

// deriveChain walks actor <-[subjectIs]- event -[farIs]-> other and merges
// actor -[edge]-> other for every distinct other actor.
func (g *GraphClient) deriveChain(ctx context.Context, actorID string, edge, subjectIs, farIs common.EdgeType) (int, error) {
	rows, err := g.store.RunPattern(ctx, store.Participants{
		Label:       common.LabelActor,
		KeyField:    common.KeyActor,
		ViaLabel:    common.LabelEvent,
		SubjectEdge: string(subjectIs),
		FarEdge:     string(farIs),
	}, map[string]any{"id": actorID})
	if err != nil {
		return 0, fmt.Errorf("walk %s chain: %w", edge, err)
	}

	subject := nodeRef(common.KindActor, actorID)
	merged := 0
	var errs []error
	for _, other := range store.IDColumn(rows, "id") {
		if other == actorID {
			continue
		}
		if err := g.store.MergeEdge(ctx, subject, string(edge), nodeRef(common.KindActor, other)); err != nil {
			errs = append(errs, fmt.Errorf("%s -> %s: %w", actorID, other, err))
			continue
		}
		merged++
	}
	return merged, errors.Join(errs...)
}

// deriveEventChain merges sender -CREDIT_TO-> receiver and
// receiver -DEBIT_FROM-> sender for the event's recorded participants.
func (g *GraphClient) deriveEventChain(ctx context.Context, eventID string) (int, error) {
	rows, err := g.store.RunPattern(ctx, store.PairedTargets{
		Label:          common.LabelEvent,
		KeyField:       common.KeyEvent,
		FirstEdge:      string(common.EdgeSentBy),
		SecondEdge:     string(common.EdgeReceivedBy),
		TargetLabel:    common.LabelActor,
		TargetKeyField: common.KeyActor,
	}, map[string]any{"id": eventID})
	if err != nil {
		return 0, fmt.Errorf("find participants: %w", err)
	}

	merged := 0
	var errs []error
	for _, row := range rows {
		sender, receiver := row.String("first"), row.String("second")
		if sender == "" || receiver == "" || sender == receiver {
			continue
		}
		s, r := nodeRef(common.KindActor, sender), nodeRef(common.KindActor, receiver)
		if err := g.store.MergeEdge(ctx, s, string(common.EdgeCreditTo), r); err != nil {
			errs = append(errs, fmt.Errorf("%s CREDIT_TO %s: %w", sender, receiver, err))
		} else {
			merged++
		}
		if err := g.store.MergeEdge(ctx, r, string(common.EdgeDebitFrom), s); err != nil {
			errs = append(errs, fmt.Errorf("%s DEBIT_FROM %s: %w", receiver, sender, err))
		} else {
			merged++
		}
	}
	return merged, errors.Join(errs...)
}

func stepName(edge common.EdgeType) string {
	return strings.ToLower(string(edge))
}
