package graph

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/OFFIS-RIT/linkgraph/pkg/common"
	"github.com/OFFIS-RIT/linkgraph/pkg/store/memory"
)

func TestUpsertActorIdempotentEdges(t *testing.T) {
	s := memory.New()
	g := newClient(t, s, SharedEdgesSymmetric)

	mustActor(t, g, common.Actor{ActorID: "A1", ContactAddress: common.Ptr("x@y.com"), Phone: common.Ptr("555")})
	mustActor(t, g, common.Actor{ActorID: "A2", ContactAddress: common.Ptr("x@y.com"), Phone: common.Ptr("555")})

	a2 := common.Actor{ActorID: "A2", ContactAddress: common.Ptr("x@y.com"), Phone: common.Ptr("555")}
	mustActor(t, g, a2)
	first := s.EdgeCount()
	mustActor(t, g, a2)
	if s.EdgeCount() != first {
		t.Fatalf("edge count changed from %d to %d on identical re-upsert", first, s.EdgeCount())
	}
	if first != 4 {
		t.Fatalf("expected 4 shared edges (two attributes, both directions), got %d", first)
	}
}

func TestUpsertActorReplacesAttributes(t *testing.T) {
	g := newClient(t, memory.New(), SharedEdgesSymmetric)
	ctx := context.Background()

	mustActor(t, g, common.Actor{ActorID: "A1", Name: common.Ptr("Alice"), Phone: common.Ptr("555")})
	mustActor(t, g, common.Actor{ActorID: "A1", Name: common.Ptr("Alicia")})

	view, err := g.ActorRelationships(ctx, "A1")
	if err != nil {
		t.Fatalf("ActorRelationships: %v", err)
	}
	want := common.Actor{ActorID: "A1", Name: common.Ptr("Alicia")}
	if !reflect.DeepEqual(view.Actor, want) {
		t.Fatalf("actor = %+v, want %+v", view.Actor, want)
	}
}

func TestUpsertActorInvalid(t *testing.T) {
	s := memory.New()
	g := newClient(t, s, SharedEdgesSymmetric)

	_, err := g.UpsertActor(context.Background(), common.Actor{Name: common.Ptr("nobody")})
	if !errors.Is(err, ErrInvalidEntity) {
		t.Fatalf("expected ErrInvalidEntity, got %v", err)
	}
	if Persisted(err) || KindOf(err) != KindInvalidEntity {
		t.Fatalf("invalid entity must not be reported as persisted: %v", err)
	}
}

func TestUpsertWriteFailure(t *testing.T) {
	s := newFaultStore()
	s.failMergeNode = true
	g := newClient(t, s, SharedEdgesSymmetric)

	_, err := g.UpsertActor(context.Background(), common.Actor{ActorID: "A1"})
	var we *WriteError
	if !errors.As(err, &we) {
		t.Fatalf("expected *WriteError, got %v", err)
	}
	if !errors.Is(err, ErrStoreUnavailable) || !errors.Is(err, errInjected) {
		t.Fatalf("write error should match store unavailable and the cause: %v", err)
	}
	if Persisted(err) {
		t.Fatal("write failure must report nothing persisted")
	}
	if KindOf(err) != KindStoreUnavailable {
		t.Fatalf("kind = %q", KindOf(err))
	}
	if len(s.patternsRun) != 0 {
		t.Fatalf("derivation must not run after a failed write, ran %v", s.patternsRun)
	}
}

func TestUpsertEventDanglingSender(t *testing.T) {
	s := memory.New()
	g := newClient(t, s, SharedEdgesSymmetric)
	ctx := context.Background()

	mustActor(t, g, common.Actor{ActorID: "A2"})
	_, err := g.UpsertEvent(ctx, common.Event{EventID: "E1", SenderID: "ghost", ReceiverID: "A2", Amount: common.Ptr(10.0)})

	var de *DanglingReferenceError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DanglingReferenceError, got %v", err)
	}
	if !reflect.DeepEqual(de.Missing, []string{"ghost"}) {
		t.Fatalf("missing = %v", de.Missing)
	}
	if !Persisted(err) || KindOf(err) != KindDanglingReference {
		t.Fatalf("dangling event must be persisted, kind %q", KindOf(err))
	}

	events, err := g.ListEvents(ctx, 0)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 1 || events[0].EventID != "E1" {
		t.Fatalf("events = %+v", events)
	}

	view, err := g.EventRelationships(ctx, "E1")
	if err != nil {
		t.Fatalf("EventRelationships: %v", err)
	}
	if view.Sender != nil || len(view.DirectTransactions) != 0 {
		t.Fatalf("no participation expected, got sender %v, direct %v", view.Sender, view.DirectTransactions)
	}
	if s.HasEdge("Event", "E1", "RECEIVED_BY", "Actor", "A2") {
		t.Fatal("receiver edge must be skipped when the sender is missing")
	}
}

func TestUpsertEventLinksAfterActorsArrive(t *testing.T) {
	s := memory.New()
	g := newClient(t, s, SharedEdgesSymmetric)
	ctx := context.Background()

	ev := common.Event{EventID: "E1", SenderID: "A1", ReceiverID: "A2"}
	if _, err := g.UpsertEvent(ctx, ev); !errors.Is(err, ErrDanglingReference) {
		t.Fatalf("expected dangling reference, got %v", err)
	}

	mustActor(t, g, common.Actor{ActorID: "A1"})
	mustActor(t, g, common.Actor{ActorID: "A2"})
	mustEvent(t, g, ev)

	for _, want := range [][5]string{
		{"Event", "E1", "SENT_BY", "Actor", "A1"},
		{"Event", "E1", "RECEIVED_BY", "Actor", "A2"},
		{"Actor", "A1", "CREDIT_TO", "Actor", "A2"},
		{"Actor", "A2", "DEBIT_FROM", "Actor", "A1"},
	} {
		if !s.HasEdge(want[0], want[1], want[2], want[3], want[4]) {
			t.Fatalf("missing edge %v", want)
		}
	}
}

func TestUpsertEventParticipantsImmutable(t *testing.T) {
	s := memory.New()
	g := newClient(t, s, SharedEdgesSymmetric)
	ctx := context.Background()

	for _, id := range []string{"A1", "A2", "A3"} {
		mustActor(t, g, common.Actor{ActorID: id})
	}
	mustEvent(t, g, common.Event{EventID: "E1", SenderID: "A1", ReceiverID: "A2", Amount: common.Ptr(10.0)})
	before := s.EdgeCount()

	tests := []struct {
		name  string
		event common.Event
	}{
		{"Sender", common.Event{EventID: "E1", SenderID: "A3", ReceiverID: "A2"}},
		{"Receiver", common.Event{EventID: "E1", SenderID: "A1", ReceiverID: "A3"}},
		{"Swapped", common.Event{EventID: "E1", SenderID: "A2", ReceiverID: "A1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.UpsertEvent(ctx, tt.event)
			if !errors.Is(err, ErrInvalidEntity) || KindOf(err) != KindInvalidEntity {
				t.Fatalf("expected ErrInvalidEntity, got %v", err)
			}
			if Persisted(err) {
				t.Fatal("rejected event must not be reported as persisted")
			}
			if s.EdgeCount() != before {
				t.Fatalf("edge count changed from %d to %d", before, s.EdgeCount())
			}
		})
	}

	if s.HasEdge("Event", "E1", "SENT_BY", "Actor", "A3") || s.HasEdge("Event", "E1", "RECEIVED_BY", "Actor", "A3") {
		t.Fatal("A3 must not be linked to E1")
	}
	if !s.HasEdge("Actor", "A1", "CREDIT_TO", "Actor", "A2") {
		t.Fatal("original transfer edge must remain")
	}

	view, err := g.EventRelationships(ctx, "E1")
	if err != nil {
		t.Fatalf("EventRelationships: %v", err)
	}
	if view.Event.Amount == nil || *view.Event.Amount != 10 {
		t.Fatalf("stored attributes must be untouched, amount = %v", view.Event.Amount)
	}

	// Same participants still replace the remaining attributes.
	mustEvent(t, g, common.Event{EventID: "E1", SenderID: "A1", ReceiverID: "A2", Amount: common.Ptr(20.0)})
	view, err = g.EventRelationships(ctx, "E1")
	if err != nil {
		t.Fatalf("EventRelationships: %v", err)
	}
	if view.Event.Amount == nil || *view.Event.Amount != 20 {
		t.Fatalf("amount = %v, want 20", view.Event.Amount)
	}
}

func TestUpsertEventSelfTransfer(t *testing.T) {
	s := memory.New()
	g := newClient(t, s, SharedEdgesSymmetric)

	mustActor(t, g, common.Actor{ActorID: "A1"})
	mustEvent(t, g, common.Event{EventID: "E1", SenderID: "A1", ReceiverID: "A1"})

	if !s.HasEdge("Event", "E1", "SENT_BY", "Actor", "A1") || !s.HasEdge("Event", "E1", "RECEIVED_BY", "Actor", "A1") {
		t.Fatal("participation edges expected for a self transfer")
	}
	if s.HasEdge("Actor", "A1", "CREDIT_TO", "Actor", "A1") || s.HasEdge("Actor", "A1", "DEBIT_FROM", "Actor", "A1") {
		t.Fatal("self loops must never be created")
	}
}

func TestUpsertEventParticipationFailure(t *testing.T) {
	s := newFaultStore()
	g := newClient(t, s, SharedEdgesSymmetric)
	ctx := context.Background()

	mustActor(t, g, common.Actor{ActorID: "A1"})
	mustActor(t, g, common.Actor{ActorID: "A2"})
	s.failEdgeType["SENT_BY"] = true

	_, err := g.UpsertEvent(ctx, common.Event{EventID: "E1", SenderID: "A1", ReceiverID: "A2", DeviceID: common.Ptr("d1")})
	var derr *DerivationError
	if !errors.As(err, &derr) {
		t.Fatalf("expected *DerivationError, got %v", err)
	}
	if !reflect.DeepEqual(derr.FailedSteps(), []string{"participation"}) {
		t.Fatalf("failed steps = %v", derr.FailedSteps())
	}
	if !Persisted(err) {
		t.Fatal("event must be reported as persisted")
	}
}

func TestUpsertTracing(t *testing.T) {
	tr := &recordingTracer{}
	g, err := NewGraphClient(NewGraphClientParams{Store: memory.New(), Tracer: tr})
	if err != nil {
		t.Fatalf("NewGraphClient: %v", err)
	}

	mustActor(t, g, common.Actor{ActorID: "A1"})

	steps := tr.steps(TraceEventDeriveStep)
	var names []string
	for _, s := range steps {
		names = append(names, s.Step)
	}
	want := []string{
		"shared_contact_address", "shared_phone", "shared_physical_address",
		"shared_payment_method", "credit_to", "debit_from",
	}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("steps = %v, want %v", names, want)
	}
	if ups := tr.steps(TraceEventUpsert); len(ups) != 1 || ups[0].EntityID != "A1" || ups[0].Error != "" {
		t.Fatalf("upsert events = %+v", ups)
	}
}

func TestNewGraphClientRequiresStore(t *testing.T) {
	if _, err := NewGraphClient(NewGraphClientParams{}); err == nil {
		t.Fatal("expected error without a store")
	}
}
