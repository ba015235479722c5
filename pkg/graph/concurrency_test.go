package graph

import (
	"context"
	"fmt"
	"testing"

	"github.com/OFFIS-RIT/linkgraph/pkg/common"
	"github.com/OFFIS-RIT/linkgraph/pkg/store"
	"github.com/OFFIS-RIT/linkgraph/pkg/store/memory"

	"golang.org/x/sync/errgroup"
)

func TestConcurrentUpsertsConverge(t *testing.T) {
	const n = 12
	s := memory.New()
	g := newClient(t, s, SharedEdgesSymmetric)
	ctx := context.Background()

	actorID := func(i int) string { return fmt.Sprintf("A%02d", i) }

	var eg errgroup.Group
	for i := 0; i < n; i++ {
		eg.Go(func() error {
			_, err := g.UpsertActor(ctx, common.Actor{ActorID: actorID(i), Phone: common.Ptr("555")})
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		t.Fatalf("UpsertActor: %v", err)
	}

	for i := 0; i < n; i++ {
		eg.Go(func() error {
			_, err := g.UpsertEvent(ctx, common.Event{
				EventID:    fmt.Sprintf("E%02d", i),
				SenderID:   actorID(i),
				ReceiverID: actorID((i + 1) % n),
			})
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		t.Fatalf("UpsertEvent: %v", err)
	}

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i != j && !s.HasEdge("Actor", actorID(i), "SHARED_PHONE", "Actor", actorID(j)) {
				t.Fatalf("missing SHARED_PHONE %s -> %s", actorID(i), actorID(j))
			}
		}
	}

	// Shared phone in both directions, two participation edges and one
	// CREDIT_TO/DEBIT_FROM pair per event.
	want := n*(n-1) + 4*n
	assertUniqueEdges(t, s, want)

	for i := 0; i < n; i++ {
		eg.Go(func() error {
			_, err := g.DeriveForActor(ctx, actorID(i))
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		t.Fatalf("DeriveForActor: %v", err)
	}
	assertUniqueEdges(t, s, want)
}

func assertUniqueEdges(t *testing.T, s *memory.Store, want int) {
	t.Helper()
	rows, err := s.RunPattern(context.Background(), store.EdgeScan{}, map[string]any{})
	if err != nil {
		t.Fatalf("EdgeScan: %v", err)
	}
	seen := make(map[string]bool, len(rows))
	for _, r := range rows {
		key := r.String("source") + "|" + r.String("type") + "|" + r.String("target")
		if seen[key] {
			t.Fatalf("duplicate edge %s", key)
		}
		seen[key] = true
	}
	if len(rows) != want || s.EdgeCount() != want {
		t.Fatalf("edges = %d (count %d), want %d", len(rows), s.EdgeCount(), want)
	}
}
