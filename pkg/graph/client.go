package graph

import (
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/linkgraph/pkg/store"
)

// SharedEdgeMode controls the direction of shared-attribute edges.
type SharedEdgeMode int

const (
	// SharedEdgesSymmetric merges subject->match and match->subject in the
	// same pass, so a pair is symmetric as soon as the later of the two
	// entities is written.
	SharedEdgesSymmetric SharedEdgeMode = iota
	// SharedEdgesSubjectOnly merges subject->match only. The reverse edge
	// appears once derivation runs for the match itself, so symmetry is
	// eventual.
	SharedEdgesSubjectOnly
)

// ParseSharedEdgeMode accepts "symmetric" and "subject". Empty selects
// SharedEdgesSymmetric.
func ParseSharedEdgeMode(s string) (SharedEdgeMode, error) {
	switch s {
	case "", "symmetric":
		return SharedEdgesSymmetric, nil
	case "subject":
		return SharedEdgesSubjectOnly, nil
	default:
		return 0, fmt.Errorf("unknown shared edge mode %q", s)
	}
}

const (
	// DefaultListLimit bounds raw entity listings when the caller gives none.
	DefaultListLimit = 200
	// MaxListLimit caps any listing request.
	MaxListLimit = 10000
)

// GraphClient is the entry point to the relationship graph. It upserts
// actors and events, derives relationship edges for each written entity,
// and answers point and bulk queries.
//
// All methods are safe for concurrent use; every mutation is an idempotent
// merge so independent upserts need no coordination.
//
// A GraphClient should be created using NewGraphClient.
type GraphClient struct {
	store     store.GraphStore
	edgeMode  SharedEdgeMode
	listLimit int
	limits    Limits
	trace     Tracer
}

// NewGraphClientParams defines the configuration parameters for creating
// a new GraphClient.
//
// Store is required. SharedEdges selects how shared-attribute edges are
// merged; the zero value is SharedEdgesSymmetric. DefaultListLimit and
// DefaultGraphLimits replace the package defaults when set. Tracer receives
// upsert and derivation events.
type NewGraphClientParams struct {
	Store              store.GraphStore
	SharedEdges        SharedEdgeMode
	DefaultListLimit   int
	DefaultGraphLimits *Limits
	Tracer             Tracer
}

// NewGraphClient creates and returns a new GraphClient configured with
// the provided parameters.
//
// Example:
//
//	client, err := graph.NewGraphClient(graph.NewGraphClientParams{
//		Store:  memory.New(),
//		Tracer: graph.LoggerTracer{},
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	_, err = client.UpsertActor(ctx, common.Actor{ActorID: "A1"})
//
// Returns a pointer to GraphClient and an error if the store is missing.
func NewGraphClient(params NewGraphClientParams) (*GraphClient, error) {
	if params.Store == nil {
		return nil, errors.New("graph client requires a store")
	}

	listLimit := params.DefaultListLimit
	if listLimit <= 0 {
		listLimit = DefaultListLimit
	}
	listLimit = min(listLimit, MaxListLimit)

	limits := DefaultLimits
	if params.DefaultGraphLimits != nil {
		limits = params.DefaultGraphLimits.clamp()
	}

	return &GraphClient{
		store:     params.Store,
		edgeMode:  params.SharedEdges,
		listLimit: listLimit,
		limits:    limits,
		trace:     params.Tracer,
	}, nil
}

// DefaultGraphLimits returns the configured limits callers use when a
// request leaves them unset.
func (g *GraphClient) DefaultGraphLimits() Limits {
	return g.limits
}
