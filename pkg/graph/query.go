package graph

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/linkgraph/pkg/common"
	"github.com/OFFIS-RIT/linkgraph/pkg/store"
)

// Connection is one edge adjacent to the queried entity.
type Connection struct {
	RelationshipType common.EdgeType   `json:"relationship_type"`
	Direction        string            `json:"direction"`
	NodeID           string            `json:"node_id"`
	NodeType         common.EntityKind `json:"node_type"`
	Connected        map[string]any    `json:"connected"`
}

// RelationshipView is the result of a point query.
type RelationshipView interface {
	EntityKind() common.EntityKind
	Connections() []Connection
}

// ActorRelationships groups an actor's edges by type. CreditTo and DebitFrom
// hold the actor's own outgoing aggregates; incoming ones only appear in
// AllConnections. Shared buckets list each matching actor once, whichever
// side derived the edge.
type ActorRelationships struct {
	ActorID               string       `json:"actor_id"`
	Actor                 common.Actor `json:"actor"`
	DirectTransactions    []Connection `json:"direct_transactions"`
	SharedContactAddress  []Connection `json:"shared_contact_address"`
	SharedPhone           []Connection `json:"shared_phone"`
	SharedPhysicalAddress []Connection `json:"shared_physical_address"`
	SharedPaymentMethod   []Connection `json:"shared_payment_method"`
	CreditTo              []Connection `json:"credit_to"`
	DebitFrom             []Connection `json:"debit_from"`
	AllConnections        []Connection `json:"all_connections"`
}

func (v *ActorRelationships) EntityKind() common.EntityKind { return common.KindActor }
func (v *ActorRelationships) Connections() []Connection     { return v.AllConnections }

// EventRelationships groups an event's edges. Sender and Receiver are nil
// when the participation edges were never created.
type EventRelationships struct {
	EventID            string        `json:"event_id"`
	Event              common.Event  `json:"event"`
	Sender             *common.Actor `json:"sender"`
	Receiver           *common.Actor `json:"receiver"`
	DirectTransactions []Connection  `json:"direct_transactions"`
	SharedDevice       []Connection  `json:"shared_device"`
	SharedSource       []Connection  `json:"shared_source"`
	AllConnections     []Connection  `json:"all_connections"`
}

func (v *EventRelationships) EntityKind() common.EntityKind { return common.KindEvent }
func (v *EventRelationships) Connections() []Connection     { return v.AllConnections }

// PointQuery returns every connection of one entity. It returns an error
// wrapping ErrNotFound when the entity does not exist; an isolated entity
// yields a view with empty buckets.
func (g *GraphClient) PointQuery(ctx context.Context, id string, kind common.EntityKind) (RelationshipView, error) {
	switch kind {
	case common.KindActor:
		return g.ActorRelationships(ctx, id)
	case common.KindEvent:
		return g.EventRelationships(ctx, id)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidEntity, kind)
	}
}

func (g *GraphClient) ActorRelationships(ctx context.Context, actorID string) (*ActorRelationships, error) {
	props, conns, err := g.adjacency(ctx, common.KindActor, actorID)
	if err != nil {
		return nil, err
	}

	view := &ActorRelationships{
		ActorID:               actorID,
		Actor:                 common.ActorFromProperties(props),
		DirectTransactions:    []Connection{},
		SharedContactAddress:  []Connection{},
		SharedPhone:           []Connection{},
		SharedPhysicalAddress: []Connection{},
		SharedPaymentMethod:   []Connection{},
		CreditTo:              []Connection{},
		DebitFrom:             []Connection{},
		AllConnections:        conns,
	}

	shared := map[common.EdgeType]*[]Connection{
		common.EdgeSharedContactAddress:  &view.SharedContactAddress,
		common.EdgeSharedPhone:           &view.SharedPhone,
		common.EdgeSharedPhysicalAddress: &view.SharedPhysicalAddress,
		common.EdgeSharedPaymentMethod:   &view.SharedPaymentMethod,
	}
	for _, c := range conns {
		switch c.RelationshipType {
		case common.EdgeSentBy, common.EdgeReceivedBy:
			if c.Direction == store.DirectionIn {
				view.DirectTransactions = append(view.DirectTransactions, c)
			}
		case common.EdgeCreditTo:
			if c.Direction == store.DirectionOut {
				view.CreditTo = append(view.CreditTo, c)
			}
		case common.EdgeDebitFrom:
			if c.Direction == store.DirectionOut {
				view.DebitFrom = append(view.DebitFrom, c)
			}
		default:
			if bucket, ok := shared[c.RelationshipType]; ok {
				*bucket = appendUnique(*bucket, c)
			}
		}
	}
	return view, nil
}

func (g *GraphClient) EventRelationships(ctx context.Context, eventID string) (*EventRelationships, error) {
	props, conns, err := g.adjacency(ctx, common.KindEvent, eventID)
	if err != nil {
		return nil, err
	}

	view := &EventRelationships{
		EventID:            eventID,
		Event:              common.EventFromProperties(props),
		DirectTransactions: []Connection{},
		SharedDevice:       []Connection{},
		SharedSource:       []Connection{},
		AllConnections:     conns,
	}
	for _, c := range conns {
		switch c.RelationshipType {
		case common.EdgeSentBy, common.EdgeReceivedBy:
			if c.Direction != store.DirectionOut {
				continue
			}
			view.DirectTransactions = append(view.DirectTransactions, c)
			actor := common.ActorFromProperties(c.Connected)
			if actor.ActorID == "" {
				actor.ActorID = c.NodeID
			}
			if c.RelationshipType == common.EdgeSentBy {
				view.Sender = &actor
			} else {
				view.Receiver = &actor
			}
		case common.EdgeSharedDevice:
			view.SharedDevice = appendUnique(view.SharedDevice, c)
		case common.EdgeSharedSource:
			view.SharedSource = appendUnique(view.SharedSource, c)
		}
	}
	return view, nil
}

// adjacency loads the subject's properties and every adjacent edge.
func (g *GraphClient) adjacency(ctx context.Context, kind common.EntityKind, id string) (map[string]any, []Connection, error) {
	params := map[string]any{"id": id}
	nodes, err := g.store.RunPattern(ctx, store.NodeLookup{Label: kind.Label(), KeyField: kind.KeyField()}, params)
	if err != nil {
		return nil, nil, storeFailure("point query", err)
	}
	if len(nodes) == 0 {
		return nil, nil, fmt.Errorf("%w: %s %q", ErrNotFound, kind, id)
	}

	rows, err := g.store.RunPattern(ctx, store.Adjacent{Label: kind.Label(), KeyField: kind.KeyField()}, params)
	if err != nil {
		return nil, nil, storeFailure("point query", err)
	}

	conns := make([]Connection, 0, len(rows))
	for _, r := range rows {
		connected := r.Props("other_props")
		if connected == nil {
			connected = map[string]any{}
		}
		conns = append(conns, Connection{
			RelationshipType: common.EdgeType(r.String("type")),
			Direction:        r.String("direction"),
			NodeID:           r.String("other_id"),
			NodeType:         common.KindFromLabel(r.String("other_label")),
			Connected:        connected,
		})
	}
	return nodes[0].Props("props"), conns, nil
}

func appendUnique(bucket []Connection, c Connection) []Connection {
	for _, existing := range bucket {
		if existing.NodeID == c.NodeID && existing.NodeType == c.NodeType {
			return bucket
		}
	}
	return append(bucket, c)
}
