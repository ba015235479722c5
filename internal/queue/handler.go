package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/linkgraph/internal/importer"
	"github.com/OFFIS-RIT/linkgraph/pkg/common"
	"github.com/OFFIS-RIT/linkgraph/pkg/graph"
	"github.com/OFFIS-RIT/linkgraph/pkg/leaselock"
	"github.com/OFFIS-RIT/linkgraph/pkg/logger"
)

// IngestMsg carries exactly one entity to upsert.
type IngestMsg struct {
	Kind  common.EntityKind `json:"kind"`
	Actor *common.Actor     `json:"actor,omitempty"`
	Event *common.Event     `json:"event,omitempty"`
}

// DeriveMsg asks for derivation to be re-run for one entity.
type DeriveMsg struct {
	Kind common.EntityKind `json:"kind"`
	ID   string            `json:"id"`
}

// ImportMsg names a dataset object to import.
type ImportMsg struct {
	Key string `json:"key"`
}

// Graph is the part of *graph.GraphClient the handlers use.
type Graph interface {
	UpsertActor(ctx context.Context, actor common.Actor) (common.Actor, error)
	UpsertEvent(ctx context.Context, event common.Event) (common.Event, error)
	Derive(ctx context.Context, kind common.EntityKind, id string) (*graph.DerivationReport, error)
}

type Handler struct {
	Graph     Graph
	Importer  *importer.Importer
	Source    importer.Source
	Publisher Publisher
}

// Process handles one delivery. A returned error sends the message to the
// retry queue.
func (h *Handler) Process(ctx context.Context, queueName string, body []byte) error {
	switch queueName {
	case IngestQueue:
		return h.processIngest(ctx, body)
	case DeriveQueue:
		return h.processDerive(ctx, body)
	case ImportQueue:
		return h.processImport(ctx, body)
	default:
		return fmt.Errorf("unknown queue %q", queueName)
	}
}

func (h *Handler) processIngest(ctx context.Context, body []byte) error {
	var msg IngestMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		logger.Error("[Queue] Dropping malformed ingest message", "err", err)
		return nil
	}

	var id string
	var err error
	switch {
	case msg.Kind == common.KindActor && msg.Actor != nil:
		id = msg.Actor.ActorID
		_, err = h.Graph.UpsertActor(ctx, *msg.Actor)
	case msg.Kind == common.KindEvent && msg.Event != nil:
		id = msg.Event.EventID
		_, err = h.Graph.UpsertEvent(ctx, *msg.Event)
	default:
		logger.Error("[Queue] Dropping ingest message without a matching entity", "kind", msg.Kind)
		return nil
	}

	switch graph.KindOf(err) {
	case "":
		return nil
	case graph.KindInvalidEntity:
		logger.Error("[Queue] Dropping invalid entity", "kind", msg.Kind, "id", id, "err", err)
		return nil
	case graph.KindStoreUnavailable:
		return err
	}
	if !graph.Persisted(err) {
		return err
	}

	if errors.Is(err, graph.ErrDanglingReference) {
		logger.Warn("[Queue] Event stored without participants", "id", id, "err", err)
	}
	if errors.Is(err, graph.ErrPartialDerivation) {
		return h.requestDerive(ctx, msg.Kind, id)
	}
	return nil
}

func (h *Handler) requestDerive(ctx context.Context, kind common.EntityKind, id string) error {
	if h.Publisher == nil {
		return nil
	}
	data, err := json.Marshal(DeriveMsg{Kind: kind, ID: id})
	if err != nil {
		return err
	}
	logger.Info("[Queue] Scheduling re-derivation", "kind", kind, "id", id)
	return h.Publisher.PublishFIFO(ctx, DeriveQueue, data)
}

// RequestDerive matches importer.Importer.OnPartial.
func (h *Handler) RequestDerive(ctx context.Context, kind common.EntityKind, id string) {
	if err := h.requestDerive(ctx, kind, id); err != nil {
		logger.Error("[Queue] Failed to schedule re-derivation", "kind", kind, "id", id, "err", err)
	}
}

func (h *Handler) processDerive(ctx context.Context, body []byte) error {
	var msg DeriveMsg
	if err := json.Unmarshal(body, &msg); err != nil || msg.ID == "" {
		logger.Error("[Queue] Dropping malformed derive message", "err", err)
		return nil
	}

	report, err := h.Graph.Derive(ctx, msg.Kind, msg.ID)
	switch graph.KindOf(err) {
	case "":
		logger.Info("[Queue] Re-derived", "kind", msg.Kind, "id", msg.ID, "edges", report.EdgesMerged())
		return nil
	case graph.KindNotFound, graph.KindInvalidEntity:
		logger.Warn("[Queue] Dropping derive request", "kind", msg.Kind, "id", msg.ID, "err", err)
		return nil
	default:
		return err
	}
}

func (h *Handler) processImport(ctx context.Context, body []byte) error {
	var msg ImportMsg
	if err := json.Unmarshal(body, &msg); err != nil || msg.Key == "" {
		logger.Error("[Queue] Dropping malformed import message", "err", err)
		return nil
	}
	if h.Importer == nil || h.Source == nil {
		return errors.New("dataset import is not configured")
	}

	res, err := h.Importer.ImportFile(ctx, h.Source, msg.Key)
	if errors.Is(err, leaselock.ErrBusy) {
		logger.Info("[Queue] Dataset is already being imported", "key", msg.Key)
		return nil
	}
	if err != nil {
		return err
	}
	logger.Info("[Queue] Imported dataset", "key", msg.Key, "job_id", res.JobID, "failed", res.Failed)
	return nil
}
