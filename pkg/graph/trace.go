package graph

import (
	"github.com/OFFIS-RIT/linkgraph/pkg/common"
	"github.com/OFFIS-RIT/linkgraph/pkg/logger"
)

type TraceEventKind string

const (
	TraceEventUpsert            TraceEventKind = "upsert"
	TraceEventDeriveStep        TraceEventKind = "derive_step"
	TraceEventDanglingReference TraceEventKind = "dangling_reference"
	TraceEventExtract           TraceEventKind = "extract"
)

// TraceEvent is an extensible event envelope for graph operations.
// Additive changes to this struct are backward compatible for implementers.
type TraceEvent struct {
	Kind TraceEventKind

	EntityKind common.EntityKind
	EntityID   string

	Step       string
	Edges      int
	Nodes      int
	MissingIDs []string

	DurationMs int64
	Error      string
}

// Tracer is a sink for graph trace events.
//
// Record is called synchronously from upsert and derivation paths, so
// implementations should not block.
type Tracer interface {
	Record(event TraceEvent)
}

// MultiTracer fan-outs trace events to multiple tracers.
type MultiTracer []Tracer

func (m MultiTracer) Record(event TraceEvent) {
	for _, t := range m {
		if t == nil {
			continue
		}
		t.Record(event)
	}
}

// LoggerTracer writes trace events to the process logger. Successful steps
// are logged at debug level.
type LoggerTracer struct{}

func (LoggerTracer) Record(event TraceEvent) {
	keyvals := []any{
		"kind", event.EntityKind,
		"id", event.EntityID,
		"duration_ms", event.DurationMs,
	}
	switch event.Kind {
	case TraceEventDeriveStep:
		keyvals = append(keyvals, "step", event.Step, "edges", event.Edges)
		if event.Error != "" {
			logger.Warn("[Derive] step failed", append(keyvals, "err", event.Error)...)
			return
		}
		logger.Debug("[Derive] step done", keyvals...)
	case TraceEventDanglingReference:
		logger.Warn("[Upsert] participation skipped", append(keyvals, "missing", event.MissingIDs)...)
	case TraceEventUpsert:
		if event.Error != "" {
			logger.Warn("[Upsert] failed", append(keyvals, "err", event.Error)...)
			return
		}
		logger.Debug("[Upsert] done", keyvals...)
	case TraceEventExtract:
		logger.Debug("[Graph] extracted", "nodes", event.Nodes, "edges", event.Edges, "duration_ms", event.DurationMs)
	}
}

func recordStep(t Tracer, kind common.EntityKind, id string, step StepResult) {
	if t == nil {
		return
	}
	ev := TraceEvent{
		Kind:       TraceEventDeriveStep,
		EntityKind: kind,
		EntityID:   id,
		Step:       step.Step,
		Edges:      step.Edges,
		DurationMs: step.Duration.Milliseconds(),
	}
	if step.Err != nil {
		ev.Error = step.Err.Error()
	}
	t.Record(ev)
}

func recordDangling(t Tracer, eventID string, missing []string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{
		Kind:       TraceEventDanglingReference,
		EntityKind: common.KindEvent,
		EntityID:   eventID,
		MissingIDs: missing,
	})
}

func recordUpsert(t Tracer, kind common.EntityKind, id string, durationMs int64, err error) {
	if t == nil {
		return
	}
	ev := TraceEvent{Kind: TraceEventUpsert, EntityKind: kind, EntityID: id, DurationMs: durationMs}
	if err != nil {
		ev.Error = err.Error()
	}
	t.Record(ev)
}

func recordExtract(t Tracer, nodes, edges int, durationMs int64) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventExtract, Nodes: nodes, Edges: edges, DurationMs: durationMs})
}
