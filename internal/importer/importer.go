// Package importer loads NDJSON datasets into the graph. Each line is one
// entity tagged with its kind:
//
//	{"kind":"actor","actor_id":"A1","phone":"555"}
//	{"kind":"event","event_id":"E1","sender_id":"A1","receiver_id":"A2","amount":10}
//
// All actors are written before any event so participation edges resolve
// regardless of line order.
package importer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/OFFIS-RIT/linkgraph/internal/metrics"
	"github.com/OFFIS-RIT/linkgraph/internal/util"
	"github.com/OFFIS-RIT/linkgraph/pkg/common"
	"github.com/OFFIS-RIT/linkgraph/pkg/graph"
	"github.com/OFFIS-RIT/linkgraph/pkg/leaselock"
	"github.com/OFFIS-RIT/linkgraph/pkg/logger"
	"github.com/OFFIS-RIT/linkgraph/pkg/store"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/sync/errgroup"
)

const (
	maxLineBytes   = 1 << 20
	maxErrorSample = 20
	chunkSize      = 1000
)

// Source opens dataset objects by key.
type Source interface {
	OpenFile(ctx context.Context, key string) (io.ReadCloser, error)
}

// Locker serializes imports of the same dataset across workers.
type Locker interface {
	WithLease(ctx context.Context, key string, opts leaselock.Options, fn func(ctx context.Context) error) error
}

// Upserter is the subset of *graph.GraphClient the importer writes through.
type Upserter interface {
	UpsertActor(ctx context.Context, actor common.Actor) (common.Actor, error)
	UpsertEvent(ctx context.Context, event common.Event) (common.Event, error)
}

type Importer struct {
	graph    Upserter
	locker   Locker
	parallel int
	retries  int
	backoff  time.Duration

	// OnPartial is called for every entity whose derivation partially failed.
	OnPartial func(ctx context.Context, kind common.EntityKind, id string)
}

type NewImporterParams struct {
	Graph    Upserter
	Locker   Locker
	Parallel int
	Retries  int
	Backoff  time.Duration
}

func NewImporter(params NewImporterParams) (*Importer, error) {
	if params.Graph == nil {
		return nil, errors.New("importer requires a graph client")
	}
	return &Importer{
		graph:    params.Graph,
		locker:   params.Locker,
		parallel: max(params.Parallel, 1),
		retries:  max(params.Retries, 1),
		backoff:  params.Backoff,
	}, nil
}

// LineError records why one dataset line was not imported.
type LineError struct {
	Line int             `json:"line"`
	Kind graph.ErrorKind `json:"kind"`
	Msg  string          `json:"message"`
}

// Result summarizes one import. Failed lines are counted, never fatal.
type Result struct {
	JobID    string      `json:"job_id"`
	Dataset  string      `json:"dataset,omitempty"`
	Actors   int         `json:"actors"`
	Events   int         `json:"events"`
	Dangling int         `json:"dangling"`
	Partial  int         `json:"partial"`
	Failed   int         `json:"failed"`
	Errors   []LineError `json:"errors"`
	Duration int64       `json:"duration_ms"`

	mu sync.Mutex
}

func (r *Result) fail(line int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Failed++
	if len(r.Errors) < maxErrorSample {
		r.Errors = append(r.Errors, LineError{Line: line, Kind: graph.KindOf(err), Msg: err.Error()})
	}
	metrics.ImportedLines.WithLabelValues("failed").Inc()
}

func (r *Result) done(kind common.EntityKind, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch kind {
	case common.KindActor:
		r.Actors++
	case common.KindEvent:
		r.Events++
	}
	if errors.Is(err, graph.ErrDanglingReference) {
		r.Dangling++
	}
	if errors.Is(err, graph.ErrPartialDerivation) {
		r.Partial++
	}
	metrics.ImportedLines.WithLabelValues("imported").Inc()
}

type actorLine struct {
	line  int
	actor common.Actor
}

type eventLine struct {
	line  int
	event common.Event
}

// ImportFile imports the object at key under a lease on that key. The
// format follows the key's extension.
func (im *Importer) ImportFile(ctx context.Context, src Source, key string) (*Result, error) {
	var res *Result
	run := func(ctx context.Context) error {
		body, err := src.OpenFile(ctx, key)
		if err != nil {
			return err
		}
		defer body.Close()
		res, err = im.ImportFormat(ctx, body, FormatForKey(key))
		if res != nil {
			res.Dataset = key
		}
		return err
	}

	if im.locker == nil {
		return res, run(ctx)
	}
	err := im.locker.WithLease(ctx, "import:"+key, leaselock.Options{TTL: time.Minute}, run)
	return res, err
}

// Import reads NDJSON from r and upserts every entity.
func (im *Importer) Import(ctx context.Context, r io.Reader) (*Result, error) {
	return im.ImportFormat(ctx, r, FormatNDJSON)
}

// ImportFormat reads a dataset in the given format and upserts every entity.
func (im *Importer) ImportFormat(ctx context.Context, r io.Reader, format Format) (*Result, error) {
	start := time.Now()
	jobID, err := gonanoid.New()
	if err != nil {
		return nil, err
	}
	res := &Result{JobID: jobID, Errors: []LineError{}}

	parse := parseNDJSON
	if format == FormatCSV {
		parse = parseCSV
	}
	actors, events, err := parse(r, res)
	if err != nil {
		return res, err
	}
	logger.Info("[Import] Parsed dataset", "job_id", jobID, "format", format, "actors", len(actors), "events", len(events), "invalid", res.Failed)

	err = store.ChunkRange(len(actors), chunkSize, func(from, to int) error {
		return im.run(ctx, len(actors[from:to]), func(ctx context.Context, i int) {
			l := actors[from+i]
			im.apply(ctx, res, l.line, common.KindActor, l.actor.ActorID, func(ctx context.Context) error {
				_, err := im.graph.UpsertActor(ctx, l.actor)
				return err
			})
		})
	})
	if err != nil {
		return res, err
	}

	err = store.ChunkRange(len(events), chunkSize, func(from, to int) error {
		return im.run(ctx, len(events[from:to]), func(ctx context.Context, i int) {
			l := events[from+i]
			im.apply(ctx, res, l.line, common.KindEvent, l.event.EventID, func(ctx context.Context) error {
				_, err := im.graph.UpsertEvent(ctx, l.event)
				return err
			})
		})
	})

	res.Duration = time.Since(start).Milliseconds()
	logger.Info("[Import] Finished", "job_id", jobID, "actors", res.Actors, "events", res.Events,
		"failed", res.Failed, "dangling", res.Dangling, "partial", res.Partial, "duration_ms", res.Duration)
	return res, err
}

func (im *Importer) run(ctx context.Context, n int, fn func(ctx context.Context, i int)) error {
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(im.parallel)
	for i := range n {
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
				fn(gCtx, i)
				return nil
			}
		})
	}
	return g.Wait()
}

// apply retries write failures; anything else is final for the line.
func (im *Importer) apply(ctx context.Context, res *Result, line int, kind common.EntityKind, id string, upsert func(context.Context) error) {
	var outcome error
	err := util.RetryErrWithContext(ctx, im.retries, im.backoff, func(ctx context.Context) error {
		outcome = upsert(ctx)
		if outcome == nil || graph.Persisted(outcome) {
			return nil
		}
		if graph.KindOf(outcome) == graph.KindStoreUnavailable {
			return outcome
		}
		return util.Permanent(outcome)
	})
	if err != nil {
		res.fail(line, err)
		return
	}
	res.done(kind, outcome)
	if errors.Is(outcome, graph.ErrPartialDerivation) && im.OnPartial != nil {
		im.OnPartial(ctx, kind, id)
	}
}

func parseNDJSON(r io.Reader, res *Result) ([]actorLine, []eventLine, error) {
	var actors []actorLine
	var events []eventLine

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}

		var head struct {
			Kind string `json:"kind"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			res.fail(line, fmt.Errorf("%w: %v", graph.ErrInvalidEntity, err))
			continue
		}

		switch common.EntityKind(head.Kind) {
		case common.KindActor:
			var a common.Actor
			if err := json.Unmarshal(raw, &a); err != nil {
				res.fail(line, fmt.Errorf("%w: %v", graph.ErrInvalidEntity, err))
				continue
			}
			actors = append(actors, actorLine{line: line, actor: sanitizeActor(a)})
		case common.KindEvent:
			var e common.Event
			if err := json.Unmarshal(raw, &e); err != nil {
				res.fail(line, fmt.Errorf("%w: %v", graph.ErrInvalidEntity, err))
				continue
			}
			events = append(events, eventLine{line: line, event: sanitizeEvent(e)})
		default:
			res.fail(line, fmt.Errorf("%w: unknown kind %q", graph.ErrInvalidEntity, head.Kind))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("read dataset at line %d: %w", line+1, err)
	}
	return actors, events, nil
}

func sanitizeActor(a common.Actor) common.Actor {
	a.ActorID = util.SanitizeText(a.ActorID)
	a.Name = util.SanitizeOptional(a.Name)
	a.ContactAddress = util.SanitizeOptional(a.ContactAddress)
	a.Phone = util.SanitizeOptional(a.Phone)
	a.PhysicalAddress = util.SanitizeOptional(a.PhysicalAddress)
	a.PaymentMethod = util.SanitizeOptional(a.PaymentMethod)
	return a
}

func sanitizeEvent(e common.Event) common.Event {
	e.EventID = util.SanitizeText(e.EventID)
	e.SenderID = util.SanitizeText(e.SenderID)
	e.ReceiverID = util.SanitizeText(e.ReceiverID)
	e.DeviceID = util.SanitizeOptional(e.DeviceID)
	e.SourceAddress = util.SanitizeOptional(e.SourceAddress)
	return e
}
