package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/OFFIS-RIT/linkgraph/internal/importer"
	"github.com/OFFIS-RIT/linkgraph/pkg/common"
	"github.com/OFFIS-RIT/linkgraph/pkg/graph"
	"github.com/OFFIS-RIT/linkgraph/pkg/store"
	"github.com/OFFIS-RIT/linkgraph/pkg/store/memory"

	"github.com/rabbitmq/amqp091-go"
)

type published struct {
	queue   string
	body    []byte
	headers amqp091.Table
}

type fakeChannel struct {
	mu       sync.Mutex
	messages []published
	declared []string
	err      error
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, published{queue: key, body: msg.Body, headers: msg.Headers})
	return nil
}

func (f *fakeChannel) PublishFIFO(ctx context.Context, queueName string, data []byte) error {
	return publish(ctx, f, queueName, data, nil)
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error) {
	f.declared = append(f.declared, name)
	return amqp091.Queue{Name: name}, nil
}

type fakeAck struct {
	acked, nacked int
}

func (a *fakeAck) Ack(tag uint64, multiple bool) error { a.acked++; return nil }
func (a *fakeAck) Nack(tag uint64, multiple, requeue bool) error {
	a.nacked++
	return nil
}
func (a *fakeAck) Reject(tag uint64, requeue bool) error { return nil }

func TestSetupQueues(t *testing.T) {
	ch := &fakeChannel{}
	if err := SetupQueues(ch, []string{IngestQueue}); err != nil {
		t.Fatalf("SetupQueues: %v", err)
	}
	want := []string{"ingest_queue", "ingest_queue_dlq", "ingest_queue_retry"}
	if !reflect.DeepEqual(ch.declared, want) {
		t.Fatalf("declared = %v, want %v", ch.declared, want)
	}
}

func TestHandleFailureRetryThenDLQ(t *testing.T) {
	tests := []struct {
		name        string
		headers     amqp091.Table
		wantQueue   string
		wantRetries any
		wantStatus  string
	}{
		{"FirstFailure", nil, "derive_queue_retry", int32(1), "retry"},
		{"Retried", amqp091.Table{"x-retries": int32(4)}, "derive_queue_retry", int32(5), "retry"},
		{"Exhausted", amqp091.Table{"x-retries": int32(maxRetries)}, "derive_queue_dlq", int32(maxRetries), "dlq"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ch := &fakeChannel{}
			ack := &fakeAck{}
			msg := amqp091.Delivery{Acknowledger: ack, Body: []byte(`{}`), Headers: tc.headers}

			target := HandleFailure(context.Background(), ch, msg, DeriveQueue)
			if target != tc.wantQueue {
				t.Fatalf("target = %q, want %q", target, tc.wantQueue)
			}
			if got := FailureStatus(DeriveQueue, target); got != tc.wantStatus {
				t.Fatalf("status = %q, want %q", got, tc.wantStatus)
			}

			if len(ch.messages) != 1 || ch.messages[0].queue != tc.wantQueue {
				t.Fatalf("published = %+v", ch.messages)
			}
			if got := ch.messages[0].headers["x-retries"]; got != tc.wantRetries {
				t.Fatalf("x-retries = %v, want %v", got, tc.wantRetries)
			}
			if ack.acked != 1 {
				t.Fatal("original delivery must be acked")
			}
		})
	}
}

func TestHandleFailureNacksWhenPublishFails(t *testing.T) {
	ch := &fakeChannel{err: errors.New("closed")}
	ack := &fakeAck{}
	target := HandleFailure(context.Background(), ch, amqp091.Delivery{Acknowledger: ack}, IngestQueue)
	if target != IngestQueue || FailureStatus(IngestQueue, target) != "requeued" {
		t.Fatalf("target = %q", target)
	}
	if ack.nacked != 1 || ack.acked != 0 {
		t.Fatalf("acked=%d nacked=%d", ack.acked, ack.nacked)
	}
}

// phoneFailStore fails attribute matching on phone.
type phoneFailStore struct {
	*memory.Store
	fail bool
}

func (p *phoneFailStore) RunPattern(ctx context.Context, pat store.Pattern, params map[string]any) ([]store.Row, error) {
	if am, ok := pat.(store.AttributeMatch); ok && p.fail && am.Attribute == "phone" {
		return nil, errors.New("timeout")
	}
	return p.Store.RunPattern(ctx, pat, params)
}

func newHandler(t *testing.T, s store.GraphStore) (*Handler, *fakeChannel) {
	t.Helper()
	g, err := graph.NewGraphClient(graph.NewGraphClientParams{Store: s})
	if err != nil {
		t.Fatalf("NewGraphClient: %v", err)
	}
	ch := &fakeChannel{}
	return &Handler{Graph: g, Publisher: ch}, ch
}

func ingest(t *testing.T, h *Handler, msg IngestMsg) error {
	t.Helper()
	body, _ := json.Marshal(msg)
	return h.Process(context.Background(), IngestQueue, body)
}

func TestProcessIngestPartialSchedulesDerive(t *testing.T) {
	s := &phoneFailStore{Store: memory.New(), fail: true}
	h, ch := newHandler(t, s)

	if err := ingest(t, h, IngestMsg{Kind: common.KindActor, Actor: &common.Actor{ActorID: "A1", Phone: common.Ptr("555")}}); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(ch.messages) != 1 || ch.messages[0].queue != DeriveQueue {
		t.Fatalf("expected a derive request, got %+v", ch.messages)
	}
	var req DeriveMsg
	if err := json.Unmarshal(ch.messages[0].body, &req); err != nil || req.ID != "A1" || req.Kind != common.KindActor {
		t.Fatalf("derive request = %+v (%v)", req, err)
	}

	s.fail = true
	if err := h.Process(context.Background(), DeriveQueue, ch.messages[0].body); err == nil {
		t.Fatal("derive must fail while the store still fails")
	}
	s.fail = false
	if err := h.Process(context.Background(), DeriveQueue, ch.messages[0].body); err != nil {
		t.Fatalf("derive after recovery: %v", err)
	}
}

func TestProcessIngestDropsBadMessages(t *testing.T) {
	h, ch := newHandler(t, memory.New())
	ctx := context.Background()

	for name, body := range map[string]string{
		"Malformed":  `{`,
		"NoEntity":   `{"kind":"actor"}`,
		"Invalid":    `{"kind":"actor","actor":{"name":"x"}}`,
		"WrongShape": `{"kind":"event","actor":{"actor_id":"A1"}}`,
	} {
		if err := h.Process(ctx, IngestQueue, []byte(body)); err != nil {
			t.Fatalf("%s: expected drop, got %v", name, err)
		}
	}
	if len(ch.messages) != 0 {
		t.Fatalf("nothing should be published, got %+v", ch.messages)
	}
}

func TestProcessIngestDanglingIsAcked(t *testing.T) {
	h, ch := newHandler(t, memory.New())
	err := ingest(t, h, IngestMsg{Kind: common.KindEvent, Event: &common.Event{EventID: "E1", SenderID: "A1", ReceiverID: "A2"}})
	if err != nil {
		t.Fatalf("dangling events are stored and must not be retried: %v", err)
	}
	if len(ch.messages) != 0 {
		t.Fatalf("no derive request expected, got %+v", ch.messages)
	}
}

type downStore struct{ *memory.Store }

func (downStore) MergeNode(context.Context, string, string, string, map[string]any) error {
	return errors.New("connection refused")
}

func TestProcessIngestStoreDownIsRetried(t *testing.T) {
	h, _ := newHandler(t, downStore{memory.New()})
	err := ingest(t, h, IngestMsg{Kind: common.KindActor, Actor: &common.Actor{ActorID: "A1"}})
	if !errors.Is(err, graph.ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
}

func TestProcessDeriveMissingEntityIsDropped(t *testing.T) {
	h, _ := newHandler(t, memory.New())
	body, _ := json.Marshal(DeriveMsg{Kind: common.KindEvent, ID: "nope"})
	if err := h.Process(context.Background(), DeriveQueue, body); err != nil {
		t.Fatalf("expected drop, got %v", err)
	}
}

type stringSource map[string]string

func (s stringSource) OpenFile(ctx context.Context, key string) (io.ReadCloser, error) {
	data, ok := s[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return io.NopCloser(strings.NewReader(data)), nil
}

func TestProcessImport(t *testing.T) {
	s := memory.New()
	h, _ := newHandler(t, s)
	im, err := importer.NewImporter(importer.NewImporterParams{Graph: h.Graph.(*graph.GraphClient)})
	if err != nil {
		t.Fatalf("NewImporter: %v", err)
	}
	h.Importer = im
	h.Source = stringSource{"d.ndjson": "{\"kind\":\"actor\",\"actor_id\":\"A1\"}\n{\"kind\":\"actor\",\"actor_id\":\"A2\"}\n"}

	body, _ := json.Marshal(ImportMsg{Key: "d.ndjson"})
	if err := h.Process(context.Background(), ImportQueue, body); err != nil {
		t.Fatalf("Process import: %v", err)
	}
	g := h.Graph.(*graph.GraphClient)
	actors, err := g.ListActors(context.Background(), 0)
	if err != nil || len(actors) != 2 {
		t.Fatalf("actors = %v (%v)", actors, err)
	}

	missing, _ := json.Marshal(ImportMsg{Key: "missing"})
	if err := h.Process(context.Background(), ImportQueue, missing); err == nil {
		t.Fatal("a missing dataset should be retried")
	}
}

func TestProcessUnknownQueue(t *testing.T) {
	h, _ := newHandler(t, memory.New())
	if err := h.Process(context.Background(), "other", nil); err == nil {
		t.Fatal("expected an error for an unknown queue")
	}
}
