package importer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/linkgraph/pkg/graph"
	"github.com/OFFIS-RIT/linkgraph/pkg/store/memory"
)

const csvDataset = "\ufeffkind,actor_id,name,phone,event_id,sender_id,receiver_id,amount,device_id,color\n" +
	"event,,,,E1,A1,A2,12.5,d1,red\n" +
	"actor,A1,Alice,555,,,,,,\n" +
	",,,,,,,,,\n" +
	"actor,A2,,555,,,,,,\n" +
	"event,,,,E2,A2,A1,lots,,\n" +
	"robot,R1,,,,,,,,\n"

func TestFormatForKey(t *testing.T) {
	tests := []struct {
		key  string
		want Format
	}{
		{"datasets/a.csv", FormatCSV},
		{"datasets/A.CSV", FormatCSV},
		{"datasets/a.ndjson", FormatNDJSON},
		{"datasets/a.jsonl", FormatNDJSON},
		{"datasets/csv", FormatNDJSON},
	}
	for _, tt := range tests {
		if got := FormatForKey(tt.key); got != tt.want {
			t.Fatalf("FormatForKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestImportCSV(t *testing.T) {
	s := memory.New()
	im, g := newTestImporter(t, s)

	res, err := im.ImportFormat(context.Background(), strings.NewReader(csvDataset), FormatCSV)
	if err != nil {
		t.Fatalf("ImportFormat: %v", err)
	}
	if res.Actors != 2 || res.Events != 1 {
		t.Fatalf("actors=%d events=%d", res.Actors, res.Events)
	}
	if res.Failed != 2 {
		t.Fatalf("failed=%d errors=%+v", res.Failed, res.Errors)
	}
	for _, le := range res.Errors {
		if le.Kind != graph.KindInvalidEntity {
			t.Fatalf("line %d kind = %q", le.Line, le.Kind)
		}
	}

	if !s.HasEdge("Event", "E1", "RECEIVED_BY", "Actor", "A2") {
		t.Fatal("E1 must be linked to its receiver")
	}
	if !s.HasEdge("Actor", "A1", "SHARED_PHONE", "Actor", "A2") {
		t.Fatal("A1 and A2 share a phone")
	}

	view, err := g.EventRelationships(context.Background(), "E1")
	if err != nil {
		t.Fatalf("EventRelationships: %v", err)
	}
	if view.Event.Amount == nil || *view.Event.Amount != 12.5 {
		t.Fatalf("amount = %v", view.Event.Amount)
	}
	if view.Event.DeviceID == nil || *view.Event.DeviceID != "d1" {
		t.Fatalf("device = %v", view.Event.DeviceID)
	}
}

func TestImportCSVKeepsCellWhitespace(t *testing.T) {
	s := memory.New()
	im, _ := newTestImporter(t, s)

	data := "kind,actor_id,phone\nactor,A1,555\nactor,A2, 555\nactor,A3,555\n"
	if _, err := im.ImportFormat(context.Background(), strings.NewReader(data), FormatCSV); err != nil {
		t.Fatalf("ImportFormat: %v", err)
	}
	if !s.HasEdge("Actor", "A3", "SHARED_PHONE", "Actor", "A1") {
		t.Fatal("identical phones must match")
	}
	if s.HasEdge("Actor", "A2", "SHARED_PHONE", "Actor", "A1") {
		t.Fatal("a phone with a leading space must not match")
	}
}

func TestImportCSVRequiresKindColumn(t *testing.T) {
	im, _ := newTestImporter(t, memory.New())
	_, err := im.ImportFormat(context.Background(), strings.NewReader("actor_id,phone\nA1,555\n"), FormatCSV)
	if err == nil {
		t.Fatal("expected an error for a header without kind")
	}
}

func TestImportCSVEmpty(t *testing.T) {
	im, _ := newTestImporter(t, memory.New())
	res, err := im.ImportFormat(context.Background(), strings.NewReader(""), FormatCSV)
	if err != nil {
		t.Fatalf("ImportFormat: %v", err)
	}
	if res.Actors != 0 || res.Events != 0 || res.Failed != 0 {
		t.Fatalf("result = %+v", res)
	}
}

func TestDirSource(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.csv"), []byte("kind,actor_id\nactor,A1\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	src := DirSource{Root: dir}

	im, g := newTestImporter(t, memory.New())
	res, err := im.ImportFile(context.Background(), src, "a.csv")
	if err != nil {
		t.Fatalf("ImportFile: %v", err)
	}
	if res.Actors != 1 || res.Dataset != "a.csv" {
		t.Fatalf("result = %+v", res)
	}
	if _, err := g.ActorRelationships(context.Background(), "A1"); err != nil {
		t.Fatalf("A1 not imported: %v", err)
	}

	for _, key := range []string{"../a.csv", "/etc/passwd", "x/../../a.csv"} {
		if _, err := src.OpenFile(context.Background(), key); err == nil {
			t.Fatalf("OpenFile(%q) should be rejected", key)
		}
	}
}
