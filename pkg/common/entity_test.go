package common

import (
	"reflect"
	"testing"
)

func TestActorNormalizeDropsEmptyStrings(t *testing.T) {
	a := Actor{
		ActorID:        "A1",
		Name:           Ptr(""),
		ContactAddress: Ptr("x@y.com"),
		Phone:          Ptr(""),
	}
	a.Normalize()

	if a.Name != nil || a.Phone != nil {
		t.Fatalf("expected empty name and phone to be dropped, got %+v", a)
	}
	if a.ContactAddress == nil || *a.ContactAddress != "x@y.com" {
		t.Fatalf("expected contact address to survive, got %v", a.ContactAddress)
	}
}

func TestEventNormalizeAndProperties(t *testing.T) {
	e := Event{EventID: "E1", SenderID: "A1", ReceiverID: "A2", DeviceID: Ptr(""), SourceAddress: Ptr("10.0.0.1")}
	e.Normalize()
	if e.DeviceID != nil {
		t.Fatalf("expected empty device to be dropped, got %v", *e.DeviceID)
	}

	props := e.Properties()
	if _, ok := props["device_id"]; ok {
		t.Fatalf("absent device must be left out, got %v", props)
	}
	if _, ok := props["amount"]; ok {
		t.Fatalf("absent amount must be left out, got %v", props)
	}
	if got := EventFromProperties(props); !reflect.DeepEqual(got, e) {
		t.Fatalf("EventFromProperties = %+v, want %+v", got, e)
	}
}

func TestActorPropertiesRoundTrip(t *testing.T) {
	a := Actor{
		ActorID:         "A1",
		Name:            Ptr("Alice"),
		ContactAddress:  Ptr("x@y.com"),
		PhysicalAddress: Ptr("1 Main St"),
	}

	props := a.Properties()
	if _, ok := props["phone"]; ok {
		t.Fatalf("absent attributes must not be written, got %v", props)
	}
	if props[KeyActor] != "A1" {
		t.Fatalf("expected key field in properties, got %v", props)
	}

	got := ActorFromProperties(props)
	if !reflect.DeepEqual(got, a) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, a)
	}
}

func TestEventFromPropertiesNumericTypes(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  float64
	}{
		{"Float64", 12.5, 12.5},
		{"Int64", int64(40), 40},
		{"Int", 7, 7},
		{"String", "3.25", 3.25},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := EventFromProperties(map[string]any{KeyEvent: "E1", "amount": tc.value})
			if e.Amount == nil || *e.Amount != tc.want {
				t.Fatalf("amount = %v, want %v", e.Amount, tc.want)
			}
		})
	}
}

func TestEventValidate(t *testing.T) {
	tests := []struct {
		name    string
		event   Event
		wantErr bool
	}{
		{"Valid", Event{EventID: "E1", SenderID: "A1", ReceiverID: "A2"}, false},
		{"MissingID", Event{SenderID: "A1", ReceiverID: "A2"}, true},
		{"MissingSender", Event{EventID: "E1", ReceiverID: "A2"}, true},
		{"MissingReceiver", Event{EventID: "E1", SenderID: "A1"}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.event.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestEventDisplayLabel(t *testing.T) {
	if got := (Event{EventID: "E1"}).DisplayLabel(); got != "$0" {
		t.Fatalf("expected $0 for missing amount, got %q", got)
	}
	if got := (Event{EventID: "E1", Amount: Ptr(99.5)}).DisplayLabel(); got != "$99.5" {
		t.Fatalf("expected $99.5, got %q", got)
	}
}

func TestKindHelpers(t *testing.T) {
	if KindFromLabel(KindActor.Label()) != KindActor {
		t.Fatal("actor label does not round trip")
	}
	if KindFromLabel("Transaction") != KindUnknown {
		t.Fatal("foreign labels must map to unknown")
	}
	if _, ok := ParseEntityKind("user"); ok {
		t.Fatal("unexpected kind accepted")
	}
	if !EdgeCreditTo.Valid() || EdgeType("SHARED_EMAIL").Valid() {
		t.Fatal("edge type validation mismatch")
	}
}
