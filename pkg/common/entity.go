package common

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/go-playground/validator"
)

// Actor is a user-like record. ActorID is the immutable natural key; every
// other attribute is optional and replaced wholesale on re-upsert.
type Actor struct {
	ActorID         string  `json:"actor_id" validate:"required,max=256"`
	Name            *string `json:"name,omitempty" validate:"omitempty,max=1024"`
	ContactAddress  *string `json:"contact_address,omitempty" validate:"omitempty,max=1024"`
	Phone           *string `json:"phone,omitempty" validate:"omitempty,max=256"`
	PhysicalAddress *string `json:"physical_address,omitempty" validate:"omitempty,max=2048"`
	PaymentMethod   *string `json:"payment_method,omitempty" validate:"omitempty,max=1024"`
}

// Event is a transaction-like record sent by one actor to another.
// SenderID and ReceiverID are kept on the node so that participation edges
// can be re-attempted on a later upsert.
type Event struct {
	EventID       string   `json:"event_id" validate:"required,max=256"`
	SenderID      string   `json:"sender_id" validate:"required,max=256"`
	ReceiverID    string   `json:"receiver_id" validate:"required,max=256"`
	Amount        *float64 `json:"amount,omitempty"`
	DeviceID      *string  `json:"device_id,omitempty" validate:"omitempty,max=1024"`
	SourceAddress *string  `json:"source_address,omitempty" validate:"omitempty,max=1024"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared struct validator used at the upsert boundary.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// Normalize turns empty optional strings into absent values. An empty string
// would otherwise match every other empty string during derivation.
func (a *Actor) Normalize() {
	a.Name = nonEmpty(a.Name)
	a.ContactAddress = nonEmpty(a.ContactAddress)
	a.Phone = nonEmpty(a.Phone)
	a.PhysicalAddress = nonEmpty(a.PhysicalAddress)
	a.PaymentMethod = nonEmpty(a.PaymentMethod)
}

// Validate checks the actor against its struct tags.
func (a Actor) Validate() error {
	return Validator().Struct(a)
}

// Properties flattens the actor into a store property bag. Absent
// attributes are left out so the store treats them as null.
func (a Actor) Properties() map[string]any {
	props := map[string]any{KeyActor: a.ActorID}
	putString(props, "name", a.Name)
	putString(props, "contact_address", a.ContactAddress)
	putString(props, "phone", a.Phone)
	putString(props, "physical_address", a.PhysicalAddress)
	putString(props, "payment_method", a.PaymentMethod)
	return props
}

// ActorFromProperties rebuilds an Actor from a store property bag.
func ActorFromProperties(props map[string]any) Actor {
	return Actor{
		ActorID:         stringProp(props, KeyActor),
		Name:            optionalString(props, "name"),
		ContactAddress:  optionalString(props, "contact_address"),
		Phone:           optionalString(props, "phone"),
		PhysicalAddress: optionalString(props, "physical_address"),
		PaymentMethod:   optionalString(props, "payment_method"),
	}
}

// DisplayName is the actor's name, falling back to its id.
func (a Actor) DisplayName() string {
	if a.Name != nil {
		return *a.Name
	}
	return a.ActorID
}

// Normalize turns empty device and source values into absent ones.
func (e *Event) Normalize() {
	e.DeviceID = nonEmpty(e.DeviceID)
	e.SourceAddress = nonEmpty(e.SourceAddress)
}

// Validate checks the event against its struct tags and rejects a
// non-finite amount.
func (e Event) Validate() error {
	if err := Validator().Struct(e); err != nil {
		return err
	}
	if e.Amount != nil && (math.IsNaN(*e.Amount) || math.IsInf(*e.Amount, 0)) {
		return fmt.Errorf("amount must be a finite number")
	}
	return nil
}

// Properties flattens the event into a store property bag, leaving out
// absent attributes.
func (e Event) Properties() map[string]any {
	props := map[string]any{
		KeyEvent:      e.EventID,
		"sender_id":   e.SenderID,
		"receiver_id": e.ReceiverID,
	}
	if e.Amount != nil {
		props["amount"] = *e.Amount
	}
	putString(props, "device_id", e.DeviceID)
	putString(props, "source_address", e.SourceAddress)
	return props
}

// EventFromProperties rebuilds an Event from a store property bag.
func EventFromProperties(props map[string]any) Event {
	return Event{
		EventID:       stringProp(props, KeyEvent),
		SenderID:      stringProp(props, "sender_id"),
		ReceiverID:    stringProp(props, "receiver_id"),
		Amount:        optionalFloat(props, "amount"),
		DeviceID:      optionalString(props, "device_id"),
		SourceAddress: optionalString(props, "source_address"),
	}
}

// DisplayLabel renders the amount the way the graph view shows events.
func (e Event) DisplayLabel() string {
	amount := 0.0
	if e.Amount != nil {
		amount = *e.Amount
	}
	return "$" + strconv.FormatFloat(amount, 'f', -1, 64)
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

func putString(props map[string]any, key string, v *string) {
	if v != nil {
		props[key] = *v
	}
}

func stringProp(props map[string]any, key string) string {
	switch v := props[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func optionalString(props map[string]any, key string) *string {
	if _, ok := props[key]; !ok || props[key] == nil {
		return nil
	}
	s := stringProp(props, key)
	return &s
}

func optionalFloat(props map[string]any, key string) *float64 {
	var f float64
	switch v := props[key].(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int64:
		f = float64(v)
	case int:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	return &f
}
