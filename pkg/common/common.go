package common

// EntityKind identifies which of the two entity kinds a node belongs to.
// Nodes whose label cannot be resolved are reported as KindUnknown.
type EntityKind string

const (
	KindActor   EntityKind = "actor"
	KindEvent   EntityKind = "event"
	KindUnknown EntityKind = "unknown"
)

// Store labels and natural key fields for each entity kind.
const (
	LabelActor = "Actor"
	LabelEvent = "Event"

	KeyActor = "actor_id"
	KeyEvent = "event_id"
)

// ParseEntityKind maps a user supplied kind string onto an EntityKind.
// The second return value is false for anything other than actor or event.
func ParseEntityKind(s string) (EntityKind, bool) {
	switch EntityKind(s) {
	case KindActor:
		return KindActor, true
	case KindEvent:
		return KindEvent, true
	default:
		return KindUnknown, false
	}
}

// Label returns the store label for the kind, or "" for KindUnknown.
func (k EntityKind) Label() string {
	switch k {
	case KindActor:
		return LabelActor
	case KindEvent:
		return LabelEvent
	default:
		return ""
	}
}

// KeyField returns the natural key property for the kind.
func (k EntityKind) KeyField() string {
	switch k {
	case KindActor:
		return KeyActor
	case KindEvent:
		return KeyEvent
	default:
		return ""
	}
}

// KindFromLabel is the inverse of EntityKind.Label.
func KindFromLabel(label string) EntityKind {
	switch label {
	case LabelActor:
		return KindActor
	case LabelEvent:
		return KindEvent
	default:
		return KindUnknown
	}
}

// Schema maps every entity label onto its natural key field. Store adapters
// that cannot keep the key outside the property bag use it to resolve ids.
func Schema() map[string]string {
	return map[string]string{
		LabelActor: KeyActor,
		LabelEvent: KeyEvent,
	}
}

// EdgeType is the relationship type stored on an edge.
type EdgeType string

const (
	// Event -> Actor direct participation.
	EdgeSentBy     EdgeType = "SENT_BY"
	EdgeReceivedBy EdgeType = "RECEIVED_BY"

	// Actor -> Actor shared attributes.
	EdgeSharedContactAddress  EdgeType = "SHARED_CONTACT_ADDRESS"
	EdgeSharedPhone           EdgeType = "SHARED_PHONE"
	EdgeSharedPhysicalAddress EdgeType = "SHARED_PHYSICAL_ADDRESS"
	EdgeSharedPaymentMethod   EdgeType = "SHARED_PAYMENT_METHOD"

	// Event -> Event shared attributes.
	EdgeSharedDevice EdgeType = "SHARED_DEVICE"
	EdgeSharedSource EdgeType = "SHARED_SOURCE"

	// Actor -> Actor aggregates of SENT_BY/RECEIVED_BY chains.
	EdgeCreditTo  EdgeType = "CREDIT_TO"
	EdgeDebitFrom EdgeType = "DEBIT_FROM"
)

// EdgeTypes lists every edge type the system creates.
var EdgeTypes = []EdgeType{
	EdgeSentBy,
	EdgeReceivedBy,
	EdgeSharedContactAddress,
	EdgeSharedPhone,
	EdgeSharedPhysicalAddress,
	EdgeSharedPaymentMethod,
	EdgeSharedDevice,
	EdgeSharedSource,
	EdgeCreditTo,
	EdgeDebitFrom,
}

// Valid reports whether t is one of EdgeTypes.
func (t EdgeType) Valid() bool {
	for _, et := range EdgeTypes {
		if et == t {
			return true
		}
	}
	return false
}

// SharedAttribute pairs a node attribute with the edge type created between
// two nodes holding an identical non-null value for it.
type SharedAttribute struct {
	Attribute string
	Edge      EdgeType
}

// ActorSharedAttributes are matched between actors on every actor upsert.
var ActorSharedAttributes = []SharedAttribute{
	{Attribute: "contact_address", Edge: EdgeSharedContactAddress},
	{Attribute: "phone", Edge: EdgeSharedPhone},
	{Attribute: "physical_address", Edge: EdgeSharedPhysicalAddress},
	{Attribute: "payment_method", Edge: EdgeSharedPaymentMethod},
}

// EventSharedAttributes are matched between events on every event upsert.
var EventSharedAttributes = []SharedAttribute{
	{Attribute: "device_id", Edge: EdgeSharedDevice},
	{Attribute: "source_address", Edge: EdgeSharedSource},
}
