package types

// EventAttribute is a single key-value tag within an event.
type EventAttribute struct {
	Key   string `cramberry:"1"`
	Value string `cramberry:"2"`
	Index bool   `cramberry:"3"` // Whether indexers should pick this up.
}

// Event is a pallet-emitted event.
type Event struct {
	Module     string           `cramberry:"1"`
	Kind       string           `cramberry:"2"`
	Attributes []EventAttribute `cramberry:"3"`
}

// Attr returns the value of the first attribute named key.
func (e Event) Attr(key string) (string, bool) {
	for _, a := range e.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// PhaseKind says when in the block an event was deposited.
type PhaseKind uint8

const (
	PhaseInitialization PhaseKind = iota
	PhaseApplyExtrinsic
	PhaseFinalization
)

func (k PhaseKind) String() string {
	switch k {
	case PhaseInitialization:
		return "Initialization"
	case PhaseApplyExtrinsic:
		return "ApplyExtrinsic"
	case PhaseFinalization:
		return "Finalization"
	default:
		return "Unknown"
	}
}

// Phase locates an event. Index is the extrinsic index when Kind is
// PhaseApplyExtrinsic.
type Phase struct {
	Kind  PhaseKind `cramberry:"1"`
	Index uint32    `cramberry:"2"`
}

// EventRecord is an event plus the phase it was deposited in.
type EventRecord struct {
	Phase Phase `cramberry:"1"`
	Event Event `cramberry:"2"`
}
