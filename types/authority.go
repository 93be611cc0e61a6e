package types

// Authority is a member of a validator set.
type Authority struct {
	ID     AccountID `cramberry:"1"`
	Weight uint64    `cramberry:"2"`
}

// AuthoritySet is an ordered validator set tagged with the session it
// belongs to.
type AuthoritySet struct {
	// Monotonic identifier, incremented each time the active set changes.
	SetID       uint64      `cramberry:"1"`
	Session     uint32      `cramberry:"2"`
	Authorities []Authority `cramberry:"3"`
}

// Contains reports whether id is a member of the set.
func (s AuthoritySet) Contains(id AccountID) bool {
	for _, a := range s.Authorities {
		if a.ID == id {
			return true
		}
	}
	return false
}

// OffenceKind classifies validator misbehavior.
type OffenceKind uint8

const (
	// OffenceEquivocation is signing two conflicting blocks or votes.
	OffenceEquivocation OffenceKind = iota + 1
	// OffenceUnresponsive is a liveness failure.
	OffenceUnresponsive
)

func (k OffenceKind) String() string {
	switch k {
	case OffenceEquivocation:
		return "Equivocation"
	case OffenceUnresponsive:
		return "Unresponsive"
	default:
		return "Unknown"
	}
}

// OffenceReport is evidence of misbehavior submitted by a consensus
// engine.
type OffenceReport struct {
	Kind     OffenceKind `cramberry:"1"`
	Offender AccountID   `cramberry:"2"`
	Session  uint32      `cramberry:"3"`
	// Engine-specific proof, opaque to the runtime.
	Evidence []byte `cramberry:"4"`
}

// Hash identifies the report for deduplication.
func (r OffenceReport) Hash() Hash {
	return Blake2_256(MustEncode(&r))
}
