package types

import "fmt"

// TransactionSource says where a transaction being validated came from.
type TransactionSource uint8

const (
	// SourceInBlock means the transaction is being validated for
	// inclusion in the block under construction. Block capacity is checked.
	SourceInBlock TransactionSource = iota
	// SourceLocal is a transaction submitted by the local node.
	SourceLocal
	// SourceExternal is a transaction received from the network.
	SourceExternal
)

func (s TransactionSource) String() string {
	switch s {
	case SourceInBlock:
		return "InBlock"
	case SourceLocal:
		return "Local"
	case SourceExternal:
		return "External"
	default:
		return fmt.Sprintf("TransactionSource(%d)", s)
	}
}

// TxTag is an opaque tag used by external pools to order dependent
// transactions.
type TxTag []byte

// ValidTransaction describes a transaction that passed validation.
type ValidTransaction struct {
	// Inclusion priority; higher goes first.
	Priority uint64 `cramberry:"1"`
	// Tags that must be provided by earlier transactions. Signed
	// transactions leave it empty: only the current nonce validates, so
	// there is no earlier transaction to wait for.
	Requires []TxTag `cramberry:"2"`
	// Tags this transaction provides.
	Provides []TxTag `cramberry:"3"`
	// Number of blocks the validity holds for.
	Longevity uint64 `cramberry:"4"`
	// Whether the pool should gossip the transaction.
	Propagate bool `cramberry:"5"`
}

// ValidityKind separates definitely-invalid from undecidable transactions.
type ValidityKind uint8

const (
	ValidityInvalid ValidityKind = iota + 1
	ValidityUnknown
)

// ValidityReason is the reason a transaction was rejected.
type ValidityReason uint8

const (
	ReasonCall ValidityReason = iota + 1
	ReasonPayment
	ReasonFuture
	ReasonStale
	ReasonBadProof
	ReasonExhaustsResources
	ReasonBadSigner
	ReasonCannotDecode
	ReasonBadOrigin
	ReasonCustom
	ReasonNoUnsignedValidator
	ReasonCannotLookup
)

var reasonNames = [...]string{
	ReasonCall:                "Call",
	ReasonPayment:             "Payment",
	ReasonFuture:              "Future",
	ReasonStale:               "Stale",
	ReasonBadProof:            "BadProof",
	ReasonExhaustsResources:   "ExhaustsResources",
	ReasonBadSigner:           "BadSigner",
	ReasonCannotDecode:        "CannotDecode",
	ReasonBadOrigin:           "BadOrigin",
	ReasonCustom:              "Custom",
	ReasonNoUnsignedValidator: "NoUnsignedValidator",
	ReasonCannotLookup:        "CannotLookup",
}

func (r ValidityReason) String() string {
	if int(r) < len(reasonNames) && reasonNames[r] != "" {
		return reasonNames[r]
	}
	return fmt.Sprintf("ValidityReason(%d)", r)
}

// TransactionValidityError is returned when a transaction must not be
// included. It never implies a state change.
type TransactionValidityError struct {
	Kind   ValidityKind   `cramberry:"1"`
	Reason ValidityReason `cramberry:"2"`
	// Pallet-defined code when Reason is ReasonCustom.
	Custom uint8 `cramberry:"3"`
}

func (e *TransactionValidityError) Error() string {
	kind := "invalid"
	if e.Kind == ValidityUnknown {
		kind = "unknown"
	}
	if e.Reason == ReasonCustom {
		return fmt.Sprintf("%s transaction: custom(%d)", kind, e.Custom)
	}
	return fmt.Sprintf("%s transaction: %s", kind, e.Reason)
}

// Is matches another validity error with the same kind and reason, so
// callers can compare against prototypes with errors.Is.
func (e *TransactionValidityError) Is(target error) bool {
	t, ok := target.(*TransactionValidityError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Reason == t.Reason && (e.Reason != ReasonCustom || e.Custom == t.Custom)
}

// Invalid returns an Invalid validity error with the given reason.
func Invalid(r ValidityReason) *TransactionValidityError {
	return &TransactionValidityError{Kind: ValidityInvalid, Reason: r}
}

// Unknown returns an Unknown validity error with the given reason.
func Unknown(r ValidityReason) *TransactionValidityError {
	return &TransactionValidityError{Kind: ValidityUnknown, Reason: r}
}

// InvalidCustom returns an Invalid validity error with a pallet code.
func InvalidCustom(code uint8) *TransactionValidityError {
	return &TransactionValidityError{Kind: ValidityInvalid, Reason: ReasonCustom, Custom: code}
}
