package entities

import "time"

type OutcomeKind int

const (
	OutcomeUnresolved OutcomeKind = iota
	OutcomeZero
	OutcomeAmount
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeZero:
		return "zero"
	case OutcomeAmount:
		return "amount"
	default:
		return "unresolved"
	}
}

// BalanceOutcome is the result of inspecting a provider reply for a balance
type BalanceOutcome struct {
	Kind   OutcomeKind
	Amount string // raw captured text, only set for OutcomeAmount
}

// Resolved reports whether the outcome should be written to the cache
func (o BalanceOutcome) Resolved() bool {
	return o.Kind == OutcomeZero || o.Kind == OutcomeAmount
}

// Balance returns the value to persist: "0" for zero, the raw amount otherwise.
func (o BalanceOutcome) Balance() string {
	switch o.Kind {
	case OutcomeZero:
		return "0"
	case OutcomeAmount:
		return o.Amount
	default:
		return ""
	}
}

// BalanceRecord is the latest known balance for an account+service pair
type BalanceRecord struct {
	Key       string    `json:"key"`
	Balance   string    `json:"saldo"`
	Timestamp time.Time `json:"timestamp"`
}

// PendingRequest remembers which account a trigger-reply sequence concerns
type PendingRequest struct {
	RequestID     string
	Service       string
	Sender        string
	AccountNumber string
	ArmedAt       time.Time
}
