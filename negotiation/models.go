package negotiation

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle of a negotiation session.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// IsTerminal reports whether the session has concluded.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

// Session mirrors the negotiation_sessions table.
type Session struct {
	ID              string
	CaseID          string
	Status          Status
	CurrentRound    int
	MaxRounds       int
	RoundTimeout    time.Duration
	RoundDeadline   time.Time
	CurrentProposal []byte
	ProposerID      *string
	AgreedTerms     []byte
	FinalRound      *int
	Participants    []string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ResponseKind is the variant tag of a participant's round response.
type ResponseKind string

const (
	KindAccept  ResponseKind = "accept"
	KindReject  ResponseKind = "reject"
	KindCounter ResponseKind = "counter"
)

// Response is a participant's reply within a round. Counter responses carry a
// replacement proposal payload; the other kinds carry none. Implicit rejects
// inserted at the round deadline are flagged TimedOut so the audit trail
// distinguishes silence from an explicit rejection, even though both resolve
// the round the same way today.
type Response struct {
	SessionID      string
	Round          int
	ParticipantID  string
	Kind           ResponseKind
	CounterPayload json.RawMessage
	TimedOut       bool
	CreatedAt      time.Time
}

// RoundOutcome reports how a round resolved.
type RoundOutcome string

const (
	OutcomeCompleted RoundOutcome = "completed"
	OutcomeCancelled RoundOutcome = "cancelled"
	OutcomeCountered RoundOutcome = "countered"
	OutcomeExpired   RoundOutcome = "expired"
	OutcomeOpen      RoundOutcome = "open"
)

func validKind(k ResponseKind) bool {
	switch k {
	case KindAccept, KindReject, KindCounter:
		return true
	default:
		return false
	}
}
