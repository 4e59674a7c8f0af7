package casefile

import "time"

// Status is the authoritative lifecycle state of a case.
type Status string

const (
	StatusFiled              Status = "filed"
	StatusInvitationsSent    Status = "invitations_sent"
	StatusAwaitingResponse   Status = "awaiting_response"
	StatusStatementsComplete Status = "statements_complete"
	StatusAIAnalyzing        Status = "ai_analyzing"
	StatusOptionsAvailable   Status = "settlement_options_available"
	StatusPartiesDeciding    Status = "parties_deciding"
	StatusSettlementAgreed   Status = "settlement_agreed"
	StatusCompromiseNeeded   Status = "compromise_needed"
	StatusDocumentGeneration Status = "document_generation"
	StatusAwaitingSignatures Status = "awaiting_signatures"
	StatusClosed             Status = "closed"
	StatusForwardedToCourt   Status = "forwarded_to_court"
	StatusRejected           Status = "rejected"
)

// Case mirrors the cases table columns touched by the service.
type Case struct {
	ID            string
	Title         string
	Facts         []byte
	Status        Status
	CurrentBatch  *string
	FinalOptionID *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsTerminal reports whether no further transition is possible from s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusClosed, StatusForwardedToCourt, StatusRejected:
		return true
	default:
		return false
	}
}

// transitions enumerates the legal edges of the case lifecycle. Escalation to
// court is permitted from every non-terminal status, so it is handled
// separately in CanTransition rather than listed per edge.
var transitions = map[Status][]Status{
	StatusFiled:              {StatusInvitationsSent, StatusRejected},
	StatusInvitationsSent:    {StatusAwaitingResponse, StatusRejected},
	StatusAwaitingResponse:   {StatusStatementsComplete, StatusRejected},
	StatusStatementsComplete: {StatusAIAnalyzing},
	StatusAIAnalyzing:        {StatusOptionsAvailable},
	StatusOptionsAvailable:   {StatusPartiesDeciding},
	StatusPartiesDeciding:    {StatusSettlementAgreed, StatusCompromiseNeeded},
	StatusCompromiseNeeded:   {StatusPartiesDeciding},
	StatusSettlementAgreed:   {StatusDocumentGeneration},
	StatusDocumentGeneration: {StatusAwaitingSignatures},
	StatusAwaitingSignatures: {StatusClosed},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StatusForwardedToCourt {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// BatchOutcome is the result of evaluating the decision ledger for a batch.
type BatchOutcome string

const (
	// OutcomePending means not every required party has decided yet, or the
	// evaluation observed a stale batch and did nothing.
	OutcomePending BatchOutcome = "pending"
	// OutcomeAgreed means all required parties accepted the same option.
	OutcomeAgreed BatchOutcome = "agreed"
	// OutcomeDiverged means decisions are complete but not unanimous.
	OutcomeDiverged BatchOutcome = "diverged"
	// OutcomeRejected means every required party rejected the batch outright.
	OutcomeRejected BatchOutcome = "rejected"
	// OutcomeEscalated means divergence exhausted the compromise budget and
	// the case was forwarded to court.
	OutcomeEscalated BatchOutcome = "escalated"
)
