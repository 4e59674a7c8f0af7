package event

import "time"

// TimelineEvent captures an immutable business event for a case.
type TimelineEvent struct {
	ID        int64
	CaseID    string
	Seq       int
	Type      string
	ActorID   *string
	CreatedAt time.Time
	Payload   []byte
}

// OutboxMessage represents a transactional outbox entry awaiting delivery.
type OutboxMessage struct {
	ID        string
	Topic     string
	Payload   []byte
	Status    string
	Attempts  int
	CreatedAt time.Time
}

// Outbox delivery statuses.
const (
	OutboxPending   = "pending"
	OutboxProcessed = "processed"
	OutboxDead      = "dead"
)

// Outbox topics emitted by the core. A separate delivery layer (email, SMS,
// websocket) subscribes via Notifier; the core does not track delivery success.
const (
	TopicCaseStatusChanged       = "case.status_changed"
	TopicDecisionRecorded        = "decision.recorded"
	TopicNegotiationRoundAdvance = "negotiation.round_advanced"
	TopicSettlementOptionsReady  = "settlement.options_available"
	TopicCompromiseRequested     = "compromise.requested"
)

// Timeline event types.
const (
	TypeCaseFiled          = "CASE_FILED"
	TypeCaseStatusChanged  = "CASE_STATUS_CHANGED"
	TypeDecisionRecorded   = "DECISION_RECORDED"
	TypePartyInvited       = "PARTY_INVITED"
	TypePartyResponded     = "PARTY_RESPONDED"
	TypeStatementSubmitted = "STATEMENT_SUBMITTED"
	TypeOptionsGenerated   = "OPTIONS_GENERATED"
	TypeProposalSubmitted  = "PROPOSAL_SUBMITTED"
	TypeRoundResolved      = "ROUND_RESOLVED"
	TypeResponseTimedOut   = "RESPONSE_TIMED_OUT"
)
