package decision

import "time"

// Choice is a party's recorded stance on a settlement option batch.
type Choice string

const (
	ChoicePending  Choice = "pending"
	ChoiceAccepted Choice = "accepted"
	ChoiceRejected Choice = "rejected"
)

// Decision is the latest recorded choice for one (batch, party) pair. The
// ledger is append-on-change in the timeline, but logically a map keyed by
// that pair: a later decision overwrites, never duplicates.
type Decision struct {
	CaseID    string
	BatchID   string
	PartyID   string
	OptionID  *string
	Choice    Choice
	DecidedAt time.Time
}

func validChoice(c Choice) bool {
	switch c {
	case ChoiceAccepted, ChoiceRejected:
		return true
	default:
		return false
	}
}
