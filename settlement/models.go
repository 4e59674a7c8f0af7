package settlement

import "time"

// BatchKind distinguishes the original AI proposal from compromise regenerations.
type BatchKind string

const (
	KindOriginal   BatchKind = "original"
	KindCompromise BatchKind = "compromise"
)

// Batch is a versioned set of options generated together. Options are never
// mutated, only superseded by a new batch.
type Batch struct {
	ID              string
	CaseID          string
	Kind            BatchKind
	SourceBatchID   *string
	CompromiseRound int
	CreatedAt       time.Time
}

// Option mirrors the settlement_options table. Terms are opaque to the core.
type Option struct {
	ID          string
	CaseID      string
	BatchID     string
	Rank        int
	Terms       []byte
	AmountCents int64
	Probability float64
	CreatedAt   time.Time
}
