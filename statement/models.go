package statement

import "time"

// Source records how a statement entered the system.
type Source string

const (
	SourceTyped       Source = "typed"
	SourceTranscribed Source = "transcribed"
)

// Statement is a party's account of the dispute. One per party per case; it
// gates the move out of awaiting_response together with the party's formal
// response.
type Statement struct {
	ID        string
	CaseID    string
	PartyID   string
	Body      string
	Source    Source
	AudioRef  *string
	CreatedAt time.Time
}
