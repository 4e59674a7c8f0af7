package main

import (
	"encoding/json"
	"time"

	"accordflow/auth"
	"accordflow/casefile"
	"accordflow/decision"
	"accordflow/negotiation"
	"accordflow/party"
	"accordflow/settlement"
	"accordflow/statement"
)

type listResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

type userResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FullName  string `json:"fullName"`
	Role      string `json:"role"`
	CreatedAt string `json:"createdAt"`
}

type loginResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

type caseResponse struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	Facts         json.RawMessage `json:"facts,omitempty"`
	Status        string          `json:"status"`
	CurrentBatch  *string         `json:"currentBatchId,omitempty"`
	FinalOptionID *string         `json:"finalOptionId,omitempty"`
	CreatedAt     string          `json:"createdAt"`
	UpdatedAt     string          `json:"updatedAt"`
}

type partyResponse struct {
	ID             string  `json:"id"`
	CaseID         string  `json:"caseId"`
	UserID         *string `json:"userId,omitempty"`
	Role           string  `json:"role"`
	ResponseStatus string  `json:"responseStatus"`
	Contact        string  `json:"contact,omitempty"`
	RespondedAt    *string `json:"respondedAt,omitempty"`
	CreatedAt      string  `json:"createdAt"`
}

type statementResponse struct {
	ID        string  `json:"id"`
	CaseID    string  `json:"caseId"`
	PartyID   string  `json:"partyId"`
	Body      string  `json:"body"`
	Source    string  `json:"source"`
	AudioRef  *string `json:"audioRef,omitempty"`
	CreatedAt string  `json:"createdAt"`
}

type decisionResponse struct {
	BatchID   string  `json:"batchId"`
	PartyID   string  `json:"partyId"`
	OptionID  *string `json:"optionId,omitempty"`
	Choice    string  `json:"choice"`
	DecidedAt string  `json:"decidedAt"`
}

type optionResponse struct {
	ID          string          `json:"id"`
	BatchID     string          `json:"batchId"`
	Rank        int             `json:"rank"`
	Terms       json.RawMessage `json:"terms"`
	AmountCents int64           `json:"amountCents"`
	Probability float64         `json:"probability"`
}

type batchResponse struct {
	ID              string           `json:"id"`
	CaseID          string           `json:"caseId"`
	Kind            string           `json:"kind"`
	CompromiseRound int              `json:"compromiseRound"`
	Options         []optionResponse `json:"options"`
	CreatedAt       string           `json:"createdAt"`
}

type sessionResponse struct {
	ID              string          `json:"id"`
	CaseID          string          `json:"caseId"`
	Status          string          `json:"status"`
	CurrentRound    int             `json:"currentRound"`
	MaxRounds       int             `json:"maxRounds"`
	RoundDeadline   string          `json:"roundDeadline"`
	CurrentProposal json.RawMessage `json:"currentProposal,omitempty"`
	ProposerID      *string         `json:"proposerId,omitempty"`
	AgreedTerms     json.RawMessage `json:"agreedTerms,omitempty"`
	FinalRound      *int            `json:"finalRound,omitempty"`
	Participants    []string        `json:"participants"`
}

func toUserResponse(u auth.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		FullName:  u.FullName,
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt.Format(time.RFC3339),
	}
}

func toCaseResponse(c casefile.Case) caseResponse {
	return caseResponse{
		ID:            c.ID,
		Title:         c.Title,
		Facts:         c.Facts,
		Status:        string(c.Status),
		CurrentBatch:  c.CurrentBatch,
		FinalOptionID: c.FinalOptionID,
		CreatedAt:     c.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     c.UpdatedAt.Format(time.RFC3339),
	}
}

func toPartyResponse(p party.Party) partyResponse {
	resp := partyResponse{
		ID:             p.ID,
		CaseID:         p.CaseID,
		UserID:         p.UserID,
		Role:           string(p.Role),
		ResponseStatus: string(p.ResponseStatus),
		Contact:        p.Contact,
		CreatedAt:      p.CreatedAt.Format(time.RFC3339),
	}
	if p.RespondedAt != nil {
		v := p.RespondedAt.Format(time.RFC3339)
		resp.RespondedAt = &v
	}
	return resp
}

func toStatementResponse(st statement.Statement) statementResponse {
	return statementResponse{
		ID:        st.ID,
		CaseID:    st.CaseID,
		PartyID:   st.PartyID,
		Body:      st.Body,
		Source:    string(st.Source),
		AudioRef:  st.AudioRef,
		CreatedAt: st.CreatedAt.Format(time.RFC3339),
	}
}

func toDecisionResponse(d decision.Decision) decisionResponse {
	return decisionResponse{
		BatchID:   d.BatchID,
		PartyID:   d.PartyID,
		OptionID:  d.OptionID,
		Choice:    string(d.Choice),
		DecidedAt: d.DecidedAt.Format(time.RFC3339),
	}
}

func toOptionResponse(o settlement.Option) optionResponse {
	return optionResponse{
		ID:          o.ID,
		BatchID:     o.BatchID,
		Rank:        o.Rank,
		Terms:       o.Terms,
		AmountCents: o.AmountCents,
		Probability: o.Probability,
	}
}

func toBatchResponse(b settlement.Batch, options []settlement.Option) batchResponse {
	items := make([]optionResponse, 0, len(options))
	for _, o := range options {
		items = append(items, toOptionResponse(o))
	}
	return batchResponse{
		ID:              b.ID,
		CaseID:          b.CaseID,
		Kind:            string(b.Kind),
		CompromiseRound: b.CompromiseRound,
		Options:         items,
		CreatedAt:       b.CreatedAt.Format(time.RFC3339),
	}
}

func toSessionResponse(s negotiation.Session) sessionResponse {
	return sessionResponse{
		ID:              s.ID,
		CaseID:          s.CaseID,
		Status:          string(s.Status),
		CurrentRound:    s.CurrentRound,
		MaxRounds:       s.MaxRounds,
		RoundDeadline:   s.RoundDeadline.Format(time.RFC3339),
		CurrentProposal: s.CurrentProposal,
		ProposerID:      s.ProposerID,
		AgreedTerms:     s.AgreedTerms,
		FinalRound:      s.FinalRound,
		Participants:    s.Participants,
	}
}
