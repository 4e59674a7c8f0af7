package casefile

import "testing"

func TestCanTransition_HappyPath(t *testing.T) {
	path := []Status{
		StatusFiled,
		StatusInvitationsSent,
		StatusAwaitingResponse,
		StatusStatementsComplete,
		StatusAIAnalyzing,
		StatusOptionsAvailable,
		StatusPartiesDeciding,
		StatusSettlementAgreed,
		StatusDocumentGeneration,
		StatusAwaitingSignatures,
		StatusClosed,
	}
	for i := 0; i < len(path)-1; i++ {
		if !CanTransition(path[i], path[i+1]) {
			t.Errorf("expected %s -> %s to be legal", path[i], path[i+1])
		}
	}
}

func TestCanTransition_CompromiseLoop(t *testing.T) {
	if !CanTransition(StatusPartiesDeciding, StatusCompromiseNeeded) {
		t.Error("expected parties_deciding -> compromise_needed")
	}
	if !CanTransition(StatusCompromiseNeeded, StatusPartiesDeciding) {
		t.Error("expected compromise_needed -> parties_deciding")
	}
}

func TestCanTransition_CourtFromAnyNonTerminal(t *testing.T) {
	nonTerminal := []Status{
		StatusFiled, StatusInvitationsSent, StatusAwaitingResponse,
		StatusStatementsComplete, StatusAIAnalyzing, StatusOptionsAvailable,
		StatusPartiesDeciding, StatusSettlementAgreed, StatusCompromiseNeeded,
		StatusDocumentGeneration, StatusAwaitingSignatures,
	}
	for _, from := range nonTerminal {
		if !CanTransition(from, StatusForwardedToCourt) {
			t.Errorf("expected %s -> forwarded_to_court to be legal", from)
		}
	}
}

func TestCanTransition_TerminalIsFinal(t *testing.T) {
	for _, from := range []Status{StatusClosed, StatusForwardedToCourt, StatusRejected} {
		for _, to := range []Status{StatusFiled, StatusPartiesDeciding, StatusForwardedToCourt, StatusClosed} {
			if CanTransition(from, to) {
				t.Errorf("expected %s -> %s to be illegal", from, to)
			}
		}
	}
}

func TestCanTransition_IllegalSkips(t *testing.T) {
	illegal := [][2]Status{
		{StatusFiled, StatusPartiesDeciding},
		{StatusAwaitingResponse, StatusAIAnalyzing},
		{StatusPartiesDeciding, StatusClosed},
		{StatusSettlementAgreed, StatusClosed},
		{StatusAIAnalyzing, StatusPartiesDeciding},
		{StatusPartiesDeciding, StatusPartiesDeciding},
	}
	for _, edge := range illegal {
		if CanTransition(edge[0], edge[1]) {
			t.Errorf("expected %s -> %s to be illegal", edge[0], edge[1])
		}
	}
}

func TestCanTransition_RejectionOnlyBeforeStatements(t *testing.T) {
	for _, from := range []Status{StatusFiled, StatusInvitationsSent, StatusAwaitingResponse} {
		if !CanTransition(from, StatusRejected) {
			t.Errorf("expected %s -> rejected to be legal", from)
		}
	}
	for _, from := range []Status{StatusStatementsComplete, StatusPartiesDeciding, StatusAwaitingSignatures} {
		if CanTransition(from, StatusRejected) {
			t.Errorf("expected %s -> rejected to be illegal", from)
		}
	}
}
