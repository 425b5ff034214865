package chat

import (
	"testing"

	"foundry-chat/internal/protocol"
	apperrors "foundry-chat/pkg/errors"
)

func approvalResponse(id, tool string) *protocol.ChatResponse {
	return &protocol.ChatResponse{
		Status:     protocol.StatusApprovalRequired,
		ResponseID: "resp-1",
		ApprovalRequests: []protocol.ApprovalRequest{
			{ID: id, ServerLabel: "jira", ToolName: tool},
		},
	}
}

func TestSession_BeginTurn_RejectsOverlap(t *testing.T) {
	s := NewSession()
	if err := s.BeginTurn(); err != nil {
		t.Fatalf("BeginTurn from Idle failed: %v", err)
	}
	if s.Mode() != ModeAwaitingAssistant {
		t.Errorf("Expected awaiting_assistant, got %s", s.Mode())
	}

	err := s.BeginTurn()
	if err == nil {
		t.Fatal("Expected second BeginTurn to fail")
	}
	if !apperrors.IsErrorType(err, apperrors.ErrorTypeProtocol) {
		t.Errorf("Expected protocol violation, got %v", err)
	}
}

func TestSession_ApplyOutcome_ChainTokenIdempotentOnAbsence(t *testing.T) {
	s := NewSession()
	s.ApplyOutcome(protocol.OutcomeFinal, &protocol.ChatResponse{ResponseID: "resp-1"})
	if s.ChainToken() != "resp-1" {
		t.Fatalf("Expected chain token resp-1, got %q", s.ChainToken())
	}

	// A response without an id leaves the token untouched, never resets it.
	s.ApplyOutcome(protocol.OutcomeFinal, &protocol.ChatResponse{OutputText: "hi"})
	if s.ChainToken() != "resp-1" {
		t.Errorf("Expected chain token to survive absent id, got %q", s.ChainToken())
	}
}

func TestSession_ApplyOutcome_PanelsAreExclusive(t *testing.T) {
	s := NewSession()

	s.ApplyOutcome(protocol.OutcomeApprovals, approvalResponse("apr-1", "jira_search"))
	if s.Mode() != ModeAwaitingApprovals {
		t.Fatalf("Expected awaiting_approvals, got %s", s.Mode())
	}
	if s.Consent() != nil {
		t.Error("Expected no consent link while approvals pending")
	}

	s.ApplyOutcome(protocol.OutcomeConsent, &protocol.ChatResponse{
		Status:      protocol.StatusConsentRequired,
		ResponseID:  "resp-2",
		ConsentLink: "https://login.example/consent",
	})
	if s.Mode() != ModeAwaitingConsent {
		t.Fatalf("Expected awaiting_consent, got %s", s.Mode())
	}
	if len(s.PendingApprovals()) != 0 {
		t.Error("Expected approval batch cleared when consent arrives")
	}
	if s.Consent() == nil || s.Consent().URL != "https://login.example/consent" {
		t.Errorf("Expected stored consent link, got %+v", s.Consent())
	}
}

func TestSession_ApplyOutcome_SecondConsentSupersedes(t *testing.T) {
	s := NewSession()
	s.ApplyOutcome(protocol.OutcomeConsent, &protocol.ChatResponse{
		Status: protocol.StatusConsentRequired, ResponseID: "resp-1", ConsentLink: "https://a.example",
	})
	s.ApplyOutcome(protocol.OutcomeConsent, &protocol.ChatResponse{
		Status: protocol.StatusConsentRequired, ResponseID: "resp-2", ConsentLink: "https://b.example",
	})

	link := s.Consent()
	if link == nil || link.URL != "https://b.example" || link.ChainToken != "resp-2" {
		t.Errorf("Expected superseding consent link, got %+v", link)
	}
}

func TestSession_Decide(t *testing.T) {
	s := NewSession()

	if err := s.Decide("apr-1", true); err == nil {
		t.Error("Expected Decide without a batch to fail")
	}

	s.ApplyOutcome(protocol.OutcomeApprovals, approvalResponse("apr-1", "jira_search"))

	if got := s.Decisions()["apr-1"]; got {
		t.Error("Expected fresh batch to default to deny")
	}
	if err := s.Decide("apr-1", true); err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if got := s.Decisions()["apr-1"]; !got {
		t.Error("Expected decision recorded as approve")
	}

	if err := s.Decide("apr-unknown", true); err == nil {
		t.Error("Expected unknown approval id to fail")
	}
}

func TestSession_Reset_FromEveryMode(t *testing.T) {
	cases := []struct {
		name string
		prep func(s *Session)
	}{
		{"idle", func(s *Session) {}},
		{"awaiting_assistant", func(s *Session) {
			s.AppendMessage(RoleUser, "hello")
			_ = s.BeginTurn()
		}},
		{"awaiting_consent", func(s *Session) {
			s.ApplyOutcome(protocol.OutcomeConsent, &protocol.ChatResponse{
				Status: protocol.StatusConsentRequired, ResponseID: "resp-1", ConsentLink: "https://a.example",
			})
		}},
		{"awaiting_approvals", func(s *Session) {
			s.ApplyOutcome(protocol.OutcomeApprovals, approvalResponse("apr-1", "jira_search"))
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewSession()
			tc.prep(s)
			before := s.Generation()

			s.Reset()

			if len(s.Messages()) != 0 {
				t.Error("Expected empty transcript after reset")
			}
			if s.ChainToken() != "" {
				t.Error("Expected empty chain token after reset")
			}
			if s.Mode() != ModeIdle {
				t.Errorf("Expected idle mode after reset, got %s", s.Mode())
			}
			if s.Consent() != nil || len(s.PendingApprovals()) != 0 {
				t.Error("Expected no pending panels after reset")
			}
			if s.Generation() != before+1 {
				t.Errorf("Expected generation bump, got %d -> %d", before, s.Generation())
			}
		})
	}
}

func TestSession_TranscriptOrderPreserved(t *testing.T) {
	s := NewSession()
	s.AppendMessage(RoleUser, "one")
	s.AppendMessage(RoleAssistant, "two")
	s.AppendMessage(RoleUser, "one") // duplicates are kept, never deduplicated

	messages := s.Messages()
	if len(messages) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(messages))
	}
	if messages[0].Text != "one" || messages[1].Text != "two" || messages[2].Text != "one" {
		t.Errorf("Transcript order broken: %+v", messages)
	}
}
