package protocol

import (
	"testing"

	apperrors "foundry-chat/pkg/errors"
)

func TestClassify_ConsentTakesPrecedence(t *testing.T) {
	// The gateway never reports two blocking states, but if a response did,
	// consent wins and only one panel is ever derived from it.
	resp := &ChatResponse{
		Status:      StatusConsentRequired,
		ConsentLink: "https://login.example/consent",
		ApprovalRequests: []ApprovalRequest{
			{ID: "apr-1", ToolName: "jira_search"},
		},
	}
	kind, err := resp.Classify()
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if kind != OutcomeConsent {
		t.Errorf("Expected consent outcome, got %s", kind)
	}
}

func TestClassify_FinalWithEmptyOutputIsValid(t *testing.T) {
	for _, status := range []string{StatusOK, ""} {
		resp := &ChatResponse{Status: status}
		kind, err := resp.Classify()
		if err != nil {
			t.Fatalf("Classify(%q) failed: %v", status, err)
		}
		if kind != OutcomeFinal {
			t.Errorf("Classify(%q): expected final outcome, got %s", status, kind)
		}
	}
}

func TestClassify_Violations(t *testing.T) {
	cases := []struct {
		name string
		resp *ChatResponse
	}{
		{"unknown status", &ChatResponse{Status: "mystery"}},
		{"consent without link", &ChatResponse{Status: StatusConsentRequired}},
		{"approvals with empty batch", &ChatResponse{Status: StatusApprovalRequired}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.resp.Classify()
			if err == nil {
				t.Fatal("Expected classification to fail")
			}
			if !apperrors.IsErrorType(err, apperrors.ErrorTypeProtocol) {
				t.Errorf("Expected protocol violation, got %v", err)
			}
		})
	}
}

func TestClassify_Approvals(t *testing.T) {
	resp := &ChatResponse{
		Status: StatusApprovalRequired,
		ApprovalRequests: []ApprovalRequest{
			{ID: "apr-1", ServerLabel: "jira", ToolName: "jira_search"},
		},
	}
	kind, err := resp.Classify()
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if kind != OutcomeApprovals {
		t.Errorf("Expected approvals outcome, got %s", kind)
	}
}
