package protocol

import (
	apperrors "foundry-chat/pkg/errors"
)

// Status values carried by ChatResponse. Consent takes precedence over
// approvals takes precedence over final output; the gateway never reports
// two blocking states in one response.
const (
	StatusOK               = "ok"
	StatusConsentRequired  = "oauth_consent_required"
	StatusApprovalRequired = "approval_required"
)

// ActionContinue resumes a conversation after out-of-band OAuth consent.
const ActionContinue = "continue"

// ApprovalItem is one user decision submitted back to the gateway. Every id
// presented in a batch gets exactly one entry, denied ones included.
type ApprovalItem struct {
	ApprovalRequestID string `json:"approval_request_id"`
	Approve           bool   `json:"approve"`
}

// ChatRequest is the union request shape accepted by POST /chat. Not all
// fields are present simultaneously: a request carries a message, an action,
// or approvals.
type ChatRequest struct {
	AgentName          string         `json:"agent_name"`
	Message            string         `json:"message,omitempty"`
	PreviousResponseID string         `json:"previous_response_id,omitempty"`
	Action             string         `json:"action,omitempty"`
	Approvals          []ApprovalItem `json:"approvals,omitempty"`
}

// ApprovalRequest is one proposed tool invocation awaiting user
// authorization. A set of these arrives together as a single batch tied to
// one response id.
type ApprovalRequest struct {
	ID          string         `json:"id"`
	ServerLabel string         `json:"server_label"`
	ToolName    string         `json:"tool_name"`
	Arguments   map[string]any `json:"arguments"`
}

// ChatResponse is the union of the three response shapes discriminated by
// Status. ResponseID, when present, is the chain token for the next request.
type ChatResponse struct {
	Status           string            `json:"status,omitempty"`
	ResponseID       string            `json:"response_id,omitempty"`
	OutputText       string            `json:"output_text,omitempty"`
	ConsentLink      string            `json:"consent_link,omitempty"`
	ApprovalRequests []ApprovalRequest `json:"approval_requests,omitempty"`
}

// AgentInfo is the metadata returned by GET /agents/:name.
type AgentInfo struct {
	Name string `json:"name"`
	ID   string `json:"id,omitempty"`
}

// Outcome is the classified kind of a ChatResponse.
type Outcome int

const (
	OutcomeFinal Outcome = iota
	OutcomeConsent
	OutcomeApprovals
)

// String returns a short label for logging
func (o Outcome) String() string {
	switch o {
	case OutcomeConsent:
		return "consent"
	case OutcomeApprovals:
		return "approvals"
	default:
		return "final"
	}
}

// Classify resolves a response into exactly one outcome, consent first, then
// approvals, then final. Anything else is a protocol violation, never
// silently coerced into a different branch.
func (r *ChatResponse) Classify() (Outcome, error) {
	switch r.Status {
	case StatusConsentRequired:
		if r.ConsentLink == "" {
			return OutcomeFinal, apperrors.NewProtocolViolation("consent required but no consent link provided")
		}
		return OutcomeConsent, nil
	case StatusApprovalRequired:
		if len(r.ApprovalRequests) == 0 {
			return OutcomeFinal, apperrors.NewProtocolViolation("approvals required but batch is empty")
		}
		return OutcomeApprovals, nil
	case StatusOK, "":
		// A missing or empty output_text is still a valid final outcome.
		return OutcomeFinal, nil
	default:
		return OutcomeFinal, apperrors.NewProtocolViolation("unknown response status: " + r.Status)
	}
}
