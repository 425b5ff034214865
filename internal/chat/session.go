package chat

import (
	"sync"

	"foundry-chat/internal/protocol"
	apperrors "foundry-chat/pkg/errors"
)

// Role identifies the author of a transcript message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one transcript entry. Immutable once appended; append order is
// the authoritative transcript and is never reordered or deduplicated.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// ConsentLink is an out-of-band action the user must complete in an external
// context before the conversation can advance. At most one is live at a time.
type ConsentLink struct {
	URL        string `json:"url"`
	ChainToken string `json:"chain_token"`
}

// Mode is the single user-visible interaction mode of a session. Exactly one
// mode is active at any instant.
type Mode int

const (
	ModeIdle Mode = iota
	ModeAwaitingAssistant
	ModeAwaitingConsent
	ModeAwaitingApprovals
)

// String returns a short label for logging
func (m Mode) String() string {
	switch m {
	case ModeAwaitingAssistant:
		return "awaiting_assistant"
	case ModeAwaitingConsent:
		return "awaiting_consent"
	case ModeAwaitingApprovals:
		return "awaiting_approvals"
	default:
		return "idle"
	}
}

// Session owns the conversation transcript, the chain token threaded into
// every follow-up request, and the active interaction mode. It is pure data:
// all I/O and outcome classification happen in the Orchestrator, which is
// the sole mutator.
type Session struct {
	mu         sync.Mutex
	messages   []Message
	chainToken string
	mode       Mode
	consent    *ConsentLink
	batch      []protocol.ApprovalRequest
	decisions  map[string]bool
	generation uint64
}

// NewSession returns an empty session in Idle mode
func NewSession() *Session {
	return &Session{}
}

// Messages returns a copy of the transcript in append order
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// ChainToken returns the most recently received chain token, empty before
// the first turn completes.
func (s *Session) ChainToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chainToken
}

// Mode returns the currently active interaction mode
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Consent returns the live consent link, or nil
func (s *Session) Consent() *ConsentLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.consent == nil {
		return nil
	}
	link := *s.consent
	return &link
}

// PendingApprovals returns a copy of the live approval batch in arrival order
func (s *Session) PendingApprovals() []protocol.ApprovalRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.ApprovalRequest, len(s.batch))
	copy(out, s.batch)
	return out
}

// Decisions returns a copy of the current approval decision map
func (s *Session) Decisions() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.decisions))
	for id, approve := range s.decisions {
		out[id] = approve
	}
	return out
}

// Generation returns the session generation, bumped on every Reset. A
// request captures it at send time; a response whose generation no longer
// matches is discarded rather than applied to the reset session.
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// AppendMessage appends to the transcript; no other field is affected
func (s *Session) AppendMessage(role Role, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, Message{Role: role, Text: text})
}

// Decide records an approve/deny decision for one item of the live batch
func (s *Session) Decide(id string, approve bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != ModeAwaitingApprovals {
		return apperrors.NewProtocolViolation("no pending approval batch to decide on")
	}
	if _, ok := s.decisions[id]; !ok {
		return apperrors.NewProtocolViolation("unknown approval request id: " + id)
	}
	s.decisions[id] = approve
	return nil
}

// BeginTurn moves Idle to AwaitingAssistant for a new user message. It fails
// fast when a turn is already outstanding or a blocking panel is active, so
// overlapping submissions are rejected at the transition boundary.
func (s *Session) BeginTurn() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != ModeIdle {
		return apperrors.NewProtocolViolation("cannot start a turn while " + s.mode.String())
	}
	s.mode = ModeAwaitingAssistant
	return nil
}

// beginResume moves a blocked mode (consent or approvals) to
// AwaitingAssistant when the user resolves it.
func (s *Session) beginResume(from Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != from {
		return apperrors.NewProtocolViolation("cannot resume from " + s.mode.String() + ", expected " + from.String())
	}
	s.mode = ModeAwaitingAssistant
	return nil
}

// restore puts the mode back to what it was before a failed send. The
// request effectively did not happen; any live batch or consent link is
// left intact so the same action can be retried.
func (s *Session) restore(mode Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
}

// ApplyOutcome is the single state mutator driven by the Orchestrator after
// a response is classified. The chain token is updated from the response
// when present and left untouched when absent, never reset to empty.
func (s *Session) ApplyOutcome(kind protocol.Outcome, resp *protocol.ChatResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if resp.ResponseID != "" {
		s.chainToken = resp.ResponseID
	}

	switch kind {
	case protocol.OutcomeConsent:
		// A second consent response supersedes any previous link.
		s.consent = &ConsentLink{URL: resp.ConsentLink, ChainToken: s.chainToken}
		s.batch = nil
		s.decisions = nil
		s.mode = ModeAwaitingConsent
	case protocol.OutcomeApprovals:
		s.batch = make([]protocol.ApprovalRequest, len(resp.ApprovalRequests))
		copy(s.batch, resp.ApprovalRequests)
		// Every id defaults to deny; "undecided" and "denied" are
		// indistinguishable on purpose.
		s.decisions = make(map[string]bool, len(s.batch))
		for _, req := range s.batch {
			s.decisions[req.ID] = false
		}
		s.consent = nil
		s.mode = ModeAwaitingApprovals
	default:
		s.consent = nil
		s.batch = nil
		s.decisions = nil
		s.mode = ModeIdle
	}
}

// Reset atomically returns the session to its initial empty state and bumps
// the generation so in-flight responses are discarded on arrival.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.chainToken = ""
	s.mode = ModeIdle
	s.consent = nil
	s.batch = nil
	s.decisions = nil
	s.generation++
}
