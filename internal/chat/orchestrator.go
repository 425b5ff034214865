package chat

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"foundry-chat/internal/protocol"
	"foundry-chat/pkg/errors"
	"foundry-chat/pkg/logger"
)

// noOutputPlaceholder stands in for a final response whose output text is
// absent or empty; such responses are rendered explicitly, never dropped.
const noOutputPlaceholder = "(the agent returned no output)"

// consentInstruction prefixes the explanatory message appended when the
// agent reports that out-of-band OAuth consent is required.
const consentInstruction = "Consent is required before the agent can use its tools. Complete sign-in at the link below, then continue the conversation:\n"

// Sender performs one authenticated exchange with the gateway. It owns no
// conversation semantics and never retries.
type Sender interface {
	Send(ctx context.Context, req *protocol.ChatRequest, credential string) (*protocol.ChatResponse, error)
}

// TokenProvider resolves the bearer credential attached to every request.
// Resolution may itself block (interactive or silent refresh); it strictly
// precedes the network send.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// Orchestrator is the conversation state machine. It takes a user action,
// resolves a credential, drives the Sender, classifies the response and
// applies the outcome to its Session. It enforces at most one outstanding
// request per session and performs no automatic retries: retrying a
// chain-continuation request with a stale token could duplicate side effects
// in the agent runtime.
type Orchestrator struct {
	agentName string
	session   *Session
	sender    Sender
	tokens    TokenProvider
	logger    *zap.Logger
}

// NewOrchestrator creates an orchestrator owning a fresh session
func NewOrchestrator(agentName string, sender Sender, tokens TokenProvider) *Orchestrator {
	return &Orchestrator{
		agentName: agentName,
		session:   NewSession(),
		sender:    sender,
		tokens:    tokens,
		logger:    logger.Named("orchestrator"),
	}
}

// Session returns the session owned by this orchestrator
func (o *Orchestrator) Session() *Session {
	return o.session
}

// Send submits a new user chat message from Idle. The user message is
// appended before the send, so it survives a failed request and can be
// resubmitted.
func (o *Orchestrator) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.NewProtocolViolation("empty chat message")
	}

	if err := o.session.BeginTurn(); err != nil {
		return err
	}
	o.session.AppendMessage(RoleUser, text)

	req := &protocol.ChatRequest{
		AgentName:          o.agentName,
		Message:            text,
		PreviousResponseID: o.session.ChainToken(),
	}
	return o.roundTrip(ctx, req, ModeIdle)
}

// CompleteConsent signals that the user finished the out-of-band consent
// step. The resume request carries the chain token and no message text.
func (o *Orchestrator) CompleteConsent(ctx context.Context) error {
	if err := o.session.beginResume(ModeAwaitingConsent); err != nil {
		return err
	}

	req := &protocol.ChatRequest{
		AgentName:          o.agentName,
		PreviousResponseID: o.session.ChainToken(),
		Action:             protocol.ActionContinue,
	}
	return o.roundTrip(ctx, req, ModeAwaitingConsent)
}

// SubmitApprovals submits a decision for every item in the live batch,
// denied ones included. Items the user never decided default to deny.
func (o *Orchestrator) SubmitApprovals(ctx context.Context) error {
	batch := o.session.PendingApprovals()
	decisions := o.session.Decisions()

	if err := o.session.beginResume(ModeAwaitingApprovals); err != nil {
		return err
	}

	approvals := make([]protocol.ApprovalItem, 0, len(batch))
	for _, item := range batch {
		approvals = append(approvals, protocol.ApprovalItem{
			ApprovalRequestID: item.ID,
			Approve:           decisions[item.ID],
		})
	}

	req := &protocol.ChatRequest{
		AgentName:          o.agentName,
		PreviousResponseID: o.session.ChainToken(),
		Approvals:          approvals,
	}
	return o.roundTrip(ctx, req, ModeAwaitingApprovals)
}

// Reset discards the conversation. In-flight requests are not aborted, but
// their responses no longer match the session generation and are discarded
// on arrival.
func (o *Orchestrator) Reset() {
	o.session.Reset()
	o.logger.Debug("Session reset", zap.Uint64("generation", o.session.Generation()))
}

// roundTrip resolves a credential, performs the exchange and applies the
// classified outcome. On any failure the pre-send mode is restored: the
// request effectively did not happen.
func (o *Orchestrator) roundTrip(ctx context.Context, req *protocol.ChatRequest, priorMode Mode) error {
	generation := o.session.Generation()

	credential, err := o.tokens.Token(ctx)
	if err != nil {
		// Token acquisition may suspend; a reset during it must not have the
		// old mode stamped onto the fresh session.
		if o.session.Generation() == generation {
			o.session.restore(priorMode)
		}
		if errors.IsErrorType(err, errors.ErrorTypeCredential) {
			return err
		}
		return errors.NewCredentialError("failed to obtain bearer credential", err)
	}

	resp, err := o.sender.Send(ctx, req, credential)
	if err != nil {
		if o.session.Generation() == generation {
			o.session.restore(priorMode)
		}
		return err
	}

	// Responses are correlated to the session generation that issued them.
	// A reset while the request was in flight must not let this response
	// mutate the new session.
	if o.session.Generation() != generation {
		o.logger.Debug("Discarding response for reset session",
			zap.String("response_id", resp.ResponseID),
		)
		return nil
	}

	kind, err := resp.Classify()
	if err != nil {
		o.session.restore(priorMode)
		return err
	}

	o.session.ApplyOutcome(kind, resp)

	switch kind {
	case protocol.OutcomeConsent:
		o.session.AppendMessage(RoleAssistant, consentInstruction+resp.ConsentLink)
	case protocol.OutcomeApprovals:
		// The approval panel is derived from the session; no transcript entry.
	default:
		text := resp.OutputText
		if text == "" {
			text = noOutputPlaceholder
		}
		o.session.AppendMessage(RoleAssistant, text)
	}

	o.logger.Debug("Turn completed",
		zap.String("outcome", kind.String()),
		zap.String("chain_token", o.session.ChainToken()),
		zap.String("mode", o.session.Mode().String()),
	)
	return nil
}
