package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"foundry-chat/internal/protocol"
	"foundry-chat/pkg/logger"
)

// maxToolRounds bounds how many model/tool iterations one turn may take
// before the runtime gives up.
const maxToolRounds = 5

// maxRetries bounds upstream completion attempts. This is the only retry in
// the system; the gateway and the client never retry.
const maxRetries = 3

// deniedToolResult is fed back to the model for tool calls the user denied.
const deniedToolResult = "Tool call denied by the user."

// ToolFunc executes one tool call with parsed arguments
type ToolFunc func(ctx context.Context, args map[string]any) (string, error)

// Tool describes a callable tool. Approval-gated tools interrupt the turn
// until the user decides; consent-gated tools interrupt it until the user
// completes an out-of-band OAuth grant for the tool's server.
type Tool struct {
	Name             string
	Description      string
	Parameters       map[string]any
	ServerLabel      string
	RequiresApproval bool
	RequiresConsent  bool
	Execute          ToolFunc
}

// Result is the outcome of one runtime turn, mapped one-to-one onto the
// wire response shapes.
type Result struct {
	Status           string
	ResponseID       string
	OutputText       string
	ConsentLink      string
	ApprovalRequests []protocol.ApprovalRequest
}

// ToResponse converts a Result to its wire shape
func (r *Result) ToResponse() *protocol.ChatResponse {
	return &protocol.ChatResponse{
		Status:           r.Status,
		ResponseID:       r.ResponseID,
		OutputText:       r.OutputText,
		ConsentLink:      r.ConsentLink,
		ApprovalRequests: r.ApprovalRequests,
	}
}

// parkedCall is a proposed tool invocation held until the user decides
type parkedCall struct {
	approvalID string
	toolCallID string
	name       string
	args       map[string]any
}

// pendingState is a turn blocked on consent or approvals, keyed by the
// response id handed to the client.
type pendingState struct {
	messages      []openai.ChatCompletionMessage
	parked        []parkedCall
	awaitingGrant bool
}

// Runtime runs the agent loop against an OpenAI-compatible completion
// endpoint, interposing approval and consent gates in front of tool
// execution. Conversation state is kept in memory keyed by opaque response
// ids; the id returned by each turn is the only handle a caller needs.
type Runtime struct {
	client     *openai.Client
	model      string
	agentName  string
	agentID    string
	consentURL string
	tools      []Tool
	byName     map[string]Tool
	logger     *zap.Logger

	mu            sync.Mutex
	granted       map[string]bool
	conversations map[string][]openai.ChatCompletionMessage
	pending       map[string]*pendingState
}

// NewRuntime creates a runtime. When no consent URL is configured, consent
// gating is disabled: there would be no link to hand out.
func NewRuntime(baseURL, apiKey, model, agentName, consentURL string, tools []Tool) *Runtime {
	// An OpenAI-compatible proxy accepts any key; keep requests well-formed.
	if apiKey == "" {
		apiKey = "dummy-key"
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL + "/v1"

	log := logger.Named("runtime")
	byName := make(map[string]Tool, len(tools))
	for i, tool := range tools {
		if tool.RequiresConsent && consentURL == "" {
			log.Warn("Consent gating disabled, no consent URL configured",
				zap.String("tool", tool.Name),
			)
			tools[i].RequiresConsent = false
		}
		byName[tool.Name] = tools[i]
	}

	return &Runtime{
		client:        openai.NewClientWithConfig(cfg),
		model:         model,
		agentName:     agentName,
		agentID:       "agent_" + uuid.NewString(),
		consentURL:    consentURL,
		tools:         tools,
		byName:        byName,
		logger:        log,
		granted:       make(map[string]bool),
		conversations: make(map[string][]openai.ChatCompletionMessage),
		pending:       make(map[string]*pendingState),
	}
}

// AgentName returns the configured agent name
func (r *Runtime) AgentName() string {
	return r.agentName
}

// AgentID returns the stable id minted for this runtime instance
func (r *Runtime) AgentID() string {
	return r.agentID
}

// Chat starts or continues a conversation with a new user message
func (r *Runtime) Chat(ctx context.Context, message, previousResponseID string) (*Result, error) {
	messages, err := r.loadConversation(previousResponseID)
	if err != nil {
		return nil, err
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: message,
	})
	return r.runLoop(ctx, messages)
}

// Continue resumes a conversation blocked on OAuth consent. The servers
// behind the parked calls are marked granted; calls that additionally need
// approval are surfaced as an approval batch, the rest execute immediately.
func (r *Runtime) Continue(ctx context.Context, previousResponseID string) (*Result, error) {
	r.mu.Lock()
	state, ok := r.pending[previousResponseID]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("nothing to continue for response %s", previousResponseID)
	}
	if !state.awaitingGrant {
		r.mu.Unlock()
		return nil, fmt.Errorf("response %s is awaiting approvals, not OAuth consent", previousResponseID)
	}
	delete(r.pending, previousResponseID)
	for _, call := range state.parked {
		if tool, ok := r.byName[call.name]; ok && tool.ServerLabel != "" {
			r.granted[tool.ServerLabel] = true
		}
	}
	r.mu.Unlock()

	messages := state.messages
	var gated []parkedCall
	for _, call := range state.parked {
		if r.byName[call.name].RequiresApproval {
			gated = append(gated, call)
			continue
		}
		messages = append(messages, r.executeCall(ctx, call, true))
	}

	if len(gated) > 0 {
		return r.parkForApproval(messages, gated), nil
	}
	return r.runLoop(ctx, messages)
}

// SubmitApprovals resolves a parked approval batch. Parked calls without an
// explicit decision are denied.
func (r *Runtime) SubmitApprovals(ctx context.Context, previousResponseID string, approvals []protocol.ApprovalItem) (*Result, error) {
	r.mu.Lock()
	state, ok := r.pending[previousResponseID]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("no pending approval batch for response %s", previousResponseID)
	}
	if state.awaitingGrant {
		r.mu.Unlock()
		return nil, fmt.Errorf("response %s is awaiting OAuth consent, not approvals", previousResponseID)
	}
	delete(r.pending, previousResponseID)
	r.mu.Unlock()

	decisions := make(map[string]bool, len(approvals))
	for _, item := range approvals {
		decisions[item.ApprovalRequestID] = item.Approve
	}

	messages := state.messages
	for _, call := range state.parked {
		messages = append(messages, r.executeCall(ctx, call, decisions[call.approvalID]))
	}
	return r.runLoop(ctx, messages)
}

// loadConversation returns a copy of the message history for a chain token
func (r *Runtime) loadConversation(previousResponseID string) ([]openai.ChatCompletionMessage, error) {
	if previousResponseID == "" {
		return []openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleSystem,
			Content: r.systemPrompt(),
		}}, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, blocked := r.pending[previousResponseID]; blocked {
		return nil, fmt.Errorf("response %s is blocked awaiting consent or approvals", previousResponseID)
	}
	history, ok := r.conversations[previousResponseID]
	if !ok {
		return nil, fmt.Errorf("unknown previous_response_id %s", previousResponseID)
	}
	return append([]openai.ChatCompletionMessage(nil), history...), nil
}

// runLoop drives model/tool iterations until the turn completes or blocks
func (r *Runtime) runLoop(ctx context.Context, messages []openai.ChatCompletionMessage) (*Result, error) {
	for round := 0; round < maxToolRounds; round++ {
		reply, err := r.complete(ctx, messages)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *reply)

		if len(reply.ToolCalls) == 0 {
			return r.finalize(messages, reply.Content), nil
		}

		calls, err := r.parseCalls(reply.ToolCalls)
		if err != nil {
			return nil, err
		}

		// Consent precedes approvals: the user must complete the grant
		// before tool authorization can succeed at all.
		if r.needsConsent(calls) {
			return r.parkForConsent(messages, calls), nil
		}

		var gated []parkedCall
		for _, call := range calls {
			if r.byName[call.name].RequiresApproval {
				gated = append(gated, call)
				continue
			}
			messages = append(messages, r.executeCall(ctx, call, true))
		}
		if len(gated) > 0 {
			return r.parkForApproval(messages, gated), nil
		}
	}
	return nil, fmt.Errorf("turn exceeded %d tool rounds", maxToolRounds)
}

// complete calls the upstream completion endpoint with linear backoff
func (r *Runtime) complete(ctx context.Context, messages []openai.ChatCompletionMessage) (*openai.ChatCompletionMessage, error) {
	req := openai.ChatCompletionRequest{
		Model:       r.model,
		Messages:    messages,
		Tools:       r.openaiTools(),
		Temperature: 0.7,
	}

	var resp openai.ChatCompletionResponse
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * time.Second
			r.logger.Warn("Retrying upstream completion",
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
			)
			time.Sleep(backoff)
		}

		resp, err = r.client.CreateChatCompletion(ctx, req)
		if err == nil {
			break
		}
		r.logger.Error("Upstream completion failed",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.String("model", r.model),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("completion failed after %d attempts: %w", maxRetries, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in completion response")
	}
	return &resp.Choices[0].Message, nil
}

// parseCalls decodes tool call arguments into parked calls
func (r *Runtime) parseCalls(toolCalls []openai.ToolCall) ([]parkedCall, error) {
	calls := make([]parkedCall, 0, len(toolCalls))
	for _, tc := range toolCalls {
		if _, known := r.byName[tc.Function.Name]; !known {
			return nil, fmt.Errorf("model requested unknown tool %s", tc.Function.Name)
		}
		args := make(map[string]any)
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				r.logger.Warn("Failed to parse tool call arguments",
					zap.String("tool_id", tc.ID),
					zap.Error(err),
				)
				args = make(map[string]any)
			}
		}
		calls = append(calls, parkedCall{
			approvalID: "apr_" + uuid.NewString(),
			toolCallID: tc.ID,
			name:       tc.Function.Name,
			args:       args,
		})
	}
	return calls, nil
}

// needsConsent reports whether any call targets an ungranted consent-gated
// server.
func (r *Runtime) needsConsent(calls []parkedCall) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, call := range calls {
		tool := r.byName[call.name]
		if tool.RequiresConsent && !r.granted[tool.ServerLabel] {
			return true
		}
	}
	return false
}

// executeCall runs one tool call, or fabricates a denial result, and wraps
// the outcome as a tool message for the model.
func (r *Runtime) executeCall(ctx context.Context, call parkedCall, approved bool) openai.ChatCompletionMessage {
	content := deniedToolResult
	if approved {
		tool := r.byName[call.name]
		out, err := tool.Execute(ctx, call.args)
		if err != nil {
			r.logger.Warn("Tool execution failed",
				zap.String("tool", call.name),
				zap.Error(err),
			)
			content = fmt.Sprintf("Tool error: %v", err)
		} else {
			r.logger.Info("Tool executed",
				zap.String("tool", call.name),
			)
			content = out
		}
	}
	return openai.ChatCompletionMessage{
		Role:       openai.ChatMessageRoleTool,
		Content:    content,
		ToolCallID: call.toolCallID,
	}
}

// finalize stores the finished conversation under a fresh response id
func (r *Runtime) finalize(messages []openai.ChatCompletionMessage, output string) *Result {
	id := "resp_" + uuid.NewString()
	r.mu.Lock()
	r.conversations[id] = messages
	r.mu.Unlock()

	r.logger.Debug("Turn finalized",
		zap.String("response_id", id),
		zap.Bool("has_output", output != ""),
	)
	return &Result{
		Status:     protocol.StatusOK,
		ResponseID: id,
		OutputText: output,
	}
}

// parkForConsent blocks the turn until the user completes the OAuth grant
func (r *Runtime) parkForConsent(messages []openai.ChatCompletionMessage, calls []parkedCall) *Result {
	id := "resp_" + uuid.NewString()
	r.mu.Lock()
	r.pending[id] = &pendingState{messages: messages, parked: calls, awaitingGrant: true}
	r.mu.Unlock()

	r.logger.Info("Turn blocked on OAuth consent",
		zap.String("response_id", id),
		zap.Int("parked_calls", len(calls)),
	)
	return &Result{
		Status:      protocol.StatusConsentRequired,
		ResponseID:  id,
		ConsentLink: r.consentURL,
	}
}

// parkForApproval blocks the turn until the user decides every parked call
func (r *Runtime) parkForApproval(messages []openai.ChatCompletionMessage, calls []parkedCall) *Result {
	id := "resp_" + uuid.NewString()
	requests := make([]protocol.ApprovalRequest, 0, len(calls))
	for _, call := range calls {
		requests = append(requests, protocol.ApprovalRequest{
			ID:          call.approvalID,
			ServerLabel: r.byName[call.name].ServerLabel,
			ToolName:    call.name,
			Arguments:   call.args,
		})
	}

	r.mu.Lock()
	r.pending[id] = &pendingState{messages: messages, parked: calls}
	r.mu.Unlock()

	r.logger.Info("Turn blocked on tool approvals",
		zap.String("response_id", id),
		zap.Int("requests", len(requests)),
	)
	return &Result{
		Status:           protocol.StatusApprovalRequired,
		ResponseID:       id,
		ApprovalRequests: requests,
	}
}

// openaiTools converts the registry to the upstream tool format
func (r *Runtime) openaiTools() []openai.Tool {
	if len(r.tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	return out
}

// systemPrompt is deliberately small; behaviour lives in the tools
func (r *Runtime) systemPrompt() string {
	return fmt.Sprintf("You are %s, a helpful assistant. Use the available tools when they can answer the user's question; otherwise answer directly.", r.agentName)
}
