package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"foundry-chat/internal/protocol"
	apperrors "foundry-chat/pkg/errors"
	"foundry-chat/pkg/logger"
)

// maxErrorBody caps how much of an error response body is read for message
// extraction.
const maxErrorBody = 64 * 1024

// Client performs authenticated exchanges with the gateway. It owns no
// conversation semantics and never retries; retry policy belongs to the
// orchestrator.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a gateway client. A zero timeout disables the transport
// deadline, reproducing the upstream behaviour of waiting indefinitely.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("transport"),
	}
}

// Send posts one chat request with the credential attached as a bearer
// header and decodes the response. Network failures surface as transport
// errors; well-formed non-2xx responses surface as application errors with
// the server message extracted from the body when present.
func (c *Client) Send(ctx context.Context, req *protocol.ChatRequest, credential string) (*protocol.ChatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, apperrors.NewProtocolViolation("failed to encode chat request: " + err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.NewTransportError(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+credential)

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, apperrors.NewTransportError(err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, c.applicationError(httpResp)
	}

	var resp protocol.ChatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, apperrors.NewProtocolViolation("failed to decode chat response: " + err.Error())
	}

	c.logger.Debug("Chat exchange completed",
		zap.String("status", resp.Status),
		zap.String("response_id", resp.ResponseID),
		zap.Duration("latency", time.Since(start)),
	)
	return &resp, nil
}

// GetAgent resolves agent metadata from the gateway, mirroring the lookup
// the gateway itself performs upstream.
func (c *Client) GetAgent(ctx context.Context, name, credential string) (*protocol.AgentInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/agents/"+url.PathEscape(name), nil)
	if err != nil {
		return nil, apperrors.NewTransportError(err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+credential)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, apperrors.NewTransportError(err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, c.applicationError(httpResp)
	}

	var info protocol.AgentInfo
	if err := json.NewDecoder(httpResp.Body).Decode(&info); err != nil {
		return nil, apperrors.NewProtocolViolation("failed to decode agent info: " + err.Error())
	}
	return &info, nil
}

// applicationError extracts a human-readable message from an error body,
// falling back to the status code.
func (c *Client) applicationError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var body struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	detail := ""
	if err := json.Unmarshal(raw, &body); err == nil {
		switch {
		case body.Detail != "":
			detail = body.Detail
		case body.Error != "":
			detail = body.Error
		}
	}

	c.logger.Warn("Gateway returned error response",
		zap.Int("status", resp.StatusCode),
		zap.String("detail", detail),
	)
	if detail == "" {
		detail = fmt.Sprintf("gateway returned status %d", resp.StatusCode)
	}
	return apperrors.NewApplicationError(resp.StatusCode, detail)
}
