package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foundry-chat/internal/protocol"
	apperrors "foundry-chat/pkg/errors"
)

func TestClient_Send_AttachesBearerAndDecodes(t *testing.T) {
	var gotAuth string
	var gotBody protocol.ChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(protocol.ChatResponse{
			Status:     protocol.StatusOK,
			ResponseID: "resp-1",
			OutputText: "hello there",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second)
	resp, err := client.Send(context.Background(), &protocol.ChatRequest{
		AgentName: "assistant",
		Message:   "hi",
	}, "token-123")

	require.NoError(t, err)
	assert.Equal(t, "Bearer token-123", gotAuth)
	assert.Equal(t, "assistant", gotBody.AgentName)
	assert.Equal(t, "resp-1", resp.ResponseID)
	assert.Equal(t, "hello there", resp.OutputText)
}

func TestClient_Send_ApplicationErrorDetail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]string{"detail": "Chat failed: upstream exploded"})
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second)
	_, err := client.Send(context.Background(), &protocol.ChatRequest{AgentName: "assistant", Message: "hi"}, "tok")

	require.Error(t, err)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeApplication))
	var appErr *apperrors.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusBadGateway, appErr.StatusCode)
	assert.Equal(t, "Chat failed: upstream exploded", appErr.Detail)
}

func TestClient_Send_ApplicationErrorFallsBackToStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not json at all"))
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second)
	_, err := client.Send(context.Background(), &protocol.ChatRequest{AgentName: "assistant", Message: "hi"}, "tok")

	require.Error(t, err)
	var appErr *apperrors.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Contains(t, appErr.Detail, "503")
}

func TestClient_Send_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse connections

	client := NewClient(server.URL, time.Second)
	_, err := client.Send(context.Background(), &protocol.ChatRequest{AgentName: "assistant", Message: "hi"}, "tok")

	require.Error(t, err)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeTransport))
}

func TestClient_Send_MalformedBodyIsProtocolViolation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{broken"))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	_, err := client.Send(context.Background(), &protocol.ChatRequest{AgentName: "assistant", Message: "hi"}, "tok")

	require.Error(t, err)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeProtocol))
}

func TestClient_GetAgent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/agents/assistant", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(protocol.AgentInfo{Name: "assistant", ID: "agent-1"})
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	info, err := client.GetAgent(context.Background(), "assistant", "tok")

	require.NoError(t, err)
	assert.Equal(t, "assistant", info.Name)
	assert.Equal(t, "agent-1", info.ID)
}
