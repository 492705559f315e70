package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/horus-bot/firstAId-chat-bot-api/internal/config"
	"github.com/horus-bot/firstAId-chat-bot-api/internal/models"
)

type capturedRequest struct {
	Model       string   `json:"model"`
	Temperature *float32 `json:"temperature"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

const okBody = `{
	"id": "chatcmpl-1",
	"object": "chat.completion",
	"created": 1700000000,
	"model": "llama3-8b-8192",
	"choices": [{"index": 0, "message": {"role": "assistant", "content": "- RINSE the cut 💧"}, "finish_reason": "stop"}],
	"usage": {"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17}
}`

func newUpstream(t *testing.T, status int, body string, seen chan<- capturedRequest, auth chan<- string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		var req capturedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if seen != nil {
			seen <- req
		}
		if auth != nil {
			auth <- r.Header.Get("Authorization")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestGateway(t *testing.T, baseURL string, temperature *float32) *Gateway {
	t.Helper()
	gw, err := NewGateway(context.Background(), "groq", config.ProviderConfig{
		Type:        "openai",
		BaseURL:     baseURL,
		Model:       "llama3-8b-8192",
		APIKey:      "test-key",
		Temperature: temperature,
	})
	require.NoError(t, err)
	return gw
}

func TestGatewayCompleteSendsWholeTranscript(t *testing.T) {
	seen := make(chan capturedRequest, 1)
	auth := make(chan string, 1)
	srv := newUpstream(t, http.StatusOK, okBody, seen, auth)
	temp := float32(0.3)
	gw := newTestGateway(t, srv.URL, &temp)

	transcript := models.Transcript{
		models.SystemTurn("sys"),
		models.UserTurn("I cut my finger"),
		models.AssistantTurn("Apply pressure"),
		models.UserTurn("It stopped"),
	}
	got, err := gw.Complete(context.Background(), transcript)
	require.NoError(t, err)
	assert.Equal(t, "- RINSE the cut 💧", got.Reply)
	require.NotNil(t, got.Raw)
	assert.Equal(t, got.Reply, got.Raw.Content)

	req := <-seen
	assert.Equal(t, "llama3-8b-8192", req.Model)
	require.NotNil(t, req.Temperature)
	assert.InDelta(t, 0.3, *req.Temperature, 1e-6)
	require.Len(t, req.Messages, 4)
	for i, turn := range transcript {
		assert.Equal(t, string(turn.Role), req.Messages[i].Role)
		assert.Equal(t, turn.Content, req.Messages[i].Content)
	}
	assert.Equal(t, "Bearer test-key", <-auth)
}

func TestGatewayCompleteServerError(t *testing.T) {
	srv := newUpstream(t, http.StatusInternalServerError,
		`{"error": {"message": "model overloaded", "type": "server_error"}}`, nil, nil)
	gw := newTestGateway(t, srv.URL, nil)

	_, err := gw.Complete(context.Background(), models.Transcript{models.SystemTurn("sys"), models.UserTurn("hi")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestGatewayCompleteNoChoices(t *testing.T) {
	srv := newUpstream(t, http.StatusOK,
		`{"id": "x", "object": "chat.completion", "created": 1, "model": "m", "choices": []}`, nil, nil)
	gw := newTestGateway(t, srv.URL, nil)

	_, err := gw.Complete(context.Background(), models.Transcript{models.SystemTurn("sys"), models.UserTurn("hi")})
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestGatewayCompleteUnreachable(t *testing.T) {
	srv := newUpstream(t, http.StatusOK, okBody, nil, nil)
	url := srv.URL
	srv.Close()
	gw := newTestGateway(t, url, nil)

	_, err := gw.Complete(context.Background(), models.Transcript{models.SystemTurn("sys"), models.UserTurn("hi")})
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestNewGatewayValidation(t *testing.T) {
	ctx := context.Background()
	_, err := NewGateway(ctx, "x", config.ProviderConfig{Type: "openai"})
	assert.Error(t, err, "model is required")

	_, err = NewGateway(ctx, "x", config.ProviderConfig{Type: "carrier-pigeon", Model: "m"})
	assert.Error(t, err)

	gw, err := NewGateway(ctx, "groq", config.ProviderConfig{Model: "m", BaseURL: "http://localhost:1", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "groq", gw.Provider())
	assert.Equal(t, "m", gw.Model())
}

func TestConvertTurnsPreservesOrderAndRoles(t *testing.T) {
	msgs := convertTurns(models.Transcript{
		models.SystemTurn("s"),
		models.UserTurn("u"),
		models.AssistantTurn("a"),
	})
	require.Len(t, msgs, 3)
	assert.Equal(t, "system", string(msgs[0].Role))
	assert.Equal(t, "user", string(msgs[1].Role))
	assert.Equal(t, "assistant", string(msgs[2].Role))
	assert.Equal(t, "a", msgs[2].Content)
}
