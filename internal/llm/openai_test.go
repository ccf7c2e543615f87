package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chatResponse(content string) string {
	return `{"choices":[{"message":{"content":` + content + `}}]}`
}

func newServerClient(t *testing.T, handler http.HandlerFunc) (*OpenAIClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewOpenAIClientWithConfig(OpenAIConfig{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Model:   "test-model",
	}, zap.NewNop())
	require.NoError(t, err)
	client.sleep = func(time.Duration) {}
	return client, server
}

func TestCompleteJSONParsesContent(t *testing.T) {
	var gotAuth string
	client, _ := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(chatResponse(`"{\"query\":\"调研报告\",\"level\":\"L3\"}"`)))
	})

	parsed, err := client.CompleteJSON(context.Background(), []Message{
		{Role: RoleSystem, Content: "你是任务构造器"},
		{Role: RoleUser, Content: "生成任务"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "调研报告", parsed["query"])
	assert.Equal(t, "L3", parsed["level"])
}

func TestCompleteJSONRejectsNonJSONContent(t *testing.T) {
	client, _ := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatResponse(`"not json at all"`)))
	})

	_, err := client.CompleteJSON(context.Background(), []Message{{Role: RoleUser, Content: "x"}})
	var gerr *GenerationError
	require.ErrorAs(t, err, &gerr)
	assert.Contains(t, gerr.Error(), "not json at all")
}

func TestCompleteJSONFailsFastOnHTTPError(t *testing.T) {
	var calls atomic.Int32
	client, _ := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	})

	_, err := client.CompleteJSON(context.Background(), []Message{{Role: RoleUser, Content: "x"}})
	var gerr *GenerationError
	require.ErrorAs(t, err, &gerr)
	// Non-timeout failures are not retried.
	assert.Equal(t, int32(1), calls.Load())
}

func TestCompleteJSONRetriesTimeouts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			time.Sleep(300 * time.Millisecond)
		}
		w.Write([]byte(chatResponse(`"{\"ok\":true}"`)))
	}))
	defer server.Close()

	client, err := NewOpenAIClientWithConfig(OpenAIConfig{
		BaseURL:    server.URL,
		APIKey:     "k",
		Model:      "m",
		Timeout:    100 * time.Millisecond,
		MaxRetries: 3,
	}, zap.NewNop())
	require.NoError(t, err)
	client.sleep = func(time.Duration) {}

	parsed, err := client.CompleteJSON(context.Background(), []Message{{Role: RoleUser, Content: "x"}})
	require.NoError(t, err)
	assert.Equal(t, true, parsed["ok"])
	assert.Equal(t, int32(2), calls.Load())
}

func TestCompleteJSONEmptyChoices(t *testing.T) {
	client, _ := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	})

	_, err := client.CompleteJSON(context.Background(), []Message{{Role: RoleUser, Content: "x"}})
	var gerr *GenerationError
	require.ErrorAs(t, err, &gerr)
	assert.Contains(t, gerr.Error(), "no choices")
}

func TestNewOpenAIClientRequiresCredentials(t *testing.T) {
	_, err := NewOpenAIClientWithConfig(OpenAIConfig{Model: "m"}, nil)
	var gerr *GenerationError
	require.ErrorAs(t, err, &gerr)

	_, err = NewOpenAIClientWithConfig(OpenAIConfig{APIKey: "k"}, nil)
	require.ErrorAs(t, err, &gerr)
}
