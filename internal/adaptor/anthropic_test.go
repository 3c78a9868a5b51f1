package adaptor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burncloud/burncloud-router/internal/meta"
)

func testContext(t *testing.T, method, path string, header http.Header) *gin.Context {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, path, nil)
	if header != nil {
		c.Request.Header = header
	}
	return c
}

func TestAnthropic_ConvertRequest(t *testing.T) {
	a := &Anthropic{}
	m := &meta.Meta{Mode: meta.ModeChatCompletions}
	body := []byte(`{
		"model": "claude-3-opus",
		"messages": [
			{"role": "system", "content": "be brief"},
			{"role": "user", "content": "hi"}
		],
		"max_tokens": 100
	}`)

	out, err := a.ConvertRequest(testContext(t, "POST", "/v1/chat/completions", nil), m, body)
	require.NoError(t, err)

	var req claudeRequest
	require.NoError(t, json.Unmarshal(out, &req))
	assert.Equal(t, "claude-3-opus", req.Model)
	assert.Equal(t, "be brief", req.System)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "user", req.Messages[0].Role)
	assert.Equal(t, "hi", req.Messages[0].Content)
	assert.Equal(t, 100, req.MaxTokens)
}

func TestAnthropic_ConvertRequestDefaultsMaxTokens(t *testing.T) {
	a := &Anthropic{}
	m := &meta.Meta{Mode: meta.ModeChatCompletions}
	body := []byte(`{"model":"claude-3-haiku","messages":[{"role":"user","content":"hi"}]}`)

	out, err := a.ConvertRequest(testContext(t, "POST", "/v1/chat/completions", nil), m, body)
	require.NoError(t, err)

	var req claudeRequest
	require.NoError(t, json.Unmarshal(out, &req))
	assert.Equal(t, defaultMaxTokens, req.MaxTokens)
}

func TestAnthropic_NativeMessagesPassthrough(t *testing.T) {
	a := &Anthropic{}
	m := &meta.Meta{Mode: meta.ModeClaudeMessages}
	body := []byte(`{"model":"claude-3-opus","messages":[{"role":"user","content":"hi"}],"max_tokens":5}`)

	out, err := a.ConvertRequest(testContext(t, "POST", "/v1/messages", nil), m, body)
	require.NoError(t, err)
	assert.Equal(t, body, out)
}

func TestAnthropic_Headers(t *testing.T) {
	a := &Anthropic{}
	m := &meta.Meta{APIKey: "sk-ant-123"}
	inbound := http.Header{}
	inbound.Set("Authorization", "Bearer inbound-secret")
	inbound.Set("User-Agent", "test-client")
	c := testContext(t, "POST", "/v1/chat/completions", inbound)

	req := httptest.NewRequest("POST", "http://up/v1/messages", nil)
	require.NoError(t, a.SetupRequestHeader(c, req, m))

	assert.Equal(t, "sk-ant-123", req.Header.Get("x-api-key"))
	assert.Equal(t, anthropicVersion, req.Header.Get("anthropic-version"))
	assert.Empty(t, req.Header.Get("Authorization"))
	assert.Equal(t, "test-client", req.Header.Get("User-Agent"))
}

func TestAnthropic_ConvertResponse(t *testing.T) {
	a := &Anthropic{}
	m := &meta.Meta{Mode: meta.ModeChatCompletions}
	body := []byte(`{
		"id": "msg_1", "model": "claude-3-opus",
		"content": [{"type": "text", "text": "Hello!"}],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 10, "output_tokens": 3}
	}`)

	out, usage, err := a.ConvertResponse(m, http.StatusOK, body)
	require.NoError(t, err)
	require.NotNil(t, usage)
	assert.Equal(t, 10, usage.PromptTokens)
	assert.Equal(t, 3, usage.CompletionTokens)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(out, &resp))
	choices := resp["choices"].([]any)
	msg := choices[0].(map[string]any)["message"].(map[string]any)
	assert.Equal(t, "Hello!", msg["content"])
}
