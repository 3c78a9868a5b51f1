package adaptor

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/burncloud/burncloud-router/internal/meta"
)

const (
	anthropicVersion = "2023-06-01"

	// defaultMaxTokens is used when the inbound request omits max_tokens,
	// which Anthropic requires.
	defaultMaxTokens = 4096
)

// Anthropic converts OpenAI chat completions into Claude's messages dialect
// and back. Requests that arrive already in Claude's dialect (the native
// messages surface) pass through untouched.
type Anthropic struct{}

func (a *Anthropic) ChannelName() string { return "anthropic" }

func (a *Anthropic) GetRequestURL(m *meta.Meta) (string, error) {
	if m.Mode == meta.ModeClaudeMessages {
		return joinURL(m.BaseURL, m.RequestURLPath), nil
	}
	return joinURL(m.BaseURL, "/v1/messages"), nil
}

func (a *Anthropic) SetupRequestHeader(c *gin.Context, req *http.Request, m *meta.Meta) error {
	ForwardHeaders(c, req)
	req.Header.Set("x-api-key", m.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	return nil
}

type openaiMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type openaiChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	Stop        json.RawMessage `json:"stop,omitempty"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeRequest struct {
	Model       string          `json:"model"`
	System      string          `json:"system,omitempty"`
	Messages    []claudeMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

func (a *Anthropic) ConvertRequest(c *gin.Context, m *meta.Meta, body []byte) ([]byte, error) {
	if m.Mode == meta.ModeClaudeMessages {
		return body, nil
	}
	var in openaiChatRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, errors.Wrap(err, "parse chat request")
	}

	out := claudeRequest{
		Model:       in.Model,
		MaxTokens:   in.MaxTokens,
		Temperature: in.Temperature,
		TopP:        in.TopP,
		Stream:      in.Stream,
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = defaultMaxTokens
	}
	for _, msg := range in.Messages {
		text := contentToText(msg.Content)
		if msg.Role == "system" {
			// Claude takes the system prompt as a top-level field.
			if out.System != "" {
				out.System += "\n"
			}
			out.System += text
			continue
		}
		role := msg.Role
		if role != "assistant" {
			role = "user"
		}
		out.Messages = append(out.Messages, claudeMessage{Role: role, Content: text})
	}

	encoded, err := json.Marshal(out)
	if err != nil {
		return nil, errors.Wrap(err, "encode claude request")
	}
	return encoded, nil
}

// contentToText flattens an OpenAI message content, which is either a plain
// string or an array of typed parts.
func contentToText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return string(raw)
	}
	out := ""
	for _, p := range parts {
		if p.Type == "text" || p.Type == "" {
			out += p.Text
		}
	}
	return out
}

type claudeResponse struct {
	Id      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (a *Anthropic) ConvertResponse(m *meta.Meta, statusCode int, body []byte) ([]byte, *Usage, error) {
	if m.Mode == meta.ModeClaudeMessages {
		return body, parseClaudeUsage(body), nil
	}
	if statusCode != http.StatusOK {
		return body, nil, nil
	}

	var in claudeResponse
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, nil, errors.Wrap(err, "parse claude response")
	}
	content := ""
	if len(in.Content) > 0 {
		content = in.Content[0].Text
	}

	out := map[string]any{
		"id":     in.Id,
		"object": "chat.completion",
		"model":  in.Model,
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": stopReasonToFinish(in.StopReason),
		}},
		"usage": map[string]any{
			"prompt_tokens":     in.Usage.InputTokens,
			"completion_tokens": in.Usage.OutputTokens,
			"total_tokens":      in.Usage.InputTokens + in.Usage.OutputTokens,
		},
	}
	encoded, err := json.Marshal(out)
	if err != nil {
		return nil, nil, errors.Wrap(err, "encode chat response")
	}
	return encoded, &Usage{PromptTokens: in.Usage.InputTokens, CompletionTokens: in.Usage.OutputTokens}, nil
}

func parseClaudeUsage(body []byte) *Usage {
	var r claudeResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return nil
	}
	if r.Usage.InputTokens == 0 && r.Usage.OutputTokens == 0 {
		return nil
	}
	return &Usage{PromptTokens: r.Usage.InputTokens, CompletionTokens: r.Usage.OutputTokens}
}

func stopReasonToFinish(reason string) string {
	switch reason {
	case "max_tokens":
		return "length"
	default:
		return "stop"
	}
}
