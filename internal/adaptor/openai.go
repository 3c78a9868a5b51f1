package adaptor

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/burncloud/burncloud-router/internal/meta"
)

// OpenAI is the identity adapter for OpenAI-dialect upstreams (OpenAI itself,
// DeepSeek, Qwen, and any other bearer-authenticated compatible endpoint).
type OpenAI struct {
	// Name distinguishes compatible vendors in logs ("openai", "deepseek",
	// "qwen").
	Name string
}

func (a *OpenAI) ChannelName() string { return a.Name }

func (a *OpenAI) GetRequestURL(m *meta.Meta) (string, error) {
	return joinURL(m.BaseURL, m.RequestURLPath), nil
}

func (a *OpenAI) SetupRequestHeader(c *gin.Context, req *http.Request, m *meta.Meta) error {
	ForwardHeaders(c, req)
	req.Header.Set("Authorization", "Bearer "+m.APIKey)
	return nil
}

func (a *OpenAI) ConvertRequest(c *gin.Context, m *meta.Meta, body []byte) ([]byte, error) {
	return body, nil
}

func (a *OpenAI) ConvertResponse(m *meta.Meta, statusCode int, body []byte) ([]byte, *Usage, error) {
	return body, ParseOpenAIUsage(body), nil
}

// openaiUsage mirrors the OpenAI usage object.
type openaiUsage struct {
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// ParseOpenAIUsage pulls the usage object out of an OpenAI-shaped body,
// returning nil when absent so callers fall back to estimation.
func ParseOpenAIUsage(body []byte) *Usage {
	var u openaiUsage
	if err := json.Unmarshal(body, &u); err != nil {
		return nil
	}
	if u.Usage.PromptTokens == 0 && u.Usage.CompletionTokens == 0 {
		return nil
	}
	return &Usage{PromptTokens: u.Usage.PromptTokens, CompletionTokens: u.Usage.CompletionTokens}
}
