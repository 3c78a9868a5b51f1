package adaptor

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/burncloud/burncloud-router/internal/meta"
)

// Gemini converts OpenAI chat completions into the generateContent dialect.
// Vertex shares the body shape but authenticates with a bearer token.
type Gemini struct {
	// Vertex switches auth injection from x-goog-api-key to Authorization.
	Vertex bool
}

func (a *Gemini) ChannelName() string {
	if a.Vertex {
		return "vertex"
	}
	return "gemini"
}

func (a *Gemini) GetRequestURL(m *meta.Meta) (string, error) {
	// The inbound path already encodes the model
	// (/v1beta/models/<model>:generateContent); preserve it.
	return joinURL(m.BaseURL, m.RequestURLPath), nil
}

func (a *Gemini) SetupRequestHeader(c *gin.Context, req *http.Request, m *meta.Meta) error {
	ForwardHeaders(c, req)
	if a.Vertex {
		req.Header.Set("Authorization", "Bearer "+m.APIKey)
	} else {
		req.Header.Set("x-goog-api-key", m.APIKey)
	}
	return nil
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	GenerationConfig  map[string]any  `json:"generationConfig,omitempty"`
}

func (a *Gemini) ConvertRequest(c *gin.Context, m *meta.Meta, body []byte) ([]byte, error) {
	var in openaiChatRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, errors.Wrap(err, "parse chat request")
	}

	out := geminiRequest{}
	for _, msg := range in.Messages {
		text := contentToText(msg.Content)
		switch msg.Role {
		case "system":
			out.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: text}}}
		case "assistant":
			out.Contents = append(out.Contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: text}}})
		default:
			out.Contents = append(out.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: text}}})
		}
	}
	cfg := map[string]any{}
	if in.MaxTokens > 0 {
		cfg["maxOutputTokens"] = in.MaxTokens
	}
	if in.Temperature != nil {
		cfg["temperature"] = *in.Temperature
	}
	if in.TopP != nil {
		cfg["topP"] = *in.TopP
	}
	if len(cfg) > 0 {
		out.GenerationConfig = cfg
	}

	encoded, err := json.Marshal(out)
	if err != nil {
		return nil, errors.Wrap(err, "encode gemini request")
	}
	return encoded, nil
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

func (a *Gemini) ConvertResponse(m *meta.Meta, statusCode int, body []byte) ([]byte, *Usage, error) {
	if statusCode != http.StatusOK {
		return body, nil, nil
	}
	var in geminiResponse
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, nil, errors.Wrap(err, "parse gemini response")
	}
	content := ""
	finish := "stop"
	if len(in.Candidates) > 0 {
		cand := in.Candidates[0]
		if len(cand.Content.Parts) > 0 {
			content = cand.Content.Parts[0].Text
		}
		if cand.FinishReason == "MAX_TOKENS" {
			finish = "length"
		}
	}

	usage := &Usage{
		PromptTokens:     in.UsageMetadata.PromptTokenCount,
		CompletionTokens: in.UsageMetadata.CandidatesTokenCount,
	}
	out := map[string]any{
		"object": "chat.completion",
		"model":  m.Model,
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": finish,
		}},
		"usage": map[string]any{
			"prompt_tokens":     usage.PromptTokens,
			"completion_tokens": usage.CompletionTokens,
			"total_tokens":      usage.PromptTokens + usage.CompletionTokens,
		},
	}
	encoded, err := json.Marshal(out)
	if err != nil {
		return nil, nil, errors.Wrap(err, "encode chat response")
	}
	if usage.PromptTokens == 0 && usage.CompletionTokens == 0 {
		usage = nil
	}
	return encoded, usage, nil
}
