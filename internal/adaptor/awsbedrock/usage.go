package awsbedrock

import (
	"encoding/json"

	"github.com/burncloud/burncloud-router/internal/adaptor"
)

type anthropicUsageBody struct {
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func parseAnthropicUsage(body []byte) *adaptor.Usage {
	var u anthropicUsageBody
	if err := json.Unmarshal(body, &u); err != nil {
		return nil
	}
	if u.Usage.InputTokens == 0 && u.Usage.OutputTokens == 0 {
		return nil
	}
	return &adaptor.Usage{
		PromptTokens:     u.Usage.InputTokens,
		CompletionTokens: u.Usage.OutputTokens,
	}
}
