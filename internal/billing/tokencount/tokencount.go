// Package tokencount estimates prompt token counts. OpenAI-family models get
// a real tiktoken count; everything else falls back to the bytes/4
// heuristic. Counts produced here are estimates and are overridden whenever
// the upstream reports structured usage.
package tokencount

import (
	"encoding/json"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encoderMu sync.Mutex
	encoders  = map[string]*tiktoken.Tiktoken{}
)

func encoderFor(model string) *tiktoken.Tiktoken {
	encoderMu.Lock()
	defer encoderMu.Unlock()
	if enc, ok := encoders[model]; ok {
		return enc
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Unknown model; cache the miss so we don't retry per request.
		encoders[model] = nil
		return nil
	}
	encoders[model] = enc
	return enc
}

// EstimateBytes is the crude fallback: one token per four body bytes,
// rounded up.
func EstimateBytes(n int) int {
	if n <= 0 {
		return 0
	}
	return (n + 3) / 4
}

// chatBody is the subset of the inbound body needed for counting.
type chatBody struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"messages"`
	Input json.RawMessage `json:"input"` // embeddings
}

// EstimatePrompt counts the prompt tokens of an inbound JSON body. Returns
// the count and whether it is an estimate (true for the heuristic path,
// false for a real encoder count).
func EstimatePrompt(body []byte) (tokens int, estimated bool) {
	var b chatBody
	if err := json.Unmarshal(body, &b); err != nil {
		return EstimateBytes(len(body)), true
	}
	enc := encoderFor(b.Model)
	if enc == nil {
		return EstimateBytes(len(body)), true
	}

	total := 0
	for _, m := range b.Messages {
		// Per-message framing overhead.
		total += 4
		total += len(enc.Encode(flatten(m.Content), nil, nil))
	}
	if len(b.Input) > 0 {
		total += len(enc.Encode(flatten(b.Input), nil, nil))
	}
	if total == 0 {
		return EstimateBytes(len(body)), true
	}
	return total, false
}

func flatten(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		out := ""
		for _, item := range list {
			out += item
		}
		return out
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err == nil {
		out := ""
		for _, p := range parts {
			out += p.Text
		}
		return out
	}
	return string(raw)
}
