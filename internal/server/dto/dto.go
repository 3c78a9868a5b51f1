// Package dto declares the validated inbound request shapes. Validation is
// deliberately shallow: it guards the fields the router itself needs (model
// name, message presence) and leaves everything else to the upstream.
package dto

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ChatCompletionRequest is the subset of the chat-completions body the
// router inspects.
type ChatCompletionRequest struct {
	Model    string            `json:"model" validate:"required"`
	Messages []json.RawMessage `json:"messages" validate:"required,min=1"`
	Stream   bool              `json:"stream"`
}

// EmbeddingsRequest is the subset of the embeddings body the router inspects.
type EmbeddingsRequest struct {
	Model string          `json:"model" validate:"required"`
	Input json.RawMessage `json:"input" validate:"required"`
}

// ClaudeMessagesRequest is the subset of Claude's native messages body the
// router inspects.
type ClaudeMessagesRequest struct {
	Model     string            `json:"model" validate:"required"`
	Messages  []json.RawMessage `json:"messages" validate:"required,min=1"`
	MaxTokens int               `json:"max_tokens" validate:"required,gt=0"`
}

// ValidateChat parses and validates a chat-completions body.
func ValidateChat(body []byte) (*ChatCompletionRequest, error) {
	var req ChatCompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}
	if err := validate.Struct(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

// ValidateEmbeddings parses and validates an embeddings body.
func ValidateEmbeddings(body []byte) (*EmbeddingsRequest, error) {
	var req EmbeddingsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}
	if err := validate.Struct(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

// ValidateClaudeMessages parses and validates a native messages body.
func ValidateClaudeMessages(body []byte) (*ClaudeMessagesRequest, error) {
	var req ClaudeMessagesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}
	if err := validate.Struct(&req); err != nil {
		return nil, err
	}
	return &req, nil
}
