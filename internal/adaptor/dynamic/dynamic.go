// Package dynamic interprets operator-supplied mapping documents so new
// providers can be added without recompilation. A mapping is declarative
// JSON: field moves, renames, literal additions for requests; dotted path
// expressions for response extraction. Paths are parsed once into a small IR
// and applied with gjson/sjson.
package dynamic

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/burncloud/burncloud-router/internal/adaptor"
	"github.com/burncloud/burncloud-router/internal/meta"
	"github.com/burncloud/burncloud-router/internal/store"
)

// RequestMapping declares the request body transformation, applied in order:
// field_map, then rename, then add_fields.
type RequestMapping struct {
	// FieldMap copies source paths to target paths: target <- source.
	FieldMap map[string]string `json:"field_map,omitempty"`
	// Rename moves a top-level key: old -> new.
	Rename map[string]string `json:"rename,omitempty"`
	// AddFields sets literals: key -> value.
	AddFields map[string]any `json:"add_fields,omitempty"`
}

// ResponseMapping declares where the upstream keeps its payload.
type ResponseMapping struct {
	ContentPath          string `json:"content_path,omitempty"`
	PromptTokensPath     string `json:"prompt_tokens_path,omitempty"`
	CompletionTokensPath string `json:"completion_tokens_path,omitempty"`
	ErrorPath            string `json:"error_path,omitempty"`
}

// PathPart is one step of a parsed path expression.
type PathPart struct {
	Key   string
	Index int
	IsIdx bool
}

// ParsePath parses "a.b[0].c" into its IR. Empty input yields nil.
func ParsePath(expr string) ([]PathPart, error) {
	if expr == "" {
		return nil, nil
	}
	var parts []PathPart
	for _, seg := range strings.Split(expr, ".") {
		for {
			open := strings.IndexByte(seg, '[')
			if open < 0 {
				if seg != "" {
					parts = append(parts, PathPart{Key: seg})
				}
				break
			}
			if open > 0 {
				parts = append(parts, PathPart{Key: seg[:open]})
			}
			closeIdx := strings.IndexByte(seg, ']')
			if closeIdx < open {
				return nil, errors.Errorf("unbalanced brackets in %q", seg)
			}
			n, err := strconv.Atoi(seg[open+1 : closeIdx])
			if err != nil {
				return nil, errors.Wrapf(err, "index in %q", seg)
			}
			parts = append(parts, PathPart{Index: n, IsIdx: true})
			seg = seg[closeIdx+1:]
			if seg == "" {
				break
			}
		}
	}
	return parts, nil
}

// gjsonPath renders the IR in gjson syntax.
func gjsonPath(parts []PathPart) string {
	var b strings.Builder
	for i, p := range parts {
		if i > 0 {
			b.WriteByte('.')
		}
		if p.IsIdx {
			b.WriteString(strconv.Itoa(p.Index))
		} else {
			b.WriteString(p.Key)
		}
	}
	return b.String()
}

// Eval resolves the IR against a JSON document.
func Eval(body []byte, parts []PathPart) gjson.Result {
	return gjson.GetBytes(body, gjsonPath(parts))
}

// Adaptor applies one ProtocolConfig row's mappings.
type Adaptor struct {
	cfg      *store.ProtocolConfig
	request  RequestMapping
	response ResponseMapping

	contentIR    []PathPart
	promptIR     []PathPart
	completionIR []PathPart
	errorIR      []PathPart
}

// New parses the row's mapping documents and path expressions once.
func New(cfg *store.ProtocolConfig) (*Adaptor, error) {
	a := &Adaptor{cfg: cfg}
	if cfg.RequestMapping != "" {
		if err := json.Unmarshal([]byte(cfg.RequestMapping), &a.request); err != nil {
			return nil, errors.Wrap(err, "parse request mapping")
		}
	}
	if cfg.ResponseMapping != "" {
		if err := json.Unmarshal([]byte(cfg.ResponseMapping), &a.response); err != nil {
			return nil, errors.Wrap(err, "parse response mapping")
		}
	}
	var err error
	if a.contentIR, err = ParsePath(a.response.ContentPath); err != nil {
		return nil, err
	}
	if a.promptIR, err = ParsePath(a.response.PromptTokensPath); err != nil {
		return nil, err
	}
	if a.completionIR, err = ParsePath(a.response.CompletionTokensPath); err != nil {
		return nil, err
	}
	if a.errorIR, err = ParsePath(a.response.ErrorPath); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Adaptor) ChannelName() string { return "dynamic:" + a.cfg.ChannelType }

func (a *Adaptor) GetRequestURL(m *meta.Meta) (string, error) {
	endpoint := a.cfg.ChatEndpoint
	switch m.Mode {
	case meta.ModeEmbeddings:
		endpoint = a.cfg.EmbedEndpoint
	}
	if endpoint == "" {
		endpoint = m.RequestURLPath
	}
	return strings.TrimSuffix(m.BaseURL, "/") + "/" + strings.TrimPrefix(endpoint, "/"), nil
}

func (a *Adaptor) SetupRequestHeader(c *gin.Context, req *http.Request, m *meta.Meta) error {
	adaptor.ForwardHeaders(c, req)
	req.Header.Set("Authorization", "Bearer "+m.APIKey)
	return nil
}

// ConvertRequest applies field_map, rename, add_fields in that order.
func (a *Adaptor) ConvertRequest(c *gin.Context, m *meta.Meta, body []byte) ([]byte, error) {
	out := body
	var err error
	for target, source := range a.request.FieldMap {
		srcIR, perr := ParsePath(source)
		if perr != nil {
			return nil, perr
		}
		v := Eval(body, srcIR)
		if !v.Exists() {
			continue
		}
		tgtIR, perr := ParsePath(target)
		if perr != nil {
			return nil, perr
		}
		out, err = sjson.SetBytes(out, gjsonPath(tgtIR), v.Value())
		if err != nil {
			return nil, errors.Wrapf(err, "map %s", target)
		}
	}
	for from, to := range a.request.Rename {
		v := gjson.GetBytes(out, from)
		if !v.Exists() {
			continue
		}
		if out, err = sjson.SetBytes(out, to, v.Value()); err != nil {
			return nil, errors.Wrapf(err, "rename %s", from)
		}
		if out, err = sjson.DeleteBytes(out, from); err != nil {
			return nil, errors.Wrapf(err, "rename %s", from)
		}
	}
	for key, val := range a.request.AddFields {
		if out, err = sjson.SetBytes(out, key, val); err != nil {
			return nil, errors.Wrapf(err, "add %s", key)
		}
	}
	return out, nil
}

// ConvertResponse rebuilds an OpenAI-shaped body from the configured paths.
// With no content_path configured the body passes through.
func (a *Adaptor) ConvertResponse(m *meta.Meta, statusCode int, body []byte) ([]byte, *adaptor.Usage, error) {
	var usage *adaptor.Usage
	prompt := Eval(body, a.promptIR)
	completion := Eval(body, a.completionIR)
	if prompt.Exists() || completion.Exists() {
		usage = &adaptor.Usage{
			PromptTokens:     int(prompt.Int()),
			CompletionTokens: int(completion.Int()),
		}
	}

	if len(a.contentIR) == 0 || statusCode != http.StatusOK {
		return body, usage, nil
	}
	content := Eval(body, a.contentIR)
	if !content.Exists() {
		// Error bodies (or shapes we don't recognise) pass through so the
		// caller can classify them.
		return body, usage, nil
	}

	out := map[string]any{
		"object": "chat.completion",
		"model":  m.Model,
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content.String()},
			"finish_reason": "stop",
		}},
	}
	if usage != nil {
		out["usage"] = map[string]any{
			"prompt_tokens":     usage.PromptTokens,
			"completion_tokens": usage.CompletionTokens,
			"total_tokens":      usage.PromptTokens + usage.CompletionTokens,
		}
	}
	encoded, err := json.Marshal(out)
	if err != nil {
		return nil, nil, errors.Wrap(err, "encode chat response")
	}
	return encoded, usage, nil
}
