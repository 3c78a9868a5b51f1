package proxy

import (
	"strings"

	"gorm.io/gorm"

	"github.com/burncloud/burncloud-router/internal/adaptor"
	"github.com/burncloud/burncloud-router/internal/adaptor/awsbedrock"
	"github.com/burncloud/burncloud-router/internal/adaptor/dynamic"
	"github.com/burncloud/burncloud-router/internal/store"
)

// adaptorFor selects the translation strategy for an upstream's protocol
// tag. An operator-supplied default ProtocolConfig row for the channel type
// overrides the built-in behaviour.
func adaptorFor(db *gorm.DB, up *store.Upstream) (adaptor.Adaptor, error) {
	if db != nil {
		if cfg, err := store.GetDefaultProtocolConfig(db, up.Protocol); err == nil && cfg != nil {
			return dynamic.New(cfg)
		}
	}

	protocol := strings.ToLower(up.Protocol)
	switch {
	case protocol == "anthropic" || protocol == "claude":
		return &adaptor.Anthropic{}, nil
	case protocol == "azure":
		return &adaptor.Azure{}, nil
	case protocol == "gemini":
		return &adaptor.Gemini{}, nil
	case protocol == "vertex":
		return &adaptor.Gemini{Vertex: true}, nil
	case protocol == "aws_sigv4":
		return awsbedrock.New(), nil
	case strings.HasPrefix(protocol, "header:"):
		return &adaptor.HeaderAuth{HeaderName: strings.TrimPrefix(up.Protocol, "header:")}, nil
	case protocol == "deepseek" || protocol == "qwen":
		return &adaptor.OpenAI{Name: protocol}, nil
	default:
		return &adaptor.OpenAI{Name: "openai"}, nil
	}
}
