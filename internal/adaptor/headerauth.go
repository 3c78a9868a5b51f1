package adaptor

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/burncloud/burncloud-router/internal/meta"
)

// HeaderAuth is the identity adapter for upstreams whose protocol is
// "header:<name>": the credential is injected under the named header and the
// inbound Authorization is stripped (ForwardHeaders already drops it).
type HeaderAuth struct {
	HeaderName string
}

func (a *HeaderAuth) ChannelName() string { return "header:" + a.HeaderName }

func (a *HeaderAuth) GetRequestURL(m *meta.Meta) (string, error) {
	return joinURL(m.BaseURL, m.RequestURLPath), nil
}

func (a *HeaderAuth) SetupRequestHeader(c *gin.Context, req *http.Request, m *meta.Meta) error {
	ForwardHeaders(c, req)
	req.Header.Set(a.HeaderName, m.APIKey)
	return nil
}

func (a *HeaderAuth) ConvertRequest(c *gin.Context, m *meta.Meta, body []byte) ([]byte, error) {
	return body, nil
}

func (a *HeaderAuth) ConvertResponse(m *meta.Meta, statusCode int, body []byte) ([]byte, *Usage, error) {
	return body, ParseOpenAIUsage(body), nil
}
