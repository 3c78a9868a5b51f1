package adaptor

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/burncloud/burncloud-router/internal/meta"
)

// defaultAzureAPIVersion is appended when the inbound URL carries no
// api-version query parameter.
const defaultAzureAPIVersion = "2023-05-15"

// Azure speaks the OpenAI dialect with Azure's credential header and
// deployment addressing: the model field becomes deployment_id and every
// request carries an api-version query parameter.
type Azure struct{}

func (a *Azure) ChannelName() string { return "azure" }

func (a *Azure) GetRequestURL(m *meta.Meta) (string, error) {
	full := joinURL(m.BaseURL, m.RequestURLPath)
	u, err := url.Parse(full)
	if err != nil {
		return "", errors.Wrap(err, "parse azure url")
	}
	q := u.Query()
	if q.Get("api-version") == "" {
		q.Set("api-version", defaultAzureAPIVersion)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (a *Azure) SetupRequestHeader(c *gin.Context, req *http.Request, m *meta.Meta) error {
	ForwardHeaders(c, req)
	req.Header.Set("api-key", m.APIKey)
	return nil
}

func (a *Azure) ConvertRequest(c *gin.Context, m *meta.Meta, body []byte) ([]byte, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, errors.Wrap(err, "parse chat request")
	}
	if model, ok := obj["model"]; ok {
		obj["deployment_id"] = model
		delete(obj, "model")
	}
	encoded, err := json.Marshal(obj)
	if err != nil {
		return nil, errors.Wrap(err, "encode azure request")
	}
	return encoded, nil
}

func (a *Azure) ConvertResponse(m *meta.Meta, statusCode int, body []byte) ([]byte, *Usage, error) {
	return body, ParseOpenAIUsage(body), nil
}
