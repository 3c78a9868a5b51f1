package awsbedrock

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burncloud/burncloud-router/internal/meta"
)

func TestParseKey(t *testing.T) {
	creds, err := ParseKey("AKIAEXAMPLE:secretpart:us-east-1")
	require.NoError(t, err)
	assert.Equal(t, "AKIAEXAMPLE", creds.AccessKey)
	assert.Equal(t, "secretpart", creds.SecretKey)
	assert.Equal(t, "us-east-1", creds.Region)
}

func TestParseKey_Invalid(t *testing.T) {
	for _, bad := range []string{"", "only-one", "ak:sk", "ak::region", ":sk:region"} {
		_, err := ParseKey(bad)
		assert.Error(t, err, "key %q", bad)
	}
}

func TestSetupRequestHeader_SignsRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("POST", "/model/anthropic.claude-3/invoke", nil)

	a := New()
	m := &meta.Meta{APIKey: "AKIAEXAMPLE:secret:us-east-1"}
	body := []byte(`{"prompt":"hi"}`)
	_, err := a.ConvertRequest(c, m, body)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "https://bedrock-runtime.us-east-1.amazonaws.com/model/anthropic.claude-3/invoke", nil)
	require.NoError(t, a.SetupRequestHeader(c, req, m))

	auth := req.Header.Get("Authorization")
	assert.Contains(t, auth, "AWS4-HMAC-SHA256")
	assert.Contains(t, auth, "Credential=AKIAEXAMPLE")
	assert.Contains(t, auth, "us-east-1/bedrock/aws4_request")
	assert.NotEmpty(t, req.Header.Get("X-Amz-Date"))
	assert.NotEmpty(t, req.Header.Get("X-Amz-Content-Sha256"))
}

func TestSetupRequestHeader_BadKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("POST", "/model/x/invoke", nil)

	a := New()
	req := httptest.NewRequest("POST", "https://bedrock-runtime.amazonaws.com/", nil)
	err := a.SetupRequestHeader(c, req, &meta.Meta{APIKey: "not-a-triple"})
	assert.Error(t, err)
}

func TestConvertResponse_ClaudeUsage(t *testing.T) {
	a := New()
	body := []byte(`{"content":[{"type":"text","text":"hi"}],"usage":{"input_tokens":5,"output_tokens":2}}`)
	out, usage, err := a.ConvertResponse(&meta.Meta{}, 200, body)
	require.NoError(t, err)
	assert.Equal(t, body, out)
	require.NotNil(t, usage)
	assert.Equal(t, 5, usage.PromptTokens)
	assert.Equal(t, 2, usage.CompletionTokens)
}
