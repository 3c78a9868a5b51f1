package adaptor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burncloud/burncloud-router/internal/meta"
)

func TestAzure_RenamesModelToDeploymentId(t *testing.T) {
	a := &Azure{}
	m := &meta.Meta{}
	body := []byte(`{"model":"my-gpt4","messages":[{"role":"user","content":"hi"}]}`)

	out, err := a.ConvertRequest(testContext(t, "POST", "/openai/deployments/my-gpt4/chat/completions", nil), m, body)
	require.NoError(t, err)

	var obj map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &obj))
	assert.Contains(t, obj, "deployment_id")
	assert.NotContains(t, obj, "model")
	assert.Equal(t, `"my-gpt4"`, string(obj["deployment_id"]))
}

func TestAzure_URLPreservesInboundAPIVersion(t *testing.T) {
	a := &Azure{}
	m := &meta.Meta{
		BaseURL:        "https://myacct.openai.azure.com",
		RequestURLPath: "/openai/deployments/my-gpt4/chat/completions?api-version=2023-05-15",
	}
	url, err := a.GetRequestURL(m)
	require.NoError(t, err)
	assert.Equal(t, "https://myacct.openai.azure.com/openai/deployments/my-gpt4/chat/completions?api-version=2023-05-15", url)
}

func TestAzure_URLAddsDefaultAPIVersion(t *testing.T) {
	a := &Azure{}
	m := &meta.Meta{
		BaseURL:        "https://myacct.openai.azure.com",
		RequestURLPath: "/openai/deployments/my-gpt4/chat/completions",
	}
	url, err := a.GetRequestURL(m)
	require.NoError(t, err)
	assert.Contains(t, url, "api-version="+defaultAzureAPIVersion)
}

func TestAzure_Headers(t *testing.T) {
	a := &Azure{}
	m := &meta.Meta{APIKey: "azure-secret-key-123"}
	inbound := http.Header{}
	inbound.Set("Authorization", "Bearer sk-inbound")
	c := testContext(t, "POST", "/openai/deployments/my-gpt4/chat/completions", inbound)

	req := httptest.NewRequest("POST", "http://up/", nil)
	require.NoError(t, a.SetupRequestHeader(c, req, m))

	assert.Equal(t, "azure-secret-key-123", req.Header.Get("api-key"))
	assert.Empty(t, req.Header.Get("Authorization"))
}
