// Package awsbedrock adapts requests for AWS Bedrock endpoints: the body
// passes through untouched and the request is SigV4-signed with credentials
// parsed from the upstream's "ak:sk:region" key material.
package awsbedrock

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/burncloud/burncloud-router/internal/adaptor"
	"github.com/burncloud/burncloud-router/internal/meta"
)

const signingService = "bedrock"

// Credentials is the parsed "ak:sk:region" triple.
type Credentials struct {
	AccessKey string
	SecretKey string
	Region    string
}

// ParseKey splits an upstream api_key of the form "ak:sk:region".
func ParseKey(key string) (*Credentials, error) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return nil, errors.New("aws key must be ak:sk:region")
	}
	return &Credentials{AccessKey: parts[0], SecretKey: parts[1], Region: parts[2]}, nil
}

// Adaptor implements adaptor.Adaptor for Bedrock upstreams.
type Adaptor struct {
	signer *v4.Signer
	now    func() time.Time

	// payloadHash holds the payload hash between ConvertRequest and
	// SetupRequestHeader for the current attempt. The proxy loop builds one
	// Adaptor per attempt, so there is no cross-request sharing.
	payloadHash string
}

func New() *Adaptor {
	return &Adaptor{signer: v4.NewSigner(), now: time.Now}
}

func (a *Adaptor) ChannelName() string { return "aws_sigv4" }

func (a *Adaptor) GetRequestURL(m *meta.Meta) (string, error) {
	return strings.TrimSuffix(m.BaseURL, "/") + m.RequestURLPath, nil
}

func (a *Adaptor) ConvertRequest(c *gin.Context, m *meta.Meta, body []byte) ([]byte, error) {
	sum := sha256.Sum256(body)
	a.payloadHash = hex.EncodeToString(sum[:])
	return body, nil
}

// SetupRequestHeader signs the fully-built request. Must run after
// ConvertRequest so the payload hash covers the final body.
func (a *Adaptor) SetupRequestHeader(c *gin.Context, req *http.Request, m *meta.Meta) error {
	adaptor.ForwardHeaders(c, req)

	creds, err := ParseKey(m.APIKey)
	if err != nil {
		return err
	}
	if a.payloadHash == "" {
		sum := sha256.Sum256(nil)
		a.payloadHash = hex.EncodeToString(sum[:])
	}

	provider := credentials.NewStaticCredentialsProvider(creds.AccessKey, creds.SecretKey, "")
	awsCreds, err := provider.Retrieve(c.Request.Context())
	if err != nil {
		return errors.Wrap(err, "resolve aws credentials")
	}

	req.Header.Set("X-Amz-Content-Sha256", a.payloadHash)
	err = a.signer.SignHTTP(c.Request.Context(), awsCreds, req, a.payloadHash,
		signingService, creds.Region, a.now())
	if err != nil {
		return errors.Wrap(err, "sign request")
	}
	return nil
}

func (a *Adaptor) ConvertResponse(m *meta.Meta, statusCode int, body []byte) ([]byte, *adaptor.Usage, error) {
	// Bedrock responses pass through; Claude-on-Bedrock bodies carry
	// Anthropic-shaped usage.
	return body, parseBedrockUsage(body), nil
}

func parseBedrockUsage(body []byte) *adaptor.Usage {
	if u := adaptor.ParseOpenAIUsage(body); u != nil {
		return u
	}
	return parseAnthropicUsage(body)
}
