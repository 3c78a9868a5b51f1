package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/burncloud/burncloud-router/internal/apierr"
	"github.com/burncloud/burncloud-router/internal/ctxkey"
	"github.com/burncloud/burncloud-router/internal/meta"
	"github.com/burncloud/burncloud-router/internal/obslog"
	"github.com/burncloud/burncloud-router/internal/store"
)

const tokenCacheTTL = time.Minute

// RequestId gives every inbound request an id (the client's X-Request-Id when
// present, otherwise a new UUID), a start time, and a per-request logger.
func (s *Server) RequestId() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader("X-Request-Id")
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(ctxkey.RequestId, rid)
		c.Set(ctxkey.StartTime, time.Now())
		c.Header("X-Request-Id", rid)
		obslog.WithRequest(c, rid)
		c.Next()
	}
}

// Auth is the token gate: extract the bearer, resolve the Token row, apply
// the usability predicate, and populate the relay Meta. JWT-shaped bearers
// are verified against the token row's secret instead of matched literally.
func (s *Server) Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader("Authorization"))
		bearer, ok := strings.CutPrefix(raw, "Bearer ")
		if !ok || bearer == "" {
			abortWith(c, apierr.New(http.StatusUnauthorized, "invalid_request_error", "missing_token", "missing or malformed Authorization header"))
			return
		}

		var token *store.Token
		var err error
		if looksLikeJWT(bearer) {
			token, err = s.resolveJWT(bearer)
		} else {
			token, err = s.lookupToken(c, bearer)
		}
		if err != nil {
			abortWith(c, apierr.New(http.StatusInternalServerError, "internal_error", "store_error", "token lookup failed"))
			return
		}
		if token == nil {
			abortWith(c, apierr.New(http.StatusUnauthorized, "invalid_request_error", "invalid_token", "invalid API key"))
			return
		}
		if !token.Usable(time.Now().Unix()) {
			if token.Status == 1 && !token.UnlimitedQuota && token.RemainQuota <= token.UsedQuota {
				abortWith(c, apierr.QuotaExceeded())
				return
			}
			abortWith(c, apierr.New(http.StatusUnauthorized, "invalid_request_error", "invalid_token", "API key disabled or expired"))
			return
		}

		m := meta.FromContext(c)
		m.TokenId = token.Id
		m.TokenKey = token.Key
		m.UserId = token.UserId
		m.Unlimited = token.UnlimitedQuota
		m.Currency = token.Currency
		c.Set(ctxkey.UserId, token.UserId)
		c.Set(ctxkey.TokenId, token.Id)
		obslog.WithUser(c, token.UserId)
		c.Next()
	}
}

// lookupToken resolves an opaque key, fronted by the layered cache.
func (s *Server) lookupToken(c *gin.Context, key string) (*store.Token, error) {
	cacheKey := "token:" + key
	if cached, ok := s.Cache.Get(c.Request.Context(), cacheKey); ok {
		var t store.Token
		if err := json.Unmarshal([]byte(cached), &t); err == nil {
			return &t, nil
		}
	}
	t, err := store.GetTokenByKey(s.DB, key)
	if err != nil || t == nil {
		return t, err
	}
	if encoded, merr := json.Marshal(t); merr == nil {
		s.Cache.Set(c.Request.Context(), cacheKey, string(encoded), tokenCacheTTL)
	}
	return t, nil
}

// resolveJWT verifies an HS256 bearer: the unverified "key" claim names the
// token row, the row's secret verifies the signature, and the "sub" claim
// must match the row's user id.
func (s *Server) resolveJWT(bearer string) (*store.Token, error) {
	unverified, _, err := jwt.NewParser().ParseUnverified(bearer, jwt.MapClaims{})
	if err != nil {
		return nil, nil
	}
	claims, ok := unverified.Claims.(jwt.MapClaims)
	if !ok {
		return nil, nil
	}
	keyClaim, _ := claims["key"].(string)
	if keyClaim == "" {
		return nil, nil
	}
	token, err := store.GetTokenByKey(s.DB, keyClaim)
	if err != nil || token == nil {
		return nil, err
	}
	if token.JWTSecret == "" {
		return nil, nil
	}

	verified, err := jwt.Parse(bearer, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(token.JWTSecret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !verified.Valid {
		obslog.Logger.Debug("jwt verification failed", zap.Error(err))
		return nil, nil
	}
	sub, _ := verified.Claims.GetSubject()
	if sub != strconv.Itoa(token.UserId) {
		return nil, nil
	}
	return token, nil
}

func looksLikeJWT(bearer string) bool {
	return strings.Count(bearer, ".") == 2 && strings.HasPrefix(bearer, "eyJ")
}

func abortWith(c *gin.Context, werr *apierr.WithStatusCode) {
	c.AbortWithStatusJSON(werr.StatusCode, werr.Envelope)
}
