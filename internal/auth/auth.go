// Package auth guards the session API with a shared bearer token.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const TokenHeader = "X-Onethread-Token"

var ErrUnauthorized = errors.New("auth: unauthorized")

// Validator validates an authentication token.
type Validator interface {
	Validate(token string) error
}

// StaticToken accepts exactly one shared token. An empty token denies all.
type StaticToken struct {
	Token string
}

func (s StaticToken) Validate(token string) error {
	if s.Token == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(s.Token), []byte(token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// FuncValidator adapts a function into a Validator.
type FuncValidator func(token string) error

func (f FuncValidator) Validate(token string) error {
	return f(token)
}

// TokenFromRequest reads the token from the Authorization bearer header,
// the TokenHeader header, or the token query parameter. The query form
// exists for browser WebSocket clients, which cannot set headers.
func TokenFromRequest(r *http.Request) string {
	if v := r.Header.Get("Authorization"); strings.HasPrefix(v, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(v, "Bearer "))
	}
	if v := r.Header.Get(TokenHeader); v != "" {
		return strings.TrimSpace(v)
	}
	return r.URL.Query().Get("token")
}

// Middleware aborts with 401 unless v accepts the request token. A nil
// validator lets every request through.
func Middleware(v Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if v == nil {
			c.Next()
			return
		}
		if err := v.Validate(TokenFromRequest(c.Request)); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}
