// Package session turns bearer tokens issued by the identity service into
// request identities. Tokens are verified here, never issued.
package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/congo-pay/congo_shop/internal/requestctx"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

var b64 = base64.RawURLEncoding

// Validator resolves a bearer token into the caller identity.
type Validator interface {
	Validate(token string) (requestctx.Identity, error)
}

// HS256Validator verifies compact JWTs signed with a shared HMAC secret.
type HS256Validator struct {
	secret []byte
	now    func() time.Time
}

func NewHS256Validator(secret string) *HS256Validator {
	return &HS256Validator{secret: []byte(secret), now: time.Now}
}

type claims struct {
	Subject string `json:"sub"`
	Role    string `json:"role"`
	Expires int64  `json:"exp"`
}

// Validate checks the signature and expiry and maps sub and role onto an identity.
// A token without a role is treated as a customer.
func (v *HS256Validator) Validate(token string) (requestctx.Identity, error) {
	if len(v.secret) == 0 {
		return requestctx.Identity{}, ErrInvalidToken
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return requestctx.Identity{}, ErrInvalidToken
	}

	var header struct {
		Alg string `json:"alg"`
	}
	rawHeader, err := b64.DecodeString(parts[0])
	if err != nil || json.Unmarshal(rawHeader, &header) != nil || header.Alg != "HS256" {
		return requestctx.Identity{}, ErrInvalidToken
	}

	sig, err := b64.DecodeString(parts[2])
	if err != nil {
		return requestctx.Identity{}, ErrInvalidToken
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(parts[0] + "." + parts[1]))
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return requestctx.Identity{}, ErrInvalidToken
	}

	payload, err := b64.DecodeString(parts[1])
	if err != nil {
		return requestctx.Identity{}, ErrInvalidToken
	}
	var c claims
	if err := json.Unmarshal(payload, &c); err != nil || c.Subject == "" {
		return requestctx.Identity{}, ErrInvalidToken
	}
	if c.Expires != 0 && v.now().Unix() >= c.Expires {
		return requestctx.Identity{}, ErrTokenExpired
	}

	role := c.Role
	if role == "" {
		role = requestctx.RoleCustomer
	}
	return requestctx.Identity{UserID: c.Subject, Role: role}, nil
}

// SignHS256 creates a compact JWT string using HS256. Used by tests and local tooling.
func SignHS256(claims map[string]any, secret []byte) (string, error) {
	h, err := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	if err != nil {
		return "", err
	}
	c, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	unsigned := b64.EncodeToString(h) + "." + b64.EncodeToString(c)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(unsigned))
	return unsigned + "." + b64.EncodeToString(mac.Sum(nil)), nil
}
