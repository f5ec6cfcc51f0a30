package session

import (
	"errors"
	"testing"
	"time"

	"github.com/congo-pay/congo_shop/internal/requestctx"
)

func TestValidateRoundTrip(t *testing.T) {
	token, err := SignHS256(map[string]any{"sub": "user-1", "role": "admin"}, []byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	id, err := NewHS256Validator("secret").Validate(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if id.UserID != "user-1" || !id.IsAdmin() {
		t.Fatalf("unexpected identity %+v", id)
	}
}

func TestValidateDefaultsToCustomer(t *testing.T) {
	token, _ := SignHS256(map[string]any{"sub": "user-2"}, []byte("secret"))
	id, err := NewHS256Validator("secret").Validate(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if id.Role != requestctx.RoleCustomer {
		t.Fatalf("expected customer role, got %q", id.Role)
	}
}

func TestValidateRejects(t *testing.T) {
	good, _ := SignHS256(map[string]any{"sub": "user-1"}, []byte("secret"))
	noSub, _ := SignHS256(map[string]any{"role": "admin"}, []byte("secret"))

	cases := map[string]string{
		"wrong secret": good,
		"malformed":    "not.a-token",
		"no subject":   noSub,
	}
	for name, token := range cases {
		secret := "secret"
		if name == "wrong secret" {
			secret = "other"
		}
		if _, err := NewHS256Validator(secret).Validate(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}

	if _, err := NewHS256Validator("").Validate(good); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("empty secret must reject, got %v", err)
	}
}

func TestValidateExpiry(t *testing.T) {
	exp := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	token, _ := SignHS256(map[string]any{"sub": "user-1", "exp": exp.Unix()}, []byte("secret"))

	v := NewHS256Validator("secret")
	v.now = func() time.Time { return exp.Add(-time.Minute) }
	if _, err := v.Validate(token); err != nil {
		t.Fatalf("expected valid token before expiry: %v", err)
	}
	v.now = func() time.Time { return exp }
	if _, err := v.Validate(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}
