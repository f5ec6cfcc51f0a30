package webhook

import "testing"

func TestSignAndVerify(t *testing.T) {
	secret := []byte("whsec")
	body := []byte(`{"provider_reference":"abc"}`)

	sig := Sign(secret, body)
	if !Verify(secret, body, sig) {
		t.Fatal("expected signature to verify")
	}
	if Verify(secret, []byte(`{"provider_reference":"abd"}`), sig) {
		t.Fatal("tampered body verified")
	}
	if Verify([]byte("other"), body, sig) {
		t.Fatal("wrong secret verified")
	}
	if Verify(nil, body, Sign(nil, body)) {
		t.Fatal("empty secret must not verify")
	}
	if Verify(secret, body, "not-hex") {
		t.Fatal("garbage signature verified")
	}
}
