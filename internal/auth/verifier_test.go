package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"
)

var testSecret = []byte("test-secret")

func TestVerifyRoundTrip(t *testing.T) {
	v := NewVerifier(testSecret)

	token, err := Sign(testSecret, "alumni-42", "alumni", time.Minute)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	id, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if id.SubjectID != "alumni-42" {
		t.Errorf("SubjectID = %q, want %q", id.SubjectID, "alumni-42")
	}
	if id.Role != "alumni" {
		t.Errorf("Role = %q, want %q", id.Role, "alumni")
	}
}

func TestVerifyMissingToken(t *testing.T) {
	v := NewVerifier(testSecret)

	_, err := v.Verify("")
	if !errors.Is(err, ErrMissingToken) {
		t.Fatalf("Verify(\"\") error = %v, want ErrMissingToken", err)
	}
}

func TestVerifyMalformedToken(t *testing.T) {
	v := NewVerifier(testSecret)

	_, err := v.Verify("not-a-jwt")
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Verify() error = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	v := NewVerifier(testSecret)

	token, err := Sign([]byte("other-secret"), "alumni-42", "alumni", time.Minute)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	if _, err := v.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Verify() error = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	v := NewVerifier(testSecret)

	token, err := Sign(testSecret, "alumni-42", "alumni", -time.Minute)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	if _, err := v.Verify(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("Verify() error = %v, want ErrExpiredToken", err)
	}
}

func TestVerifyDefaultRole(t *testing.T) {
	v := NewVerifier(testSecret)

	token, err := Sign(testSecret, "alumni-7", "", time.Minute)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	id, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if id.Role != DefaultRole {
		t.Errorf("Role = %q, want %q", id.Role, DefaultRole)
	}
}

func TestFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		target string
		header string
		want   string
	}{
		{"query param", "/realtime?token=abc123", "", "abc123"},
		{"bearer header", "/realtime", "Bearer xyz789", "xyz789"},
		{"query wins over header", "/realtime?token=abc123", "Bearer xyz789", "abc123"},
		{"no token", "/realtime", "", ""},
		{"non-bearer header", "/realtime", "Basic dXNlcg==", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.target, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if got := FromRequest(r); got != tt.want {
				t.Errorf("FromRequest() = %q, want %q", got, tt.want)
			}
		})
	}
}
