// Package auth verifies the signed identity token presented when a client
// opens a realtime connection. Verification is stateless: a signature and
// expiry check followed by claim extraction, with no I/O.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingToken is returned when no token was supplied with the handshake.
	ErrMissingToken = errors.New("auth: missing token")

	// ErrInvalidToken is returned for malformed or signature-invalid tokens.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrExpiredToken is returned when the token's expiry has passed.
	ErrExpiredToken = errors.New("auth: token expired")
)

// DefaultRole is assumed when a token carries no role claim.
const DefaultRole = "alumni"

// Identity is the verified subject bound to a connection. It is immutable
// for the connection's lifetime and never persisted by this subsystem.
type Identity struct {
	SubjectID string
	Role      string
}

// Claims is the expected token payload: the registered claims plus the
// subject's role in the alumni network ("alumni", "admin", ...).
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier validates HS256-signed bearer tokens issued by the (out-of-scope)
// login service and extracts the connecting identity.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier that checks signatures against secret.
func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret}
}

// Verify checks the token's signature and expiry and returns the identity it
// carries. All failures map onto the small sentinel set above so callers can
// reject the handshake without leaking parser detail to the client.
func (v *Verifier) Verify(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrMissingToken
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrExpiredToken
		}
		return Identity{}, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return Identity{}, ErrInvalidToken
	}

	role := claims.Role
	if role == "" {
		role = DefaultRole
	}

	return Identity{SubjectID: claims.Subject, Role: role}, nil
}

// Sign mints a token for the given subject, valid for ttl. It exists for the
// mktoken utility and for tests; production tokens come from the login service.
func Sign(secret []byte, subjectID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// FromRequest extracts the handshake token from an upgrade request: the
// "token" query parameter, or an Authorization bearer header.
func FromRequest(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}
