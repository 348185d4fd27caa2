// Package auth issues and verifies the party credentials that authorize a
// signaling connection.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dkeye/VoiceDesk/internal/domain"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
)

const DefaultTTL = 12 * time.Hour

type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Verifier signs and checks HS256 party tokens.
type Verifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewVerifier(secret, issuer string) (*Verifier, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth secret must be at least 16 bytes")
	}
	return &Verifier{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// Issue returns a token naming party as its subject.
func (v *Verifier) Issue(party domain.Party, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := v.now()
	claims := Claims{
		Name: party.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(party.ID),
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, issuer and expiry and returns the party.
func (v *Verifier) Verify(raw string) (domain.Party, error) {
	if raw == "" {
		return domain.Party{}, ErrMissingToken
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return domain.Party{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	id, err := domain.ParsePartyID(claims.Subject)
	if err != nil {
		return domain.Party{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return domain.Party{ID: id, Name: claims.Name}, nil
}

// FromRequest extracts a bearer token from the Authorization header or the
// token query parameter (browsers cannot set headers on websocket upgrades).
func FromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.URL.Query().Get("token")
}
