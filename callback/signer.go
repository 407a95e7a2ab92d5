// Package callback issues and verifies the signed approve/reject links
// embedded in approval notifications.
package callback

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/xraph/approvals"
	"github.com/xraph/approvals/id"
)

// Claims carried by a callback token.
type Claims struct {
	RunID    string `json:"run"`
	Approved bool   `json:"approved"`
	jwt.RegisteredClaims
}

// Decision is a verified approver response.
type Decision struct {
	RunID    id.RunID
	Approved bool
}

// Signer mints and checks HS256 callback tokens.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// SignerOption configures a Signer.
type SignerOption func(*Signer)

// WithNow overrides the clock used for issuing and validating tokens.
func WithNow(now func() time.Time) SignerOption { return func(s *Signer) { s.now = now } }

// NewSigner returns a Signer keyed by secret.
func NewSigner(secret string, opts ...SignerOption) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("callback: secret is required")
	}
	s := &Signer{secret: []byte(secret), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Token signs a decision for runID that expires after ttl.
func (s *Signer) Token(runID id.RunID, approved bool, ttl time.Duration) (string, error) {
	now := s.now()
	claims := Claims{
		RunID:    runID.String(),
		Approved: approved,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("callback: sign token: %w", err)
	}
	return tok, nil
}

// Link returns base with a signed token query parameter.
func (s *Signer) Link(base string, runID id.RunID, approved bool, ttl time.Duration) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("callback: parse base url: %w", err)
	}
	tok, err := s.Token(runID, approved, ttl)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", tok)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Verify checks token's signature and expiry and returns the decision it
// carries. Every failure wraps approvals.ErrInvalidToken.
func (s *Signer) Verify(token string) (Decision, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return Decision{}, fmt.Errorf("%w: %v", approvals.ErrInvalidToken, err)
	}
	runID, err := id.ParseRunID(claims.RunID)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", approvals.ErrInvalidToken, err)
	}
	return Decision{RunID: runID, Approved: claims.Approved}, nil
}
