// Package token issues and validates the HMAC-SHA256 JSON Web Tokens agents
// present when calling back into the control plane. Every issued token
// carries a fresh jti and is bound to exactly one agentId, optionally scoped
// to a sandboxId.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultIssuer is stamped into every issued token's iss claim.
const DefaultIssuer = "project-tab-backend"

// DefaultTTL is used when IssueToken is called with ttl <= 0.
const DefaultTTL = time.Hour

// ClockTolerance is the leeway applied to exp/iat comparisons during
// validation, absorbing clock skew between the control plane and an agent's
// sandbox.
const ClockTolerance = 5 * time.Second

// Sentinel errors returned by ValidateToken and RenewToken. Callers should
// compare with errors.Is.
var (
	ErrExpired       = errors.New("token: expired")
	ErrBadSignature  = errors.New("token: bad signature")
	ErrMissingClaim  = errors.New("token: missing claim")
	ErrMalformed     = errors.New("token: malformed")
	ErrAgentMismatch = errors.New("token: agent id mismatch on renewal")
)

// Claims are the JWT claims carried by every control-plane token.
type Claims struct {
	AgentID   string `json:"agentId"`
	SandboxID string `json:"sandboxId,omitempty"`
	jwt.RegisteredClaims
}

// Issued is the result of issuing or renewing a token.
type Issued struct {
	Token     string
	ExpiresAt time.Time
}

// Service issues and validates tokens over a single shared HMAC secret.
type Service struct {
	secret []byte
	issuer string
}

// New constructs a Service. secret must be non-empty; it is the shared
// signing key for every token this Service issues or validates.
func New(secret []byte) *Service {
	return &Service{secret: secret, issuer: DefaultIssuer}
}

// WithIssuer overrides the default issuer claim, mainly for tests.
func (s *Service) WithIssuer(issuer string) *Service {
	s.issuer = issuer
	return s
}

// IssueToken mints a token for agentID, optionally scoped to sandboxID. A
// ttl <= 0 falls back to DefaultTTL.
func (s *Service) IssueToken(agentID, sandboxID string, ttl time.Duration) (Issued, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := time.Now()
	expiresAt := now.Add(ttl)
	claims := &Claims{
		AgentID:   agentID,
		SandboxID: sandboxID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    s.issuer,
			Subject:   agentID,
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Issued{}, fmt.Errorf("token: sign: %w", err)
	}
	return Issued{Token: signed, ExpiresAt: expiresAt}, nil
}

// ValidateToken parses and verifies raw, returning its claims on success.
func (s *Service) ValidateToken(raw string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method %v", ErrBadSignature, t.Method.Alg())
		}
		return s.secret, nil
	}, jwt.WithLeeway(ClockTolerance))

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, ErrBadSignature):
			return nil, ErrBadSignature
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrMalformed
		default:
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	if !parsed.Valid {
		return nil, ErrMalformed
	}
	if claims.Issuer != s.issuer {
		return nil, fmt.Errorf("%w: iss", ErrMissingClaim)
	}
	if claims.AgentID == "" {
		return nil, fmt.Errorf("%w: agentId", ErrMissingClaim)
	}
	return claims, nil
}

// RenewToken validates oldToken and, if its agentId claim matches agentID,
// issues a fresh token for the same {agentId, sandboxId} pair with a full
// DefaultTTL. It rejects renewal if the token names a different agent.
func (s *Service) RenewToken(oldToken, agentID string) (Issued, error) {
	claims, err := s.ValidateToken(oldToken)
	if err != nil {
		return Issued{}, err
	}
	if claims.AgentID != agentID {
		return Issued{}, ErrAgentMismatch
	}
	return s.IssueToken(claims.AgentID, claims.SandboxID, DefaultTTL)
}
