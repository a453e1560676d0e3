package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestIssueAndValidateRoundTrip(t *testing.T) {
	s := New([]byte("test-secret"))
	issued, err := s.IssueToken("agent-1", "sandbox-1", 0)
	require.NoError(t, err)
	require.NotEmpty(t, issued.Token)
	require.WithinDuration(t, time.Now().Add(DefaultTTL), issued.ExpiresAt, time.Second)

	claims, err := s.ValidateToken(issued.Token)
	require.NoError(t, err)
	require.Equal(t, "agent-1", claims.AgentID)
	require.Equal(t, "sandbox-1", claims.SandboxID)
	require.Equal(t, DefaultIssuer, claims.Issuer)
	require.NotEmpty(t, claims.ID)
}

func TestValidateTokenExpired(t *testing.T) {
	s := New([]byte("test-secret"))
	// IssueToken treats ttl <= 0 as DefaultTTL, so sign an already-expired
	// token directly.
	past := time.Now().Add(-time.Minute)
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		AgentID: "agent-1",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(past.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(past),
			Issuer:    DefaultIssuer,
			Subject:   "agent-1",
		},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = s.ValidateToken(raw)
	require.ErrorIs(t, err, ErrExpired)
}

func TestValidateTokenBadSignature(t *testing.T) {
	a := New([]byte("secret-a"))
	b := New([]byte("secret-b"))

	issued, err := a.IssueToken("agent-1", "", 0)
	require.NoError(t, err)

	_, err = b.ValidateToken(issued.Token)
	require.ErrorIs(t, err, ErrBadSignature)
}

func TestValidateTokenMalformed(t *testing.T) {
	s := New([]byte("test-secret"))
	_, err := s.ValidateToken("not-a-jwt")
	require.ErrorIs(t, err, ErrMalformed)
}

func TestValidateTokenWrongIssuer(t *testing.T) {
	s := New([]byte("test-secret"))
	issued, err := s.WithIssuer("someone-else").IssueToken("agent-1", "", 0)
	require.NoError(t, err)

	s2 := New([]byte("test-secret"))
	_, err = s2.ValidateToken(issued.Token)
	require.ErrorIs(t, err, ErrMissingClaim)
}

func TestRenewTokenReissuesForSameAgent(t *testing.T) {
	s := New([]byte("test-secret"))
	issued, err := s.IssueToken("agent-1", "sandbox-1", time.Minute)
	require.NoError(t, err)

	renewed, err := s.RenewToken(issued.Token, "agent-1")
	require.NoError(t, err)
	require.NotEmpty(t, renewed.Token)

	claims, err := s.ValidateToken(renewed.Token)
	require.NoError(t, err)
	require.Equal(t, "agent-1", claims.AgentID)
	require.Equal(t, "sandbox-1", claims.SandboxID)
}

func TestRenewTokenRejectsAgentMismatch(t *testing.T) {
	s := New([]byte("test-secret"))
	issued, err := s.IssueToken("agent-1", "", time.Minute)
	require.NoError(t, err)

	_, err = s.RenewToken(issued.Token, "agent-2")
	require.ErrorIs(t, err, ErrAgentMismatch)
}
