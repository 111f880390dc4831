package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/jmerrifield20/kiosktrust/internal/ledger"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// ErrWrongTokenType is returned when a refresh token is presented as an
// access token or the other way round.
var ErrWrongTokenType = errors.New("wrong token type")

// SessionClaims are the JWT claims of a kiosk session token.
type SessionClaims struct {
	jwt.RegisteredClaims
	Role ledger.ActorKind `json:"role"`
	Type string           `json:"type"`
}

// Actor returns the ledger actor the token authenticates.
func (c *SessionClaims) Actor() ledger.ActorRef {
	return ledger.ActorRef{Kind: c.Role, ID: c.Subject}
}

// TokenPair is returned after a successful login or refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// SessionIssuer issues and verifies HS256 session tokens.
type SessionIssuer struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewSessionIssuer creates a SessionIssuer.
//
//	accessTTL:  access token lifetime (default: 30 minutes).
//	refreshTTL: refresh token lifetime (default: 7 days).
func NewSessionIssuer(secret, issuer string, accessTTL, refreshTTL time.Duration) (*SessionIssuer, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("session secret must be at least 32 bytes")
	}
	if accessTTL == 0 {
		accessTTL = 30 * time.Minute
	}
	if refreshTTL == 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	return &SessionIssuer{
		secret:     []byte(secret),
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}, nil
}

// SetClock overrides the time source. Used in tests.
func (s *SessionIssuer) SetClock(now func() time.Time) { s.now = now }

// IssuePair creates an access and a refresh token for subject.
func (s *SessionIssuer) IssuePair(subject string, role ledger.ActorKind) (*TokenPair, error) {
	if subject == "" {
		return nil, fmt.Errorf("subject is required")
	}
	if role != ledger.ActorUser && role != ledger.ActorAdmin {
		return nil, fmt.Errorf("sessions are only issued to users and admins, got %q", role)
	}
	access, err := s.sign(subject, role, tokenTypeAccess, s.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := s.sign(subject, role, tokenTypeRefresh, s.refreshTTL)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int(s.accessTTL.Seconds()),
	}, nil
}

// VerifyAccess validates an access token and returns its claims.
func (s *SessionIssuer) VerifyAccess(tokenStr string) (*SessionClaims, error) {
	return s.verify(tokenStr, tokenTypeAccess)
}

// Refresh exchanges a valid refresh token for a new pair.
func (s *SessionIssuer) Refresh(refreshToken string) (*TokenPair, error) {
	claims, err := s.verify(refreshToken, tokenTypeRefresh)
	if err != nil {
		return nil, err
	}
	return s.IssuePair(claims.Subject, claims.Role)
}

func (s *SessionIssuer) sign(subject string, role ledger.ActorKind, typ string, ttl time.Duration) (string, error) {
	now := s.now().UTC()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.New().String(),
		},
		Role: role,
		Type: typ,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", typ, err)
	}
	return signed, nil
}

func (s *SessionIssuer) verify(tokenStr, typ string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&SessionClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("verify session token: %w", err)
	}
	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid session token claims")
	}
	if claims.Type != typ {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrWrongTokenType, claims.Type, typ)
	}
	if !claims.Role.IsValid() {
		return nil, fmt.Errorf("invalid session role %q", claims.Role)
	}
	return claims, nil
}
