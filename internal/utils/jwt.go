package utils

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the identity claim set carried by bearer tokens:
// {sub, email, role, exp}.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// UserID parses the subject as a numeric user id.
func (c *Claims) UserID() (uint64, error) {
	return strconv.ParseUint(c.Subject, 10, 64)
}

// IssuedToken is a signed token and the instant it stops being valid.
type IssuedToken struct {
	Token     string
	ExpiresAt time.Time
}

// TokenFailure names why a token was rejected.  Callers only ever see
// "unauthorized"; the reason is for logs.
type TokenFailure string

const (
	TokenMalformed TokenFailure = "malformed"
	TokenSignature TokenFailure = "signature"
	TokenExpired   TokenFailure = "expired"
	TokenAlgorithm TokenFailure = "algorithm"
)

type TokenError struct {
	Reason TokenFailure
	Err    error
}

func (e *TokenError) Error() string { return fmt.Sprintf("token %s: %v", e.Reason, e.Err) }
func (e *TokenError) Unwrap() error { return e.Err }

var errUnexpectedAlg = errors.New("unexpected signing method")

// TokenService mints and verifies HS256 bearer tokens.
type TokenService struct {
	secret   []byte
	lifetime time.Duration
	now      func() time.Time
}

func NewTokenService(secret string, lifetime time.Duration) *TokenService {
	return &TokenService{secret: []byte(secret), lifetime: lifetime, now: time.Now}
}

// WithClock returns a copy that reads time from now.  Minting and
// verification share the same clock; there is no leeway.
func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	cp := *s
	cp.now = now
	return &cp
}

func (s *TokenService) Lifetime() time.Duration { return s.lifetime }

// Mint signs a token for the user that expires after the configured lifetime.
func (s *TokenService) Mint(userID uint64, email, role string) (IssuedToken, error) {
	now := s.now().UTC()
	exp := now.Add(s.lifetime).Truncate(time.Second)
	claims := Claims{
		Email: email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(userID, 10),
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return IssuedToken{}, err
	}
	return IssuedToken{Token: signed, ExpiresAt: exp}, nil
}

// Verify checks signature, algorithm and expiry.  Every failure is a
// *TokenError.
func (s *TokenService) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errUnexpectedAlg
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, &TokenError{Reason: classify(err), Err: err}
	}
	if !tok.Valid {
		return nil, &TokenError{Reason: TokenMalformed, Err: errors.New("token not valid")}
	}
	return claims, nil
}

func classify(err error) TokenFailure {
	switch {
	case errors.Is(err, errUnexpectedAlg):
		return TokenAlgorithm
	case errors.Is(err, jwt.ErrTokenExpired):
		return TokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return TokenSignature
	default:
		return TokenMalformed
	}
}
