// Package auth verifies the bearer credential presented at connect time and
// resolves it to an identity. The verifier is pluggable so the session layer
// never depends on how credentials are issued.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken    = errors.New("missing token")
	ErrInvalidToken    = errors.New("invalid token")
	ErrMissingUsername = errors.New("token missing 'sub' claim")
	ErrMissingTeam     = errors.New("token missing 'team' claim")
)

// Identity is the authenticated (team, username) pair for a connection.
type Identity struct {
	Username string
	Team     string
	Admin    bool
}

// Verifier resolves a bearer credential to an identity.
type Verifier interface {
	Verify(tokenString string) (Identity, error)
}

// AppClaims defines our custom JWT claims structure.
type AppClaims struct {
	Team  string `json:"team"`
	Admin bool   `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HMAC-signed JWTs carrying team membership claims.
type JWTVerifier struct {
	secret []byte
}

var _ Verifier = (*JWTVerifier)(nil)

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) Verify(tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, ErrMissingToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*AppClaims)
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	if claims.Subject == "" {
		return Identity{}, ErrMissingUsername
	}
	if claims.Team == "" {
		return Identity{}, ErrMissingTeam
	}

	return Identity{
		Username: claims.Subject,
		Team:     claims.Team,
		Admin:    claims.Admin,
	}, nil
}

// Mint issues a signed token for the given identity. Used by tests and the
// dev token helper; production tokens come from the credential service.
func (v *JWTVerifier) Mint(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &AppClaims{
		Team:  id.Team,
		Admin: id.Admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
