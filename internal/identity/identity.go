// Package identity answers "who is signed in on this device".
package identity

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
)

var ErrInvalidToken = errors.New("invalid session token")

// Provider reports the signed-in user, if any.
type Provider interface {
	CurrentUserID() (string, bool)
}

// Static is a fixed identity. The empty string means signed out.
type Static string

func (s Static) CurrentUserID() (string, bool) {
	return string(s), s != ""
}

// Claims are the session token claims. The user id is the subject.
type Claims struct {
	jwt.RegisteredClaims
}

// GenerateToken issues an HS256 session token for userID.
func GenerateToken(userID string, secret []byte, validity time.Duration, now time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
		},
	})
	return token.SignedString(secret)
}

// JWTProvider holds the session token of the signed-in user and checks
// it on every call, so an expired session reads as signed out.
type JWTProvider struct {
	secret []byte
	clock  clockwork.Clock

	mu    sync.RWMutex
	token string
}

// NewJWTProvider creates a signed-out provider.
func NewJWTProvider(secret []byte, clock clockwork.Clock) *JWTProvider {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &JWTProvider{secret: secret, clock: clock}
}

// Verify validates token and returns its subject.
func (p *JWTProvider) Verify(token string) (string, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return p.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.clock.Now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// SignIn stores token after validating it and returns the user id.
func (p *JWTProvider) SignIn(token string) (string, error) {
	userID, err := p.Verify(token)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	p.token = token
	p.mu.Unlock()
	return userID, nil
}

// SignOut forgets the session token.
func (p *JWTProvider) SignOut() {
	p.mu.Lock()
	p.token = ""
	p.mu.Unlock()
}

func (p *JWTProvider) CurrentUserID() (string, bool) {
	p.mu.RLock()
	token := p.token
	p.mu.RUnlock()

	if token == "" {
		return "", false
	}
	userID, err := p.Verify(token)
	if err != nil {
		return "", false
	}
	return userID, true
}
