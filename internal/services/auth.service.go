package services

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"pideck/internal/logging"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultSessionTTL = 7 * 24 * time.Hour
	sessionIssuer     = "pideck"
	sessionSubject    = "admin"
	minSecretBytes    = 32
)

var (
	ErrAuthDisabled       = errors.New("authentication disabled")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidSession     = errors.New("invalid session")
	ErrSessionRevoked     = errors.New("session revoked")
)

// SessionClaims is the payload of the dashboard session cookie.
type SessionClaims struct {
	jwt.RegisteredClaims
}

// AuthService checks the admin password and signs session tokens. Logged
// out token IDs are remembered until the token would have expired anyway.
type AuthService struct {
	password []byte
	secret   []byte
	ttl      time.Duration
	clock    Clock

	mu      sync.Mutex
	revoked map[string]time.Time
}

// NewAuthService builds the session issuer. With no password configured,
// authentication is disabled. Without a secret a random one is generated,
// which invalidates sessions on restart.
func NewAuthService(password, secret string, ttl time.Duration, clock Clock, logger *slog.Logger) (*AuthService, error) {
	logger = logging.OrDiscard(logger)
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, minSecretBytes)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate session secret: %w", err)
		}
		if password != "" {
			logger.Warn("no session secret configured, sessions will not survive a restart")
		}
	} else if len(key) < minSecretBytes {
		logger.Warn("session secret is shorter than recommended", "bytes", len(key), "recommended", minSecretBytes)
	}

	if password == "" {
		logger.Warn("no admin password configured, authentication is disabled")
	}

	return &AuthService{
		password: []byte(password),
		secret:   key,
		ttl:      ttl,
		clock:    orSystemClock(clock),
		revoked:  make(map[string]time.Time),
	}, nil
}

func (a *AuthService) Enabled() bool {
	return len(a.password) > 0
}

func (a *AuthService) TTL() time.Duration {
	return a.ttl
}

// Login compares the password in constant time and returns a signed token
// with its expiry.
func (a *AuthService) Login(password string) (string, time.Time, error) {
	if !a.Enabled() {
		return "", time.Time{}, ErrAuthDisabled
	}
	if subtle.ConstantTimeCompare([]byte(password), a.password) != 1 {
		return "", time.Time{}, ErrInvalidCredentials
	}
	return a.issue()
}

func (a *AuthService) issue() (string, time.Time, error) {
	now := a.clock.Now()
	expiresAt := now.Add(a.ttl)

	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   sessionSubject,
			Issuer:    sessionIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session: %w", err)
	}
	return token, expiresAt, nil
}

// Validate parses a session token. Only HMAC-signed tokens from this
// issuer are accepted.
func (a *AuthService) Validate(token string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	},
		jwt.WithIssuer(sessionIssuer),
		jwt.WithTimeFunc(a.clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidSession
	}
	if a.isRevoked(claims.ID) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSession, ErrSessionRevoked)
	}
	return claims, nil
}

// Revoke ends the session carried by token before its expiry. Tokens that
// no longer validate are already unusable and are ignored.
func (a *AuthService) Revoke(token string) error {
	claims, err := a.Validate(token)
	if err != nil {
		return err
	}
	if claims.ID == "" || claims.ExpiresAt == nil {
		return fmt.Errorf("%w: token has no id", ErrInvalidSession)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.sweepLocked()
	a.revoked[claims.ID] = claims.ExpiresAt.Time
	return nil
}

func (a *AuthService) isRevoked(id string) bool {
	if id == "" {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.revoked[id]
	return ok
}

// sweepLocked forgets revocations whose tokens have expired.
func (a *AuthService) sweepLocked() {
	now := a.clock.Now()
	for id, exp := range a.revoked {
		if !now.Before(exp) {
			delete(a.revoked, id)
		}
	}
}
