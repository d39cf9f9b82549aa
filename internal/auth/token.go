package auth

import (
	"errors"
	"strconv"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/spec-kit/crm-intake-bot/internal/domain"
)

// ErrNoSigningKey is returned when the manager was built without a secret.
// Such a manager issues no tokens and accepts none.
var ErrNoSigningKey = errors.New("jwt signing secret is not configured")

// TokenManager handles issuing and validating JWT tokens.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenManager builds a new manager.
func NewTokenManager(secret string, ttlMinutes int) *TokenManager {
	if ttlMinutes <= 0 {
		ttlMinutes = 60
	}
	return &TokenManager{secret: []byte(secret), ttl: time.Duration(ttlMinutes) * time.Minute}
}

// Claims describes JWT payload.
type Claims struct {
	AdminID int64  `json:"admin_id"`
	Name    string `json:"name"`
	jwt.RegisteredClaims
}

// GenerateToken builds and signs a JWT for the administrator.
func (tm *TokenManager) GenerateToken(adminID int64, name string) (string, time.Time, error) {
	if len(tm.secret) == 0 {
		return "", time.Time{}, ErrNoSigningKey
	}
	now := time.Now()
	expiresAt := now.Add(tm.ttl)
	claims := &Claims{
		AdminID: adminID,
		Name:    name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(adminID, 10),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// ParseToken validates and returns claims.
func (tm *TokenManager) ParseToken(tokenStr string) (*Claims, error) {
	if len(tm.secret) == 0 {
		return nil, ErrNoSigningKey
	}
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return tm.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// Principal converts validated claims into the caller identity.
func (c *Claims) Principal() domain.AdminPrincipal {
	principal := domain.AdminPrincipal{AdminID: c.AdminID, Name: c.Name}
	if c.ExpiresAt != nil {
		principal.ExpiresAt = c.ExpiresAt.Time
	}
	return principal
}
