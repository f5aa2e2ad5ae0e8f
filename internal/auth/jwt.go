package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is wrapped by every ValidateToken failure.
var ErrInvalidToken = errors.New("invalid token")

// Claims represents JWT claims for platform users.
type Claims struct {
	UserID      string `json:"user_id,omitempty"`
	DisplayName string `json:"name,omitempty"`
	Role        string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTConfig holds JWT configuration.
type JWTConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
	TTL      time.Duration
}

// GenerateToken creates a signed token for the given identity.
func GenerateToken(cfg *JWTConfig, id Identity) (string, error) {
	if len(cfg.Secret) == 0 {
		return "", errors.New("jwt secret is empty")
	}
	if id.ID == "" {
		return "", errors.New("identity id is empty")
	}

	now := time.Now()
	claims := Claims{
		UserID:      id.ID,
		DisplayName: id.DisplayName,
		Role:        id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  id.ID,
			Issuer:   cfg.Issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}
	if cfg.TTL != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(cfg.TTL))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(cfg.Secret)
}

// ValidateToken parses and validates a JWT token.
func ValidateToken(cfg *JWTConfig, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return cfg.Secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: bad claims", ErrInvalidToken)
	}

	if cfg.Issuer != "" && claims.Issuer != cfg.Issuer {
		return nil, fmt.Errorf("%w: issuer", ErrInvalidToken)
	}
	if cfg.Audience != "" && !slices.Contains(claims.Audience, cfg.Audience) {
		return nil, fmt.Errorf("%w: audience", ErrInvalidToken)
	}

	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: no subject", ErrInvalidToken)
	}
	return claims, nil
}
