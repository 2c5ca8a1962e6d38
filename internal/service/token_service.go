package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleAdmin = "admin"

	// DefaultTokenExpiration applies when IssueToken is given no ttl
	DefaultTokenExpiration = 12 * time.Hour
)

var ErrInvalidToken = errors.New("invalid token")

// Claims represents the JWT claims understood by the auth middleware
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// TokenService issues and validates the bearer tokens of the admin API
type TokenService interface {
	IssueToken(subject, role string, ttl time.Duration) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
}

type tokenService struct {
	jwtSecret string
	now       func() time.Time
}

func NewTokenService(jwtSecret string) TokenService {
	return &tokenService{jwtSecret: jwtSecret, now: time.Now}
}

func (s *tokenService) IssueToken(subject, role string, ttl time.Duration) (string, error) {
	if subject == "" || role == "" {
		return "", fmt.Errorf("subject and role are required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenExpiration
	}

	now := s.now()
	claims := &Claims{
		UserID: subject,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// ValidateToken validates a JWT token and returns the claims
func (s *tokenService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
