// Package auth resolves bearer tokens to caller claims. Tokens are issued
// elsewhere; GenerateToken exists for tooling and tests.
package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ukydev/fleet-monitor/internal/models"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token expired")
	ErrInvalidClaims = errors.New("invalid claims")
)

const defaultSecret = "default-secret-key-change-in-production"

// Service handles authentication operations
type Service struct {
	jwtSecret []byte
	tokenExp  time.Duration
}

// NewService creates a new authentication service. Empty arguments fall
// back to JWT_SECRET and JWT_EXPIRY, then to the built-in defaults.
func NewService(secret string, exp time.Duration) (*Service, error) {
	if secret == "" {
		secret = os.Getenv("JWT_SECRET")
	}
	if secret == "" {
		secret = defaultSecret
	}

	if exp <= 0 {
		exp = 24 * time.Hour // default 24 hours
		if expStr := os.Getenv("JWT_EXPIRY"); expStr != "" {
			parsed, err := time.ParseDuration(expStr)
			if err != nil {
				return nil, fmt.Errorf("invalid JWT_EXPIRY %q: %w", expStr, err)
			}
			exp = parsed
		}
	}

	return &Service{
		jwtSecret: []byte(secret),
		tokenExp:  exp,
	}, nil
}

// UsesDefaultSecret reports whether the service signs with the built-in
// development secret.
func (s *Service) UsesDefaultSecret() bool {
	return string(s.jwtSecret) == defaultSecret
}

// GenerateToken signs a token for the given identity. Driver tokens must
// carry the driver id they act for.
func (s *Service) GenerateToken(identity models.Claims) (string, error) {
	if !models.IsValidRole(identity.Role) {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidClaims, identity.Role)
	}
	if identity.Role == models.RoleDriver && identity.DriverID <= 0 {
		return "", fmt.Errorf("%w: driver token without driver_id", ErrInvalidClaims)
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"user_id":  identity.UserID,
		"username": identity.Username,
		"role":     string(identity.Role),
		"exp":      now.Add(s.tokenExp).Unix(),
		"iat":      now.Unix(),
	}
	if identity.DriverID > 0 {
		claims["driver_id"] = identity.DriverID
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ValidateToken validates a JWT token and returns the claims
func (s *Service) ValidateToken(tokenString string) (*models.Claims, error) {
	// Remove "Bearer " prefix if present
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	// Extract claims
	userID, ok := claims["user_id"].(string)
	if !ok {
		return nil, ErrInvalidToken
	}

	username, ok := claims["username"].(string)
	if !ok {
		return nil, ErrInvalidToken
	}

	roleStr, ok := claims["role"].(string)
	if !ok || !models.IsValidRole(models.Role(roleStr)) {
		return nil, ErrInvalidToken
	}

	exp, ok := claims["exp"].(float64)
	if !ok {
		return nil, ErrInvalidToken
	}

	var driverID int64
	if raw, present := claims["driver_id"]; present {
		f, ok := raw.(float64)
		if !ok || f <= 0 {
			return nil, ErrInvalidToken
		}
		driverID = int64(f)
	}
	if models.Role(roleStr) == models.RoleDriver && driverID == 0 {
		return nil, ErrInvalidToken
	}

	return &models.Claims{
		UserID:   userID,
		Username: username,
		Role:     models.Role(roleStr),
		DriverID: driverID,
		Exp:      int64(exp),
	}, nil
}

// ExtractTokenFromHeader extracts token from Authorization header
func (s *Service) ExtractTokenFromHeader(authHeader string) (string, error) {
	if authHeader == "" {
		return "", ErrInvalidToken
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", ErrInvalidToken
	}

	return parts[1], nil
}
