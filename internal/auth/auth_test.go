package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-monitor/internal/models"
)

func TestNewService(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("JWT_EXPIRY", "")
	service, err := NewService("", 0)
	assert.NoError(t, err)
	assert.NotNil(t, service)
	assert.NotEmpty(t, service.jwtSecret)
	assert.True(t, service.UsesDefaultSecret())
	assert.Equal(t, 24*time.Hour, service.tokenExp)
}

func TestNewService_FromEnvironment(t *testing.T) {
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("JWT_EXPIRY", "90m")
	service, err := NewService("", 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("from-env"), service.jwtSecret)
	assert.Equal(t, 90*time.Minute, service.tokenExp)
	assert.False(t, service.UsesDefaultSecret())

	t.Setenv("JWT_EXPIRY", "tomorrow")
	_, err = NewService("", 0)
	assert.Error(t, err)

	explicit, err := NewService("explicit", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []byte("explicit"), explicit.jwtSecret)
	assert.Equal(t, time.Hour, explicit.tokenExp)
}

func TestService_GenerateToken(t *testing.T) {
	service, _ := NewService("test-secret", time.Hour)

	tests := []struct {
		name     string
		identity models.Claims
		wantErr  bool
	}{
		{"admin", models.Claims{UserID: "u-1", Username: "ops", Role: models.RoleAdmin}, false},
		{"driver", models.Claims{UserID: "u-2", Username: "budi", Role: models.RoleDriver, DriverID: 7}, false},
		{"driver without driver id", models.Claims{UserID: "u-3", Username: "siti", Role: models.RoleDriver}, true},
		{"unknown role", models.Claims{UserID: "u-4", Username: "x", Role: "manager"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := service.GenerateToken(tt.identity)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidClaims)
				return
			}
			assert.NoError(t, err)
			assert.NotEmpty(t, token)
		})
	}
}

func TestService_ValidateToken(t *testing.T) {
	service, _ := NewService("test-secret", time.Hour)

	identity := models.Claims{UserID: "u-2", Username: "budi", Role: models.RoleDriver, DriverID: 7}
	token, err := service.GenerateToken(identity)
	require.NoError(t, err)

	// Test valid token
	claims, err := service.ValidateToken(token)
	assert.NoError(t, err)
	assert.NotNil(t, claims)
	assert.Equal(t, identity.UserID, claims.UserID)
	assert.Equal(t, identity.Username, claims.Username)
	assert.Equal(t, identity.Role, claims.Role)
	assert.Equal(t, int64(7), claims.DriverID)

	// Test invalid token
	_, err = service.ValidateToken("invalid-token")
	assert.Error(t, err)
	assert.Equal(t, ErrInvalidToken, err)

	// Test token with Bearer prefix
	_, err = service.ValidateToken("Bearer " + token)
	assert.NoError(t, err)

	// Test token signed with another secret
	other, _ := NewService("other-secret", time.Hour)
	_, err = other.ValidateToken(token)
	assert.Equal(t, ErrInvalidToken, err)
}

func TestService_ValidateTokenRejectsBadClaims(t *testing.T) {
	service, _ := NewService("test-secret", time.Hour)
	sign := func(claims jwt.MapClaims) string {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(service.jwtSecret)
		require.NoError(t, err)
		return token
	}
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name   string
		claims jwt.MapClaims
	}{
		{"driver without driver id", jwt.MapClaims{"user_id": "u", "username": "n", "role": "driver", "exp": exp}},
		{"negative driver id", jwt.MapClaims{"user_id": "u", "username": "n", "role": "driver", "driver_id": -1, "exp": exp}},
		{"unknown role", jwt.MapClaims{"user_id": "u", "username": "n", "role": "root", "exp": exp}},
		{"missing user", jwt.MapClaims{"username": "n", "role": "admin", "exp": exp}},
		{"missing exp", jwt.MapClaims{"user_id": "u", "username": "n", "role": "admin"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.ValidateToken(sign(tt.claims))
			assert.Equal(t, ErrInvalidToken, err)
		})
	}
}

func TestService_ExtractTokenFromHeader(t *testing.T) {
	service, _ := NewService("test-secret", time.Hour)

	// Test valid header
	token := "valid-token"
	header := "Bearer " + token
	extracted, err := service.ExtractTokenFromHeader(header)
	assert.NoError(t, err)
	assert.Equal(t, token, extracted)

	// Test empty header
	_, err = service.ExtractTokenFromHeader("")
	assert.Error(t, err)
	assert.Equal(t, ErrInvalidToken, err)

	// Test invalid format
	_, err = service.ExtractTokenFromHeader("InvalidFormat")
	assert.Error(t, err)
	assert.Equal(t, ErrInvalidToken, err)

	// Test missing token
	_, err = service.ExtractTokenFromHeader("Bearer ")
	assert.Error(t, err)
	assert.Equal(t, ErrInvalidToken, err)
}

func TestService_TokenExpiration(t *testing.T) {
	service, _ := NewService("test-secret", time.Hour)

	token, _ := service.GenerateToken(models.Claims{UserID: "u-1", Username: "ops", Role: models.RoleAdmin})

	// Token should be valid immediately
	claims, err := service.ValidateToken(token)
	assert.NoError(t, err)
	assert.NotNil(t, claims)

	// Check expiration time
	now := time.Now().Unix()
	assert.Greater(t, claims.Exp, now)
	assert.LessOrEqual(t, claims.Exp, now+int64(service.tokenExp.Seconds())+1)

	expired, _ := NewService("test-secret", time.Nanosecond)
	old, err := expired.GenerateToken(models.Claims{UserID: "u-1", Username: "ops", Role: models.RoleAdmin})
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond)
	_, err = service.ValidateToken(old)
	assert.Equal(t, ErrExpiredToken, err)
}
