package server

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/uuid"
)

func setupTestJWTService(_ *testing.T, expirationHours int) *JWTService {
	return NewJWTService("test-secret-key-for-jwt-signing-minimum-32-bytes", expirationHours)
}

func TestJWTService_GenerateToken(t *testing.T) {
	service := setupTestJWTService(t, 24)
	ownerID := uuid.New()

	token, err := service.GenerateToken(ownerID)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	parts := strings.Split(token, ".")
	assert.Equal(t, 3, len(parts), "JWT should have 3 parts separated by dots")
}

func TestJWTService_GenerateToken_ContainsOwnerID(t *testing.T) {
	service := setupTestJWTService(t, 24)
	ownerID := uuid.New()

	token, err := service.GenerateToken(ownerID)
	require.NoError(t, err)

	claims, err := service.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, ownerID, claims.OwnerID)
}

func TestJWTService_ValidateToken_RejectsTampered(t *testing.T) {
	service := setupTestJWTService(t, 24)

	token, err := service.GenerateToken(uuid.New())
	require.NoError(t, err)

	tampered := token[:len(token)-4] + "xxxx"
	_, err = service.ValidateToken(tampered)
	assert.Error(t, err)
}

func TestJWTService_ValidateToken_RejectsForeignSecret(t *testing.T) {
	service := setupTestJWTService(t, 24)
	other := NewJWTService("a-completely-different-signing-secret", 24)

	token, err := other.GenerateToken(uuid.New())
	require.NoError(t, err)

	_, err = service.ValidateToken(token)
	assert.Error(t, err)
}

func TestJWTService_ValidateToken_RejectsEmpty(t *testing.T) {
	service := setupTestJWTService(t, 24)

	_, err := service.ValidateToken("")
	assert.Error(t, err)
}

func TestJWTService_ValidateToken_RejectsExpired(t *testing.T) {
	service := setupTestJWTService(t, -1)

	token, err := service.GenerateToken(uuid.New())
	require.NoError(t, err)

	_, err = service.ValidateToken(token)
	assert.Error(t, err)
}

func TestJWTService_AsTokenValidator(t *testing.T) {
	service := setupTestJWTService(t, 24)
	ownerID := uuid.New()

	token, err := service.GenerateToken(ownerID)
	require.NoError(t, err)

	claims, err := service.AsTokenValidator().ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, ownerID, claims.GetOwnerID())
}
