package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/KevinKickass/OpenWaterCore/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T, tokenHashes ...string) *AuthService {
	t.Helper()
	t.Setenv("OWC_TEST_JWT_SECRET", "test-secret-0123456789abcdef0123456789")

	hash, err := NewPasswordHasher(config.PasswordHashConfig{}).HashPassword("hunter2")
	require.NoError(t, err)

	return NewAuthService(config.AuthConfig{
		JWTSecretEnv:           "OWC_TEST_JWT_SECRET",
		AccessTokenTTL:         time.Minute,
		OperatorUsername:       "operator",
		OperatorPasswordHash:   hash,
		IntegrationTokenHashes: tokenHashes,
	}, zap.NewNop())
}

func TestPasswordHasher(t *testing.T) {
	ph := NewPasswordHasher(config.PasswordHashConfig{})
	assert.Equal(t, DefaultPasswordHashConfig, ph.Params())

	hash, err := ph.HashPassword("correct horse")
	require.NoError(t, err)
	assert.Contains(t, hash, "$argon2id$")

	ok, err := ph.VerifyPassword("correct horse", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ph.VerifyPassword("wrong", hash)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = ph.VerifyPassword("x", "not-a-hash")
	assert.ErrorIs(t, err, ErrInvalidHash)
}

func TestPasswordHasherCustomCost(t *testing.T) {
	custom := NewPasswordHasher(config.PasswordHashConfig{MemoryKiB: 8 * 1024, Iterations: 3, Parallelism: 2})
	hash, err := custom.HashPassword("correct horse")
	require.NoError(t, err)
	assert.Contains(t, hash, "$m=8192,t=3,p=2$")

	// verification reads the cost from the hash, so a hasher with other params still accepts it
	ok, err := NewPasswordHasher(config.PasswordHashConfig{}).VerifyPassword("correct horse", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = NewPasswordHasher(config.PasswordHashConfig{}).VerifyPassword("correct horsE", hash)
	require.NoError(t, err)
	assert.False(t, ok)

	for name, bad := range map[string]string{
		"wrong algorithm": strings.Replace(hash, "argon2id", "argon2i", 1),
		"wrong version":   strings.Replace(hash, "v=19", "v=16", 1),
		"huge memory":     strings.Replace(hash, "m=8192", "m=4194304", 1),
		"zero iterations": strings.Replace(hash, "t=3", "t=0", 1),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := custom.VerifyPassword("correct horse", bad)
			assert.ErrorIs(t, err, ErrInvalidHash)
		})
	}
}

func TestLogin(t *testing.T) {
	svc := newTestService(t)

	token, expires, err := svc.Login("operator", "hunter2", "127.0.0.1")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Greater(t, expires, time.Now().Unix())

	perms, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.ElementsMatch(t, []Permission{PermRead, PermWrite}, perms)

	_, _, err = svc.Login("operator", "wrong", "127.0.0.1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = svc.Login("someone", "hunter2", "127.0.0.1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestIntegrationTokens(t *testing.T) {
	gen := NewIntegrationTokenGenerator()
	token, hash, err := gen.GenerateToken()
	require.NoError(t, err)
	assert.True(t, gen.ValidateTokenFormat(token))

	svc := newTestService(t, hash)
	perms, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Contains(t, perms, PermWrite)

	other, _, err := gen.GenerateToken()
	require.NoError(t, err)
	_, err = svc.ValidateToken(other)
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := newTestService(t)
	token, _, err := svc.Login("operator", "hunter2", "")
	require.NoError(t, err)

	router := gin.New()
	router.GET("/secure", svc.AuthMiddleware(), RequirePermission(PermWrite), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"valid token", "Bearer " + token, http.StatusNoContent},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/secure", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
		})
	}
}
