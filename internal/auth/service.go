package auth

import (
	"errors"
	"fmt"

	"github.com/KevinKickass/OpenWaterCore/internal/config"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Permission string

const (
	PermRead  Permission = "registers:read"
	PermWrite Permission = "registers:write"
)

const (
	RoleOperator    = "operator"
	RoleIntegration = "integration"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// AuthService authenticates the single configured operator and any
// integration tokens listed in the config.
type AuthService struct {
	jwtHandler     *JWTHandler
	passwordHasher *PasswordHasher
	tokens         *IntegrationTokenGenerator
	logger         *zap.Logger

	operatorID   uuid.UUID
	operatorName string
	passwordHash string
	tokenHashes  []string
}

func NewAuthService(cfg config.AuthConfig, logger *zap.Logger) *AuthService {
	if cfg.OperatorPasswordHash == "" {
		logger.Warn("No operator password configured, login is disabled")
	}
	if !cfg.IsProductionReady() {
		logger.Warn("JWT secret is not production ready", zap.String("env", cfg.JWTSecretEnv))
	}

	return &AuthService{
		jwtHandler:     NewJWTHandler(cfg.GetJWTSecret(), cfg.AccessTokenTTL),
		passwordHasher: NewPasswordHasher(cfg.PasswordHash),
		tokens:         NewIntegrationTokenGenerator(),
		logger:         logger,
		operatorID:     uuid.NewSHA1(uuid.NameSpaceOID, []byte("openwatercore/operator/"+cfg.OperatorUsername)),
		operatorName:   cfg.OperatorUsername,
		passwordHash:   cfg.OperatorPasswordHash,
		tokenHashes:    cfg.IntegrationTokenHashes,
	}
}

// Login checks the operator credentials and returns an access token.
func (a *AuthService) Login(username, password, ipAddress string) (string, int64, error) {
	if a.passwordHash == "" || username != a.operatorName {
		a.logger.Warn("Login failed", zap.String("username", username), zap.String("ip", ipAddress))
		return "", 0, ErrInvalidCredentials
	}

	valid, err := a.passwordHasher.VerifyPassword(password, a.passwordHash)
	if err != nil || !valid {
		a.logger.Warn("Login failed", zap.String("username", username), zap.String("ip", ipAddress), zap.Error(err))
		return "", 0, ErrInvalidCredentials
	}

	token, expiresAt, err := a.jwtHandler.GenerateAccessToken(a.operatorID, a.operatorName, RoleOperator)
	if err != nil {
		return "", 0, fmt.Errorf("failed to generate access token: %w", err)
	}

	a.logger.Info("Operator logged in", zap.String("username", username), zap.String("ip", ipAddress))
	return token, expiresAt.Unix(), nil
}

// ValidateToken accepts operator JWTs and integration tokens.
func (a *AuthService) ValidateToken(token string) ([]Permission, error) {
	if claims, err := a.jwtHandler.ValidateAccessToken(token); err == nil {
		return a.roleToPermissions(claims.Role), nil
	}

	if a.tokens.Matches(token, a.tokenHashes) {
		return a.roleToPermissions(RoleIntegration), nil
	}

	return nil, fmt.Errorf("invalid or expired token")
}

func (a *AuthService) roleToPermissions(role string) []Permission {
	switch role {
	case RoleOperator, RoleIntegration:
		return []Permission{PermRead, PermWrite}
	default:
		return []Permission{PermRead}
	}
}

func (a *AuthService) HashPassword(password string) (string, error) {
	return a.passwordHasher.HashPassword(password)
}
