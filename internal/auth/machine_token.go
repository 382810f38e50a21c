package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const integrationTokenPrefix = "owc_"

// IntegrationTokenGenerator issues long-lived tokens for home-automation
// integrations. Only the SHA-256 hash is put into the config.
type IntegrationTokenGenerator struct{}

func NewIntegrationTokenGenerator() *IntegrationTokenGenerator {
	return &IntegrationTokenGenerator{}
}

// GenerateToken creates a new token and its hash.
// Format: owc_<uuid>_<random_secret>
func (m *IntegrationTokenGenerator) GenerateToken() (string, string, error) {
	id := uuid.New()

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate secret: %w", err)
	}
	secret := hex.EncodeToString(secretBytes)

	token := fmt.Sprintf("%s%s_%s", integrationTokenPrefix, id.String(), secret)
	return token, m.HashToken(token), nil
}

func (m *IntegrationTokenGenerator) HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateTokenFormat checks if token has correct format
func (m *IntegrationTokenGenerator) ValidateTokenFormat(token string) bool {
	if len(token) < len(integrationTokenPrefix)+36+1+64 {
		return false
	}
	return strings.HasPrefix(token, integrationTokenPrefix)
}

// Matches reports whether token hashes to one of the configured hashes.
func (m *IntegrationTokenGenerator) Matches(token string, hashes []string) bool {
	if !m.ValidateTokenFormat(token) {
		return false
	}
	sum := []byte(m.HashToken(token))
	for _, h := range hashes {
		if subtle.ConstantTimeCompare(sum, []byte(strings.ToLower(h))) == 1 {
			return true
		}
	}
	return false
}
