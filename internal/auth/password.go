package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/KevinKickass/OpenWaterCore/internal/config"
	"golang.org/x/crypto/argon2"
)

const (
	saltLength = 16
	keyLength  = 32

	// hashes in the config are trusted, but a typo must not pin the bridge at 4 GB
	maxVerifyMemoryKiB = 256 * 1024
)

var ErrInvalidHash = errors.New("invalid password hash")

// DefaultPasswordHashConfig is the argon2id cost used when none is configured.
var DefaultPasswordHashConfig = config.PasswordHashConfig{
	MemoryKiB:   19 * 1024,
	Iterations:  2,
	Parallelism: 1,
}

// PasswordHasher creates and checks operator password hashes in the PHC
// string format, e.g. $argon2id$v=19$m=19456,t=2,p=1$<salt>$<key>.
type PasswordHasher struct {
	params config.PasswordHashConfig
}

// NewPasswordHasher uses params for new hashes. Zero fields fall back to
// DefaultPasswordHashConfig.
func NewPasswordHasher(params config.PasswordHashConfig) *PasswordHasher {
	if params.MemoryKiB == 0 {
		params.MemoryKiB = DefaultPasswordHashConfig.MemoryKiB
	}
	if params.Iterations == 0 {
		params.Iterations = DefaultPasswordHashConfig.Iterations
	}
	if params.Parallelism == 0 {
		params.Parallelism = DefaultPasswordHashConfig.Parallelism
	}
	return &PasswordHasher{params: params}
}

func (ph *PasswordHasher) Params() config.PasswordHashConfig {
	return ph.params
}

func (ph *PasswordHasher) HashPassword(password string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, ph.params.Iterations, ph.params.MemoryKiB, ph.params.Parallelism, keyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		ph.params.MemoryKiB,
		ph.params.Iterations,
		ph.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// VerifyPassword checks password against encodedHash using the cost stored
// in the hash, not the hasher's own params.
func (ph *PasswordHasher) VerifyPassword(password, encodedHash string) (bool, error) {
	params, salt, key, err := decodeHash(encodedHash)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(password), salt, params.Iterations, params.MemoryKiB, params.Parallelism, uint32(len(key)))
	return subtle.ConstantTimeCompare(key, computed) == 1, nil
}

func decodeHash(encoded string) (config.PasswordHashConfig, []byte, []byte, error) {
	var params config.PasswordHashConfig

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return params, nil, nil, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return params, nil, nil, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	if version != argon2.Version {
		return params, nil, nil, fmt.Errorf("%w: unsupported argon2 version %d", ErrInvalidHash, version)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.MemoryKiB, &params.Iterations, &params.Parallelism); err != nil {
		return params, nil, nil, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	if params.Iterations == 0 || params.Parallelism == 0 || params.MemoryKiB > maxVerifyMemoryKiB {
		return params, nil, nil, fmt.Errorf("%w: parameters out of range", ErrInvalidHash)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return params, nil, nil, fmt.Errorf("%w: salt: %v", ErrInvalidHash, err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return params, nil, nil, fmt.Errorf("%w: key", ErrInvalidHash)
	}

	return params, salt, key, nil
}
