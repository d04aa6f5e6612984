package config

import (
	"crypto/subtle"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// CheckManagementKey verifies a candidate against the configured management
// credential. The setting accepts either plain text or a bcrypt hash
// (detected by the $2 prefix); an empty setting rejects everything, which
// disables the admin surface.
func CheckManagementKey(cfg *Config, candidate string) bool {
	if cfg == nil || candidate == "" || cfg.ManagementKey == "" {
		return false
	}
	if strings.HasPrefix(cfg.ManagementKey, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(cfg.ManagementKey), []byte(candidate)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(cfg.ManagementKey), []byte(candidate)) == 1
}

// ManagementKeyValidator returns a closure suitable for middleware validation.
func ManagementKeyValidator(cfg *Config) func(string) bool {
	return func(candidate string) bool {
		return CheckManagementKey(cfg, candidate)
	}
}
