package config

import (
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// JWTConfig holds configuration for control API token signing.
type JWTConfig struct {
	Secret          string
	ExpirationHours int
}

// JWT returns the token settings of the server section.
func (s ServerConfig) JWT() (*JWTConfig, error) {
	cfg := &JWTConfig{Secret: s.JWTSecret, ExpirationHours: s.TokenHours}
	if cfg.ExpirationHours == 0 {
		cfg.ExpirationHours = 24
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Expiration is the token lifetime.
func (c *JWTConfig) Expiration() time.Duration {
	return time.Duration(c.ExpirationHours) * time.Hour
}

func (c *JWTConfig) normalize() error {
	if c.Secret == "" {
		return fmt.Errorf("jwt secret is required but not set")
	}
	if c.ExpirationHours < 1 {
		return fmt.Errorf("token lifetime must be at least 1 hour, got: %d", c.ExpirationHours)
	}
	return nil
}

// PasswordConfig holds the bcrypt settings for the control API password.
type PasswordConfig struct {
	BcryptCost int
	Pepper     string // optional global secret appended before hashing
}

// Passwords returns the hashing settings of the server section.
func (s ServerConfig) Passwords() (*PasswordConfig, error) {
	cfg := &PasswordConfig{BcryptCost: s.BcryptCost, Pepper: s.Pepper}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *PasswordConfig) normalize() error {
	if c.BcryptCost < 10 || c.BcryptCost > 14 {
		return fmt.Errorf("bcrypt cost out of range: %d (must be 10-14)", c.BcryptCost)
	}
	return nil
}

// HashPassword hashes a password using bcrypt (with optional pepper).
func (c *PasswordConfig) HashPassword(pw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pw+c.Pepper), c.BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword reports whether pw matches storedHash.
func (c *PasswordConfig) VerifyPassword(pw, storedHash string) bool {
	if storedHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(pw+c.Pepper)) == nil
}
