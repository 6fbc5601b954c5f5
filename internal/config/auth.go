package config

import "time"

type AuthConfig struct {
	JWTSecret     string `yaml:"jwt-secret"`
	TokenTTLHours int    `yaml:"token-ttl-hours"`
	Cost          int    `yaml:"bcrypt-cost"`
}

func (s *AuthConfig) Secret() string {
	return s.JWTSecret
}

func (s *AuthConfig) TokenTTL() time.Duration {
	if s.TokenTTLHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(s.TokenTTLHours) * time.Hour
}

func (s *AuthConfig) BcryptCost() int {
	return s.Cost
}
