package config

import (
	"time"

	"github.com/pkg/errors"
)

type AppConfig struct {
	ServiceName string `yaml:"name"`
	Zone        string `yaml:"time-zone"`
	Locks       string `yaml:"lock-backend"`
}

func (s *AppConfig) Name() string {
	if s.ServiceName == "" {
		return "grants-portal"
	}
	return s.ServiceName
}

// Location is where the grant year boundary is evaluated.
func (s *AppConfig) Location() (*time.Location, error) {
	if s.Zone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(s.Zone)
	if err != nil {
		return nil, errors.Wrap(err, "loading time zone")
	}
	return loc, nil
}

// LockBackend is "redis" or "memory".
func (s *AppConfig) LockBackend() string {
	if s.Locks == "" {
		return "memory"
	}
	return s.Locks
}
