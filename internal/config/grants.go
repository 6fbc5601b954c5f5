package config

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"max.ks1230/grants-portal/internal/entity/grant"
)

type GrantsConfig struct {
	ResearchDefault string `yaml:"research-default"`
	JournalDefault  string `yaml:"journal-default"`
	LockWaitMs      int64  `yaml:"lock-wait-ms"`
	Attempts        int    `yaml:"submit-attempts"`
	BackoffMs       int64  `yaml:"submit-backoff-ms"`
	SweepOnNewYear  bool   `yaml:"sweep-on-new-year"`
}

func (s *GrantsConfig) validate() error {
	for _, v := range []string{s.ResearchDefault, s.JournalDefault} {
		if v == "" {
			continue
		}
		d, err := decimal.NewFromString(v)
		if err != nil {
			return errors.Wrapf(err, "grant default %q", v)
		}
		if d.IsNegative() {
			return errors.Errorf("grant default %q is negative", v)
		}
	}
	return nil
}

func (s *GrantsConfig) Defaults() grant.Defaults {
	d := grant.DefaultAllowances()
	if s.ResearchDefault != "" {
		d.Research = decimal.RequireFromString(s.ResearchDefault)
	}
	if s.JournalDefault != "" {
		d.Journal = decimal.RequireFromString(s.JournalDefault)
	}
	return d
}

func (s *GrantsConfig) LockWait() time.Duration {
	return time.Duration(s.LockWaitMs) * time.Millisecond
}

func (s *GrantsConfig) SubmitAttempts() int {
	return s.Attempts
}

func (s *GrantsConfig) SubmitBackoff() time.Duration {
	return time.Duration(s.BackoffMs) * time.Millisecond
}

func (s *GrantsConfig) Sweep() bool {
	return s.SweepOnNewYear
}
