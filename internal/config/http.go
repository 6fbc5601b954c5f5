package config

import "time"

type HTTPConfig struct {
	Address         string  `yaml:"addr"`
	ReadTimeoutSec  int     `yaml:"read-timeout-seconds"`
	WriteTimeoutSec int     `yaml:"write-timeout-seconds"`
	ShutdownSec     int     `yaml:"shutdown-timeout-seconds"`
	SubmitRate      float64 `yaml:"submit-rate-per-second"`
	SubmitBurstSize int     `yaml:"submit-burst"`
}

func (s *HTTPConfig) Addr() string {
	if s.Address == "" {
		return ":8080"
	}
	return s.Address
}

func (s *HTTPConfig) ReadTimeout() time.Duration {
	return seconds(s.ReadTimeoutSec, 30)
}

func (s *HTTPConfig) WriteTimeout() time.Duration {
	return seconds(s.WriteTimeoutSec, 60)
}

func (s *HTTPConfig) ShutdownTimeout() time.Duration {
	return seconds(s.ShutdownSec, 10)
}

// SubmitLimit is the sustained submissions per second allowed per user.
func (s *HTTPConfig) SubmitLimit() float64 {
	if s.SubmitRate <= 0 {
		return 1
	}
	return s.SubmitRate
}

func (s *HTTPConfig) SubmitBurst() int {
	if s.SubmitBurstSize <= 0 {
		return 3
	}
	return s.SubmitBurstSize
}

func seconds(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Second
}
