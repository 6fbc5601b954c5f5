package config

import "time"

type DocumentsConfig struct {
	Store      string `yaml:"backend"`
	BucketName string `yaml:"bucket"`
	TimeoutSec int    `yaml:"upload-timeout-seconds"`
}

// Backend is "gcs" or "memory".
func (s *DocumentsConfig) Backend() string {
	if s.Store == "" {
		return "memory"
	}
	return s.Store
}

func (s *DocumentsConfig) Bucket() string {
	return s.BucketName
}

func (s *DocumentsConfig) UploadTimeout() time.Duration {
	return seconds(s.TimeoutSec, 120)
}
