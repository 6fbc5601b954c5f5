package config

type RecaptchaConfig struct {
	SecretKey string `yaml:"secret"`
	Site      string `yaml:"site-key"`
	URL       string `yaml:"verify-url"`
}

func (s *RecaptchaConfig) Secret() string {
	return s.SecretKey
}

func (s *RecaptchaConfig) SiteKey() string {
	return s.Site
}

func (s *RecaptchaConfig) VerifyURL() string {
	return s.URL
}

func (s *RecaptchaConfig) Enabled() bool {
	return s.SecretKey != ""
}
