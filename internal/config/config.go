package config

import (
	"os"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	configFile    = "data/config.yaml"
	configFileEnv = "CONFIG_FILE"
	dotEnvFile    = ".env"
)

type config struct {
	App       AppConfig       `yaml:"app"`
	Grants    GrantsConfig    `yaml:"grants"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Memcached MemcachedConfig `yaml:"memcached"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	HTTP      HTTPConfig      `yaml:"http"`
	Auth      AuthConfig      `yaml:"auth"`
	Documents DocumentsConfig `yaml:"documents"`
	Recaptcha RecaptchaConfig `yaml:"recaptcha"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Telegram  TelegramConfig  `yaml:"telegram"`
}

// secrets are never read from the YAML file.
type secrets struct {
	PostgresPassword string `env:"POSTGRES_PASSWORD"`
	JWTSecret        string `env:"JWT_SECRET"`
	RecaptchaSecret  string `env:"RECAPTCHA_SECRET"`
	RedisPassword    string `env:"REDIS_PASSWORD"`
	TelegramToken    string `env:"TELEGRAM_TOKEN"`
}

type Service struct {
	config config
}

func New() (*Service, error) {
	path := os.Getenv(configFileEnv)
	if path == "" {
		path = configFile
	}
	return Load(path)
}

// Load reads the YAML file at path and overlays secrets from the
// environment, loading .env first when present.
func Load(path string) (*Service, error) {
	rawYAML, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}

	s, err := Parse(rawYAML)
	if err != nil {
		return nil, err
	}

	if err = godotenv.Load(dotEnvFile); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "loading .env")
	}
	if err = s.overlaySecrets(); err != nil {
		return nil, err
	}
	return s, nil
}

func Parse(rawYAML []byte) (*Service, error) {
	s := &Service{}
	if err := yaml.Unmarshal(rawYAML, &s.config); err != nil {
		return nil, errors.Wrap(err, "parsing yaml")
	}
	if err := s.config.Grants.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) overlaySecrets() error {
	var sec secrets
	err := envdecode.Decode(&sec)
	if err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return errors.Wrap(err, "decoding secrets")
	}
	if sec.PostgresPassword != "" {
		s.config.Postgres.Pswd = sec.PostgresPassword
	}
	if sec.JWTSecret != "" {
		s.config.Auth.JWTSecret = sec.JWTSecret
	}
	if sec.RecaptchaSecret != "" {
		s.config.Recaptcha.SecretKey = sec.RecaptchaSecret
	}
	if sec.RedisPassword != "" {
		s.config.Redis.Pswd = sec.RedisPassword
	}
	if sec.TelegramToken != "" {
		s.config.Telegram.BotToken = sec.TelegramToken
	}
	return nil
}

func (s *Service) App() *AppConfig {
	return &s.config.App
}

func (s *Service) Grants() *GrantsConfig {
	return &s.config.Grants
}

func (s *Service) Postgres() *PostgresConfig {
	return &s.config.Postgres
}

func (s *Service) Memcached() *MemcachedConfig {
	return &s.config.Memcached
}

func (s *Service) Kafka() *KafkaConfig {
	return &s.config.Kafka
}

func (s *Service) Redis() *RedisConfig {
	return &s.config.Redis
}

func (s *Service) HTTP() *HTTPConfig {
	return &s.config.HTTP
}

func (s *Service) Auth() *AuthConfig {
	return &s.config.Auth
}

func (s *Service) Documents() *DocumentsConfig {
	return &s.config.Documents
}

func (s *Service) Recaptcha() *RecaptchaConfig {
	return &s.config.Recaptcha
}

func (s *Service) Tracing() *TracingConfig {
	return &s.config.Tracing
}

func (s *Service) Telegram() *TelegramConfig {
	return &s.config.Telegram
}
