package config

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	AgentHost    string  `yaml:"agent-host-port"`
	SamplerParam float64 `yaml:"sampler-param"`
}

func (s *TracingConfig) IsEnabled() bool {
	return s.Enabled
}

func (s *TracingConfig) AgentHostPort() string {
	return s.AgentHost
}

func (s *TracingConfig) SamplingRate() float64 {
	if s.SamplerParam <= 0 {
		return 1
	}
	return s.SamplerParam
}
