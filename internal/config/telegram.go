package config

type TelegramConfig struct {
	BotToken   string `yaml:"token"`
	ReviewChat int64  `yaml:"review-chat-id"`
}

func (s *TelegramConfig) Token() string {
	return s.BotToken
}

func (s *TelegramConfig) ReviewChatID() int64 {
	return s.ReviewChat
}

func (s *TelegramConfig) Enabled() bool {
	return s.BotToken != "" && s.ReviewChat != 0
}
