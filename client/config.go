package client

import (
	"os"
	"strconv"

	"github.com/rs/zerolog"

	"tvfeed/notify"
	"tvfeed/transport"
)

// DefaultAuthToken is what the server accepts for anonymous access.
const DefaultAuthToken = "unauthorized_user_token"

// Config carries the enumerated inputs from the protocol surface: which
// streaming host to dial, the auth token, and the ambient hooks (logger,
// notifier, event buffer sizing).
type Config struct {
	// Server selects the TradingView streaming host; defaults to ProData.
	Server transport.Host

	// AuthToken is the opaque token sent via set_auth_token on connect and
	// after every reconnect. Defaults to DefaultAuthToken.
	AuthToken string

	// EventBuffer sizes the event channel; <=0 uses the event package default.
	EventBuffer int

	// Logger is used by every layer; the zero value logs nothing.
	Logger zerolog.Logger

	// Notify optionally pushes Critical/Fatal errors to Telegram.
	Notify notify.Config
}

func (c Config) withDefaults() Config {
	if c.Server == "" {
		c.Server = transport.DefaultHost
	}
	if c.AuthToken == "" {
		c.AuthToken = DefaultAuthToken
	}
	return c
}

// ConfigFromEnv builds a Config from TVFEED_*/TELEGRAM_* environment
// variables. The root binary loads .env via godotenv before calling this,
// so a local .env file works the same as real environment.
func ConfigFromEnv(log zerolog.Logger) Config {
	cfg := Config{
		Server:    transport.Host(os.Getenv("TVFEED_SERVER")),
		AuthToken: os.Getenv("TVFEED_AUTH_TOKEN"),
		Logger:    log,
	}
	if tok := os.Getenv("TELEGRAM_BOT_TOKEN"); tok != "" {
		chatID, _ := strconv.ParseInt(os.Getenv("TELEGRAM_CHAT_ID"), 10, 64)
		cfg.Notify = notify.Config{Enabled: true, BotToken: tok, ChatID: chatID}
	}
	return cfg.withDefaults()
}
