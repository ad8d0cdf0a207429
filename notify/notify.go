// Package notify pushes Fatal/Critical tvfeed errors to Telegram.
package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"tvfeed/models"
)

// Config is what a side-channel error notifier needs.
type Config struct {
	Enabled  bool
	BotToken string
	ChatID   int64
	// MinSeverity gates which errors get pushed; defaults to Critical if unset.
	MinSeverity models.Severity
}

// Notifier sends a Telegram message for every error at or above
// cfg.MinSeverity. A nil or disabled Notifier is a safe no-op.
type Notifier struct {
	cfg Config
	bot *tgbotapi.BotAPI
	log zerolog.Logger
}

// New constructs a Notifier. If cfg.Enabled is false, or the bot can't be
// constructed, New returns a Notifier whose Notify calls are no-ops (the
// error is logged, not returned — a broken notify path must never block
// the recovery state machine it's observing).
func New(cfg Config, log zerolog.Logger) *Notifier {
	if cfg.MinSeverity == 0 {
		cfg.MinSeverity = models.SeverityCritical
	}
	n := &Notifier{cfg: cfg, log: log}
	if !cfg.Enabled {
		return n
	}
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Warn().Err(err).Msg("notify: failed to construct telegram bot, notifications disabled")
		return n
	}
	n.bot = bot
	return n
}

// Notify pushes a message for err if sev is at or above the configured
// threshold. Send failures are logged and swallowed.
func (n *Notifier) Notify(sev models.Severity, err error) {
	if n == nil || n.bot == nil || sev < n.cfg.MinSeverity {
		return
	}
	text := fmt.Sprintf("tvfeed [%s]: %v", sev, err)
	msg := tgbotapi.NewMessage(n.cfg.ChatID, text)
	if _, sendErr := n.bot.Send(msg); sendErr != nil {
		n.log.Warn().Err(sendErr).Msg("notify: telegram send failed")
	}
}
