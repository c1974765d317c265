// Package bot implements the Telegram command surface: the preference
// wizard, status queries, and starting and stopping monitor loops.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"visaslot-notifier/monitor"
	"visaslot-notifier/pkg/notifier"
	"visaslot-notifier/storage"
	"visaslot-notifier/telegram"
)

const pollTimeoutSec = 30

// API is the slice of the Telegram client the bot drives.
type API interface {
	SendMessage(ctx context.Context, chatID int64, text string, keyboard *telegram.InlineKeyboardMarkup) error
	GetUpdates(ctx context.Context, offset, timeoutSec int) ([]telegram.Update, error)
	AnswerCallback(ctx context.Context, callbackID string) error
	SetCommands(ctx context.Context, commands []telegram.BotCommand) error
}

// Store persists preference records between sessions.
type Store interface {
	Save(ctx context.Context, prefs *notifier.Preferences) error
	Load(ctx context.Context, chatID int64) (*notifier.Preferences, error)
}

// Runner starts and stops per-subscriber monitor loops.
type Runner interface {
	Start(ctx context.Context, prefs *notifier.Preferences) error
	Stop(chatID int64) error
	IsRunning(chatID int64) bool
}

// Bot dispatches Telegram updates to command and wizard handlers.
type Bot struct {
	api    API
	store  Store
	runner Runner
	logger *slog.Logger
}

func New(api API, store Store, runner Runner, logger *slog.Logger) *Bot {
	return &Bot{
		api:    api,
		store:  store,
		runner: runner,
		logger: logger,
	}
}

// Run long-polls for updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	if err := b.api.SetCommands(ctx, commands()); err != nil {
		b.logger.Warn("Failed to register bot commands", "error", err)
	}

	offset := 0
	for {
		updates, err := b.api.GetUpdates(ctx, offset, pollTimeoutSec)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Error("Failed to fetch updates", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		for _, u := range updates {
			offset = u.UpdateID + 1
			switch {
			case u.CallbackQuery != nil:
				b.handleCallback(ctx, u.CallbackQuery)
			case u.Message != nil:
				b.handleMessage(ctx, u.Message)
			}
		}
	}
}

func commands() []telegram.BotCommand {
	return []telegram.BotCommand{
		{Command: "start", Description: "Start interaction"},
		{Command: "set_visa", Description: "Set visa type"},
		{Command: "set_consulate", Description: "Set consulate location"},
		{Command: "set_interval", Description: "Set check interval"},
		{Command: "start_alerts", Description: "Start monitoring"},
		{Command: "stop", Description: "Stop monitoring"},
		{Command: "status", Description: "Check current settings"},
		{Command: "help", Description: "Show help message"},
	}
}

// prefs loads the subscriber's record, creating a blank one on first contact.
func (b *Bot) prefs(ctx context.Context, chatID int64) *notifier.Preferences {
	p, err := b.store.Load(ctx, chatID)
	if err == nil {
		return p
	}
	if !errors.Is(err, storage.ErrNotFound) {
		b.logger.Error("Failed to load preferences", "chat_id", chatID, "error", err)
	}
	return &notifier.Preferences{ChatID: chatID, CreatedAt: time.Now().UTC()}
}

func (b *Bot) save(ctx context.Context, p *notifier.Preferences) {
	if err := b.store.Save(ctx, p); err != nil {
		b.logger.Error("Failed to save preferences", "chat_id", p.ChatID, "error", err)
	}
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string, keyboard *telegram.InlineKeyboardMarkup) {
	if err := b.api.SendMessage(ctx, chatID, text, keyboard); err != nil {
		b.logger.Error("Failed to send reply", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleMessage(ctx context.Context, m *telegram.Message) {
	chatID := m.Chat.ID
	cmd, _, _ := strings.Cut(m.Text, " ")
	cmd, _, _ = strings.Cut(cmd, "@")

	switch cmd {
	case "/start":
		b.save(ctx, b.prefs(ctx, chatID))
		b.reply(ctx, chatID, welcomeMessage, nil)
	case "/help":
		b.reply(ctx, chatID, helpMessage, nil)
	case "/status":
		b.sendStatus(ctx, chatID)
	case "/set_visa":
		b.reply(ctx, chatID, "📋 Select your Visa Type:", singleColumn(notifier.VisaTypes, "visa_"))
	case "/set_consulate":
		b.reply(ctx, chatID, "🏛️ Select Consulate City:", singleColumn(notifier.Cities, "city_"))
	case "/set_interval":
		b.reply(ctx, chatID, "⏰ Select Check Interval:", singleColumn(notifier.IntervalOptions, "interval_"))
	case "/start_alerts":
		b.startAlerts(ctx, chatID)
	case "/stop":
		b.stopAlerts(ctx, chatID)
	default:
		// ignore other messages
	}
}

func (b *Bot) handleCallback(ctx context.Context, q *telegram.CallbackQuery) {
	if err := b.api.AnswerCallback(ctx, q.ID); err != nil {
		b.logger.Warn("Failed to answer callback", "error", err)
	}
	if q.Message == nil {
		return
	}
	chatID := q.Message.Chat.ID

	switch {
	case strings.HasPrefix(q.Data, "visa_"):
		b.selectVisa(ctx, chatID, strings.TrimPrefix(q.Data, "visa_"))
	case strings.HasPrefix(q.Data, "city_"):
		b.selectCity(ctx, chatID, strings.TrimPrefix(q.Data, "city_"))
	case strings.HasPrefix(q.Data, "type_"):
		b.selectType(ctx, chatID, strings.TrimPrefix(q.Data, "type_"))
	case strings.HasPrefix(q.Data, "year_"):
		b.selectYear(ctx, chatID, strings.TrimPrefix(q.Data, "year_"))
	case strings.HasPrefix(q.Data, "interval_"):
		b.selectInterval(ctx, chatID, strings.TrimPrefix(q.Data, "interval_"))
	case q.Data == "start_alerts":
		b.startAlerts(ctx, chatID)
	}
}

// The wizard walks visa, city, consulate type, year filter, then interval,
// persisting after every step so a half-finished setup survives a restart.

func (b *Bot) selectVisa(ctx context.Context, chatID int64, visa string) {
	p := b.prefs(ctx, chatID)
	p.VisaType = visa
	b.save(ctx, p)
	b.reply(ctx, chatID, "✅ Visa Type: "+visa, nil)
	b.reply(ctx, chatID, "🏛️ Select Consulate City:", singleColumn(notifier.Cities, "city_"))
}

func (b *Bot) selectCity(ctx context.Context, chatID int64, city string) {
	p := b.prefs(ctx, chatID)
	p.ConsulateCity = city
	b.save(ctx, p)
	b.reply(ctx, chatID, "✅ City: "+city, nil)
	b.reply(ctx, chatID, "🏢 Select Consulate Type:", singleColumn(notifier.ConsulateTypes, "type_"))
}

func (b *Bot) selectType(ctx context.Context, chatID int64, ctype string) {
	p := b.prefs(ctx, chatID)
	p.ConsulateType = ctype
	b.save(ctx, p)
	b.reply(ctx, chatID, "✅ Type: "+ctype, nil)
	b.reply(ctx, chatID, "📅 Select Year Filter:", singleColumn(notifier.YearOptions, "year_"))
}

func (b *Bot) selectYear(ctx context.Context, chatID int64, year string) {
	p := b.prefs(ctx, chatID)
	if year == "No Filter" {
		p.YearFilter = nil
	} else {
		p.YearFilter = []string{year}
	}
	b.save(ctx, p)
	b.reply(ctx, chatID, "✅ Year Filter: "+year, nil)
	b.reply(ctx, chatID, "⏰ Select Check Interval:", singleColumn(notifier.IntervalOptions, "interval_"))
}

func (b *Bot) selectInterval(ctx context.Context, chatID int64, label string) {
	interval, ok := notifier.Intervals[label]
	if !ok {
		return
	}
	p := b.prefs(ctx, chatID)
	p.CheckInterval = interval
	b.save(ctx, p)
	b.reply(ctx, chatID, "✅ Interval: "+label, nil)
	b.reply(ctx, chatID, "🎯 *Configuration Complete!*\n\n"+p.Summary(), nil)
	b.reply(ctx, chatID, "Click below to start monitoring:", &telegram.InlineKeyboardMarkup{
		InlineKeyboard: [][]telegram.InlineKeyboardButton{
			{{Text: "🚀 Start Alerts", CallbackData: "start_alerts"}},
		},
	})
}

func (b *Bot) startAlerts(ctx context.Context, chatID int64) {
	p := b.prefs(ctx, chatID)

	// Active must be set before Start: the loop owns a snapshot taken there
	// and persists it on every cycle, so a flag flipped afterwards would be
	// written back as false.
	p.Active = true

	err := b.runner.Start(ctx, p)
	switch {
	case errors.Is(err, monitor.ErrPreferencesIncomplete):
		b.reply(ctx, chatID, incompleteMessage, nil)
		return
	case errors.Is(err, monitor.ErrAlreadyRunning):
		b.reply(ctx, chatID, "⚠️ Alerts are already running!", nil)
		return
	case err != nil:
		b.logger.Error("Failed to start monitor loop", "chat_id", chatID, "error", err)
		b.reply(ctx, chatID, "❌ An error occurred. Please try again or contact support.", nil)
		return
	}

	b.save(ctx, p)
	b.reply(ctx, chatID, fmt.Sprintf("🔔 *Alerts Started!*\n\n%s\n\n⏳ Checking for slots now...", p.Summary()), nil)
}

func (b *Bot) stopAlerts(ctx context.Context, chatID int64) {
	if err := b.runner.Stop(chatID); err != nil {
		b.reply(ctx, chatID, "⚠️ No alerts are currently running.", nil)
		return
	}
	p := b.prefs(ctx, chatID)
	p.Active = false
	b.save(ctx, p)
	b.reply(ctx, chatID, "🛑 Alerts stopped successfully.", nil)
}

func (b *Bot) sendStatus(ctx context.Context, chatID int64) {
	p := b.prefs(ctx, chatID)
	status := "🔴 Stopped"
	if b.runner.IsRunning(chatID) {
		status = "🟢 Running"
	}
	b.reply(ctx, chatID, fmt.Sprintf("📊 *Current Status*\n\nStatus: %s\n\n%s", status, p.Summary()), nil)
}

// singleColumn builds a one-button-per-row keyboard with prefixed callback
// data.
func singleColumn(options []string, prefix string) *telegram.InlineKeyboardMarkup {
	rows := make([][]telegram.InlineKeyboardButton, len(options))
	for i, opt := range options {
		rows[i] = []telegram.InlineKeyboardButton{{Text: opt, CallbackData: prefix + opt}}
	}
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: rows}
}

const welcomeMessage = "🤖 *Welcome to Visa Slot Alert Bot!*\n\n" +
	"I'll help you monitor visa appointment slots.\n\n" +
	"*Commands:*\n" +
	"/set\\_visa - Set visa type\n" +
	"/set\\_consulate - Set consulate location\n" +
	"/set\\_interval - Set check interval\n" +
	"/start\\_alerts - Start monitoring\n" +
	"/stop - Stop monitoring\n" +
	"/status - Check current settings\n" +
	"/help - Show help message"

const helpMessage = "📖 *How to use this bot:*\n\n" +
	"1️⃣ Set your visa type using /set\\_visa\n" +
	"2️⃣ Set your consulate using /set\\_consulate\n" +
	"3️⃣ Set check interval using /set\\_interval\n" +
	"4️⃣ Start monitoring with /start\\_alerts\n\n" +
	"*Tips:*\n" +
	"• Use /status to check your current settings\n" +
	"• Use /stop to stop monitoring\n" +
	"• You can change settings anytime\n\n" +
	"*Need support?* Contact the bot administrator."

const incompleteMessage = "⚠️ *Incomplete Configuration*\n\n" +
	"Please set all required fields:\n" +
	"• Visa Type (/set\\_visa)\n" +
	"• Consulate (/set\\_consulate)\n" +
	"• Interval (/set\\_interval)"
