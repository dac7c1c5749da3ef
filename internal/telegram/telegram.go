// Package telegram wraps the Telegram Bot API client for LeadPipe.
//
// It provides methods for sending prompts, editing earlier messages and receiving updates.
package telegram

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Constants for Telegram client configuration
const (
	// DefaultPollTimeout is the long-polling timeout in seconds
	DefaultPollTimeout = 60
	// TokenEnvVar is the environment variable the bot token falls back to
	TokenEnvVar = "TELEGRAM_BOT_TOKEN"
)

var (
	// ErrMissingToken is returned when no bot token is configured.
	ErrMissingToken = errors.New("telegram bot token is required")
	// ErrInvalidChat is returned for a chat target that is neither a numeric id nor an @channel.
	ErrInvalidChat = errors.New("invalid telegram chat target")
)

// BotAPI is the subset of *tgbotapi.BotAPI the client uses.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Button is an inline keyboard button: a callback button when URL is empty, a link otherwise.
type Button struct {
	Label string
	Data  string
	URL   string
}

// Opts holds configuration options for the Telegram client.
type Opts struct {
	Token       string // bot token from BotFather
	Debug       bool   // log raw Bot API traffic
	PollTimeout int    // long-polling timeout in seconds
}

// Option defines a configuration option for the Telegram client.
type Option func(*Opts)

// WithToken sets the bot token.
func WithToken(token string) Option {
	return func(o *Opts) {
		o.Token = token
	}
}

// WithDebug enables Bot API debug logging.
func WithDebug(debug bool) Option {
	return func(o *Opts) {
		o.Debug = debug
	}
}

// WithPollTimeout sets the long-polling timeout in seconds.
func WithPollTimeout(seconds int) Option {
	return func(o *Opts) {
		o.PollTimeout = seconds
	}
}

// Client wraps the Bot API for modular use.
type Client struct {
	bot         BotAPI
	pollTimeout int

	// chats whose last prompt carried a contact keyboard that should be removed
	mu              sync.Mutex
	contactKeyboard map[string]bool
}

// NewClient connects to the Bot API, applying any provided options. The token falls back to
// TELEGRAM_BOT_TOKEN.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Token == "" {
		cfg.Token = os.Getenv(TokenEnvVar)
	}
	if cfg.Token == "" {
		return nil, ErrMissingToken
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		slog.Error("Telegram NewClient: failed to authorize bot", "error", err)
		return nil, fmt.Errorf("failed to authorize telegram bot: %w", err)
	}
	bot.Debug = cfg.Debug
	slog.Info("Telegram client authorized", "bot", bot.Self.UserName)

	return NewClientWithAPI(bot, cfg.PollTimeout), nil
}

// NewClientWithAPI wraps an existing Bot API implementation.
func NewClientWithAPI(bot BotAPI, pollTimeout int) *Client {
	if pollTimeout <= 0 {
		pollTimeout = DefaultPollTimeout
	}
	return &Client{
		bot:             bot,
		pollTimeout:     pollTimeout,
		contactKeyboard: make(map[string]bool),
	}
}

// chatTarget is a parsed chat address: a numeric chat id or an @channel username.
type chatTarget struct {
	id      int64
	channel string
}

// parseChat parses a chat address. "@name" addresses a public channel; anything else must be a
// numeric chat id.
func parseChat(chat string) (chatTarget, error) {
	chat = strings.TrimSpace(chat)
	if strings.HasPrefix(chat, "@") && len(chat) > 1 {
		return chatTarget{channel: chat}, nil
	}
	id, err := strconv.ParseInt(chat, 10, 64)
	if err != nil {
		return chatTarget{}, fmt.Errorf("%w: %q", ErrInvalidChat, chat)
	}
	return chatTarget{id: id}, nil
}

func (t chatTarget) message(text string) tgbotapi.MessageConfig {
	if t.channel != "" {
		return tgbotapi.NewMessageToChannel(t.channel, text)
	}
	return tgbotapi.NewMessage(t.id, text)
}

func (t chatTarget) photo(url string) tgbotapi.PhotoConfig {
	if t.channel != "" {
		return tgbotapi.NewPhotoToChannel(t.channel, tgbotapi.FileURL(url))
	}
	return tgbotapi.NewPhoto(t.id, tgbotapi.FileURL(url))
}

func inlineKeyboard(buttons []Button) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, b := range buttons {
		if b.URL != "" {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL(b.Label, b.URL)))
			continue
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Data)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func (c *Client) send(msg tgbotapi.Chattable, chat string) (int, error) {
	sent, err := c.bot.Send(msg)
	if err != nil {
		slog.Error("Telegram send failed", "error", err, "chat", chat)
		return 0, fmt.Errorf("failed to send telegram message to %s: %w", chat, err)
	}
	return sent.MessageID, nil
}

func (c *Client) contactKeyboardShown(chat string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.contactKeyboard[chat]
}

func (c *Client) contactKeyboardRemoved(chat string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.contactKeyboard, chat)
}

// sendRemovingContactKeyboard sends msg, attaching the removal of a pending contact keyboard. The
// flag is cleared only once the removal has been delivered.
func (c *Client) sendRemovingContactKeyboard(msg tgbotapi.MessageConfig, chat string) (int, error) {
	remove := c.contactKeyboardShown(chat)
	if remove {
		msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(false)
	}
	id, err := c.send(msg, chat)
	if err == nil && remove {
		c.contactKeyboardRemoved(chat)
	}
	return id, err
}

// SendText sends a plain text message and returns its message id.
func (c *Client) SendText(chat, text string) (int, error) {
	target, err := parseChat(chat)
	if err != nil {
		return 0, err
	}
	slog.Debug("Telegram SendText", "chat", chat, "text_length", len(text))
	return c.sendRemovingContactKeyboard(target.message(text), chat)
}

// SendPhoto sends an image by URL with a caption.
func (c *Client) SendPhoto(chat, url, caption string) (int, error) {
	target, err := parseChat(chat)
	if err != nil {
		return 0, err
	}
	photo := target.photo(url)
	photo.Caption = caption
	remove := c.contactKeyboardShown(chat)
	if remove {
		photo.ReplyMarkup = tgbotapi.NewRemoveKeyboard(false)
	}
	slog.Debug("Telegram SendPhoto", "chat", chat, "url", url)
	id, err := c.send(photo, chat)
	if err == nil && remove {
		c.contactKeyboardRemoved(chat)
	}
	return id, err
}

// SendButtons sends text with an inline keyboard, one button per row. A message carries a single
// markup, so while a contact keyboard is up the text goes out with its removal and the buttons are
// attached by an edit.
func (c *Client) SendButtons(chat, text string, buttons []Button) (int, error) {
	target, err := parseChat(chat)
	if err != nil {
		return 0, err
	}
	slog.Debug("Telegram SendButtons", "chat", chat, "buttons", len(buttons))

	msg := target.message(text)
	if !c.contactKeyboardShown(chat) || target.channel != "" {
		if len(buttons) > 0 {
			msg.ReplyMarkup = inlineKeyboard(buttons)
		}
		return c.send(msg, chat)
	}

	id, err := c.sendRemovingContactKeyboard(msg, chat)
	if err != nil || len(buttons) == 0 {
		return id, err
	}
	attach := tgbotapi.NewEditMessageReplyMarkup(target.id, id, inlineKeyboard(buttons))
	if _, err := c.bot.Request(attach); err != nil {
		slog.Error("Telegram SendButtons: failed to attach buttons", "error", err, "chat", chat, "message_id", id)
		return 0, fmt.Errorf("failed to attach buttons to telegram message %d in %s: %w", id, chat, err)
	}
	return id, nil
}

// RequestContact sends text with a one-time reply keyboard whose single button shares the user's
// phone contact.
func (c *Client) RequestContact(chat, text, buttonLabel string) (int, error) {
	target, err := parseChat(chat)
	if err != nil {
		return 0, err
	}
	msg := target.message(text)
	keyboard := tgbotapi.NewOneTimeReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButtonContact(buttonLabel)),
	)
	keyboard.ResizeKeyboard = true
	msg.ReplyMarkup = keyboard

	id, err := c.send(msg, chat)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.contactKeyboard[chat] = true
	c.mu.Unlock()
	return id, nil
}

// EditText replaces the text and inline keyboard of a message the bot sent to a numeric chat.
func (c *Client) EditText(chat string, messageID int, text string, buttons []Button) error {
	target, err := parseChat(chat)
	if err != nil {
		return err
	}
	if target.channel != "" {
		return fmt.Errorf("%w: editing requires a numeric chat id, got %q", ErrInvalidChat, chat)
	}

	var edit tgbotapi.EditMessageTextConfig
	if len(buttons) > 0 {
		edit = tgbotapi.NewEditMessageTextAndMarkup(target.id, messageID, text, inlineKeyboard(buttons))
	} else {
		edit = tgbotapi.NewEditMessageText(target.id, messageID, text)
	}
	slog.Debug("Telegram EditText", "chat", chat, "message_id", messageID)
	if _, err := c.bot.Request(edit); err != nil {
		slog.Error("Telegram EditText failed", "error", err, "chat", chat, "message_id", messageID)
		return fmt.Errorf("failed to edit telegram message %d in %s: %w", messageID, chat, err)
	}
	return nil
}

// AnswerCallback acknowledges an inline button press so the client stops its spinner.
func (c *Client) AnswerCallback(callbackID string) error {
	if callbackID == "" {
		return nil
	}
	if _, err := c.bot.Request(tgbotapi.NewCallback(callbackID, "")); err != nil {
		return fmt.Errorf("failed to answer telegram callback: %w", err)
	}
	return nil
}

// Updates starts long polling and returns the update channel.
func (c *Client) Updates() tgbotapi.UpdatesChannel {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = c.pollTimeout
	cfg.AllowedUpdates = []string{"message", "callback_query"}
	return c.bot.GetUpdatesChan(cfg)
}

// StopUpdates stops long polling and closes the update channel.
func (c *Client) StopUpdates() {
	c.bot.StopReceivingUpdates()
}
