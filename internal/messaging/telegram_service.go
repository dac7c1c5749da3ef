package messaging

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/telegram"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramTransport is the transport name, and the session identity prefix, for Telegram.
const TelegramTransport = "telegram"

// TelegramClient is the Telegram client surface the service uses (real client or test fake).
type TelegramClient interface {
	SendText(chat, text string) (int, error)
	SendPhoto(chat, url, caption string) (int, error)
	SendButtons(chat, text string, buttons []telegram.Button) (int, error)
	RequestContact(chat, text, buttonLabel string) (int, error)
	EditText(chat string, messageID int, text string, buttons []telegram.Button) error
	AnswerCallback(callbackID string) error
	Updates() tgbotapi.UpdatesChannel
	StopUpdates()
}

// TelegramService implements Service over the Telegram Bot API with long polling.
type TelegramService struct {
	client TelegramClient
	events chan models.Event
	done   chan struct{}

	mu        sync.RWMutex
	receiving bool
	stopped   bool
}

// NewTelegramService creates a TelegramService wrapping the given client.
func NewTelegramService(client TelegramClient) *TelegramService {
	return &TelegramService{
		client: client,
		events:    make(chan models.Event, DefaultChannelBufferSize),
		done:      make(chan struct{}),
		receiving: true,
	}
}

// Name returns "telegram".
func (s *TelegramService) Name() string { return TelegramTransport }

// Start begins long polling in the background.
func (s *TelegramService) Start(ctx context.Context) error {
	slog.Debug("TelegramService Start invoked")
	updates := s.client.Updates()

	go func() {
		defer slog.Debug("TelegramService update loop stopped")
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				evt, ok := telegramUpdateToEvent(update)
				if !ok {
					slog.Debug("TelegramService ignoring update", "update_id", update.UpdateID)
					continue
				}
				s.emit(evt)
			case <-s.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// StopReceiving stops polling and closes the event channel.
func (s *TelegramService) StopReceiving() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopReceivingLocked()
	return nil
}

func (s *TelegramService) stopReceivingLocked() {
	if !s.receiving {
		return
	}
	s.receiving = false
	close(s.done)
	s.client.StopUpdates()
	close(s.events)
	slog.Info("TelegramService stopped polling and closed events channel")
}

// Stop stops polling and rejects further sends.
func (s *TelegramService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopReceivingLocked()
	if !s.stopped {
		s.stopped = true
		slog.Info("TelegramService stopped")
	}
	return nil
}

// Events returns the channel of inbound events.
func (s *TelegramService) Events() <-chan models.Event {
	return s.events
}

func (s *TelegramService) emit(evt models.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.receiving {
		slog.Warn("TelegramService dropping inbound event (not receiving)", "session_id", evt.SessionID)
		return
	}
	select {
	case s.events <- evt:
		slog.Debug("TelegramService emitted inbound event", "session_id", evt.SessionID, "kind", evt.Kind)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TelegramService events channel blocked, dropping event", "session_id", evt.SessionID, "timeout", DefaultChannelTimeout)
	}
}

func (s *TelegramService) checkStopped() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return ErrServiceStopped
	}
	return nil
}

func messageRef(chatID string, id int) models.MessageRef {
	return models.MessageRef{ChatID: chatID, MessageID: strconv.Itoa(id)}
}

func telegramButtons(options []models.Option) []telegram.Button {
	buttons := make([]telegram.Button, 0, len(options))
	for _, opt := range options {
		buttons = append(buttons, telegram.Button{Label: opt.Label, Data: opt.Data, URL: opt.URL})
	}
	return buttons
}

// SendText sends a plain text message.
func (s *TelegramService) SendText(ctx context.Context, chatID, text string) (models.MessageRef, error) {
	if err := s.checkStopped(); err != nil {
		return models.MessageRef{}, err
	}
	id, err := s.client.SendText(chatID, text)
	if err != nil {
		return models.MessageRef{}, err
	}
	return messageRef(chatID, id), nil
}

// SendImage sends a photo by URL.
func (s *TelegramService) SendImage(ctx context.Context, chatID, imageURL, caption string) (models.MessageRef, error) {
	if err := s.checkStopped(); err != nil {
		return models.MessageRef{}, err
	}
	id, err := s.client.SendPhoto(chatID, imageURL, caption)
	if err != nil {
		return models.MessageRef{}, err
	}
	return messageRef(chatID, id), nil
}

// SendOptions sends a prompt with an inline keyboard.
func (s *TelegramService) SendOptions(ctx context.Context, chatID, text string, options []models.Option) (models.MessageRef, error) {
	if err := s.checkStopped(); err != nil {
		return models.MessageRef{}, err
	}
	id, err := s.client.SendButtons(chatID, text, telegramButtons(options))
	if err != nil {
		return models.MessageRef{}, err
	}
	return messageRef(chatID, id), nil
}

// RequestContact sends a prompt with a share-contact keyboard button.
func (s *TelegramService) RequestContact(ctx context.Context, chatID, text, buttonLabel string) (models.MessageRef, error) {
	if err := s.checkStopped(); err != nil {
		return models.MessageRef{}, err
	}
	id, err := s.client.RequestContact(chatID, text, buttonLabel)
	if err != nil {
		return models.MessageRef{}, err
	}
	return messageRef(chatID, id), nil
}

// EditMessage edits the referenced message in place, or sends a new one when the reference is
// unusable.
func (s *TelegramService) EditMessage(ctx context.Context, ref models.MessageRef, text string, options []models.Option) error {
	if err := s.checkStopped(); err != nil {
		return err
	}
	id, err := strconv.Atoi(ref.MessageID)
	if err != nil || id == 0 {
		slog.Debug("TelegramService.EditMessage: no editable message, sending instead", "chat_id", ref.ChatID)
		_, err := s.client.SendButtons(ref.ChatID, text, telegramButtons(options))
		return err
	}
	return s.client.EditText(ref.ChatID, id, text, telegramButtons(options))
}

// AcknowledgeSelection answers the callback query behind a button press.
func (s *TelegramService) AcknowledgeSelection(ctx context.Context, evt models.Event) error {
	return s.client.AnswerCallback(evt.CallbackID)
}

// telegramUpdateToEvent converts a Bot API update. Updates without a sender or without
// supported content are skipped.
func telegramUpdateToEvent(update tgbotapi.Update) (models.Event, bool) {
	if cb := update.CallbackQuery; cb != nil {
		if cb.From == nil {
			return models.Event{}, false
		}
		userID := strconv.FormatInt(cb.From.ID, 10)
		evt := models.Event{
			SessionID:  SessionID(TelegramTransport, userID),
			ChatID:     userID,
			Kind:       models.EventKindSelection,
			Selection:  cb.Data,
			Username:   cb.From.UserName,
			CallbackID: cb.ID,
			Time:       time.Now().Unix(),
		}
		if cb.Message != nil && cb.Message.Chat != nil {
			evt.ChatID = strconv.FormatInt(cb.Message.Chat.ID, 10)
			evt.Ref = messageRef(evt.ChatID, cb.Message.MessageID)
		}
		return evt, true
	}

	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return models.Event{}, false
	}
	evt := models.Event{
		SessionID: SessionID(TelegramTransport, strconv.FormatInt(msg.From.ID, 10)),
		ChatID:    strconv.FormatInt(msg.Chat.ID, 10),
		Username:  msg.From.UserName,
		Time:      int64(msg.Date),
	}

	switch {
	case msg.IsCommand():
		evt.Kind = models.EventKindCommand
		evt.Command = strings.ToLower(msg.Command())
	case msg.Contact != nil:
		evt.Kind = models.EventKindContact
		evt.Contact = &models.Contact{
			PhoneNumber: msg.Contact.PhoneNumber,
			FirstName:   msg.Contact.FirstName,
			LastName:    msg.Contact.LastName,
		}
	case msg.Text != "":
		evt.Kind = models.EventKindText
		evt.Text = msg.Text
	default:
		return models.Event{}, false
	}
	return evt, true
}
