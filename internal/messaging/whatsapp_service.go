package messaging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// WhatsAppTransport is the transport name, and the session identity prefix, for WhatsApp.
const WhatsAppTransport = "whatsapp"

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client. WhatsApp text
// chats have no buttons, so options are rendered as a numbered list.
type WhatsAppService struct {
	client  whatsapp.WhatsAppSender
	source  whatsapp.MessageSource // nil when the client cannot receive (e.g. a send-only mock)
	options *optionTracker
	events  chan models.Event

	mu        sync.RWMutex
	receiving bool
	stopped   bool
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given WhatsAppSender.
func NewWhatsAppService(client whatsapp.WhatsAppSender) *WhatsAppService {
	service := &WhatsAppService{
		client:  client,
		options: newOptionTracker(),
		events:  make(chan models.Event, DefaultChannelBufferSize),
	}
	service.receiving = true

	if source, ok := client.(whatsapp.MessageSource); ok {
		service.source = source
		slog.Debug("WhatsAppService created with message source for event handling")
	} else {
		slog.Debug("WhatsAppService created with send-only client")
	}
	return service
}

// Name returns "whatsapp".
func (s *WhatsAppService) Name() string { return WhatsAppTransport }

// Start registers the incoming message handler.
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService Start invoked")
	if s.source == nil {
		slog.Debug("WhatsAppService no message source available, skipping event handling")
		return nil
	}
	s.source.OnMessage(s.handleIncomingMessage)
	slog.Debug("WhatsAppService event handler registered")
	return nil
}

// StopReceiving drops further incoming messages and closes the event channel.
func (s *WhatsAppService) StopReceiving() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopReceivingLocked()
	return nil
}

func (s *WhatsAppService) stopReceivingLocked() {
	if !s.receiving {
		return
	}
	s.receiving = false
	close(s.events)
	slog.Info("WhatsAppService closed events channel")
}

// Stop closes the event channel and rejects further sends.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopReceivingLocked()
	if !s.stopped {
		s.stopped = true
		slog.Info("WhatsAppService stopped")
	}
	return nil
}

// Events returns the channel of inbound events.
func (s *WhatsAppService) Events() <-chan models.Event {
	return s.events
}

func (s *WhatsAppService) checkStopped() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return ErrServiceStopped
	}
	return nil
}

func (s *WhatsAppService) send(ctx context.Context, chatID, body string, options []models.Option) (models.MessageRef, error) {
	if err := s.checkStopped(); err != nil {
		return models.MessageRef{}, err
	}
	id, err := s.client.SendMessage(ctx, chatID, body)
	if err != nil {
		slog.Error("WhatsAppService send error", "error", err, "to", chatID)
		return models.MessageRef{}, err
	}
	s.options.offer(chatID, options)
	return models.MessageRef{ChatID: chatID, MessageID: id}, nil
}

// SendText sends a text message.
func (s *WhatsAppService) SendText(ctx context.Context, chatID, text string) (models.MessageRef, error) {
	return s.send(ctx, chatID, text, nil)
}

// SendImage sends the image link followed by the caption; the client only sends text.
func (s *WhatsAppService) SendImage(ctx context.Context, chatID, imageURL, caption string) (models.MessageRef, error) {
	body := imageURL
	if caption != "" {
		body = caption + "\n" + imageURL
	}
	return s.send(ctx, chatID, body, nil)
}

// SendOptions sends the prompt with numbered options.
func (s *WhatsAppService) SendOptions(ctx context.Context, chatID, text string, options []models.Option) (models.MessageRef, error) {
	return s.send(ctx, chatID, renderOptions(text, options), options)
}

// RequestContact asks for the phone number; the user may type it or share a contact card.
func (s *WhatsAppService) RequestContact(ctx context.Context, chatID, text, buttonLabel string) (models.MessageRef, error) {
	return s.send(ctx, chatID, text, nil)
}

// EditMessage edits the referenced message, falling back to a new message when there is no
// reference.
func (s *WhatsAppService) EditMessage(ctx context.Context, ref models.MessageRef, text string, options []models.Option) error {
	if err := s.checkStopped(); err != nil {
		return err
	}
	body := renderOptions(text, options)
	if ref.IsZero() {
		_, err := s.send(ctx, ref.ChatID, body, options)
		return err
	}
	s.options.offer(ref.ChatID, options)
	return s.client.EditMessage(ctx, ref.ChatID, ref.MessageID, body)
}

// AcknowledgeSelection is a no-op: numbered replies need no acknowledgement.
func (s *WhatsAppService) AcknowledgeSelection(ctx context.Context, evt models.Event) error {
	return nil
}

// handleIncomingMessage converts a private incoming message into an event.
func (s *WhatsAppService) handleIncomingMessage(msg *events.Message) {
	evt, ok := s.messageToEvent(msg)
	if !ok {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.receiving {
		slog.Warn("WhatsAppService dropping inbound event (not receiving)", "session_id", evt.SessionID)
		return
	}
	select {
	case s.events <- evt:
		slog.Debug("WhatsAppService incoming message forwarded", "session_id", evt.SessionID, "kind", evt.Kind)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService events channel blocked, dropping message", "session_id", evt.SessionID, "timeout", DefaultChannelTimeout)
	}
}

func (s *WhatsAppService) messageToEvent(msg *events.Message) (models.Event, bool) {
	if msg == nil || msg.Message == nil || msg.Info.IsFromMe || msg.Info.IsGroup {
		return models.Event{}, false
	}

	user := msg.Info.Sender.User
	evt := models.Event{
		SessionID: SessionID(WhatsAppTransport, user),
		ChatID:    user,
		Username:  msg.Info.PushName,
		Time:      msg.Info.Timestamp.Unix(),
	}

	if card := msg.Message.GetContactMessage(); card != nil {
		phone := whatsapp.ParseVCardPhone(card.GetVcard())
		if phone == "" {
			slog.Debug("WhatsAppService ignoring contact card without phone", "from", user)
			return models.Event{}, false
		}
		evt.Kind = models.EventKindContact
		first, last, _ := strings.Cut(card.GetDisplayName(), " ")
		evt.Contact = &models.Contact{PhoneNumber: phone, FirstName: first, LastName: last}
		return evt, true
	}

	var text string
	switch {
	case msg.Message.Conversation != nil:
		text = msg.Message.GetConversation()
	case msg.Message.ExtendedTextMessage != nil:
		text = msg.Message.GetExtendedTextMessage().GetText()
	}
	if text == "" {
		slog.Debug("WhatsAppService ignoring non-text message", "from", user)
		return models.Event{}, false
	}
	return parseTextEvent(s.options, evt, text), true
}
