package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/twiliowhatsapp"
)

// TwilioTransport is the transport name, and the session identity prefix, for Twilio WhatsApp.
const TwilioTransport = "twilio"

var nonDigitRegex = regexp.MustCompile(`[^0-9]`)

// TwilioService implements the Service interface using the Twilio API. Inbound messages arrive
// through the webhook handler; Twilio cannot edit or attach buttons, so options are numbered.
type TwilioService struct {
	client  twiliowhatsapp.TwilioWhatsAppSender // Could be real Twilio client or MockClient
	options *optionTracker
	events  chan models.Event

	mu        sync.RWMutex
	receiving bool
	stopped   bool
}

// NewTwilioService creates a new TwilioService.
func NewTwilioService(client twiliowhatsapp.TwilioWhatsAppSender) *TwilioService {
	return &TwilioService{
		client:    client,
		options:   newOptionTracker(),
		events:    make(chan models.Event, DefaultChannelBufferSize),
		receiving: true,
	}
}

// ValidateAndCanonicalizeRecipient strips a WhatsApp address down to its digits and requires at
// least 6 of them.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}

	canonical := nonDigitRegex.ReplaceAllString(strings.TrimPrefix(recipient, "whatsapp:"), "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}
	if recipient != canonical {
		slog.Debug("TwilioService canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// Name returns "twilio".
func (s *TwilioService) Name() string { return TwilioTransport }

// Start is a no-op for Twilio; inbound traffic is pushed to the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// StopReceiving closes the event channel; the webhook answers 503 from then on.
func (s *TwilioService) StopReceiving() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopReceivingLocked()
	return nil
}

func (s *TwilioService) stopReceivingLocked() {
	if !s.receiving {
		return
	}
	s.receiving = false
	close(s.events)
}

// Stop closes the event channel and rejects further sends.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopReceivingLocked()
	s.stopped = true
	return nil
}

// Events returns the channel of inbound events.
func (s *TwilioService) Events() <-chan models.Event {
	return s.events
}

func (s *TwilioService) send(ctx context.Context, chatID, body string, options []models.Option) (models.MessageRef, error) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return models.MessageRef{}, ErrServiceStopped
	}

	to, err := s.ValidateAndCanonicalizeRecipient(chatID)
	if err != nil {
		slog.Error("TwilioService send validation error", "error", err, "to", chatID)
		return models.MessageRef{}, err
	}
	sid, err := s.client.SendMessage(ctx, "+"+to, body)
	if err != nil {
		return models.MessageRef{}, err
	}
	s.options.offer(to, options)
	return models.MessageRef{ChatID: to, MessageID: sid}, nil
}

// SendText sends a text message.
func (s *TwilioService) SendText(ctx context.Context, chatID, text string) (models.MessageRef, error) {
	return s.send(ctx, chatID, text, nil)
}

// SendImage sends the caption followed by the image link.
func (s *TwilioService) SendImage(ctx context.Context, chatID, imageURL, caption string) (models.MessageRef, error) {
	body := imageURL
	if caption != "" {
		body = caption + "\n" + imageURL
	}
	return s.send(ctx, chatID, body, nil)
}

// SendOptions sends the prompt with numbered options.
func (s *TwilioService) SendOptions(ctx context.Context, chatID, text string, options []models.Option) (models.MessageRef, error) {
	return s.send(ctx, chatID, renderOptions(text, options), options)
}

// RequestContact sends the prompt; the phone number is typed as text.
func (s *TwilioService) RequestContact(ctx context.Context, chatID, text, buttonLabel string) (models.MessageRef, error) {
	return s.send(ctx, chatID, text, nil)
}

// EditMessage sends a new message; Twilio cannot edit a delivered message.
func (s *TwilioService) EditMessage(ctx context.Context, ref models.MessageRef, text string, options []models.Option) error {
	_, err := s.send(ctx, ref.ChatID, renderOptions(text, options), options)
	return err
}

// AcknowledgeSelection is a no-op for Twilio.
func (s *TwilioService) AcknowledgeSelection(ctx context.Context, evt models.Event) error {
	return nil
}

// HandleInbound converts one inbound Twilio message into an event and emits it.
func (s *TwilioService) HandleInbound(from, body, profileName string) error {
	user, err := s.ValidateAndCanonicalizeRecipient(from)
	if err != nil {
		return err
	}
	evt := models.Event{
		SessionID: SessionID(TwilioTransport, user),
		ChatID:    user,
		Username:  profileName,
		Time:      time.Now().Unix(),
	}
	evt = parseTextEvent(s.options, evt, body)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.receiving {
		slog.Warn("TwilioService dropping inbound message (not receiving)", "from", user)
		return ErrServiceStopped
	}
	select {
	case s.events <- evt:
		slog.Debug("TwilioService emitted inbound event", "session_id", evt.SessionID, "kind", evt.Kind)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService events channel blocked, dropping message", "from", user)
	}
	return nil
}

// TwilioWebhookHandler handles inbound Twilio webhook requests (form fields From, Body and
// optionally ProfileName).
func (s *TwilioService) TwilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Twilio webhook received")

	if err := r.ParseForm(); err != nil {
		slog.Error("Failed to parse Twilio webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	from := r.FormValue("From")
	body := r.FormValue("Body")
	if from == "" || body == "" {
		slog.Warn("Twilio webhook missing fields", "from", from, "body_set", body != "")
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	if err := s.HandleInbound(from, body, r.FormValue("ProfileName")); err != nil {
		if err == ErrServiceStopped {
			http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
			return
		}
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}
