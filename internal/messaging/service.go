// Package messaging adapts chat transports (Telegram, WhatsApp, Twilio) to one event-driven
// interface and dispatches their inbound events to the conversation handler.
package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// Constants for transport service configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for inbound event channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines how long an inbound event may wait for channel space before it is dropped
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned by send operations after Stop, and by inbound handling after
// StopReceiving.
var ErrServiceStopped = errors.New("messaging service stopped")

// Sender renders bot output on a chat transport. Message content is opaque to the transport.
type Sender interface {
	// SendText sends a plain text message.
	SendText(ctx context.Context, chatID, text string) (models.MessageRef, error)

	// SendImage sends an image by URL with an optional caption.
	SendImage(ctx context.Context, chatID, imageURL, caption string) (models.MessageRef, error)

	// SendOptions sends a prompt with selectable options.
	SendOptions(ctx context.Context, chatID, text string, options []models.Option) (models.MessageRef, error)

	// RequestContact sends a prompt inviting the user to share their contact.
	RequestContact(ctx context.Context, chatID, text, buttonLabel string) (models.MessageRef, error)

	// EditMessage replaces the text (and options) of a message sent earlier.
	// Transports that cannot edit send a new message instead.
	EditMessage(ctx context.Context, ref models.MessageRef, text string, options []models.Option) error

	// AcknowledgeSelection tells the transport a selection event was consumed.
	AcknowledgeSelection(ctx context.Context, evt models.Event) error
}

// Service defines a pluggable chat transport.
type Service interface {
	Sender

	// Name identifies the transport; it prefixes session identities.
	Name() string

	// Start begins any background processing (e.g., polling for updates).
	Start(ctx context.Context) error

	// StopReceiving stops inbound processing and closes the event channel. Sends keep working
	// until Stop so in-flight conversations can still reply.
	StopReceiving() error

	// Stop stops receiving, if not already done, and rejects every later send.
	Stop() error

	// Events returns the channel of inbound chat events.
	Events() <-chan models.Event
}

// SessionID derives the session identity for a user on a transport.
func SessionID(transport, userID string) string {
	return transport + ":" + userID
}
