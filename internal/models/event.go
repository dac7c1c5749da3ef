package models

import "errors"

// EventKind identifies the shape of an inbound chat event.
type EventKind string

const (
	// EventKindText is a free-text message.
	EventKindText EventKind = "text"
	// EventKindSelection is a press on one of the options offered by a previous prompt.
	EventKindSelection EventKind = "selection"
	// EventKindContact is a structured shared-contact payload.
	EventKindContact EventKind = "contact"
	// EventKindCommand is a slash command such as /start or /cancel.
	EventKindCommand EventKind = "command"
)

// Well-known commands.
const (
	CommandStart  = "start"
	CommandCancel = "cancel"
)

// Validation errors for inbound events.
var (
	ErrEmptySessionID = errors.New("event session id cannot be empty")
	ErrEmptyChatID    = errors.New("event chat id cannot be empty")
	ErrInvalidKind    = errors.New("invalid event kind")
	ErrMissingContact = errors.New("contact event carries no contact payload")
)

// Contact is a phone contact shared through the transport's native contact widget.
type Contact struct {
	PhoneNumber string `json:"phone_number"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
}

// MessageRef addresses a message previously sent by the bot so it can be edited.
type MessageRef struct {
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id,omitempty"`
}

// IsZero reports whether the reference points at no message.
func (r MessageRef) IsZero() bool {
	return r.MessageID == ""
}

// Option is one selectable choice attached to a prompt. Options with a URL are links, not
// selections, and never produce a selection event.
type Option struct {
	Label string `json:"label"`
	Data  string `json:"data,omitempty"`
	URL   string `json:"url,omitempty"`
}

// Event is a single inbound update delivered by a chat transport.
type Event struct {
	// SessionID identifies the conversing user; one session exists per SessionID.
	SessionID string `json:"session_id"`
	// ChatID is the address replies are sent to.
	ChatID    string    `json:"chat_id"`
	Kind      EventKind `json:"kind"`
	Text      string    `json:"text,omitempty"`
	Command   string    `json:"command,omitempty"`
	Selection string    `json:"selection,omitempty"`
	Contact   *Contact  `json:"contact,omitempty"`
	Username  string    `json:"username,omitempty"`
	// Ref is the bot message a selection was made on, when the transport knows it.
	Ref MessageRef `json:"ref,omitempty"`
	// CallbackID is the transport's handle for acknowledging a selection.
	CallbackID string `json:"callback_id,omitempty"`
	Time       int64  `json:"time"`
}

// Validate checks that the event carries the fields its kind requires.
func (e Event) Validate() error {
	if e.SessionID == "" {
		return ErrEmptySessionID
	}
	if e.ChatID == "" {
		return ErrEmptyChatID
	}
	switch e.Kind {
	case EventKindText, EventKindSelection, EventKindCommand:
		return nil
	case EventKindContact:
		if e.Contact == nil {
			return ErrMissingContact
		}
		return nil
	default:
		return ErrInvalidKind
	}
}
