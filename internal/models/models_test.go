package models

import (
	"errors"
	"strings"
	"testing"
)

func TestEventValidate(t *testing.T) {
	tests := []struct {
		name    string
		event   Event
		wantErr error
	}{
		{"text", Event{SessionID: "tg:1", ChatID: "1", Kind: EventKindText, Text: "hi"}, nil},
		{"command", Event{SessionID: "tg:1", ChatID: "1", Kind: EventKindCommand, Command: CommandStart}, nil},
		{"contact", Event{SessionID: "tg:1", ChatID: "1", Kind: EventKindContact, Contact: &Contact{PhoneNumber: "123"}}, nil},
		{"contact without payload", Event{SessionID: "tg:1", ChatID: "1", Kind: EventKindContact}, ErrMissingContact},
		{"missing session", Event{ChatID: "1", Kind: EventKindText}, ErrEmptySessionID},
		{"missing chat", Event{SessionID: "tg:1", Kind: EventKindText}, ErrEmptyChatID},
		{"bad kind", Event{SessionID: "tg:1", ChatID: "1", Kind: "sticker"}, ErrInvalidKind},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewLeadCopiesFields(t *testing.T) {
	fields := []LeadField{{Name: "first_name", Value: "Dana"}}
	lead := NewLead("tg:1", "dana", "telegram", fields)
	fields[0].Value = "changed"

	if got, _ := lead.Value("first_name"); got != "Dana" {
		t.Errorf("lead value changed through caller slice: %q", got)
	}
	if lead.ID == "" {
		t.Error("expected lead ID to be generated")
	}
	if _, ok := lead.Value("missing"); ok {
		t.Error("expected missing field lookup to fail")
	}
}

func TestCRMOutcomeString(t *testing.T) {
	tests := []struct {
		outcome CRMOutcome
		want    string
	}{
		{CRMOutcome{Status: CRMStatusDelivered}, "delivered"},
		{CRMOutcome{Status: CRMStatusConfigError}, "configuration error"},
		{CRMOutcome{Status: CRMStatusTransportError, Err: errors.New("dial tcp: refused")}, "dial tcp: refused"},
		{CRMOutcome{Status: CRMStatusRemoteRejected, HTTPStatus: 500, Excerpt: "boom"}, "HTTP 500: boom"},
	}

	for _, tt := range tests {
		if got := tt.outcome.String(); !strings.Contains(got, tt.want) {
			t.Errorf("String() = %q, want it to contain %q", got, tt.want)
		}
	}
}

func TestNewArchivedLead(t *testing.T) {
	lead := NewLead("tg:1", "", "telegram", nil)
	archived := NewArchivedLead(lead, DeliveryOutcome{
		CRM:             CRMOutcome{Status: CRMStatusDelivered},
		NotificationErr: errors.New("chat not found"),
	})

	if archived.CRMStatus != CRMStatusDelivered {
		t.Errorf("expected delivered status, got %s", archived.CRMStatus)
	}
	if archived.NotifyError != "chat not found" {
		t.Errorf("unexpected notify error %q", archived.NotifyError)
	}
}
