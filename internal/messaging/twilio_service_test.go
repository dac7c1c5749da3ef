package messaging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/twiliowhatsapp"
)

func TestTwilioValidateAndCanonicalizeRecipient(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "whatsapp:+972501112222", want: "972501112222"},
		{in: "+1 (555) 000-1111", want: "15550001111"},
		{in: "", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "12345", wantErr: true},
	}
	for _, tt := range tests {
		got, err := svc.ValidateAndCanonicalizeRecipient(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateAndCanonicalizeRecipient(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ValidateAndCanonicalizeRecipient(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTwilioServiceSendsNumberedOptions(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)
	ctx := context.Background()

	ref, err := svc.SendOptions(ctx, "972501112222", "Are you insured?", yesNo)
	if err != nil {
		t.Fatal(err)
	}
	if ref.ChatID != "972501112222" || ref.MessageID == "" {
		t.Errorf("unexpected ref %+v", ref)
	}
	sent := mock.Sent()
	if len(sent) != 1 || sent[0].To != "+972501112222" || !strings.Contains(sent[0].Body, "2. No") {
		t.Fatalf("unexpected sent messages %+v", sent)
	}

	if err := svc.EditMessage(ctx, ref, "Thanks!", nil); err != nil {
		t.Fatal(err)
	}
	if sent := mock.Sent(); len(sent) != 2 || sent[1].Body != "Thanks!" {
		t.Errorf("expected edit to send a new message, got %+v", sent)
	}
}

func TestTwilioWebhookHandler(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	if _, err := svc.SendOptions(context.Background(), "whatsapp:+972501112222", "Insured?", yesNo); err != nil {
		t.Fatal(err)
	}

	form := url.Values{"From": {"whatsapp:+972501112222"}, "Body": {"no"}, "ProfileName": {"Dana"}}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	svc.TwilioWebhookHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	evt := nextEvent(t, svc.Events())
	if evt.SessionID != "twilio:972501112222" || evt.Kind != models.EventKindSelection || evt.Selection != "no" || evt.Username != "Dana" {
		t.Errorf("unexpected event %+v", evt)
	}

	missing := httptest.NewRequest(http.MethodPost, "/webhooks/twilio", strings.NewReader("From=x"))
	missing.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	svc.TwilioWebhookHandler(rec, missing)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing body, got %d", rec.Code)
	}

	svc.StopReceiving()
	if err := svc.HandleInbound("+972501112222", "hi", ""); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped after StopReceiving, got %v", err)
	}
	if _, err := svc.SendText(context.Background(), "972501112222", "Thanks!"); err != nil {
		t.Errorf("send after StopReceiving failed: %v", err)
	}
	svc.Stop()
	if _, err := svc.SendText(context.Background(), "972501112222", "late"); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped after Stop, got %v", err)
	}
}
