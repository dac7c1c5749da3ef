// Package testutil provides common test utilities and helpers for LeadPipe tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/BTreeMap/LeadPipe/internal/messaging"
	"github.com/BTreeMap/LeadPipe/internal/models"
)

// Kinds of output recorded by FakeSender.
const (
	SentText    = "text"
	SentImage   = "image"
	SentOptions = "options"
	SentContact = "contact"
	SentEdit    = "edit"
)

// SentMessage is one output recorded by FakeSender.
type SentMessage struct {
	Kind    string
	ChatID  string
	Text    string
	Options []models.Option
	// Ref is the reference returned for sends, or the edited message for edits.
	Ref models.MessageRef
}

// FakeSender is an in-memory messaging.Sender that records everything it is asked to send.
type FakeSender struct {
	mu       sync.Mutex
	messages []SentMessage
	acks     []string
	nextID   int

	// Err, when set, is returned by every send.
	Err error
}

var _ messaging.Sender = (*FakeSender)(nil)

// NewFakeSender creates an empty FakeSender.
func NewFakeSender() *FakeSender {
	return &FakeSender{}
}

func (f *FakeSender) record(msg SentMessage) (models.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return models.MessageRef{}, f.Err
	}
	f.nextID++
	msg.Ref = models.MessageRef{ChatID: msg.ChatID, MessageID: fmt.Sprint(f.nextID)}
	f.messages = append(f.messages, msg)
	return msg.Ref, nil
}

func (f *FakeSender) SendText(ctx context.Context, chatID, text string) (models.MessageRef, error) {
	return f.record(SentMessage{Kind: SentText, ChatID: chatID, Text: text})
}

func (f *FakeSender) SendImage(ctx context.Context, chatID, imageURL, caption string) (models.MessageRef, error) {
	return f.record(SentMessage{Kind: SentImage, ChatID: chatID, Text: imageURL})
}

func (f *FakeSender) SendOptions(ctx context.Context, chatID, text string, options []models.Option) (models.MessageRef, error) {
	return f.record(SentMessage{Kind: SentOptions, ChatID: chatID, Text: text, Options: options})
}

func (f *FakeSender) RequestContact(ctx context.Context, chatID, text, buttonLabel string) (models.MessageRef, error) {
	return f.record(SentMessage{Kind: SentContact, ChatID: chatID, Text: text})
}

func (f *FakeSender) EditMessage(ctx context.Context, ref models.MessageRef, text string, options []models.Option) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.messages = append(f.messages, SentMessage{Kind: SentEdit, ChatID: ref.ChatID, Text: text, Options: options, Ref: ref})
	return nil
}

func (f *FakeSender) AcknowledgeSelection(ctx context.Context, evt models.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, evt.CallbackID)
	return nil
}

// SetErr makes every later send fail with err; nil restores normal recording.
func (f *FakeSender) SetErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Err = err
}

// Messages returns a copy of every recorded output, in order.
func (f *FakeSender) Messages() []SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SentMessage(nil), f.messages...)
}

// MessagesTo returns the recorded outputs addressed to chatID.
func (f *FakeSender) MessagesTo(chatID string) []SentMessage {
	var out []SentMessage
	for _, m := range f.Messages() {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

// Last returns the most recent output, failing the test if there is none.
func (f *FakeSender) Last(t *testing.T) SentMessage {
	t.Helper()
	msgs := f.Messages()
	if len(msgs) == 0 {
		t.Fatal("expected at least one sent message")
	}
	return msgs[len(msgs)-1]
}

// Acks returns the callback ids acknowledged so far.
func (f *FakeSender) Acks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.acks...)
}

// Reset forgets recorded output.
func (f *FakeSender) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = nil
	f.acks = nil
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	reqBody := bytes.NewBuffer(nil)
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}
