package messaging

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// optionTracker renders options as a numbered list on transports without buttons and remembers,
// per chat, which options are awaiting a reply.
type optionTracker struct {
	mu      sync.Mutex
	pending map[string][]models.Option
}

func newOptionTracker() *optionTracker {
	return &optionTracker{pending: make(map[string][]models.Option)}
}

// renderOptions formats text followed by the selectable options, numbered from 1, and any link options.
func renderOptions(text string, options []models.Option) string {
	var b strings.Builder
	b.WriteString(text)

	n := 0
	for _, opt := range options {
		if opt.URL != "" {
			continue
		}
		n++
		if n == 1 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "\n%d. %s", n, opt.Label)
	}
	for _, opt := range options {
		if opt.URL == "" {
			continue
		}
		fmt.Fprintf(&b, "\n\n%s: %s", opt.Label, opt.URL)
	}
	if n > 0 {
		b.WriteString("\n\nReply with the number of your choice.")
	}
	return b.String()
}

// offer records the selectable options just sent to chatID. Offering none clears the chat.
func (t *optionTracker) offer(chatID string, options []models.Option) {
	var selectable []models.Option
	for _, opt := range options {
		if opt.URL == "" && opt.Data != "" {
			selectable = append(selectable, opt)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if len(selectable) == 0 {
		delete(t.pending, chatID)
		return
	}
	t.pending[chatID] = selectable
}

// resolve maps a text reply to the data of a pending option, matching its number or its label
// (case-insensitive). A match consumes the pending options.
func (t *optionTracker) resolve(chatID, reply string) (string, bool) {
	reply = strings.TrimSpace(reply)

	t.mu.Lock()
	defer t.mu.Unlock()
	options, ok := t.pending[chatID]
	if !ok || reply == "" {
		return "", false
	}

	if n, err := strconv.Atoi(strings.TrimSuffix(reply, ".")); err == nil {
		if n >= 1 && n <= len(options) {
			delete(t.pending, chatID)
			return options[n-1].Data, true
		}
		return "", false
	}
	for _, opt := range options {
		if strings.EqualFold(opt.Label, reply) || strings.EqualFold(opt.Data, reply) {
			delete(t.pending, chatID)
			return opt.Data, true
		}
	}
	return "", false
}

// parseTextEvent converts a text message from a text-only transport into an event: a leading
// "/" marks a command, a reply to pending options becomes a selection, anything else is text.
func parseTextEvent(tracker *optionTracker, evt models.Event, body string) models.Event {
	trimmed := strings.TrimSpace(body)
	if strings.HasPrefix(trimmed, "/") {
		cmd := strings.TrimPrefix(trimmed, "/")
		if i := strings.IndexAny(cmd, " \t\n"); i >= 0 {
			cmd = cmd[:i]
		}
		evt.Kind = models.EventKindCommand
		evt.Command = strings.ToLower(cmd)
		return evt
	}
	if data, ok := tracker.resolve(evt.ChatID, trimmed); ok {
		evt.Kind = models.EventKindSelection
		evt.Selection = data
		return evt
	}
	evt.Kind = models.EventKindText
	evt.Text = body
	return evt
}
