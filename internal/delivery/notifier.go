package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/messaging"
	"github.com/BTreeMap/LeadPipe/internal/models"
)

// DefaultNotifyDestination is the channel new leads are announced in.
const DefaultNotifyDestination = "@rakbriut"

// ErrNoDestination means the notifier has nowhere to post.
var ErrNoDestination = errors.New("notification destination not configured")

// Notifier announces a completed lead to humans.
type Notifier interface {
	Notify(ctx context.Context, lead models.Lead, crm models.CRMOutcome) error
}

// ChannelNotifier posts lead announcements to a chat destination through a transport.
type ChannelNotifier struct {
	sender      messaging.Sender
	destination string
}

// NewChannelNotifier creates a notifier posting to destination through sender.
func NewChannelNotifier(sender messaging.Sender, destination string) *ChannelNotifier {
	return &ChannelNotifier{sender: sender, destination: destination}
}

// Notify posts the lead and the CRM outcome.
func (n *ChannelNotifier) Notify(ctx context.Context, lead models.Lead, crm models.CRMOutcome) error {
	if n.destination == "" {
		return ErrNoDestination
	}
	if _, err := n.sender.SendText(ctx, n.destination, FormatLeadNotification(lead, crm)); err != nil {
		return fmt.Errorf("failed to post lead %s to %s: %w", lead.ID, n.destination, err)
	}
	slog.Debug("ChannelNotifier.Notify: lead announced", "lead_id", lead.ID, "destination", n.destination)
	return nil
}

// FormatLeadNotification renders every collected field, the sender and the CRM outcome.
func FormatLeadNotification(lead models.Lead, crm models.CRMOutcome) string {
	var b strings.Builder
	b.WriteString("📥 New lead\n")
	for _, f := range lead.Fields {
		display := f.Display
		if display == "" {
			display = f.Value
		}
		fmt.Fprintf(&b, "%s: %s\n", f.Label, display)
	}
	if lead.Username != "" {
		fmt.Fprintf(&b, "User: %s\n", lead.Username)
	}
	fmt.Fprintf(&b, "Source: %s\n", lead.Source)
	b.WriteString(crm.String())
	return b.String()
}
