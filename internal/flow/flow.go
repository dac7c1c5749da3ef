// Package flow runs the lead-capture conversation: it walks each user through the form one field
// at a time, validates every answer, and hands the completed lead to the delivery gateway.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/LeadPipe/internal/form"
	"github.com/BTreeMap/LeadPipe/internal/messaging"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/session"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

// ErrUnexpectedEvent is returned for events the current state does not consume: a button press
// while text is expected, text while a choice is expected, unknown commands or choice tokens,
// and anything but the entry command while no conversation is running. Such events cause no
// transition and no reply.
var ErrUnexpectedEvent = errors.New("unexpected event for current state")

// Deliverer hands a completed lead to its destinations.
type Deliverer interface {
	Deliver(ctx context.Context, lead models.Lead) models.DeliveryOutcome
}

// Opts holds configuration options for LeadCapture.
type Opts struct {
	Source  string      // leadsource tag stamped on every lead
	Archive store.Store // optional archive of completed leads
}

// Option defines a configuration option for LeadCapture.
type Option func(*Opts)

// WithSource sets the source tag stamped on every lead.
func WithSource(source string) Option {
	return func(o *Opts) { o.Source = source }
}

// WithArchive records every completed lead and its delivery outcome in st.
func WithArchive(st store.Store) Option {
	return func(o *Opts) { o.Archive = st }
}

// DefaultSource is the source tag used when none is configured.
const DefaultSource = "telegram"

// LeadCapture is the conversation state machine. HandleEvent is safe for concurrent use; events
// of one session are serialized through the session store's identity lock.
type LeadCapture struct {
	def      *form.Definition
	sessions *session.Store
	sender   messaging.Sender
	gateway  Deliverer
	source   string
	archive  store.Store
}

// NewLeadCapture validates the form definition and builds the state machine.
func NewLeadCapture(def *form.Definition, sessions *session.Store, sender messaging.Sender, gateway Deliverer, opts ...Option) (*LeadCapture, error) {
	if def == nil {
		return nil, fmt.Errorf("form definition is required")
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid form definition: %w", err)
	}
	if sessions == nil || sender == nil || gateway == nil {
		return nil, fmt.Errorf("session store, sender and gateway are required")
	}

	cfg := Opts{Source: DefaultSource}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &LeadCapture{
		def:      def,
		sessions: sessions,
		sender:   sender,
		gateway:  gateway,
		source:   cfg.Source,
		archive:  cfg.Archive,
	}, nil
}

// Handler adapts the state machine for a messaging.Dispatcher, dropping ignored events quietly.
func (lc *LeadCapture) Handler() messaging.EventHandler {
	return messaging.EventHandlerFunc(func(ctx context.Context, evt models.Event) error {
		err := lc.HandleEvent(ctx, evt)
		if errors.Is(err, ErrUnexpectedEvent) {
			return nil
		}
		return err
	})
}

// HandleEvent processes one inbound event for its session.
func (lc *LeadCapture) HandleEvent(ctx context.Context, evt models.Event) error {
	if err := evt.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}

	unlock := lc.sessions.Lock(evt.SessionID)
	defer unlock()

	if evt.Kind == models.EventKindSelection {
		if err := lc.sender.AcknowledgeSelection(ctx, evt); err != nil {
			slog.Warn("LeadCapture.HandleEvent: failed to acknowledge selection", "error", err, "session_id", evt.SessionID)
		}
	}

	if evt.Kind == models.EventKindCommand {
		switch evt.Command {
		case models.CommandStart:
			return lc.begin(ctx, evt)
		case models.CommandCancel:
			return lc.cancel(ctx, evt)
		default:
			slog.Debug("LeadCapture.HandleEvent: ignoring unknown command", "session_id", evt.SessionID, "command", evt.Command)
			return fmt.Errorf("%w: command %q", ErrUnexpectedEvent, evt.Command)
		}
	}

	sess, ok := lc.sessions.Get(evt.SessionID)
	if !ok || sess.State.Phase != session.PhaseCollecting {
		slog.Debug("LeadCapture.HandleEvent: no conversation running, ignoring event", "session_id", evt.SessionID, "kind", evt.Kind)
		return fmt.Errorf("%w: %s while idle", ErrUnexpectedEvent, evt.Kind)
	}
	return lc.answer(ctx, sess, evt)
}

// begin starts a fresh session, discarding whatever the identity had, and sends the intro and the
// first prompt.
func (lc *LeadCapture) begin(ctx context.Context, evt models.Event) error {
	sess := lc.sessions.Reset(evt.SessionID, evt.ChatID, evt.Username)
	slog.Info("LeadCapture: conversation started", "session_id", sess.ID)

	if lc.def.IntroImageURL != "" {
		if _, err := lc.sender.SendImage(ctx, sess.ChatID, lc.def.IntroImageURL, ""); err != nil {
			slog.Warn("LeadCapture.begin: failed to send intro image", "error", err, "session_id", sess.ID)
		}
	}
	// A user who never saw the first prompt must not have their next message taken as its answer.
	if lc.def.Intro != "" {
		if _, err := lc.sender.SendText(ctx, sess.ChatID, lc.def.Intro); err != nil {
			lc.sessions.Delete(sess.ID)
			return fmt.Errorf("failed to send intro to %s: %w", sess.ChatID, err)
		}
	}

	ref, err := lc.prompt(ctx, sess.ChatID, lc.def.Fields[0], lc.def.Fields[0].Prompt)
	if err != nil {
		lc.sessions.Delete(sess.ID)
		return err
	}
	sess.PromptRef = ref
	lc.sessions.Save(sess)
	return nil
}

// cancel destroys a running conversation.
func (lc *LeadCapture) cancel(ctx context.Context, evt models.Event) error {
	sess, ok := lc.sessions.Get(evt.SessionID)
	if !ok || sess.State.Phase != session.PhaseCollecting {
		slog.Debug("LeadCapture.cancel: nothing to cancel", "session_id", evt.SessionID)
		return fmt.Errorf("%w: cancel while idle", ErrUnexpectedEvent)
	}

	lc.sessions.Delete(sess.ID)
	slog.Info("LeadCapture: conversation cancelled", "session_id", sess.ID, "step", sess.State.Step)

	if lc.def.CancelText != "" {
		if _, err := lc.sender.SendText(ctx, sess.ChatID, lc.def.CancelText); err != nil {
			return fmt.Errorf("failed to send cancel text to %s: %w", sess.ChatID, err)
		}
	}
	return nil
}

// answer validates the event against the current field and advances, re-prompts or completes.
func (lc *LeadCapture) answer(ctx context.Context, sess *session.Session, evt models.Event) error {
	field := lc.def.Fields[sess.State.Step]
	in, ok := inputFor(field, evt)
	if !ok {
		slog.Debug("LeadCapture.answer: event kind does not match field", "session_id", sess.ID, "field", field.Name, "kind", evt.Kind)
		return fmt.Errorf("%w: %s for %s field %s", ErrUnexpectedEvent, evt.Kind, field.Kind, field.Name)
	}

	value, err := form.Validate(field, in)
	if err != nil {
		var rejected *form.RejectedError
		switch {
		case errors.As(err, &rejected):
			slog.Debug("LeadCapture.answer: answer rejected", "session_id", sess.ID, "field", field.Name, "reason", rejected.Reason)
			return lc.reprompt(ctx, sess, field, rejected)
		case errors.Is(err, form.ErrUnknownChoice):
			slog.Warn("LeadCapture.answer: unknown choice token", "session_id", sess.ID, "field", field.Name, "selection", evt.Selection)
			return fmt.Errorf("%w: %v", ErrUnexpectedEvent, err)
		default:
			return fmt.Errorf("failed to validate field %s: %w", field.Name, err)
		}
	}

	if sess.Username == "" {
		sess.Username = evt.Username
	}
	if !evt.Ref.IsZero() {
		sess.PromptRef = evt.Ref
	}
	if err := sess.Accept(session.Answer{Value: value.Value, Display: value.Display}, len(lc.def.Fields)); err != nil {
		return err
	}
	slog.Debug("LeadCapture.answer: field accepted", "session_id", sess.ID, "field", field.Name, "state", sess.State)

	if sess.State.Phase == session.PhaseCompleted {
		return lc.complete(ctx, sess)
	}

	next := lc.def.Fields[sess.State.Step]
	ref, err := lc.prompt(ctx, sess.ChatID, next, next.Prompt)
	if err == nil {
		sess.PromptRef = ref
	}
	lc.sessions.Save(sess)
	return err
}

// reprompt repeats the current field's prompt, prefixed with why the answer was rejected.
func (lc *LeadCapture) reprompt(ctx context.Context, sess *session.Session, field form.Field, rejected *form.RejectedError) error {
	ref, err := lc.prompt(ctx, sess.ChatID, field, RejectionText(field, rejected)+"\n\n"+field.Prompt)
	if err != nil {
		return err
	}
	sess.PromptRef = ref
	lc.sessions.Save(sess)
	return nil
}

// complete builds the lead, delivers it once, confirms to the user and destroys the session
// whatever the delivery outcome.
func (lc *LeadCapture) complete(ctx context.Context, sess *session.Session) error {
	defer lc.sessions.Delete(sess.ID)

	lead := models.NewLead(sess.ID, sess.Username, lc.source, lc.leadFields(sess))
	slog.Info("LeadCapture: conversation completed, delivering lead", "session_id", sess.ID, "lead_id", lead.ID)

	outcome := lc.gateway.Deliver(ctx, lead)
	if outcome.NotificationErr != nil {
		slog.Warn("LeadCapture.complete: lead notification failed", "error", outcome.NotificationErr, "lead_id", lead.ID)
	}

	if lc.archive != nil {
		if err := lc.archive.SaveLead(models.NewArchivedLead(lead, outcome)); err != nil {
			slog.Error("LeadCapture.complete: failed to archive lead", "error", err, "lead_id", lead.ID)
		}
	}

	return lc.confirm(ctx, sess, ConfirmationText(lc.def.Confirmation, outcome.CRM))
}

func (lc *LeadCapture) leadFields(sess *session.Session) []models.LeadField {
	fields := make([]models.LeadField, len(lc.def.Fields))
	for i, f := range lc.def.Fields {
		fields[i] = models.LeadField{
			Name:     f.Name,
			Label:    f.Label,
			CRMParam: f.CRMParam,
			Value:    sess.Answers[i].Value,
			Display:  sess.Answers[i].Display,
		}
	}
	return fields
}

// confirm edits the last prompt into the confirmation (with the back link) when possible and
// otherwise sends a new message.
func (lc *LeadCapture) confirm(ctx context.Context, sess *session.Session, text string) error {
	var links []models.Option
	if lc.def.BackLinkURL != "" {
		links = []models.Option{{Label: lc.def.BackLinkLabel, URL: lc.def.BackLinkURL}}
	}

	if !sess.PromptRef.IsZero() {
		err := lc.sender.EditMessage(ctx, sess.PromptRef, text, links)
		if err == nil {
			return nil
		}
		slog.Warn("LeadCapture.confirm: editing prompt failed, sending a new message", "error", err, "session_id", sess.ID)
	}

	var err error
	if len(links) > 0 {
		_, err = lc.sender.SendOptions(ctx, sess.ChatID, text, links)
	} else {
		_, err = lc.sender.SendText(ctx, sess.ChatID, text)
	}
	if err != nil {
		return fmt.Errorf("failed to send confirmation to %s: %w", sess.ChatID, err)
	}
	return nil
}
