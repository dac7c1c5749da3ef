package flow

import (
	"context"
	"errors"
	"fmt"

	"github.com/BTreeMap/LeadPipe/internal/form"
	"github.com/BTreeMap/LeadPipe/internal/models"
)

// prompt sends text rendered the way field's kind is answered: choices as options, phone with a
// share-contact button when configured, plain text otherwise.
func (lc *LeadCapture) prompt(ctx context.Context, chatID string, field form.Field, text string) (models.MessageRef, error) {
	var (
		ref models.MessageRef
		err error
	)
	switch {
	case field.Kind == form.KindBinaryChoice:
		ref, err = lc.sender.SendOptions(ctx, chatID, text, ChoiceOptions(field))
	case field.Kind == form.KindPhone && field.ContactButton != "":
		ref, err = lc.sender.RequestContact(ctx, chatID, text, field.ContactButton)
	default:
		ref, err = lc.sender.SendText(ctx, chatID, text)
	}
	if err != nil {
		return models.MessageRef{}, fmt.Errorf("failed to prompt %s for %s: %w", chatID, field.Name, err)
	}
	return ref, nil
}

// ChoiceOptions turns a field's choices into selectable options.
func ChoiceOptions(field form.Field) []models.Option {
	opts := make([]models.Option, len(field.Choices))
	for i, c := range field.Choices {
		opts[i] = models.Option{Label: c.Label, Data: c.Token}
	}
	return opts
}

// inputFor maps an event onto the input the field's kind consumes. It reports false when the
// event has the wrong shape for the field.
func inputFor(field form.Field, evt models.Event) (form.Input, bool) {
	switch field.Kind {
	case form.KindBinaryChoice:
		if evt.Kind == models.EventKindSelection {
			return form.Input{Selection: evt.Selection}, true
		}
	case form.KindPhone:
		switch evt.Kind {
		case models.EventKindText:
			return form.Input{Text: evt.Text}, true
		case models.EventKindContact:
			return form.Input{Contact: evt.Contact}, true
		}
	default:
		if evt.Kind == models.EventKindText {
			return form.Input{Text: evt.Text}, true
		}
	}
	return form.Input{}, false
}

// RejectionText explains to the user why an answer was not accepted.
func RejectionText(field form.Field, rejected *form.RejectedError) string {
	if field.InvalidText != "" {
		return field.InvalidText
	}
	switch {
	case errors.Is(rejected, form.ErrEmpty):
		return "Please send an answer."
	case errors.Is(rejected, form.ErrTooShort):
		return "That answer is too short, please try again."
	case errors.Is(rejected, form.ErrTooLong):
		return "That answer is too long, please try again."
	case errors.Is(rejected, form.ErrInvalidEmail):
		return "That doesn't look like a valid email address, please try again."
	case errors.Is(rejected, form.ErrInvalidPhone):
		return "That doesn't look like a valid phone number, please try again."
	default:
		return "That answer was not accepted, please try again."
	}
}

// ConfirmationText appends the CRM outcome to the closing message.
func ConfirmationText(confirmation string, crm models.CRMOutcome) string {
	if confirmation == "" {
		return crm.String()
	}
	return confirmation + "\n\n" + crm.String()
}
