package form

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// Rejection reasons. A RejectedError always wraps one of these.
var (
	ErrEmpty        = errors.New("answer cannot be empty")
	ErrTooShort     = errors.New("answer is too short")
	ErrTooLong      = errors.New("answer is too long")
	ErrInvalidEmail = errors.New("invalid email address")
	ErrInvalidPhone = errors.New("invalid phone number")
)

// ErrUnknownChoice is returned for a selection token the field never offered. It is a protocol
// error, not a rejection: the user cannot type a token, so nothing is re-prompted.
var ErrUnknownChoice = errors.New("unknown choice token")

// ErrMissingInput is returned when the input carries nothing the field's kind can consume.
var ErrMissingInput = errors.New("input does not match field kind")

// RejectedError reports that a user's answer failed the field's format rule.
type RejectedError struct {
	Field  string
	Reason error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("field %s rejected: %v", e.Field, e.Reason)
}

func (e *RejectedError) Unwrap() error {
	return e.Reason
}

// Input is the raw answer to validate. Exactly one member is expected to be set.
type Input struct {
	Text      string
	Selection string
	Contact   *models.Contact
}

// Answer is an accepted value plus its human-readable rendering.
type Answer struct {
	Value   string
	Display string
}

// Rule is a data-driven text validation rule.
type Rule struct {
	// Pattern must match the whole trimmed input when set.
	Pattern *regexp.Regexp
	// MinLen and MaxLen bound the measured length in characters; zero disables a bound.
	MinLen int
	MaxLen int
	// Measure maps the input to the string whose length is bounded; nil measures the input itself.
	Measure func(string) string

	Mismatch error
	TooShort error
	TooLong  error
}

// Word characters are Unicode letters, marks, digits and underscore.
var (
	emailPattern = regexp.MustCompile(`^[\p{L}\p{M}\p{N}_.-]+@[\p{L}\p{M}\p{N}_.-]+\.[\p{L}\p{M}\p{N}_]+$`)
	phonePattern = regexp.MustCompile(`^[0-9+\- ]+$`)
)

var rules = map[Kind]Rule{
	KindShortText: {
		MinLen:   2,
		TooShort: ErrTooShort,
	},
	KindEmail: {
		Pattern:  emailPattern,
		MaxLen:   100,
		Mismatch: ErrInvalidEmail,
		TooLong:  ErrTooLong,
	},
	KindPhone: {
		Pattern:  phonePattern,
		MinLen:   8,
		MaxLen:   14,
		Measure:  stripPhoneSeparators,
		Mismatch: ErrInvalidPhone,
		TooShort: ErrInvalidPhone,
		TooLong:  ErrInvalidPhone,
	},
}

// RuleFor returns the text rule for a kind.
func RuleFor(kind Kind) (Rule, bool) {
	r, ok := rules[kind]
	return r, ok
}

// Check applies the rule to raw text and returns the trimmed value or the rejection reason.
func (r Rule) Check(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", ErrEmpty
	}
	if r.Pattern != nil && !r.Pattern.MatchString(value) {
		return "", r.Mismatch
	}

	measured := value
	if r.Measure != nil {
		measured = r.Measure(value)
	}
	n := utf8.RuneCountInString(measured)
	if r.MinLen > 0 && n < r.MinLen {
		return "", r.TooShort
	}
	if r.MaxLen > 0 && n > r.MaxLen {
		return "", r.TooLong
	}
	return value, nil
}

// stripPhoneSeparators drops the spaces and dashes people use to group digits.
func stripPhoneSeparators(s string) string {
	return strings.NewReplacer(" ", "", "-", "").Replace(s)
}

// Validate checks one answer against its field specification.
func Validate(field Field, in Input) (Answer, error) {
	switch field.Kind {
	case KindBinaryChoice:
		if in.Selection == "" {
			return Answer{}, ErrMissingInput
		}
		label, ok := field.ChoiceLabel(in.Selection)
		if !ok {
			return Answer{}, fmt.Errorf("%w: %q", ErrUnknownChoice, in.Selection)
		}
		return Answer{Value: in.Selection, Display: label}, nil

	case KindPhone:
		if in.Contact != nil {
			phone := strings.TrimSpace(in.Contact.PhoneNumber)
			return Answer{Value: phone, Display: phone}, nil
		}
	}

	rule, ok := rules[field.Kind]
	if !ok {
		return Answer{}, fmt.Errorf("field %s: %w: %q", field.Name, ErrUnknownKind, field.Kind)
	}
	value, err := rule.Check(in.Text)
	if err != nil {
		return Answer{}, &RejectedError{Field: field.Name, Reason: err}
	}
	return Answer{Value: value, Display: value}, nil
}
