// Package form describes the ordered lead form: which fields are collected, how each one is
// prompted and validated, and where its value goes in the CRM submission.
package form

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Kind selects the validation rule applied to a field.
type Kind string

const (
	KindShortText    Kind = "short_text"
	KindEmail        Kind = "email"
	KindPhone        Kind = "phone"
	KindBinaryChoice Kind = "binary_choice"
)

// Definition errors.
var (
	ErrNoFields            = errors.New("form must define at least one field")
	ErrEmptyFieldName      = errors.New("field name cannot be empty")
	ErrDuplicateFieldName  = errors.New("duplicate field name")
	ErrUnknownKind         = errors.New("unknown field kind")
	ErrMissingPrompt       = errors.New("field prompt cannot be empty")
	ErrInsufficientChoices = errors.New("binary choice field needs at least two choices")
	ErrDuplicateChoice     = errors.New("duplicate choice token")
	ErrEmptyChoice         = errors.New("choice token and label cannot be empty")
)

// Choice is one selectable answer of a binary_choice field.
type Choice struct {
	Token string `yaml:"token" json:"token"`
	Label string `yaml:"label" json:"label"`
}

// Field is the static specification of one piece of information to collect.
type Field struct {
	Name   string `yaml:"name" json:"name"`
	Label  string `yaml:"label" json:"label"`
	Kind   Kind   `yaml:"kind" json:"kind"`
	Prompt string `yaml:"prompt" json:"prompt"`
	// InvalidText replaces the generic rejection reason in the re-prompt when set.
	InvalidText string `yaml:"invalid_text,omitempty" json:"invalid_text,omitempty"`
	// CRMParam is the form parameter name used when submitting to the CRM.
	CRMParam string `yaml:"crm_param" json:"crm_param"`
	// ContactButton labels the share-contact button offered for phone fields.
	ContactButton string   `yaml:"contact_button,omitempty" json:"contact_button,omitempty"`
	Choices       []Choice `yaml:"choices,omitempty" json:"choices,omitempty"`
}

// ChoiceLabel returns the label of the choice with the given token.
func (f Field) ChoiceLabel(token string) (string, bool) {
	for _, c := range f.Choices {
		if c.Token == token {
			return c.Label, true
		}
	}
	return "", false
}

// Definition is the whole conversation script. It is fixed at startup and never mutated.
type Definition struct {
	Intro         string  `yaml:"intro"`
	IntroImageURL string  `yaml:"intro_image_url,omitempty"`
	CancelText    string  `yaml:"cancel_text"`
	Confirmation  string  `yaml:"confirmation"`
	BackLinkURL   string  `yaml:"back_link_url,omitempty"`
	BackLinkLabel string  `yaml:"back_link_label,omitempty"`
	Fields        []Field `yaml:"fields"`
}

// Validate checks the definition for structural problems.
func (d *Definition) Validate() error {
	if len(d.Fields) == 0 {
		return ErrNoFields
	}
	seen := make(map[string]bool, len(d.Fields))
	for i, f := range d.Fields {
		if f.Name == "" {
			return fmt.Errorf("field %d: %w", i, ErrEmptyFieldName)
		}
		if seen[f.Name] {
			return fmt.Errorf("field %q: %w", f.Name, ErrDuplicateFieldName)
		}
		seen[f.Name] = true
		if f.Prompt == "" {
			return fmt.Errorf("field %q: %w", f.Name, ErrMissingPrompt)
		}
		switch f.Kind {
		case KindShortText, KindEmail, KindPhone:
		case KindBinaryChoice:
			if err := validateChoices(f.Choices); err != nil {
				return fmt.Errorf("field %q: %w", f.Name, err)
			}
		default:
			return fmt.Errorf("field %q: %w: %q", f.Name, ErrUnknownKind, f.Kind)
		}
	}
	return nil
}

func validateChoices(choices []Choice) error {
	if len(choices) < 2 {
		return ErrInsufficientChoices
	}
	tokens := make(map[string]bool, len(choices))
	for _, c := range choices {
		if c.Token == "" || c.Label == "" {
			return ErrEmptyChoice
		}
		if tokens[c.Token] {
			return fmt.Errorf("%w: %q", ErrDuplicateChoice, c.Token)
		}
		tokens[c.Token] = true
	}
	return nil
}

// LoadDefinition reads and validates a YAML form definition.
func LoadDefinition(path string) (*Definition, error) {
	slog.Debug("form.LoadDefinition: reading form file", "path", path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read form file %s: %w", path, err)
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse form file %s: %w", path, err)
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid form file %s: %w", path, err)
	}

	slog.Info("form.LoadDefinition: form loaded", "path", path, "fields", len(def.Fields))
	return &def, nil
}

// DefaultDefinition returns the built-in five-question lead form.
func DefaultDefinition() *Definition {
	return &Definition{
		Intro: "Thanks for your interest! Please share a few short details " +
			"and our team will get back to you shortly.",
		CancelText:    "The form was cancelled. Have a nice day!",
		Confirmation:  "✅ Thanks for sharing your details! Our team will contact you soon.",
		BackLinkLabel: "Back to the channel",
		Fields: []Field{
			{
				Name:     "first_name",
				Label:    "First name",
				Kind:     KindShortText,
				Prompt:   "1. What is your first name?",
				CRMParam: "firstname",
			},
			{
				Name:     "last_name",
				Label:    "Last name",
				Kind:     KindShortText,
				Prompt:   "2. What is your last name?",
				CRMParam: "lastname",
			},
			{
				Name:        "email",
				Label:       "Email",
				Kind:        KindEmail,
				Prompt:      "3. What is your email address?",
				InvalidText: "That doesn't look like a valid email address, please try again.",
				CRMParam:    "email",
			},
			{
				Name:          "phone",
				Label:         "Phone",
				Kind:          KindPhone,
				Prompt:        "4. What is your phone number? You can type it or share your contact.",
				InvalidText:   "Please send a valid phone number (digits, spaces, + and - only).",
				CRMParam:      "mobile",
				ContactButton: "📱 Share my contact",
			},
			{
				Name:     "insured",
				Label:    "Currently insured",
				Kind:     KindBinaryChoice,
				Prompt:   "5. Do you currently have an insurance policy?",
				CRMParam: "insurance_status",
				Choices: []Choice{
					{Token: "yes", Label: "Yes"},
					{Token: "no", Label: "No"},
				},
			},
		},
	}
}
