package form

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultDefinitionIsValid(t *testing.T) {
	def := DefaultDefinition()
	if err := def.Validate(); err != nil {
		t.Fatalf("default definition invalid: %v", err)
	}

	wantNames := []string{"first_name", "last_name", "email", "phone", "insured"}
	if len(def.Fields) != len(wantNames) {
		t.Fatalf("expected %d fields, got %d", len(wantNames), len(def.Fields))
	}
	for i, name := range wantNames {
		if def.Fields[i].Name != name {
			t.Errorf("field %d = %q, want %q", i, def.Fields[i].Name, name)
		}
		if def.Fields[i].CRMParam == "" {
			t.Errorf("field %q has no CRM parameter", name)
		}
	}
}

func TestDefinitionValidate(t *testing.T) {
	choices := []Choice{{Token: "yes", Label: "Yes"}, {Token: "no", Label: "No"}}

	tests := []struct {
		name    string
		fields  []Field
		wantErr error
	}{
		{"no fields", nil, ErrNoFields},
		{"empty name", []Field{{Kind: KindEmail, Prompt: "?"}}, ErrEmptyFieldName},
		{"duplicate", []Field{
			{Name: "a", Kind: KindEmail, Prompt: "?"},
			{Name: "a", Kind: KindPhone, Prompt: "?"},
		}, ErrDuplicateFieldName},
		{"unknown kind", []Field{{Name: "a", Kind: "date", Prompt: "?"}}, ErrUnknownKind},
		{"missing prompt", []Field{{Name: "a", Kind: KindEmail}}, ErrMissingPrompt},
		{"one choice", []Field{{Name: "a", Kind: KindBinaryChoice, Prompt: "?", Choices: choices[:1]}}, ErrInsufficientChoices},
		{"duplicate choice", []Field{{Name: "a", Kind: KindBinaryChoice, Prompt: "?", Choices: []Choice{
			{Token: "yes", Label: "Yes"}, {Token: "yes", Label: "Sure"},
		}}}, ErrDuplicateChoice},
		{"valid", []Field{{Name: "a", Kind: KindBinaryChoice, Prompt: "?", Choices: choices}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := &Definition{Fields: tt.fields}
			err := def.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadDefinition(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "form.yaml")
	content := `intro: "Thanks for your interest in PostAd"
cancel_text: "Bot stopped"
confirmation: "Thanks!"
back_link_url: "https://t.me/example"
back_link_label: "Back to channel"
fields:
  - name: company
    label: Company
    kind: short_text
    prompt: "1. Company name"
    crm_param: company
  - name: email
    label: Email
    kind: email
    prompt: "2. Email"
    crm_param: email
  - name: has_channel
    label: Has a Telegram channel
    kind: binary_choice
    prompt: "3. Does the company have a Telegram channel?"
    crm_param: has_channel
    choices:
      - {token: "yes", label: "Yes"}
      - {token: "no", label: "No"}
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write form file: %v", err)
	}

	def, err := LoadDefinition(path)
	if err != nil {
		t.Fatalf("LoadDefinition failed: %v", err)
	}
	if len(def.Fields) != 3 {
		t.Fatalf("expected 3 fields, got %d", len(def.Fields))
	}
	if def.Fields[2].Kind != KindBinaryChoice || len(def.Fields[2].Choices) != 2 {
		t.Errorf("choice field not parsed: %+v", def.Fields[2])
	}
	if label, ok := def.Fields[2].ChoiceLabel("no"); !ok || label != "No" {
		t.Errorf("ChoiceLabel(no) = %q, %v", label, ok)
	}
	if def.BackLinkURL != "https://t.me/example" {
		t.Errorf("back link not parsed: %q", def.BackLinkURL)
	}
}

func TestLoadDefinitionErrors(t *testing.T) {
	if _, err := LoadDefinition(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(path, []byte("intro: hi\n"), 0644); err != nil {
		t.Fatalf("failed to write form file: %v", err)
	}
	if _, err := LoadDefinition(path); !errors.Is(err, ErrNoFields) {
		t.Errorf("expected ErrNoFields, got %v", err)
	}
}
