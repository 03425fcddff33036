package models

import (
	"strings"
	"testing"
	"time"
)

func TestIsValidField(t *testing.T) {
	for _, f := range AllFields() {
		if !IsValidField(f) {
			t.Errorf("expected %q to be valid", f)
		}
	}
	if IsValidField("phone") {
		t.Error("expected 'phone' to be invalid")
	}
	if IsValidField("") {
		t.Error("expected empty field to be invalid")
	}
}

func TestSessionCollectedFlagsMirrorPresence(t *testing.T) {
	s := Session{ID: "s1", Status: SessionStatusActive, CreatedAt: time.Now()}

	flags := s.CollectedFlags()
	for _, f := range AllFields() {
		if flags[f] {
			t.Errorf("empty session: expected %q not collected", f)
		}
	}
	if s.AllCollected() {
		t.Error("empty session should not be complete")
	}

	if err := s.SetFieldValue(FieldName, "Jane Doe"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.SetFieldValue(FieldEmail, "jane@example.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	flags = s.CollectedFlags()
	if !flags[FieldName] || !flags[FieldEmail] || flags[FieldIncome] {
		t.Errorf("unexpected flags after two updates: %v", flags)
	}
	missing := s.MissingFields()
	if len(missing) != 1 || missing[0] != FieldIncome {
		t.Errorf("expected income to be the only missing field, got %v", missing)
	}

	if err := s.SetFieldValue(FieldIncome, "$120k"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.AllCollected() {
		t.Error("expected session to be complete after all three fields")
	}
}

func TestSessionSetFieldValueInvalid(t *testing.T) {
	s := Session{}
	if err := s.SetFieldValue("phone", "555-1234"); err == nil {
		t.Error("expected error for invalid field, got nil")
	}
}

func TestChatRequestValidate(t *testing.T) {
	cases := []struct {
		name    string
		req     ChatRequest
		wantErr error
	}{
		{"valid", ChatRequest{SessionID: "abc", Message: "hi"}, nil},
		{"missing session", ChatRequest{Message: "hi"}, ErrEmptySessionID},
		{"missing message", ChatRequest{SessionID: "abc"}, ErrEmptyMessage},
		{"blank message", ChatRequest{SessionID: "abc", Message: "   "}, ErrEmptyMessage},
		{"too long", ChatRequest{SessionID: "abc", Message: strings.Repeat("x", MaxMessageLength+1)}, ErrMessageTooLong},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.req.Validate(); err != tc.wantErr {
				t.Errorf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestSettingsUpdateRequestValidate(t *testing.T) {
	valid := SettingsUpdateRequest{RecipientEmail: "ops@example.com"}
	if err := valid.Validate(); err != nil {
		t.Errorf("unexpected error for valid address: %v", err)
	}

	for _, addr := range []string{"", "not-an-address", "@example.com", "user@", "user@nodot"} {
		req := SettingsUpdateRequest{RecipientEmail: addr}
		if err := req.Validate(); err != ErrInvalidRecipient {
			t.Errorf("address %q: expected ErrInvalidRecipient, got %v", addr, err)
		}
	}
}

func TestAPIResponseBuilders(t *testing.T) {
	resp := Success("data")
	if resp.Status != string(APIStatusOK) || resp.Result != "data" {
		t.Errorf("unexpected success response: %+v", resp)
	}
	resp = Error("boom")
	if resp.Status != string(APIStatusError) || resp.Message != "boom" {
		t.Errorf("unexpected error response: %+v", resp)
	}
}
