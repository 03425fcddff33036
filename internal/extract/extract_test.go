package extract

import (
	"strings"
	"testing"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

func noFlags() map[models.Field]bool {
	return map[models.Field]bool{}
}

func TestExtractName(t *testing.T) {
	e := NewRegexExtractor()
	cases := []struct {
		name     string
		text     string
		expected string
	}{
		{"my name is", "Hi, my name is Jane Doe, what's good", "Jane Doe"},
		{"i'm", "Hey there, I'm Bob", "Bob"},
		{"call me", "you can call me Alice Smith anytime", "Alice Smith"},
		{"this is", "this is Carlos", "Carlos"},
		{"case insensitive phrase", "MY NAME IS Dave", "Dave"},
		{"lowercase continuation rejected", "I'm not sure", ""},
		{"no phrase", "the market is wild today", ""},
		{"lowercase name rejected", "my name is bob", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			found := e.Extract(tc.text, noFlags())
			if got := found[models.FieldName]; got != tc.expected {
				t.Errorf("text %q: expected name %q, got %q", tc.text, tc.expected, got)
			}
		})
	}
}

func TestExtractEmail(t *testing.T) {
	e := NewRegexExtractor()
	found := e.Extract("reach me at john.doe+test@mail.example.org thanks", noFlags())
	if got := found[models.FieldEmail]; got != "john.doe+test@mail.example.org" {
		t.Errorf("expected email extracted, got %q", got)
	}

	found = e.Extract("no address here", noFlags())
	if _, ok := found[models.FieldEmail]; ok {
		t.Error("expected no email for text without an address")
	}
}

func TestExtractIncome(t *testing.T) {
	e := NewRegexExtractor()
	cases := []struct {
		name     string
		text     string
		contains string // empty means no extraction expected
	}{
		{"currency with k and qualifier", "I make about $120k a year", "120k"},
		{"currency amount", "somewhere around $85,000", "85,000"},
		{"bare k suffix", "we're talking 100k here", "100k"},
		{"k range", "50k-100k depending on bonus", "50k"},
		{"keyword amount", "my salary is 95,000", "95,000"},
		{"annual qualifier", "I pull 200,000 per year", "200,000"},
		{"range with qualifier", "100,000 to 150,000 a year", "150,000"},
		{"plain number rejected", "room 120", ""},
		{"year alone rejected", "founded in 1999", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			found := e.Extract(tc.text, noFlags())
			got, ok := found[models.FieldIncome]
			if tc.contains == "" {
				if ok {
					t.Errorf("text %q: expected no income, got %q", tc.text, got)
				}
				return
			}
			if !ok || !strings.Contains(got, tc.contains) {
				t.Errorf("text %q: expected income containing %q, got %q", tc.text, tc.contains, got)
			}
		})
	}
}

func TestExtractIncomeIgnoresEmailDigits(t *testing.T) {
	e := NewRegexExtractor()
	found := e.Extract("contact me at john100k@example.com", noFlags())

	if got := found[models.FieldEmail]; got != "john100k@example.com" {
		t.Errorf("expected email extracted, got %q", got)
	}
	if income, ok := found[models.FieldIncome]; ok {
		t.Errorf("expected no income from email local part, got %q", income)
	}
}

func TestExtractSkipsCollectedFields(t *testing.T) {
	e := NewRegexExtractor()
	collected := map[models.Field]bool{
		models.FieldName:  true,
		models.FieldEmail: true,
	}
	found := e.Extract("my name is Jane Doe, email jane@example.com, income $90k", collected)

	if _, ok := found[models.FieldName]; ok {
		t.Error("expected collected name to be skipped")
	}
	if _, ok := found[models.FieldEmail]; ok {
		t.Error("expected collected email to be skipped")
	}
	if got := found[models.FieldIncome]; !strings.Contains(got, "90k") {
		t.Errorf("expected income still extracted, got %q", got)
	}
}

func TestExtractMultipleFieldsAtOnce(t *testing.T) {
	e := NewRegexExtractor()
	found := e.Extract("I'm Jane, reach me at jane@example.com, I earn about $75k", noFlags())

	if len(found) != 3 {
		t.Fatalf("expected all three fields, got %v", found)
	}
	if found[models.FieldName] != "Jane" {
		t.Errorf("unexpected name %q", found[models.FieldName])
	}
	if found[models.FieldEmail] != "jane@example.com" {
		t.Errorf("unexpected email %q", found[models.FieldEmail])
	}
	if !strings.Contains(found[models.FieldIncome], "75k") {
		t.Errorf("unexpected income %q", found[models.FieldIncome])
	}
}
