// Package extract implements heuristic extraction of structured fields from
// free-form chat messages.
//
// Extraction is a replaceable strategy behind the Extractor interface; the
// default implementation is pattern-based. A miss is a normal result, never an
// error.
package extract

import (
	"regexp"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// Extractor finds newly mentioned field values in a user message.
//
// Implementations must skip fields already marked collected and must not
// fail: absence of a match is an empty result for that field.
type Extractor interface {
	Extract(text string, collected map[models.Field]bool) map[models.Field]string
}

const emailPattern = `[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`

var (
	emailRe = regexp.MustCompile(`\b` + emailPattern + `\b`)

	// Introductory phrases match case-insensitively, but the captured name
	// must be capitalized so fillers like "I'm not sure" are not mistaken
	// for a name.
	nameRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i:my name is )([A-Z][a-z]+(?: [A-Z][a-z]+)*)`),
		regexp.MustCompile(`(?i:i'm )([A-Z][a-z]+(?: [A-Z][a-z]+)*)`),
		regexp.MustCompile(`(?i:call me )([A-Z][a-z]+(?: [A-Z][a-z]+)*)`),
		regexp.MustCompile(`(?i:this is )([A-Z][a-z]+(?: [A-Z][a-z]+)*)`),
	}

	// Income patterns in priority order; the first match wins. A candidate is
	// only accepted if it carries a currency sign, a "k" suffix, or an
	// income keyword, so unrelated numbers (room numbers, years) are ignored.
	incomeRes = []*regexp.Regexp{
		// Currency-prefixed amounts, optionally k-suffixed, optionally a range.
		regexp.MustCompile(`\$\s*\d{1,3}(?:,\d{3})*(?:\s*[kK])?(?:\s*(?:-|to)\s*\$?\s*\d{1,3}(?:,\d{3})*(?:\s*[kK])?)?`),
		// Bare k-suffixed numbers, optionally a range.
		regexp.MustCompile(`\d{1,3}(?:,\d{3})*\s*[kK](?:\s*(?:-|to)\s*\d{1,3}(?:,\d{3})*\s*[kK])?`),
		// Amounts preceded by an income-context word.
		regexp.MustCompile(`(?i)(?:income|salary|earn|make|making)\s+(?:is|of|about|around|approximately)?\s*\$?\s*\d{1,3}(?:,\d{3})*(?:\s*k)?`),
		// Amounts followed by an annual qualifier.
		regexp.MustCompile(`(?i)\$?\s*\d{1,3}(?:,\d{3})*(?:\s*k)?\s+(?:per year|a year|annually|annual|yearly)`),
		// Bare numeric ranges with a trailing annual qualifier.
		regexp.MustCompile(`(?i)\d{1,3}(?:,\d{3})*\s*(?:-|to)\s*\d{1,3}(?:,\d{3})*(?:\s*k)?\s+(?:per year|a year|annually)`),
	}

	incomeIndicators = []string{"$", "k", "income", "salary", "earn", "make", "year", "annual"}
)

// RegexExtractor is the default pattern-based Extractor.
type RegexExtractor struct{}

// NewRegexExtractor creates the default pattern-based extractor.
func NewRegexExtractor() *RegexExtractor {
	return &RegexExtractor{}
}

// Extract scans user text for name, email, and income values.
// Fields already marked collected are skipped; each field is found
// independently and missing matches are simply absent from the result.
func (e *RegexExtractor) Extract(text string, collected map[models.Field]bool) map[models.Field]string {
	found := make(map[models.Field]string)

	if !collected[models.FieldName] {
		if name := extractName(text); name != "" {
			found[models.FieldName] = name
		}
	}

	if !collected[models.FieldEmail] {
		if email := emailRe.FindString(text); email != "" {
			found[models.FieldEmail] = strings.TrimSpace(email)
		}
	}

	if !collected[models.FieldIncome] {
		if income := extractIncome(text); income != "" {
			found[models.FieldIncome] = income
		}
	}

	return found
}

func extractName(text string) string {
	for _, re := range nameRes {
		if m := re.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

func extractIncome(text string) string {
	// Strip email addresses first so digits in an address local part or
	// domain are never misread as an income amount.
	withoutEmail := emailRe.ReplaceAllString(text, "")

	for _, re := range incomeRes {
		m := re.FindString(withoutEmail)
		if m == "" {
			continue
		}
		candidate := strings.TrimSpace(m)
		if hasIncomeIndicator(candidate) {
			return candidate
		}
	}
	return ""
}

func hasIncomeIndicator(candidate string) bool {
	lower := strings.ToLower(candidate)
	for _, indicator := range incomeIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}
