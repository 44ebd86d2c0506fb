// Package redact masks personally identifiable information in text before it
// reaches session or memory storage.
//
// Redaction is best-effort pattern matching, not a correctness guarantee:
// text that does not match a known pattern passes through unchanged, and
// callers must not rely on the output being free of all sensitive content.
// Matched spans are replaced with category placeholders such as "[EMAIL]"
// rather than removed, so the surrounding text stays readable.
package redact

import "regexp"

// Category names a class of sensitive content.
type Category string

const (
	Email      Category = "EMAIL"
	Phone      Category = "PHONE"
	CreditCard Category = "CREDIT_CARD"
	SSN        Category = "SSN"
	IPAddress  Category = "IP_ADDRESS"
)

// Span describes one redacted region. Offsets refer to the text as it was
// when the pattern matched; earlier replacements may have shifted it
// relative to the original input.
type Span struct {
	Category Category
	Text     string
	Start    int
	End      int
}

// Patterns are applied in order. Credit cards run before phone numbers so a
// 16-digit number is never half-consumed as a phone match.
var patterns = []struct {
	category Category
	re       *regexp.Regexp
}{
	{Email, regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
	{CreditCard, regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`)},
	{SSN, regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{Phone, regexp.MustCompile(`\b\+?1?[-.\s]?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`)},
	{IPAddress, regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)},
}

// Redact replaces sensitive spans in text with category placeholders and
// reports what was found. It is a pure function: deterministic, never fails
// on malformed input, and idempotent (a second pass finds nothing new).
// It does not log or persist its findings.
func Redact(text string) (string, []Span) {
	var spans []Span
	for _, p := range patterns {
		locs := p.re.FindAllStringIndex(text, -1)
		if locs == nil {
			continue
		}
		for _, loc := range locs {
			spans = append(spans, Span{
				Category: p.category,
				Text:     text[loc[0]:loc[1]],
				Start:    loc[0],
				End:      loc[1],
			})
		}
		text = p.re.ReplaceAllString(text, "["+string(p.category)+"]")
	}
	return text, spans
}
