package privacy

import "regexp"

// Canonical entity classes. Anything else a detector reports is normalized by
// NormalizeLabel and passes through as its own class.
const (
	ClassPerson       = "PERSON"
	ClassEmail        = "EMAIL_ADDRESS"
	ClassPhone        = "PHONE_NUMBER"
	ClassSSN          = "SSN"
	ClassCreditCard   = "CREDIT_CARD"
	ClassIPAddress    = "IP_ADDRESS"
	ClassAddress      = "ADDRESS"
	ClassOrganization = "ORGANIZATION"
	ClassLocation     = "LOCATION"
	ClassDate         = "DATE"
	ClassMisc         = "MISC"
)

// DetectionRule represents a single PII detection rule
type DetectionRule struct {
	Name    string
	Label   string // raw label, normalized before use
	Pattern *regexp.Regexp
	// Group selects the capture group that forms the span; 0 is the whole match.
	Group int
}

// Span sources.
const (
	SourcePattern = "pattern"
	SourceNER     = "ner"
)

// Span is a half-open range [Start, End) of byte offsets into the scanned text.
type Span struct {
	Text        string   `json:"text"`
	Start       int      `json:"start"`
	End         int      `json:"end"`
	EntityClass string   `json:"entityClass"`
	Confidence  *float64 `json:"confidence,omitempty"` // nil for rule matches
	Source      string   `json:"source,omitempty"`
}

// Len returns the span length in bytes.
func (s Span) Len() int { return s.End - s.Start }

// Overlaps reports whether two spans share at least one character.
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && s.End > o.Start
}

// ContextType is a coarse domain classification of a text block.
type ContextType string

const (
	ContextLegal     ContextType = "legal"
	ContextMedical   ContextType = "medical"
	ContextFinancial ContextType = "financial"
	ContextGeneral   ContextType = "general"
)

// ParseContext converts a user supplied string into a ContextType.
func ParseContext(s string) (ContextType, bool) {
	switch ContextType(s) {
	case ContextLegal, ContextMedical, ContextFinancial, ContextGeneral:
		return ContextType(s), true
	}
	return "", false
}

// ContextRule lists which entity classes are stripped and which are kept
// (passed through to the AI) in a given context.
type ContextRule struct {
	Strip []string `json:"strip"`
	Keep  []string `json:"keep"`
}
