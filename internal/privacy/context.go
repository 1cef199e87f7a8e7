package privacy

import (
	"regexp"
	"strings"
)

// contextPatterns are checked in order; the first domain with a keyword hit wins.
var contextPatterns = []struct {
	context ContextType
	pattern *regexp.Regexp
}{
	{
		context: ContextLegal,
		pattern: regexp.MustCompile(`\b(?:contract|agreement|plaintiff|defendant|court|attorney|lawsuit|litigation|statute|clause|hereby|jurisdiction|subpoena|affidavit|counsel|tenant|landlord|lease|indemnif\w*|arbitration|non-disclosure|nda)\b`),
	},
	{
		context: ContextMedical,
		pattern: regexp.MustCompile(`\b(?:patient|diagnos\w*|prescri\w*|symptom\w*|treatment|physician|hospital|clinic|medication|dosage|\d+\s?mg|blood pressure|mri|surgery|therapy|icd-?10|allerg\w*|chart notes?)\b`),
	},
	{
		context: ContextFinancial,
		pattern: regexp.MustCompile(`\b(?:invoice|payment|bank|account|loan|mortgage|tax(?:es)?|revenue|transaction|investment|portfolio|balance sheet|dividend|audit|payroll|wire transfer|iban|ledger)\b`),
	},
}

// contextRules holds the strip/keep lists per context. Kept classes carry no
// personal identity but give the model useful context.
var contextRules = map[ContextType]ContextRule{
	ContextLegal: {
		Strip: []string{ClassPerson, ClassEmail, ClassPhone, ClassSSN, ClassCreditCard, ClassIPAddress, ClassAddress},
		Keep:  []string{ClassOrganization, ClassLocation, ClassDate},
	},
	ContextMedical: {
		Strip: []string{ClassPerson, ClassEmail, ClassPhone, ClassSSN, ClassCreditCard, ClassIPAddress, ClassAddress, ClassLocation, ClassOrganization},
		Keep:  []string{ClassDate, "MEDICAL_CONDITION", "MEDICATION"},
	},
	ContextFinancial: {
		Strip: []string{ClassPerson, ClassEmail, ClassPhone, ClassSSN, ClassCreditCard, ClassIPAddress, ClassAddress, "ACCOUNT_NUMBER"},
		Keep:  []string{ClassOrganization, "MONEY", ClassDate},
	},
	ContextGeneral: {
		Strip: []string{ClassPerson, ClassEmail, ClassPhone, ClassSSN, ClassCreditCard, ClassIPAddress, ClassAddress, ClassLocation, ClassOrganization},
		Keep:  nil,
	},
}

// DetectContext classifies a text block as legal, medical, financial or general.
func DetectContext(text string) ContextType {
	lower := strings.ToLower(text)
	for _, cp := range contextPatterns {
		if cp.pattern.MatchString(lower) {
			return cp.context
		}
	}
	return ContextGeneral
}

// RuleFor returns the strip/keep rule of a context; unknown contexts get the
// general rule.
func RuleFor(ctx ContextType) ContextRule {
	if rule, ok := contextRules[ctx]; ok {
		return rule
	}
	return contextRules[ContextGeneral]
}

// ShouldKeepEntity reports whether spans of class must be left untouched in ctx.
// A class is kept when it contains one of the context's keep entries,
// compared case-insensitively ("DATE" keeps "DATE_TIME").
func ShouldKeepEntity(class string, ctx ContextType) bool {
	upper := strings.ToUpper(class)
	for _, keep := range RuleFor(ctx).Keep {
		if strings.Contains(upper, strings.ToUpper(keep)) {
			return true
		}
	}
	return false
}
