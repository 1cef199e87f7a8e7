package privacy

import "regexp"

// GetDefaultRules returns the built-in detection rules in evaluation order.
// Rules may overlap; Resolve decides which span survives.
func GetDefaultRules() []DetectionRule {
	return []DetectionRule{
		{
			Name:    "ssn",
			Label:   "social security number",
			Pattern: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
		},
		{
			Name:    "email",
			Label:   "email",
			Pattern: regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`),
		},
		{
			Name:    "phone",
			Label:   "phone number",
			Pattern: regexp.MustCompile(`(?:\+?1[\-.\s]?)?(?:\(\d{3}\)|\b\d{3})[\-.\s]?\d{3}[\-.\s]?\d{4}\b`),
		},
		{
			Name:    "credit_card",
			Label:   "credit card number",
			Pattern: regexp.MustCompile(`\b(?:\d{4}[\-\s]?){3}\d{4}\b`),
		},
		{
			Name:    "ip_address",
			Label:   "ip address",
			Pattern: regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\.){3}(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\b`),
		},
		{
			// Honorific followed by one or two capitalized words. Only the name is
			// the span; the honorific stays in the text.
			Name:    "honorific_name",
			Label:   "person",
			Pattern: regexp.MustCompile(`\b(?:Mr|Mrs|Ms|Miss|Dr|Prof)\.?[ \t]+([A-Z][a-z]+(?:[ \t]+[A-Z][a-z]+)?)`),
			Group:   1,
		},
	}
}
