package privacy

import (
	"strings"
	"unicode"
)

// labelAliases maps normalized raw labels from the pattern rules and from NER
// models to canonical classes.
var labelAliases = map[string]string{
	"PER":                    ClassPerson,
	"PERSON":                 ClassPerson,
	"NAME":                   ClassPerson,
	"FULL_NAME":              ClassPerson,
	"FIRST_NAME":             ClassPerson,
	"LAST_NAME":              ClassPerson,
	"EMAIL":                  ClassEmail,
	"EMAIL_ADDRESS":          ClassEmail,
	"PHONE":                  ClassPhone,
	"PHONE_NUMBER":           ClassPhone,
	"TELEPHONE":              ClassPhone,
	"TELEPHONE_NUMBER":       ClassPhone,
	"SSN":                    ClassSSN,
	"US_SSN":                 ClassSSN,
	"SOCIAL_SECURITY_NUMBER": ClassSSN,
	"CREDIT_CARD":            ClassCreditCard,
	"CREDIT_CARD_NUMBER":     ClassCreditCard,
	"CARD_NUMBER":            ClassCreditCard,
	"IP":                     ClassIPAddress,
	"IP_ADDRESS":             ClassIPAddress,
	"ADDRESS":                ClassAddress,
	"STREET_ADDRESS":         ClassAddress,
	"ORG":                    ClassOrganization,
	"ORGANIZATION":           ClassOrganization,
	"ORGANISATION":           ClassOrganization,
	"COMPANY":                ClassOrganization,
	"LOC":                    ClassLocation,
	"LOCATION":               ClassLocation,
	"GPE":                    ClassLocation,
	"CITY":                   ClassLocation,
	"COUNTRY":                ClassLocation,
	"DATE":                   ClassDate,
	"DATE_TIME":              ClassDate,
	"DOB":                    ClassDate,
	"DATE_OF_BIRTH":          ClassDate,
	"MISC":                   ClassMisc,
}

// NormalizeLabel converts a raw detector label ("phone number", "B-PER",
// "Email") into its canonical class. Labels without an alias are returned
// uppercased and underscored.
func NormalizeLabel(raw string) string {
	key := underscore(raw)
	if len(key) > 2 && (strings.HasPrefix(key, "B_") || strings.HasPrefix(key, "I_")) {
		key = key[2:]
	}
	if canonical, ok := labelAliases[key]; ok {
		return canonical
	}
	return key
}

func underscore(raw string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.TrimSpace(raw) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(unicode.ToUpper(r))
			continue
		}
		pendingSep = true
	}
	return b.String()
}
