package anonymizer

import "github.com/raaihank/llm-anonymizer/internal/privacy"

// fakePools holds realistic fictional values per class. Phone numbers use the
// reserved 555-01xx range, SSNs the never-issued 9xx area, cards are public
// test numbers and IPs come from TEST-NET-1.
var fakePools = map[string][]string{
	privacy.ClassPerson: {
		"James Carter", "Maria Lopez", "Daniel Kim", "Sophie Turner",
		"Ethan Brooks", "Olivia Grant", "Lucas Reed", "Emma Hayes",
		"Noah Bennett", "Ava Collins", "Liam Foster", "Mia Sullivan",
		"Henry Walsh", "Chloe Parker", "Owen Fletcher", "Grace Holloway",
	},
	privacy.ClassEmail: {
		"alex.morgan@example.com", "sam.rivera@example.org", "casey.lee@example.net",
		"jordan.price@example.com", "taylor.quinn@example.org", "riley.shaw@example.net",
		"morgan.blake@example.com", "jamie.ellis@example.org",
	},
	privacy.ClassPhone: {
		"555-0101", "555-0102", "555-0103", "555-0104", "555-0105",
		"555-0106", "555-0107", "555-0108", "555-0109", "555-0110",
	},
	privacy.ClassSSN: {
		"900-12-3456", "901-23-4567", "902-34-5678",
		"903-45-6789", "904-56-7890", "905-67-8901",
	},
	privacy.ClassCreditCard: {
		"4111-1111-1111-1111", "5555-5555-5555-4444", "4012-8888-8888-1881",
		"5105-1051-0510-5100", "4222-2222-2222-2222", "2223-0031-2200-3222",
	},
	privacy.ClassIPAddress: {
		"192.0.2.10", "192.0.2.11", "192.0.2.12", "192.0.2.13",
		"192.0.2.14", "192.0.2.15", "192.0.2.16", "192.0.2.17",
	},
	privacy.ClassAddress: {
		"123 Maple Street", "456 Oak Avenue", "789 Pine Road",
		"321 Birch Lane", "654 Cedar Court", "987 Elm Drive",
	},
	privacy.ClassOrganization: {
		"Northwind Traders", "Contoso Ltd", "Globex Corporation",
		"Initech", "Umbrella Holdings", "Stark Industries",
		"Wayne Enterprises", "Acme Widgets",
	},
	privacy.ClassLocation: {
		"Springfield", "Riverton", "Fairview", "Lakewood",
		"Greenville", "Oakdale", "Brookside", "Hillcrest",
	},
	privacy.ClassDate: {
		"January 1, 2000", "February 2, 2001", "March 3, 2002",
		"April 4, 2003", "May 5, 2004", "June 6, 2005",
	},
}

// poolKey returns the pool a class draws from. Classes without a dedicated
// pool share the PERSON pool and its counter.
func poolKey(class string) string {
	if _, ok := fakePools[class]; ok {
		return class
	}
	return privacy.ClassPerson
}
