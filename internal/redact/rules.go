package redact

// DefaultRules returns the built-in rules for vendor correspondence.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          "card-number",
			Description: "Payment card number",
			Pattern:     `\b(?:\d[ -]?){12,18}\d\b`,
			Luhn:        true,
		},
		{
			ID:          "card-security-code",
			Description: "Card security code",
			Pattern:     `(?i)\b(?:cvv|cvc|cvv2|security code)\s*[:#]?\s*\d{3,4}\b`,
		},
		{
			ID:          "iban",
			Description: "International bank account number",
			Pattern:     `\b[A-Z]{2}\d{2}(?: ?[A-Z0-9]{4}){2,7}(?: ?[A-Z0-9]{1,4})?\b`,
		},
		{
			ID:          "bank-account",
			Description: "Bank account or routing number",
			Pattern:     `(?i)\b(?:account|acct|routing|aba|sort code)\s*(?:number|no\.?|#)?\s*[:#]?\s*[\d-]{6,17}\b`,
			Keywords:    []string{"account", "acct", "routing", "aba", "sort code"},
		},
		{
			ID:          "password",
			Description: "Password or portal credential",
			Pattern:     `(?i)\b(?:password|passwd|pwd|passcode)\s*[:=]\s*\S{4,}`,
			Keywords:    []string{"pass", "pwd"},
		},
		{
			ID:          "api-key",
			Description: "API key or token",
			Pattern:     `(?i)\b(?:api[_-]?key|apikey|token|secret)\s*[:=]\s*['"]?[A-Za-z0-9_\-]{12,}['"]?`,
			Keywords:    []string{"key", "token", "secret"},
		},
		{
			ID:          "provider-key",
			Description: "Provider-prefixed secret key",
			Pattern:     `\b(?:sk|pk|rk)[-_](?:live|test|ant)[-_][A-Za-z0-9\-_]{16,}`,
		},
		{
			ID:          "private-key",
			Description: "PEM private key",
			Pattern:     `-----BEGIN (?:RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----[\s\S]*?-----END (?:RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`,
		},
	}
}

// luhnValid reports whether the digits in s pass the Luhn checksum.
func luhnValid(s string) bool {
	sum, n := 0, 0
	double := false
	for i := len(s) - 1; i >= 0; i-- {
		c := s[i]
		if c < '0' || c > '9' {
			continue
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
		n++
	}
	return n >= 13 && sum%10 == 0
}
