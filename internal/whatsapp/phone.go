package whatsapp

import (
	"strings"
	"unicode"
)

// AddressFormat turns user-entered phone numbers into gateway addresses.
type AddressFormat struct {
	CountryCode  string
	MobilePrefix string
	Domain       string
}

// DefaultAddressFormat targets Argentine mobile numbers (+54 9 ...).
var DefaultAddressFormat = AddressFormat{
	CountryCode:  "54",
	MobilePrefix: "9",
	Domain:       "@s.whatsapp.net",
}

// FormatAddress normalizes raw with DefaultAddressFormat.
func FormatAddress(raw string) string {
	return DefaultAddressFormat.Format(raw)
}

// Format strips separators, adds the missing country/mobile prefix and
// appends the address domain. Values already containing "@" are returned as is.
//
//	"11 2233-4455"  -> "5491122334455@s.whatsapp.net"
//	"91122334455"   -> "5491122334455@s.whatsapp.net"
//	"5491122334455" -> "5491122334455@s.whatsapp.net"
func (f AddressFormat) Format(raw string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '-' || r == '(' || r == ')' {
			return -1
		}
		return r
	}, raw)

	if strings.Contains(cleaned, "@") {
		return cleaned
	}

	if !strings.HasPrefix(cleaned, "+") {
		switch {
		case strings.HasPrefix(cleaned, f.CountryCode+f.MobilePrefix):
			cleaned = "+" + cleaned
		case strings.HasPrefix(cleaned, f.MobilePrefix):
			cleaned = "+" + f.CountryCode + cleaned
		default:
			cleaned = "+" + f.CountryCode + f.MobilePrefix + cleaned
		}
	}

	return strings.Replace(cleaned, "+", "", 1) + f.Domain
}

// WithDefaults fills empty fields from DefaultAddressFormat.
func (f AddressFormat) WithDefaults() AddressFormat {
	if f.CountryCode == "" {
		f.CountryCode = DefaultAddressFormat.CountryCode
	}
	if f.MobilePrefix == "" {
		f.MobilePrefix = DefaultAddressFormat.MobilePrefix
	}
	if f.Domain == "" {
		f.Domain = DefaultAddressFormat.Domain
	}
	return f
}
