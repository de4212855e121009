// Package normalize canonicalizes user-entered text before it is stored or
// compared.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// LanguageCode converts a language tag or locale ("en-US", "pt_BR", "deu")
// to its base ISO 639-1 code. Returns empty string for unrecognized values.
func LanguageCode(raw string) string {
	s := strings.TrimSpace(stripControl(raw))
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "_", "-")

	tag, err := language.Parse(s)
	if err != nil {
		return ""
	}
	base, conf := tag.Base()
	if conf == language.No {
		return ""
	}
	code := base.String()
	if len(code) != 2 {
		// No two-letter form exists (e.g. "haw").
		return ""
	}
	return code
}

// Name trims and collapses whitespace and applies NFC so visually identical
// names are stored identically.
func Name(s string) string {
	s = norm.NFC.String(stripControl(s))
	return strings.Join(strings.Fields(s), " ")
}

// Key returns a comparison key for a display name: normalized, case folded,
// and with accents removed, so "Café" and "cafe" collide.
func Key(s string) string {
	s = norm.NFKD.String(Name(s))
	s = strings.Map(func(r rune) rune {
		if unicode.Is(unicode.Mn, r) {
			return -1
		}
		return r
	}, s)
	return cases.Fold().String(s)
}

// stripControl removes NUL and other control characters.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\t' && r != '\n' {
			return -1
		}
		return r
	}, s)
}
