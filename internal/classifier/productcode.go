package classifier

import (
	"regexp"
	"strings"
	"unicode"
)

// ProductCode is a model code such as "VSF 30S" or "TC-20": a short alphabetic
// prefix followed by a numeric suffix that may carry trailing letters.
type ProductCode struct {
	Prefix string
	Suffix string
}

var productCodePattern = regexp.MustCompile(`(?i)\b([a-z]{2,5})([ -]?)(\d+[a-z]*)\b`)

// codeStopwords are short words that precede numbers in ordinary prose.
var codeStopwords = map[string]bool{
	"de": true, "da": true, "do": true, "das": true, "dos": true, "em": true, "no": true,
	"na": true, "nos": true, "nas": true, "ou": true, "com": true, "por": true, "para": true,
	"pra": true, "ate": true, "mais": true, "ha": true, "sao": true, "tem": true, "sem": true,
	"of": true, "to": true, "at": true, "in": true, "on": true, "by": true, "for": true,
	"the": true, "is": true, "are": true, "and": true, "or": true, "with": true, "than": true,
	"ano": true, "anos": true, "mes": true, "dia": true, "dias": true, "kg": true, "mm": true,
	"cm": true, "ml": true, "hz": true, "rpm": true, "top": true, "nr": true, "n": true,
	"um": true, "uma": true, "os": true, "as": true, "que": true, "mas": true, "uns": true,
	"umas": true, "sobre": true, "entre": true, "cerca": true, "apos": true, "desde": true,
	"menos": true, "qual": true,
}

// FindProductCodes returns the distinct product codes in text, in order of appearance.
// Case does not matter ("vsf 30s" is a code). A spaced, all-digit suffix
// after a lowercase word longer than three letters ("modelo 30") reads as
// prose instead.
func FindProductCodes(text string) []ProductCode {
	var codes []ProductCode
	seen := make(map[string]bool)
	for _, m := range productCodePattern.FindAllStringSubmatch(text, -1) {
		prefix, sep, suffix := m[1], m[2], m[3]
		if codeStopwords[strings.ToLower(prefix)] {
			continue
		}
		if sep == " " && !isUpper(prefix) && len(prefix) > 3 && isDigits(suffix) {
			continue
		}
		code := ProductCode{Prefix: strings.ToUpper(prefix), Suffix: strings.ToUpper(suffix)}
		if seen[code.Compact()] {
			continue
		}
		seen[code.Compact()] = true
		codes = append(codes, code)
	}
	return codes
}

// Canonical is the spaced surface form, e.g. "VSF 30S".
func (p ProductCode) Canonical() string {
	return p.Prefix + " " + p.Suffix
}

func (p ProductCode) Compact() string {
	return p.Prefix + p.Suffix
}

func (p ProductCode) Hyphenated() string {
	return p.Prefix + "-" + p.Suffix
}

// Variants lists the hyphenated, spaced and compressed surface forms.
func (p ProductCode) Variants() []string {
	return []string{p.Hyphenated(), p.Canonical(), p.Compact()}
}

func isUpper(s string) bool {
	for _, r := range s {
		if !unicode.IsUpper(r) {
			return false
		}
	}
	return true
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}
