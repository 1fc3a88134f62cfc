// Package emailparser decodes contact emails that listing sites obfuscate
// against naive scraping.
package emailparser

import (
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

// Placeholder tokens used by the spamspan obfuscation scheme.
const (
	TokenAt  = "[at]"
	TokenDot = "[dot]"
)

var tokenReplacer = strings.NewReplacer(TokenAt, "@", TokenDot, ".")

// DecodeSpamspan rebuilds an address from a spamspan element.
//
// The text of every inline <span> fragment is trimmed and concatenated in
// document order, then the placeholder tokens are substituted. An element
// without span fragments is decoded from its own text. A nil or empty
// selection yields "".
func DecodeSpamspan(sel *goquery.Selection) string {
	if sel == nil || sel.Length() == 0 {
		return ""
	}

	parts := sel.First().Find("span")
	if parts.Length() == 0 {
		return DecodeTokens(sel.First().Text())
	}

	var b strings.Builder
	parts.Each(func(_ int, s *goquery.Selection) {
		// Nested spans are visited on their own; only take direct text here
		// so a wrapper span does not duplicate its children.
		if s.Find("span").Length() > 0 {
			return
		}
		b.WriteString(strings.TrimSpace(s.Text()))
	})
	return DecodeTokens(b.String())
}

// DecodeTokens substitutes [at] and [dot] in s and drops whitespace, which
// obfuscated addresses often pad the tokens with.
func DecodeTokens(s string) string {
	s = tokenReplacer.Replace(s)
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
