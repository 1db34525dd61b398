// Package textutil turns free-text product names into storage-safe keys and
// lowercase search tokens. All functions are pure and deterministic.
package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// maxKeyLength bounds generated keys to satisfy document-store ID limits.
const maxKeyLength = 100

// minTokenLength filters out single-character noise tokens.
const minTokenLength = 2

var diacriticStripper = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeKey converts a product name into a canonical lowercase key
// containing only [a-z0-9-]. Diacritics are folded, anything outside the safe
// set is dropped, whitespace runs become single hyphens, and the result is
// capped at 100 bytes.
func NormalizeKey(name string) string {
	folded, _, err := transform.String(diacriticStripper, name)
	if err != nil {
		folded = name
	}
	lowered := strings.ToLower(folded)

	var b strings.Builder
	b.Grow(len(lowered))
	for _, r := range lowered {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}

	key := strings.Join(strings.Fields(b.String()), "-")
	key = collapseHyphens(key)
	key = strings.Trim(key, "-")
	if len(key) > maxKeyLength {
		key = strings.Trim(key[:maxKeyLength], "-")
	}
	return key
}

// MaterialID derives the composite cache identity for a material priced in a
// region. The region is part of the identity, not a filter dimension: the same
// product priced elsewhere is a different record.
func MaterialID(name, regionCode string) string {
	return NormalizeKey(name) + "_" + strings.TrimSpace(regionCode)
}

// Tokenize lowercases the query, splits on whitespace, and drops tokens
// shorter than two runes. Order is preserved and duplicates removed keeping
// the first occurrence.
func Tokenize(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	seen := make(map[string]struct{}, len(fields))
	tokens := make([]string, 0, len(fields))
	for _, field := range fields {
		if len([]rune(field)) < minTokenLength {
			continue
		}
		if _, ok := seen[field]; ok {
			continue
		}
		seen[field] = struct{}{}
		tokens = append(tokens, field)
	}
	return tokens
}

// WordSet builds the union of tokens across the provided strings, used for
// overlap scoring during disambiguation.
func WordSet(values ...string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, value := range values {
		for _, token := range Tokenize(value) {
			set[token] = struct{}{}
		}
	}
	return set
}

func collapseHyphens(value string) string {
	for strings.Contains(value, "--") {
		value = strings.ReplaceAll(value, "--", "-")
	}
	return value
}
