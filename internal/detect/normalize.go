package detect

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// nonWord keeps letters and digits from any script; bare \w would delete
// every non-ASCII letter.
var (
	whitespace = regexp.MustCompile(`\s+`)
	nonWord    = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
)

// asciiPunct maps common typographic punctuation variants onto their ASCII
// equivalents before stripping, so curly quotes and long dashes cannot leak
// into the comparison form on texts that mix conventions.
var asciiPunct = strings.NewReplacer(
	"‘", "'", "’", "'",
	"“", `"`, "”", `"`,
	"–", "-", "—", "-",
	"…", "...",
	" ", " ",
)

// Normalize maps raw text to the canonical comparison form: NFKC folding,
// ASCII punctuation variants, lowercase, punctuation stripped, and all runs
// of whitespace collapsed to single spaces. Total and idempotent.
func Normalize(text string) string {
	text = norm.NFKC.String(text)
	text = asciiPunct.Replace(text)
	text = strings.ToLower(text)
	text = nonWord.ReplaceAllString(text, "")
	return whitespace.ReplaceAllString(strings.TrimSpace(text), " ")
}
