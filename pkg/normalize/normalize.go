// Package normalize canonicalizes questions and SQL text into
// comparison-stable forms and derives cache keys from them.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Language selects the stopword set and number lexicon.
type Language string

const (
	English Language = "en"
	Spanish Language = "es"
)

var (
	punctuationRegex = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
)

// Normalizer turns free text into its canonical form. It is immutable after
// construction and safe for concurrent use.
type Normalizer struct {
	lang      Language
	stopWords map[string]bool
	numbers   *lexicon
}

// New creates a Normalizer for the given language. Unknown languages fall
// back to English.
func New(lang Language) *Normalizer {
	switch lang {
	case Spanish:
		return &Normalizer{lang: Spanish, stopWords: spanishStopWords(), numbers: spanishNumbers()}
	default:
		return &Normalizer{lang: English, stopWords: englishStopWords(), numbers: englishNumbers()}
	}
}

// Language returns the language the normalizer was built for.
func (n *Normalizer) Language() Language {
	return n.lang
}

// Normalize returns the canonical form used for hashing and embedding.
// Tokens are sorted, so questions that differ only in word order collapse
// to the same string.
func (n *Normalizer) Normalize(text string) string {
	tokens := n.tokens(text)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

// NormalizeForIndexing applies every step of Normalize except the token sort.
func (n *Normalizer) NormalizeForIndexing(text string) string {
	return strings.Join(n.tokens(text), " ")
}

// Keywords returns the distinct meaningful tokens of text in order of first
// appearance.
func (n *Normalizer) Keywords(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, tok := range n.tokens(text) {
		if seen[tok] {
			continue
		}
		if len([]rune(tok)) < 3 && !isNumber(tok) {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}

func (n *Normalizer) tokens(text string) []string {
	s := strings.ToLower(text)
	s = stripDiacritics(s)
	s = n.numbers.replace(s)
	s = punctuationRegex.ReplaceAllString(s, " ")

	words := strings.Fields(s)
	out := make([]string, 0, len(words))
	for _, w := range words {
		if n.stopWords[w] {
			continue
		}
		out = append(out, w)
	}
	return out
}

func stripDiacritics(s string) string {
	// transform chains carry state, build one per call
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func isNumber(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

var defaultNormalizer = New(English)

// Normalize canonicalizes text with the English normalizer.
func Normalize(text string) string {
	return defaultNormalizer.Normalize(text)
}

// Hash returns the hex SHA-256 digest of s. Callers pass already-normalized text.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// NormalizeSQL lowercases SQL text, strips comments, collapses whitespace and
// drops trailing semicolons. Quoted literals and identifiers are kept
// verbatim, so '--' or '/*' inside them is not a comment.
func NormalizeSQL(sql string) string {
	var b strings.Builder
	b.Grow(len(sql))
	space := false
	flush := func() {
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
	}

	for i := 0; i < len(sql); {
		c := sql[i]
		switch {
		case c == '\'' || c == '"':
			end := quotedEnd(sql, i)
			flush()
			b.WriteString(sql[i:end])
			i = end
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			for i < len(sql) && sql[i] != '\n' {
				i++
			}
			space = true
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			if end := strings.Index(sql[i+2:], "*/"); end >= 0 {
				i += end + 4
			} else {
				i = len(sql)
			}
			space = true
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v':
			space = true
			i++
		default:
			flush()
			start := i
			for i < len(sql) && !sqlBoundary(sql, i) {
				i++
			}
			b.WriteString(strings.ToLower(sql[start:i]))
		}
	}
	return strings.TrimRight(b.String(), "; ")
}

// quotedEnd returns the index just past the literal opened at sql[start].
// A doubled quote is an escaped quote. An unterminated literal runs to the end.
func quotedEnd(sql string, start int) int {
	q := sql[start]
	for i := start + 1; i < len(sql); i++ {
		if sql[i] != q {
			continue
		}
		if i+1 < len(sql) && sql[i+1] == q {
			i++
			continue
		}
		return i + 1
	}
	return len(sql)
}

func sqlBoundary(sql string, i int) bool {
	switch c := sql[i]; c {
	case '\'', '"', ' ', '\t', '\n', '\r', '\f', '\v':
		return true
	case '-':
		return i+1 < len(sql) && sql[i+1] == '-'
	case '/':
		return i+1 < len(sql) && sql[i+1] == '*'
	}
	return false
}

// HashSQL is Hash(NormalizeSQL(sql)).
func HashSQL(sql string) string {
	return Hash(NormalizeSQL(sql))
}
