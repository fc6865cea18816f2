package normalize

import (
	"strconv"
	"strings"
	"unicode"
)

// lexicon maps spelled-out number phrases to their digit form. Every word
// that appears inside a phrase is also a phrase on its own (or a stopword),
// which keeps Normalize idempotent.
type lexicon struct {
	phrases map[string]string
	maxLen  int
}

func newLexicon() *lexicon {
	return &lexicon{phrases: make(map[string]string)}
}

func (l *lexicon) add(phrase string, n int) {
	if _, ok := l.phrases[phrase]; ok {
		return
	}
	l.phrases[phrase] = strconv.Itoa(n)
	if words := len(strings.Fields(phrase)); words > l.maxLen {
		l.maxLen = words
	}
}

type segment struct {
	text string
	word bool
}

// segments splits s into alternating runs of letters/digits and everything else.
func segments(s string) []segment {
	var segs []segment
	var b strings.Builder
	inWord := false
	for _, r := range s {
		w := unicode.IsLetter(r) || unicode.IsDigit(r)
		if w != inWord && b.Len() > 0 {
			segs = append(segs, segment{text: b.String(), word: inWord})
			b.Reset()
		}
		inWord = w
		b.WriteRune(r)
	}
	if b.Len() > 0 {
		segs = append(segs, segment{text: b.String(), word: inWord})
	}
	return segs
}

// joinable reports whether a separator may sit inside a number phrase.
func joinable(sep string) bool {
	return strings.Trim(sep, " \t\r\n-") == ""
}

// replace rewrites the longest matching number phrases in s, leaving every
// other character untouched.
func (l *lexicon) replace(s string) string {
	if l == nil || len(l.phrases) == 0 {
		return s
	}
	segs := segments(s)
	var out strings.Builder
	out.Grow(len(s))

	for i := 0; i < len(segs); {
		if !segs[i].word {
			out.WriteString(segs[i].text)
			i++
			continue
		}

		words := []string{segs[i].text}
		ends := []int{i}
		for j := i; len(words) < l.maxLen && j+2 < len(segs) && joinable(segs[j+1].text) && segs[j+2].word; j += 2 {
			words = append(words, segs[j+2].text)
			ends = append(ends, j+2)
		}

		matched := false
		for n := len(words); n >= 1; n-- {
			if digits, ok := l.phrases[strings.Join(words[:n], " ")]; ok {
				out.WriteString(digits)
				i = ends[n-1] + 1
				matched = true
				break
			}
		}
		if !matched {
			out.WriteString(segs[i].text)
			i++
		}
	}
	return out.String()
}

var (
	englishUnits = []string{"zero", "one", "two", "three", "four", "five", "six", "seven", "eight", "nine",
		"ten", "eleven", "twelve", "thirteen", "fourteen", "fifteen", "sixteen", "seventeen", "eighteen", "nineteen"}
	englishTens = []string{"", "", "twenty", "thirty", "forty", "fifty", "sixty", "seventy", "eighty", "ninety"}
)

// englishWords spells 0..99.
func englishWords(n int) string {
	if n < 20 {
		return englishUnits[n]
	}
	if n%10 == 0 {
		return englishTens[n/10]
	}
	return englishTens[n/10] + " " + englishUnits[n%10]
}

func englishNumbers() *lexicon {
	l := newLexicon()
	for n := 0; n < 100; n++ {
		l.add(englishWords(n), n)
	}
	l.add("hundred", 100)
	l.add("thousand", 1000)
	l.add("one hundred", 100)
	l.add("one thousand", 1000)
	l.add("two thousand", 2000)

	// Year names: "nineteen ninety nine", "twenty twenty three", "two thousand five".
	for yy := 50; yy < 100; yy++ {
		l.add("nineteen "+englishWords(yy), 1900+yy)
	}
	for yy := 10; yy < 40; yy++ {
		l.add("twenty "+englishWords(yy), 2000+yy)
	}
	for yy := 1; yy < 40; yy++ {
		l.add("two thousand "+englishWords(yy), 2000+yy)
	}
	return l
}

var (
	spanishUnits = []string{"cero", "uno", "dos", "tres", "cuatro", "cinco", "seis", "siete", "ocho", "nueve",
		"diez", "once", "doce", "trece", "catorce", "quince", "dieciseis", "diecisiete", "dieciocho", "diecinueve",
		"veinte", "veintiuno", "veintidos", "veintitres", "veinticuatro", "veinticinco", "veintiseis", "veintisiete",
		"veintiocho", "veintinueve"}
	spanishTens = []string{"", "", "", "treinta", "cuarenta", "cincuenta", "sesenta", "setenta", "ochenta", "noventa"}
)

// spanishWords spells 0..99 without diacritics, since they are stripped
// before the lexicon runs.
func spanishWords(n int) string {
	if n < 30 {
		return spanishUnits[n]
	}
	if n%10 == 0 {
		return spanishTens[n/10]
	}
	return spanishTens[n/10] + " y " + spanishUnits[n%10]
}

func spanishNumbers() *lexicon {
	l := newLexicon()
	for n := 0; n < 100; n++ {
		l.add(spanishWords(n), n)
	}
	l.add("cien", 100)
	l.add("mil", 1000)
	l.add("dos mil", 2000)
	for yy := 1; yy < 40; yy++ {
		l.add("dos mil "+spanishWords(yy), 2000+yy)
	}
	return l
}

func englishStopWords() map[string]bool {
	return wordSet(
		// articles and determiners
		"a", "an", "the", "this", "that", "these", "those", "any", "some",
		// pronouns
		"i", "me", "my", "we", "us", "our", "you", "your", "it", "its", "they", "them", "their",
		// auxiliaries
		"is", "are", "was", "were", "be", "been", "being", "am", "do", "does", "did",
		"have", "has", "had", "can", "could", "would", "should", "will", "shall", "might",
		// prepositions and conjunctions without ordering meaning
		"of", "to", "in", "on", "at", "by", "for", "with", "from", "as", "and", "or", "into", "about",
		// request filler
		"what", "please", "show", "tell", "give", "list", "find", "get", "there",
	)
}

func spanishStopWords() map[string]bool {
	return wordSet(
		"el", "la", "los", "las", "un", "una", "unos", "unas", "lo",
		"de", "del", "al", "a", "en", "y", "e", "o", "u", "con", "por", "para", "sobre",
		"que", "se", "es", "son", "fue", "fueron", "ser", "esta", "este", "estos", "estas", "eso", "esa",
		"le", "les", "su", "sus", "mi", "mis", "me", "nos", "hay",
		"dime", "dame", "muestra", "muestrame", "favor", "cual", "cuales",
	)
}

func wordSet(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}
