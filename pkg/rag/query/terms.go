package query

import (
	"strings"
	"unicode"
)

// stopwords are generic verbs, pronouns, quantity and time words that never
// carry content on their own.
var stopwords = toWordSet(`
a an the and or but of to in on at for by with about from into over under
is are was were be been being am do does did done have has had having
i me my mine myself you your yours we us our ours he him his she her hers they them their theirs it its
this that these those there here what which who whom whose when where why how
show find get give list tell search look fetch pull display see check open read send
can could would should will shall may might must please just also any some all every each
more most less least many much few several lot lots other another else rest
latest recent recently newest last earliest oldest first next previous past upcoming coming earlier later
today yesterday tomorrow tonight now week weeks month months year years day days hour hours morning afternoon evening
ago since before after between during within
one two three four five six seven eight nine ten twenty dozen
anything something everything nothing stuff things thing item items
did i ask asked said question questions
hi hello hey thanks thank ok okay yes no not
new old sent received got
`)

func toWordSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(s) {
		out[w] = struct{}{}
	}
	return out
}

// IsStopword expects a lowercased token.
func IsStopword(w string) bool {
	_, ok := stopwords[w]
	return ok
}

// Tokenize splits on whitespace and trims surrounding punctuation, keeping case.
func Tokenize(s string) []string {
	fields := strings.Fields(s)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimFunc(f, func(r rune) bool {
			return unicode.IsPunct(r) && r != '@' && r != '-' && r != '.'
		})
		f = strings.TrimRight(f, ".")
		f = strings.TrimSuffix(f, "'s")
		f = strings.TrimSuffix(f, "’s")
		if strings.IndexFunc(f, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }) >= 0 {
			out = append(out, f)
		}
	}
	return out
}

// Lower lowercases every token.
func Lower(tokens []string) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = strings.ToLower(t)
	}
	return out
}

// ContentTerms keeps tokens that are neither stopwords nor vocabulary surface forms.
func ContentTerms(s string) []string {
	tokens := Tokenize(s)
	lower := Lower(tokens)
	vocab := MatchVocabulary(lower)

	var out []string
	for i, t := range tokens {
		if vocab.Consumed[i] || IsStopword(lower[i]) || isNumber(lower[i]) {
			continue
		}
		out = append(out, t)
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
