package response

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"agentic-retrieval-be/pkg/rag/evidence"
)

// MaxCitationsPerStatement bounds the brackets kept in one sentence.
const MaxCitationsPerStatement = 2

var (
	// A trailing "(" marks a markdown link, which is left alone.
	bracketPattern = regexp.MustCompile(`\[([^\[\]\n]*)\](\()?`)
	citationBody   = regexp.MustCompile(`^[\s\d,;.\-]*\d[\s\d,;.\-]*$`)
)

// SanitizeCitations rewrites citation brackets so each holds one valid
// 0-based fragment index: "[1, 2]" becomes "[1][2]", indices outside
// [0, n) or non-integers are dropped, and no statement keeps more than
// MaxCitationsPerStatement brackets.
func SanitizeCitations(text string, n int) string {
	return rewriteCitations(text, func(idx int) bool { return idx >= 0 && idx < n }, MaxCitationsPerStatement)
}

// StripCitations removes every citation bracket.
func StripCitations(text string) string {
	return rewriteCitations(text, func(int) bool { return false }, 0)
}

// CitationIndices lists the cited indices in order of first appearance.
func CitationIndices(text string) []int {
	var out []int
	seen := make(map[int]bool)
	for _, m := range bracketPattern.FindAllStringSubmatch(text, -1) {
		if m[2] != "" || !citationBody.MatchString(m[1]) {
			continue
		}
		for _, part := range splitIndices(m[1]) {
			idx, err := strconv.Atoi(part)
			if err != nil || seen[idx] {
				continue
			}
			seen[idx] = true
			out = append(out, idx)
		}
	}
	return out
}

// ExtractCitations returns the fragments an answer cites, in citation order.
func ExtractCitations(text string, fragments []evidence.Fragment) []evidence.Fragment {
	byIndex := make(map[int]evidence.Fragment, len(fragments))
	for _, f := range fragments {
		byIndex[f.Index] = f
	}
	var out []evidence.Fragment
	for _, idx := range CitationIndices(text) {
		if f, ok := byIndex[idx]; ok {
			out = append(out, f)
		}
	}
	return out
}

func rewriteCitations(text string, valid func(int) bool, perStatement int) string {
	out := make([]byte, 0, len(text))
	last := 0
	count := 0
	seen := make(map[int]bool)

	for _, loc := range bracketPattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := loc[0], loc[1]
		segment := text[last:start]
		out = append(out, segment...)
		if endsStatement(segment) {
			count = 0
			seen = make(map[int]bool)
		}
		last = end

		body := text[loc[2]:loc[3]]
		if loc[4] >= 0 || !citationBody.MatchString(body) {
			out = append(out, text[start:end]...)
			continue
		}

		kept := 0
		for _, part := range splitIndices(body) {
			idx, err := strconv.Atoi(part)
			if err != nil || !valid(idx) || seen[idx] || count >= perStatement {
				continue
			}
			seen[idx] = true
			count++
			kept++
			out = append(out, '[')
			out = strconv.AppendInt(out, int64(idx), 10)
			out = append(out, ']')
		}

		if kept == 0 && len(out) > 0 && out[len(out)-1] == ' ' &&
			(end == len(text) || text[end] == ' ' || strings.ContainsRune(".,;:!?\n", rune(text[end]))) {
			out = out[:len(out)-1]
		}
	}
	out = append(out, text[last:]...)
	return string(out)
}

func splitIndices(body string) []string {
	return strings.FieldsFunc(body, func(r rune) bool {
		return r == ',' || r == ';' || unicode.IsSpace(r)
	})
}

// endsStatement reports whether segment contains a sentence boundary.
func endsStatement(segment string) bool {
	for i := 0; i < len(segment); i++ {
		switch segment[i] {
		case '\n':
			return true
		case '.', '!', '?':
			if i+1 < len(segment) && unicode.IsSpace(rune(segment[i+1])) {
				return true
			}
		}
	}
	return false
}
