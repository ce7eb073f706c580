package intent

import (
	"strings"

	"agentic-retrieval-be/pkg/rag/chain"
	"agentic-retrieval-be/pkg/rag/evidence"
	"agentic-retrieval-be/pkg/rag/query"
)

var (
	personPronouns = map[string]bool{
		"he": true, "him": true, "his": true, "she": true, "her": true, "hers": true,
		"they": true, "them": true, "their": true, "theirs": true,
	}
	possessivePronouns = map[string]bool{"his": true, "their": true, "theirs": true, "hers": true}
	demonstratives     = map[string]bool{"that": true, "this": true, "those": true, "these": true}
	// Nouns that make a demonstrative point at earlier content.
	referentNouns = map[string]bool{
		"one": true, "ones": true, "thing": true, "things": true, "item": true, "items": true,
		"result": true, "results": true, "topic": true, "thread": true, "person": true,
		"project": true, "link": true, "conversation": true,
	}
	ordinals = map[string]int{
		"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5,
		"1st": 1, "2nd": 2, "3rd": 3, "4th": 4, "5th": 5, "last": -1,
	}
	bareInstructions = map[string]bool{
		"summarize": true, "summarise": true, "explain": true, "elaborate": true, "expand": true,
		"translate": true, "details": true, "continue": true,
	}
)

// markers are the follow-up signals found in a query.
type markers struct {
	person        []int
	demonstrative []int
	continuation  bool
	ordinal       int
	ordinalAt     int
	ordinalLen    int
	bare          bool
}

func (m markers) any() bool {
	return len(m.person)+len(m.demonstrative) > 0 || m.continuation || m.ordinal != 0 || m.bare
}

// detectMarkers runs after time phrases are consumed, so "this week" is not
// mistaken for a demonstrative.
func detectMarkers(s *scanner, vocab query.VocabularyMatch) markers {
	var m markers

	for i, w := range s.lower {
		if s.consumed[i] {
			continue
		}
		switch {
		case personPronouns[w]:
			m.person = append(m.person, i)
		case w == "it":
			m.demonstrative = append(m.demonstrative, i)
		case demonstratives[w]:
			last := i == len(s.lower)-1
			if last || (i+1 < len(s.lower) && (referentNouns[s.lower[i+1]] || vocab.Consumed[i+1])) {
				m.demonstrative = append(m.demonstrative, i)
			}
		}
	}

	for i := range s.lower {
		switch {
		case s.at(i, "next", "page"), s.at(i, "the", "rest"), s.at(i, "what", "else"),
			s.at(i, "anything", "else"), s.at(i, "keep", "going"), s.at(i, "go", "on"):
			s.consume(i, 2)
			m.continuation = true
		case s.at(i, "more"):
			if i+1 < len(s.lower) && (s.lower[i+1] == "about" || s.lower[i+1] == "on" || s.lower[i+1] == "details") {
				continue
			}
			s.consume(i, 1)
			m.continuation = true
		case s.at(i, "another"), s.at(i, "others"), s.at(i, "continue"):
			s.consume(i, 1)
			m.continuation = true
		}
	}

	for i := range s.lower {
		if !s.at(i, "the") || i+1 >= len(s.lower) {
			continue
		}
		n, ok := ordinals[s.lower[i+1]]
		if !ok || s.consumed[i+1] {
			continue
		}
		length := 2
		if i+2 < len(s.lower) && (referentNouns[s.lower[i+2]] || vocab.Consumed[i+2]) {
			length = 3
		} else if i+2 < len(s.lower) && n == -1 {
			// "the last week" and similar are not ordinals
			continue
		}
		m.ordinal, m.ordinalAt, m.ordinalLen = n, i, length
		break
	}

	m.bare = isBareInstruction(s, vocab)
	return m
}

// isBareInstruction matches "summarize", "explain", "continue" with nothing to act on.
func isBareInstruction(s *scanner, vocab query.VocabularyMatch) bool {
	if len(s.lower) == 0 || len(vocab.Apps)+len(vocab.Entities) > 0 {
		return false
	}
	verb := false
	for _, w := range s.lower {
		switch {
		case bareInstructions[w]:
			verb = true
		case query.IsStopword(w):
		default:
			return false
		}
	}
	return verb
}

// resolution is a referent found for a follow-up.
type resolution struct {
	record chain.Record
	person string
	topic  string
	item   *evidence.Fragment
}

// resolve tries the active chain, then archived chains newest first. A
// chain must satisfy every marker present in the query.
func resolve(m markers, snap chain.Snapshot) (resolution, bool) {
	var candidates []chain.Record
	if snap.Active != nil {
		candidates = append(candidates, *snap.Active)
	}
	candidates = append(candidates, snap.Archived...)

	for _, rec := range candidates {
		r := resolution{record: rec, topic: rec.LastQuery}
		if len(m.person) > 0 {
			r.person = personOf(rec)
			if r.person == "" {
				continue
			}
		}
		if (len(m.demonstrative) > 0 || m.bare) && r.topic == "" {
			continue
		}
		if m.continuation && rec.LastClassification == nil {
			continue
		}
		if m.ordinal != 0 {
			idx := m.ordinal - 1
			if m.ordinal == -1 {
				idx = len(rec.LastEvidence) - 1
			}
			if idx < 0 || idx >= len(rec.LastEvidence) {
				continue
			}
			item := rec.LastEvidence[idx]
			r.item = &item
		}
		return r, true
	}
	return resolution{}, false
}

// personOf finds the person a chain was about: a mail participant, a contact
// it retrieved, or a name introduced by a participant preposition. Other
// capitalised words (places, products) never stand in for a pronoun.
func personOf(rec chain.Record) string {
	if c := rec.LastClassification; c != nil {
		if all := c.Filters.MailParticipants.All(); len(all) > 0 {
			return all[0]
		}
	}
	for _, f := range rec.LastEvidence {
		if f.SourceType == evidence.SourceContact && f.Title != "" {
			return f.Title
		}
	}
	return namedParticipant(newScanner(rec.LastQuery))
}

var personPrepositions = map[string]bool{
	"from": true, "to": true, "cc": true, "bcc": true, "by": true, "with": true,
}

// namedParticipant returns the first name that follows a participant preposition.
func namedParticipant(s *scanner) string {
	for i := 0; i < len(s.lower)-1; i++ {
		if !personPrepositions[s.lower[i]] {
			continue
		}
		name, n := participantAt(s, i+1)
		if n == 0 {
			continue
		}
		if _, vocab := query.ParseApp(name); vocab {
			continue
		}
		return name
	}
	return ""
}

// referentSource checks that the terms a model rewrite introduces come from
// the session: a chain first (its id is returned), then the recent turns,
// which belong to the active chain when there is one.
func referentSource(rewrite string, in Input) (string, bool) {
	added := introducedTerms(rewrite, in.Query)
	if len(added) == 0 {
		return "", false
	}

	var candidates []chain.Record
	if in.Chains.Active != nil {
		candidates = append(candidates, *in.Chains.Active)
	}
	candidates = append(candidates, in.Chains.Archived...)
	for _, rec := range candidates {
		if coversTerms(recordWords(rec), added) {
			return rec.ID, true
		}
	}

	words := make(map[string]bool)
	for _, t := range in.Turns {
		addWords(words, t.Query)
		addWords(words, t.Answer)
		for _, f := range t.Citations {
			addWords(words, f.Title)
			addWords(words, f.Snippet)
		}
	}
	if coversTerms(words, added) {
		if in.Chains.Active != nil {
			return in.Chains.Active.ID, true
		}
		return "", true
	}
	return "", false
}

// introducedTerms lists the content terms of rewrite absent from original.
func introducedTerms(rewrite, original string) []string {
	have := make(map[string]bool)
	addWords(have, original)
	var out []string
	for _, t := range query.Lower(query.ContentTerms(rewrite)) {
		if !have[t] {
			out = append(out, t)
		}
	}
	return out
}

func recordWords(rec chain.Record) map[string]bool {
	words := make(map[string]bool)
	addWords(words, rec.LastQuery)
	if c := rec.LastClassification; c != nil {
		for _, p := range c.Filters.MailParticipants.All() {
			addWords(words, p)
		}
		if c.Filters.FilterQuery != nil {
			addWords(words, *c.Filters.FilterQuery)
		}
	}
	for _, f := range rec.LastEvidence {
		addWords(words, f.Title)
		addWords(words, f.Snippet)
	}
	return words
}

func addWords(words map[string]bool, text string) {
	for _, w := range query.Lower(query.Tokenize(text)) {
		words[w] = true
	}
}

func coversTerms(words map[string]bool, terms []string) bool {
	for _, t := range terms {
		if !words[t] {
			return false
		}
	}
	return true
}

// rewrite substitutes the resolved referent into the query.
func rewrite(s *scanner, m markers, r resolution) string {
	out := make([]string, 0, len(s.tokens)+4)
	skip := make(map[int]bool)

	if r.item != nil {
		for k := m.ordinalAt; k < m.ordinalAt+m.ordinalLen; k++ {
			skip[k] = true
		}
	}

	for i, tok := range s.tokens {
		if skip[i] {
			if r.item != nil && i == m.ordinalAt {
				out = append(out, r.item.Title)
			}
			continue
		}
		w := s.lower[i]
		switch {
		case personPronouns[w] && r.person != "":
			if possessivePronouns[w] || (w == "her" && i+1 < len(s.lower) && !query.IsStopword(s.lower[i+1])) {
				out = append(out, r.person+"'s")
			} else {
				out = append(out, r.person)
			}
		case contains(m.demonstrative, i):
			out = append(out, r.topic)
			if i+1 < len(s.lower) && referentNouns[s.lower[i+1]] {
				skip[i+1] = true
			}
		default:
			out = append(out, tok)
		}
	}

	text := strings.Join(out, " ")
	if m.bare && len(m.demonstrative) == 0 && r.topic != "" {
		text += " " + r.topic
	}
	return text
}

func contains(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// paginate continues the previous listing: offset advances by the previous count.
func paginate(prev *query.Classification, count *int, pageSize int) *query.Classification {
	c := prev.Clone()
	prevCount := pageSize
	if prev.Filters.Count != nil {
		prevCount = *prev.Filters.Count
	}
	c.Filters.Offset = query.IntPtr(prev.Filters.RequestedOffset() + prevCount)
	if count != nil {
		c.Filters.Count = query.IntPtr(*count)
	} else {
		c.Filters.Count = query.IntPtr(prevCount)
	}
	return c
}
