package intent

import (
	"strings"
	"time"
	"unicode"

	"agentic-retrieval-be/pkg/rag/query"
)

// scanner walks the tokens of one query and remembers which positions a
// rule has already claimed.
type scanner struct {
	tokens   []string
	lower    []string
	consumed map[int]bool
}

func newScanner(q string) *scanner {
	tokens := query.Tokenize(q)
	return &scanner{
		tokens:   tokens,
		lower:    query.Lower(tokens),
		consumed: make(map[int]bool),
	}
}

// at reports whether words start at position i, none of them consumed.
func (s *scanner) at(i int, words ...string) bool {
	if i+len(words) > len(s.lower) {
		return false
	}
	for k, w := range words {
		if s.consumed[i+k] || s.lower[i+k] != w {
			return false
		}
	}
	return true
}

func (s *scanner) consume(i, n int) {
	for k := i; k < i+n && k < len(s.lower); k++ {
		s.consumed[k] = true
	}
}

// phrase reports whether words appear anywhere unconsumed.
func (s *scanner) phrase(words ...string) bool {
	for i := range s.lower {
		if s.at(i, words...) {
			return true
		}
	}
	return false
}

func (s *scanner) joined() string {
	return strings.Join(s.lower, " ")
}

// analysis is the outcome of the deterministic pass over one query string.
type analysis struct {
	classification *query.Classification
	noSource       bool
	// unparsedDate is set when a date is mentioned that no rule turned into a window.
	unparsedDate bool
	// asksWhen marks "when was/is ..." questions, whose windows are never inferred.
	asksWhen bool
}

// Words that steer the request but never describe what to search for.
var instructionWords = map[string]bool{
	"summarize": true, "summarise": true, "summary": true, "explain": true, "elaborate": true,
	"expand": true, "translate": true, "details": true, "detail": true, "info": true,
	"information": true, "page": true, "regarding": true, "mention": true, "mentions": true,
	"mentioning": true, "say": true, "says": true, "about": true, "continue": true, "going": true,
	"keep": true, "go": true, "remind": true, "top": true, "results": true, "result": true,
	"mine": true, "up": true, "coming": true, "most": true,
}

// analyzeQuery classifies a query without consulting history.
func analyzeQuery(q string, now time.Time, cfg Config) analysis {
	s := newScanner(q)
	vocab := query.MatchVocabulary(s.lower)

	if len(vocab.Unsupported) > 0 || !cfg.supports(vocab.Apps) {
		return analysis{classification: noSourceClassification(), noSource: true}
	}

	a := analysis{asksWhen: len(s.lower) > 0 && s.lower[0] == "when"}

	f := query.Filters{
		Apps:     vocab.Apps,
		Entities: vocab.Entities,
	}

	if w, ok := parseWindow(s, now); ok {
		f.StartTime, f.EndTime = w.start, w.end
	}
	a.unparsedDate = !f.HasTimeWindow() && mentionsUnparsedDate(s)

	if n, ok := parseCount(s, vocab); ok {
		f.Count = query.IntPtr(n)
	}
	f.SortDirection = parseSort(s)
	temporal := parseTemporal(s)

	if f.HasApp(query.AppMail) || f.HasEntity(query.EntityMessage) {
		f.MailParticipants = parseParticipants(s)
	}

	if kw := keywords(s, vocab); kw != "" {
		f.FilterQuery = query.StringPtr(kw)
	}

	c := &query.Classification{Filters: f, TemporalDirection: temporal}
	c.Normalize()
	if c.Type == query.TypeGetItems && c.Filters.Count == nil {
		c.Filters.Count = query.IntPtr(cfg.pageSize())
	}
	a.classification = c
	return a
}

func noSourceClassification() *query.Classification {
	c := &query.Classification{}
	c.Normalize()
	return c
}

// keywords keeps content tokens in their original case, names included.
func keywords(s *scanner, vocab query.VocabularyMatch) string {
	seen := make(map[string]bool)
	var out []string
	for i, tok := range s.tokens {
		w := s.lower[i]
		if s.consumed[i] || vocab.Consumed[i] || query.IsStopword(w) || instructionWords[w] || isNumeric(w) {
			continue
		}
		if seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, tok)
	}
	return strings.Join(out, " ")
}

func isNumeric(w string) bool {
	if w == "" {
		return false
	}
	for _, r := range w {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

var participantRoles = map[string]string{"from": "from", "to": "to", "cc": "cc", "bcc": "bcc", "by": "from"}

// parseParticipants reads "(from|to|cc|bcc) <address | Capitalised Name>".
// Prepositions are consumed; the names themselves stay available as keywords.
func parseParticipants(s *scanner) *query.Participants {
	p := &query.Participants{}
	for i := 0; i < len(s.lower)-1; i++ {
		role, ok := participantRoles[s.lower[i]]
		if !ok || s.consumed[i] {
			continue
		}
		name, n := participantAt(s, i+1)
		if n == 0 {
			continue
		}
		s.consume(i, 1)
		switch role {
		case "from":
			p.From = append(p.From, name)
		case "to":
			p.To = append(p.To, name)
		case "cc":
			p.Cc = append(p.Cc, name)
		case "bcc":
			p.Bcc = append(p.Bcc, name)
		}
		i += n
	}
	if p.IsEmpty() {
		return nil
	}
	return p
}

// participantAt returns an address or a run of up to three capitalised tokens.
func participantAt(s *scanner, i int) (string, int) {
	if i >= len(s.tokens) || s.consumed[i] {
		return "", 0
	}
	if strings.Contains(s.tokens[i], "@") {
		return s.tokens[i], 1
	}
	var parts []string
	for k := i; k < len(s.tokens) && len(parts) < 3; k++ {
		if s.consumed[k] || !isCapitalised(s.tokens[k]) || query.IsStopword(s.lower[k]) {
			break
		}
		parts = append(parts, s.tokens[k])
	}
	return strings.Join(parts, " "), len(parts)
}

func isCapitalised(tok string) bool {
	for _, r := range tok {
		return unicode.IsUpper(r)
	}
	return false
}

// Analyze runs the query rules alone, without history or follow-up resolution.
func Analyze(q string, now time.Time, cfg Config) (*query.Classification, bool) {
	a := analyzeQuery(q, now, cfg)
	return a.classification, a.noSource
}
