package intent

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"agentic-retrieval-be/pkg/rag/history"
)

type conversationKind int

const (
	notConversational conversationKind = iota
	greeting
	arithmetic
	meta
)

var greetingReplies = map[string]string{
	"hi":             "Hi! What would you like me to look up?",
	"hello":          "Hello! What would you like me to look up?",
	"hey":            "Hey! What would you like me to look up?",
	"hi there":       "Hi! What would you like me to look up?",
	"hello there":    "Hello! What would you like me to look up?",
	"good morning":   "Good morning! What would you like me to look up?",
	"good afternoon": "Good afternoon! What would you like me to look up?",
	"good evening":   "Good evening! What would you like me to look up?",
	"how are you":    "I'm doing well, thanks. What can I find for you?",
	"thanks":         "You're welcome!",
	"thank you":      "You're welcome!",
	"thx":            "You're welcome!",
	"bye":            "Goodbye!",
	"goodbye":        "Goodbye!",
}

var (
	askedPhrases = []string{
		"what did i just ask", "what did i ask", "what was my last question",
		"what was my previous question", "what was my question", "what did i say",
	}
	answeredPhrases = []string{
		"what did you just say", "what did you say", "repeat that", "say that again",
		"what was your last answer", "what was your answer",
	}
)

// conversational answers turns that need no retrieval.
func conversational(s *scanner, raw string, turns []history.Turn) (conversationKind, string) {
	joined := s.joined()

	if reply, ok := greetingReplies[joined]; ok {
		return greeting, reply
	}

	for _, p := range askedPhrases {
		if strings.HasPrefix(joined, p) {
			last, ok := history.Last(turns)
			if !ok {
				return meta, "You haven't asked me anything yet in this conversation."
			}
			return meta, fmt.Sprintf("You asked: %q", last.Query)
		}
	}
	for _, p := range answeredPhrases {
		if strings.HasPrefix(joined, p) {
			last, ok := history.Last(turns)
			if !ok || last.Answer == "" {
				return meta, "I haven't answered anything yet in this conversation."
			}
			return meta, last.Answer
		}
	}

	if expr, ok := arithmeticExpression(raw); ok {
		v, err := evaluate(expr)
		if errors.Is(err, errDivisionByZero) {
			return arithmetic, "That is undefined: it divides by zero."
		}
		if err == nil {
			return arithmetic, fmt.Sprintf("%s = %s", expr, strconv.FormatFloat(v, 'f', -1, 64))
		}
	}

	return notConversational, ""
}

var (
	arithmeticPrefix = regexp.MustCompile(`^(what is|what's|whats|calculate|compute|evaluate|how much is)\s+`)
	arithmeticOnly   = regexp.MustCompile(`^[\d\s.+\-*/()]+$`)
	hasOperator      = regexp.MustCompile(`\d\s*[+\-*/]\s*[\d(]`)
	wordOperators    = strings.NewReplacer(
		"multiplied by", "*", "divided by", "/", "times", "*", "plus", "+", "minus", "-", "over", "/",
	)
)

// arithmeticExpression extracts "12 * 7" from "what is 12 times 7?".
func arithmeticExpression(raw string) (string, bool) {
	q := strings.ToLower(strings.TrimSpace(raw))
	q = strings.TrimRight(q, "?=! ")
	q = arithmeticPrefix.ReplaceAllString(q, "")
	q = wordOperators.Replace(q)
	q = strings.Join(strings.Fields(q), " ")
	if q == "" || !arithmeticOnly.MatchString(q) || !hasOperator.MatchString(q) {
		return "", false
	}
	return q, true
}

var (
	errDivisionByZero = errors.New("division by zero")
	errSyntax         = errors.New("invalid expression")
)

// evaluate is a recursive-descent evaluator over + - * / and parentheses.
func evaluate(expr string) (float64, error) {
	p := &exprParser{in: strings.ReplaceAll(expr, " ", "")}
	v, err := p.sum()
	if err != nil {
		return 0, err
	}
	if p.pos != len(p.in) {
		return 0, errSyntax
	}
	return v, nil
}

type exprParser struct {
	in  string
	pos int
}

func (p *exprParser) peek() byte {
	if p.pos < len(p.in) {
		return p.in[p.pos]
	}
	return 0
}

func (p *exprParser) sum() (float64, error) {
	v, err := p.product()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '+':
			p.pos++
			r, err := p.product()
			if err != nil {
				return 0, err
			}
			v += r
		case '-':
			p.pos++
			r, err := p.product()
			if err != nil {
				return 0, err
			}
			v -= r
		default:
			return v, nil
		}
	}
}

func (p *exprParser) product() (float64, error) {
	v, err := p.factor()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '*':
			p.pos++
			r, err := p.factor()
			if err != nil {
				return 0, err
			}
			v *= r
		case '/':
			p.pos++
			r, err := p.factor()
			if err != nil {
				return 0, err
			}
			if r == 0 {
				return 0, errDivisionByZero
			}
			v /= r
		default:
			return v, nil
		}
	}
}

func (p *exprParser) factor() (float64, error) {
	switch c := p.peek(); {
	case c == '-':
		p.pos++
		v, err := p.factor()
		return -v, err
	case c == '(':
		p.pos++
		v, err := p.sum()
		if err != nil {
			return 0, err
		}
		if p.peek() != ')' {
			return 0, errSyntax
		}
		p.pos++
		return v, nil
	}

	start := p.pos
	for p.pos < len(p.in) && (p.in[p.pos] == '.' || (p.in[p.pos] >= '0' && p.in[p.pos] <= '9')) {
		p.pos++
	}
	if start == p.pos {
		return 0, errSyntax
	}
	return strconv.ParseFloat(p.in[start:p.pos], 64)
}
