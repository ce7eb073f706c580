package search

import (
	"strings"
)

type Strategy string

const (
	StrategyLiteral  Strategy = "literal"
	StrategySemantic Strategy = "semantic"
)

// DetermineStrategy decides between literal and semantic matching for a content query.
func DetermineStrategy(q string) Strategy {
	q = strings.TrimSpace(q)

	// Structured separators and addresses mean the user wants an exact match.
	if strings.ContainsAny(q, "/:=@") {
		return StrategyLiteral
	}

	// Very short queries and codes are literal lookups.
	if len(q) <= 3 {
		return StrategyLiteral
	}

	if strings.HasPrefix(q, "\"") && strings.HasSuffix(q, "\"") {
		return StrategyLiteral
	}

	// Single capitalised tokens are usually names ("OpenAI", "John").
	if !strings.Contains(q, " ") && strings.ToLower(q) != q {
		return StrategyLiteral
	}

	return StrategySemantic
}
