package intent

import (
	"strconv"
	"time"

	"agentic-retrieval-be/pkg/rag/query"
)

// window is a parsed [start, end) time range.
type window struct {
	start *time.Time
	end   *time.Time
}

var numberWords = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6, "seven": 7,
	"eight": 8, "nine": 9, "ten": 10, "eleven": 11, "twelve": 12, "fifteen": 15, "twenty": 20,
	"a": 1, "an": 1, "couple": 2, "few": 3,
}

func parseNumber(tok string) (int, bool) {
	if n, err := strconv.Atoi(tok); err == nil && n > 0 && n <= 100 {
		return n, true
	}
	n, ok := numberWords[tok]
	return n, ok
}

var unitDays = map[string]int{
	"day": 1, "days": 1,
	"week": 7, "weeks": 7,
	"month": 30, "months": 30,
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// startOfWeek treats Monday as the first day.
func startOfWeek(t time.Time) time.Time {
	sod := startOfDay(t)
	offset := (int(sod.Weekday()) + 6) % 7
	return sod.AddDate(0, 0, -offset)
}

func startOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}

func span(start, end time.Time) window {
	return window{start: &start, end: &end}
}

// parseWindow consumes the first explicit time phrase in lower.
func parseWindow(s *scanner, now time.Time) (window, bool) {
	sod := startOfDay(now)
	sow := startOfWeek(now)
	som := startOfMonth(now)

	for i := 0; i < len(s.lower); i++ {
		if s.consumed[i] {
			continue
		}
		switch {
		case s.at(i, "today"):
			s.consume(i, 1)
			return span(sod, sod.AddDate(0, 0, 1)), true
		case s.at(i, "yesterday"):
			s.consume(i, 1)
			return span(sod.AddDate(0, 0, -1), sod), true
		case s.at(i, "tomorrow"):
			s.consume(i, 1)
			return span(sod.AddDate(0, 0, 1), sod.AddDate(0, 0, 2)), true
		case s.at(i, "this", "week"):
			s.consume(i, 2)
			return span(sow, sow.AddDate(0, 0, 7)), true
		case s.at(i, "last", "week"), s.at(i, "previous", "week"):
			s.consume(i, 2)
			return span(sow.AddDate(0, 0, -7), sow), true
		case s.at(i, "next", "week"):
			s.consume(i, 2)
			return span(sow.AddDate(0, 0, 7), sow.AddDate(0, 0, 14)), true
		case s.at(i, "this", "month"):
			s.consume(i, 2)
			return span(som, som.AddDate(0, 1, 0)), true
		case s.at(i, "last", "month"), s.at(i, "previous", "month"):
			s.consume(i, 2)
			return span(som.AddDate(0, -1, 0), som), true
		case s.at(i, "past", "week"):
			s.consume(i, 2)
			return span(now.AddDate(0, 0, -7), now), true
		case s.at(i, "past", "month"):
			s.consume(i, 2)
			return span(now.AddDate(0, -1, 0), now), true
		}

		// last|past N days|weeks|months
		if (s.lower[i] == "last" || s.lower[i] == "past") && i+2 < len(s.lower) {
			n, ok := parseNumber(s.lower[i+1])
			days, unit := unitDays[s.lower[i+2]]
			if ok && unit {
				s.consume(i, 3)
				return span(sod.AddDate(0, 0, -n*days), now), true
			}
		}
	}
	return window{}, false
}

var (
	descWords = map[string]bool{"latest": true, "recent": true, "recently": true, "newest": true, "last": true}
	ascWords  = map[string]bool{"earliest": true, "oldest": true, "first": true}
	nextWords = map[string]bool{"next": true, "upcoming": true, "coming": true}
	prevWords = map[string]bool{"last": true, "previous": true, "past": true, "earlier": true}
)

// parseSort ignores tokens already claimed by a time or follow-up phrase.
func parseSort(s *scanner) query.SortDirection {
	for i := range s.lower {
		if s.consumed[i] {
			continue
		}
		if s.at(i, "most", "recent") {
			return query.SortDesc
		}
		if descWords[s.lower[i]] {
			return query.SortDesc
		}
		if ascWords[s.lower[i]] {
			return query.SortAsc
		}
	}
	return query.SortNone
}

func parseTemporal(s *scanner) query.TemporalDirection {
	for i := range s.lower {
		if s.consumed[i] {
			continue
		}
		if nextWords[s.lower[i]] {
			return query.TemporalNext
		}
		if prevWords[s.lower[i]] {
			return query.TemporalPrev
		}
	}
	return query.TemporalNone
}

// parseCount handles "last 5 emails", "3 more", "top ten documents".
func parseCount(s *scanner, vocab query.VocabularyMatch) (int, bool) {
	for i := range s.lower {
		if s.consumed[i] {
			continue
		}
		n, ok := parseNumber(s.lower[i])
		if !ok || s.lower[i] == "a" || s.lower[i] == "an" {
			continue
		}
		if i+1 >= len(s.lower) {
			continue
		}
		next := s.lower[i+1]
		if vocab.Consumed[i+1] || next == "more" || next == "results" || next == "items" || next == "things" {
			s.consume(i, 1)
			return n, true
		}
	}
	return 0, false
}

var monthAndDayNames = map[string]bool{
	"january": true, "february": true, "march": true, "april": true, "june": true, "july": true,
	"august": true, "september": true, "october": true, "november": true, "december": true,
	"monday": true, "tuesday": true, "wednesday": true, "thursday": true, "friday": true,
	"saturday": true, "sunday": true, "weekend": true,
}

// mentionsUnparsedDate reports calendar words the deterministic parser does not turn into a window.
func mentionsUnparsedDate(s *scanner) bool {
	for i, w := range s.lower {
		if !s.consumed[i] && monthAndDayNames[w] {
			return true
		}
	}
	return false
}
