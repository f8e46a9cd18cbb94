package cardgraph

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// NewEdgeKey orders a and b so an undirected pair always maps to one key.
func NewEdgeKey(a, b string) EdgeKey {
	if b < a {
		a, b = b, a
	}
	return EdgeKey{Card1: a, Card2: b}
}

func (k EdgeKey) String() string {
	return k.Card1 + KeySeparator + k.Card2
}

// ParseEdgeKey reverses EdgeKey.String, re-ordering the names if needed.
func ParseEdgeKey(s string) (EdgeKey, error) {
	a, b, ok := strings.Cut(s, KeySeparator)
	if !ok || a == "" || b == "" || strings.Contains(b, KeySeparator) {
		return EdgeKey{}, fmt.Errorf("%w: edge key %q", ErrMalformedRecord, s)
	}
	return NewEdgeKey(a, b), nil
}

func NewEdge(key EdgeKey, game string, at time.Time) *Edge {
	return &Edge{
		Card1:         key.Card1,
		Card2:         key.Card2,
		Game:          game,
		FirstSeen:     at,
		LastSeen:      at,
		MonthlyCounts: MonthlyCounts{},
		FormatPeriods: map[string]MonthlyCounts{},
	}
}

func (e *Edge) Key() EdgeKey {
	return EdgeKey{Card1: e.Card1, Card2: e.Card2}
}

// Other returns the endpoint opposite card, or "" if card is not an endpoint.
func (e *Edge) Other(card string) string {
	switch card {
	case e.Card1:
		return e.Card2
	case e.Card2:
		return e.Card1
	default:
		return ""
	}
}

// AddWeight accumulates delta; the weight never drops below zero.
func (e *Edge) AddWeight(delta int64) {
	e.Weight += delta
	if e.Weight < 0 {
		e.Weight = 0
	}
	e.stats = nil
}

// Widen extends the first/last seen interval to include at.
func (e *Edge) Widen(at time.Time) {
	if at.IsZero() {
		return
	}
	if e.FirstSeen.IsZero() || at.Before(e.FirstSeen) {
		e.FirstSeen = at
	}
	if e.LastSeen.IsZero() || at.After(e.LastSeen) {
		e.LastSeen = at
	}
	e.stats = nil
}

// AddDeckSource records deckID once.
func (e *Edge) AddDeckSource(deckID string) bool {
	if deckID == "" || slices.Contains(e.DeckSources, deckID) {
		return false
	}
	e.DeckSources = append(e.DeckSources, deckID)
	return true
}

// ObserveTemporal counts one occurrence in the month of at and, when a
// format label is given, in the matching format period.
func (e *Edge) ObserveTemporal(at time.Time, format string, periods PeriodResolver) {
	if at.IsZero() {
		return
	}
	if e.MonthlyCounts == nil {
		e.MonthlyCounts = MonthlyCounts{}
	}

	month := MonthKey(at)
	e.MonthlyCounts[month]++

	if format = strings.TrimSpace(format); format != "" {
		if e.FormatPeriods == nil {
			e.FormatPeriods = map[string]MonthlyCounts{}
		}
		key := FormatPeriodKey(periods, e.Game, format, at)
		bucket := e.FormatPeriods[key]
		if bucket == nil {
			bucket = MonthlyCounts{}
			e.FormatPeriods[key] = bucket
		}
		bucket[month]++
	}

	e.stats = nil
}

// TemporalStats returns the summary of the monthly distribution, computing it
// on first use after a mutation.
func (e *Edge) TemporalStats() TemporalStats {
	if e.stats == nil {
		s := ComputeTemporalStats(e.MonthlyCounts, e.FirstSeen, e.LastSeen)
		e.stats = &s
	}
	return *e.stats
}

// InvalidateStats drops the cached summary; call it after editing fields directly.
func (e *Edge) InvalidateStats() {
	e.stats = nil
}
