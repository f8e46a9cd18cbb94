package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/arclabs561/decksage-sub002/internal/logger"
	"github.com/arclabs561/decksage-sub002/pkg/cardgraph"
)

// nodeRecord and edgeRecord are the serialized forms shared by both
// backends. Fragile fields stay raw so one bad value drops only that field.
type nodeRecord struct {
	Name       string          `json:"name"`
	Game       string          `json:"game,omitempty"`
	FirstSeen  string          `json:"first_seen"`
	LastSeen   string          `json:"last_seen"`
	TotalDecks int             `json:"total_decks"`
	Attributes json.RawMessage `json:"attributes,omitempty"`
}

type edgeRecord struct {
	Card1         string          `json:"card1"`
	Card2         string          `json:"card2"`
	Game          string          `json:"game,omitempty"`
	Weight        int64           `json:"weight"`
	FirstSeen     string          `json:"first_seen"`
	LastSeen      string          `json:"last_seen"`
	DeckSources   json.RawMessage `json:"deck_sources,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	MonthlyCounts json.RawMessage `json:"monthly_counts,omitempty"`
	FormatPeriods json.RawMessage `json:"format_periods,omitempty"`
}

// loadReport counts what a load had to drop or repair.
type loadReport struct {
	nodes          int
	edges          int
	droppedNodes   int
	droppedEdges   int
	droppedBuckets int
	repairedFields int
}

func (r *loadReport) log(backend, path string) {
	args := []any{"backend", backend, "path", path, "nodes", r.nodes, "edges", r.edges}
	if r.droppedNodes+r.droppedEdges+r.droppedBuckets+r.repairedFields == 0 {
		logger.Info("graph loaded", args...)
		return
	}
	args = append(args,
		"dropped_nodes", r.droppedNodes,
		"dropped_edges", r.droppedEdges,
		"dropped_buckets", r.droppedBuckets,
		"repaired_fields", r.repairedFields,
	)
	logger.Warn("graph loaded with malformed records", args...)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

// parseTime accepts RFC 3339 and the naive ISO forms older graphs were written with.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: timestamp %q", cardgraph.ErrMalformedRecord, s)
}

func recordFromNode(n *cardgraph.CardNode) (nodeRecord, error) {
	rec := nodeRecord{
		Name:       n.Name,
		Game:       n.Game,
		FirstSeen:  formatTime(n.FirstSeen),
		LastSeen:   formatTime(n.LastSeen),
		TotalDecks: n.TotalDecks,
	}
	if len(n.Attributes) > 0 {
		raw, err := json.Marshal(n.Attributes)
		if err != nil {
			return rec, fmt.Errorf("node %q attributes: %w", n.Name, err)
		}
		rec.Attributes = raw
	}
	return rec, nil
}

func (r nodeRecord) toNode(report *loadReport) (*cardgraph.CardNode, error) {
	if r.Name == "" {
		return nil, fmt.Errorf("%w: node without name", cardgraph.ErrMalformedRecord)
	}

	first, err := parseTime(r.FirstSeen)
	if err != nil {
		report.repairedFields++
	}
	last, err := parseTime(r.LastSeen)
	if err != nil {
		report.repairedFields++
	}
	if last.Before(first) {
		last = first
	}

	n := &cardgraph.CardNode{
		Name:       r.Name,
		Game:       r.Game,
		FirstSeen:  first,
		LastSeen:   last,
		TotalDecks: max(r.TotalDecks, 0),
		Attributes: map[string]any{},
	}

	if len(r.Attributes) > 0 && string(r.Attributes) != "null" {
		if err := json.Unmarshal(r.Attributes, &n.Attributes); err != nil {
			logger.Debug("dropping malformed node attributes", "card", r.Name, "error", err)
			n.Attributes = map[string]any{}
			report.repairedFields++
		}
	}

	return n, nil
}

func recordFromEdge(e *cardgraph.Edge) (edgeRecord, error) {
	rec := edgeRecord{
		Card1:     e.Card1,
		Card2:     e.Card2,
		Game:      e.Game,
		Weight:    e.Weight,
		FirstSeen: formatTime(e.FirstSeen),
		LastSeen:  formatTime(e.LastSeen),
	}

	var err error
	sources := e.DeckSources
	if sources == nil {
		sources = []string{}
	}
	if rec.DeckSources, err = json.Marshal(sources); err != nil {
		return rec, err
	}
	if !e.Metadata.IsEmpty() {
		if rec.Metadata, err = json.Marshal(e.Metadata); err != nil {
			return rec, fmt.Errorf("edge %s metadata: %w", e.Key(), err)
		}
	}
	if len(e.MonthlyCounts) > 0 {
		if rec.MonthlyCounts, err = json.Marshal(e.MonthlyCounts); err != nil {
			return rec, err
		}
	}
	if len(e.FormatPeriods) > 0 {
		if rec.FormatPeriods, err = json.Marshal(e.FormatPeriods); err != nil {
			return rec, err
		}
	}
	return rec, nil
}

func (r edgeRecord) toEdge(report *loadReport) (*cardgraph.Edge, error) {
	if r.Card1 == "" || r.Card2 == "" {
		return nil, fmt.Errorf("%w: edge without endpoints", cardgraph.ErrMalformedRecord)
	}
	if r.Card1 == r.Card2 {
		return nil, fmt.Errorf("%w: self edge %q", cardgraph.ErrMalformedRecord, r.Card1)
	}

	first, err := parseTime(r.FirstSeen)
	if err != nil {
		report.repairedFields++
	}
	last, err := parseTime(r.LastSeen)
	if err != nil {
		report.repairedFields++
	}
	if last.Before(first) {
		last = first
	}

	e := cardgraph.NewEdge(cardgraph.NewEdgeKey(r.Card1, r.Card2), r.Game, first)
	e.LastSeen = last
	e.AddWeight(r.Weight)
	if r.Weight < 0 {
		report.repairedFields++
	}

	if len(r.DeckSources) > 0 && string(r.DeckSources) != "null" {
		var sources []string
		if err := json.Unmarshal(r.DeckSources, &sources); err != nil {
			report.repairedFields++
		}
		for _, id := range sources {
			e.AddDeckSource(id)
		}
	}

	if len(r.Metadata) > 0 && string(r.Metadata) != "null" {
		if err := json.Unmarshal(r.Metadata, &e.Metadata); err != nil {
			logger.Debug("dropping malformed edge metadata", "edge", e.Key().String(), "error", err)
			e.Metadata = cardgraph.EdgeMetadata{}
			report.repairedFields++
		}
	}

	var dropped int
	e.MonthlyCounts, dropped = cardgraph.DecodeMonthlyCounts(r.MonthlyCounts)
	report.droppedBuckets += dropped
	periods, dropped := cardgraph.DecodeFormatPeriods(r.FormatPeriods)
	e.FormatPeriods = periods
	report.droppedBuckets += dropped
	if dropped > 0 {
		logger.Debug("dropped temporal buckets", "edge", e.Key().String(), "error", cardgraph.ErrInvalidTemporalBucket)
	}

	e.InvalidateStats()
	return e, nil
}
