package cardgraph

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"
)

func TestDecodeMonthlyCountsDropsMalformed(t *testing.T) {
	raw := []byte(`{"2024-03": 2, "2024-13": 1, "March": 4, "2024-04": "3", "2024-05": -1, "2024-06": 1}`)

	counts, dropped := DecodeMonthlyCounts(raw)

	if len(counts) != 2 || counts["2024-03"] != 2 || counts["2024-06"] != 1 {
		t.Errorf("unexpected counts %v", counts)
	}
	if dropped != 4 {
		t.Errorf("expected 4 dropped entries, got %d", dropped)
	}
}

func TestDecodeMonthlyCountsWrongType(t *testing.T) {
	for _, raw := range []string{`[1,2,3]`, `"2024-03"`, `not json`} {
		counts, dropped := DecodeMonthlyCounts([]byte(raw))
		if len(counts) != 0 {
			t.Errorf("%s: expected empty map, got %v", raw, counts)
		}
		if dropped != 1 {
			t.Errorf("%s: expected 1 dropped, got %d", raw, dropped)
		}
	}

	counts, dropped := DecodeMonthlyCounts(nil)
	if len(counts) != 0 || dropped != 0 {
		t.Errorf("empty input should decode cleanly, got %v %d", counts, dropped)
	}
}

func TestDecodeFormatPeriods(t *testing.T) {
	raw := []byte(`{"Standard_2024": {"2024-03": 1, "bad": 2}, "Modern_2024": {"x": 1}, "Legacy_2023": 5}`)

	periods, dropped := DecodeFormatPeriods(raw)

	if len(periods) != 1 || periods["Standard_2024"]["2024-03"] != 1 {
		t.Errorf("unexpected periods %v", periods)
	}
	if dropped != 3 {
		t.Errorf("expected 3 dropped, got %d", dropped)
	}
}

type failingResolver struct{}

func (failingResolver) PeriodKey(game, format string, at time.Time) (string, error) {
	return "", errors.New("calendar unavailable")
}

func TestFormatPeriodKeyFallbacks(t *testing.T) {
	at := date("2024-03-01")

	if got := FormatPeriodKey(nil, "MTG", "Modern", at); got != "Modern_2024" {
		t.Errorf("expected Modern_2024, got %s", got)
	}
	if got := FormatPeriodKey(failingResolver{}, "MTG", "Modern", at); got != "Modern_2024" {
		t.Errorf("resolver failure must fall back, got %s", got)
	}
	if got := FormatPeriodKey(fixedResolver{key: "X"}, "", "Modern", at); got != "Modern_2024" {
		t.Errorf("unknown game must fall back, got %s", got)
	}
	if got := FormatPeriodKey(fixedResolver{key: "X"}, "MTG", "  ", at); got != "Unknown_2024" {
		t.Errorf("empty label must give Unknown_2024, got %s", got)
	}
}

func TestMetadataProvenanceDedup(t *testing.T) {
	var m EdgeMetadata

	if !m.AddProvenance(TournamentRecord{TopPlacements: []int{3, 1}}) {
		t.Fatal("expected first record to be added")
	}
	if m.AddProvenance(TournamentRecord{TopPlacements: []int{1, 3}}) {
		t.Error("same placement set must be deduplicated")
	}
	if !m.AddProvenance(AttributeRecord{Type: "rarity", Value: "rare"}) {
		t.Error("expected attribute record to be added")
	}
	if m.AddProvenance(AttributeRecord{Type: "rarity", Value: "rare", Weight: 5}) {
		t.Error("weight must not affect identity")
	}
	if m.ProvenanceCount(KindTournament) != 1 || m.ProvenanceCount(KindAttribute) != 1 {
		t.Errorf("unexpected counts %+v", m)
	}
}

func TestMetadataJSONKeepsUnknownKeys(t *testing.T) {
	raw := []byte(`{"formats":["Modern"],"placements":[1,"4","x"],"custom":{"a":1},"archetypes":"Burn","tournament_performance":{"top_placements":[2],"performance_boost":2,"min_placement":8}}`)

	var m EdgeMetadata
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}

	if len(m.Placements) != 2 || m.Placements[1] != 4 {
		t.Errorf("unexpected placements %v", m.Placements)
	}
	if len(m.Tournament) != 1 || m.Tournament[0].TopPlacements[0] != 2 {
		t.Errorf("legacy tournament object not accepted: %v", m.Tournament)
	}
	if _, ok := m.Extra["custom"]; !ok {
		t.Error("unknown key dropped")
	}
	if _, ok := m.Extra["archetypes"]; !ok {
		t.Error("malformed known key should be preserved in Extra")
	}

	out, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	var back map[string]any
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatalf("failed to unmarshal output: %v", err)
	}
	if _, ok := back["custom"]; !ok {
		t.Error("unknown key lost on marshal")
	}
	if back["archetypes"] != "Burn" {
		t.Errorf("expected preserved raw archetypes, got %v", back["archetypes"])
	}
}

func TestMetadataJSONPartialListKeptRaw(t *testing.T) {
	raw := []byte(`{"pack_co_occurrences":[{"pack_id":"P1"},5],"formats":["Modern",3]}`)

	var m EdgeMetadata
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if len(m.Packs) != 0 || len(m.Formats) != 0 {
		t.Errorf("malformed lists must not be partly decoded, got packs %v formats %v", m.Packs, m.Formats)
	}

	out, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	var back map[string]json.RawMessage
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatalf("failed to unmarshal output: %v", err)
	}
	if got := string(back["pack_co_occurrences"]); got != `[{"pack_id":"P1"},5]` {
		t.Errorf("expected raw packs preserved, got %s", got)
	}
	if got := string(back["formats"]); got != `["Modern",3]` {
		t.Errorf("expected raw formats preserved, got %s", got)
	}
}

func TestComputeTemporalStats(t *testing.T) {
	counts := MonthlyCounts{"2024-01": 1, "2024-02": 3, "2024-03": 1}
	stats := ComputeTemporalStats(counts, date("2024-01-01"), date("2024-03-01"))

	if stats.TotalOccurrences != 5 {
		t.Errorf("expected 5 occurrences, got %d", stats.TotalOccurrences)
	}
	if stats.PeakMonth != "2024-02" || stats.PeakCount != 3 {
		t.Errorf("unexpected peak %s/%d", stats.PeakMonth, stats.PeakCount)
	}
	if stats.MedianDate == nil || MonthKey(*stats.MedianDate) != "2024-02" {
		t.Errorf("unexpected median %v", stats.MedianDate)
	}
	if stats.ActivitySpanDays != 60 {
		t.Errorf("expected 60 day span, got %d", stats.ActivitySpanDays)
	}
	if math.Abs(stats.RecentTrend) > 1e-9 {
		t.Errorf("symmetric counts should have no trend, got %f", stats.RecentTrend)
	}

	empty := ComputeTemporalStats(nil, time.Time{}, time.Time{})
	if empty.TotalOccurrences != 0 || empty.MeanDate != nil {
		t.Errorf("expected zero stats, got %+v", empty)
	}
}

func TestRecencyScore(t *testing.T) {
	now := date("2024-06-01")
	recent := RecencyScore(MonthlyCounts{"2024-05": 1}, now, 365)
	old := RecencyScore(MonthlyCounts{"2020-05": 1}, now, 365)

	if !(recent > old) {
		t.Errorf("expected recent score %f > old score %f", recent, old)
	}
	if RecencyScore(nil, now, 365) != 0 {
		t.Error("empty counts must score 0")
	}
}

func TestConsistencyAndTrend(t *testing.T) {
	if Consistency(MonthlyCounts{"2024-01": 4}) != 1 {
		t.Error("single month is perfectly consistent")
	}
	if Consistency(MonthlyCounts{"2024-01": 2, "2024-02": 2}) != 1 {
		t.Error("flat counts are perfectly consistent")
	}
	if Trend(MonthlyCounts{"2024-01": 1, "2024-02": 2, "2024-03": 3}, 6) <= 0 {
		t.Error("expected positive trend")
	}
}
