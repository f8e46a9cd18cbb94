package cardgraph

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// MonthKey returns the "YYYY-MM" bucket of t.
func MonthKey(t time.Time) string {
	return t.Format(MonthLayout)
}

func ValidMonthKey(key string) bool {
	if len(key) != len(MonthLayout) {
		return false
	}
	_, err := time.Parse(MonthLayout, key)
	return err == nil
}

// FormatPeriodKey resolves the period key for a format label. It falls back
// to "{format}_{year}" when the game is unknown or the resolver fails, and to
// "Unknown_{year}" when the label is empty.
func FormatPeriodKey(r PeriodResolver, game, format string, at time.Time) string {
	format = strings.TrimSpace(format)
	if format == "" {
		return fmt.Sprintf("Unknown_%d", at.Year())
	}

	if r != nil && game != "" {
		if key, err := r.PeriodKey(game, format, at); err == nil && key != "" {
			return key
		}
	}

	return fmt.Sprintf("%s_%d", format, at.Year())
}

// DecodeMonthlyCounts parses a serialized monthly_counts value, dropping
// entries whose key is not "YYYY-MM" or whose count is not a non-negative
// number. It never fails; dropped reports how many entries were discarded.
func DecodeMonthlyCounts(raw []byte) (counts MonthlyCounts, dropped int) {
	counts = MonthlyCounts{}
	if len(raw) == 0 || string(raw) == "null" {
		return counts, 0
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return counts, 1
	}

	return ValidateMonthlyCounts(v)
}

// ValidateMonthlyCounts normalizes an arbitrary decoded JSON value into MonthlyCounts.
func ValidateMonthlyCounts(v any) (MonthlyCounts, int) {
	counts := MonthlyCounts{}
	m, ok := v.(map[string]any)
	if !ok {
		if v == nil {
			return counts, 0
		}
		return counts, 1
	}

	dropped := 0
	for key, raw := range m {
		n, ok := bucketCount(raw)
		if !ok || !ValidMonthKey(key) {
			dropped++
			continue
		}
		counts[key] = n
	}
	return counts, dropped
}

func DecodeFormatPeriods(raw []byte) (periods map[string]MonthlyCounts, dropped int) {
	periods = map[string]MonthlyCounts{}
	if len(raw) == 0 || string(raw) == "null" {
		return periods, 0
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return periods, 1
	}

	return ValidateFormatPeriods(v)
}

// ValidateFormatPeriods keeps periods that hold at least one valid monthly bucket.
func ValidateFormatPeriods(v any) (map[string]MonthlyCounts, int) {
	periods := map[string]MonthlyCounts{}
	m, ok := v.(map[string]any)
	if !ok {
		if v == nil {
			return periods, 0
		}
		return periods, 1
	}

	dropped := 0
	for period, inner := range m {
		counts, d := ValidateMonthlyCounts(inner)
		dropped += d
		if period == "" || len(counts) == 0 {
			if len(counts) == 0 && d == 0 {
				dropped++
			}
			continue
		}
		periods[period] = counts
	}
	return periods, dropped
}

func bucketCount(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if n < 0 || math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	case int:
		return n, n >= 0
	case int64:
		return int(n), n >= 0
	case json.Number:
		i, err := n.Int64()
		if err != nil || i < 0 {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}
