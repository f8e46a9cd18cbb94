package cardgraph

import (
	"math"
	"sort"
	"time"
)

const recentTrendMonths = 6

// TemporalStats summarizes an edge's monthly distribution. It is derived
// data: it is never persisted and never read back as a source of truth.
type TemporalStats struct {
	FirstSeen        time.Time  `json:"first_seen"`
	LastSeen         time.Time  `json:"last_seen"`
	TotalOccurrences int        `json:"total_occurrences"`
	MeanDate         *time.Time `json:"mean_date,omitempty"`
	MedianDate       *time.Time `json:"median_date,omitempty"`
	P25Date          *time.Time `json:"p25_date,omitempty"`
	P75Date          *time.Time `json:"p75_date,omitempty"`
	StdDays          float64    `json:"std_days"`
	Skewness         float64    `json:"skewness"`
	Kurtosis         float64    `json:"kurtosis"`
	PeakMonth        string     `json:"peak_month,omitempty"`
	PeakCount        int        `json:"peak_count"`
	MonthsActive     int        `json:"months_active"`
	ActivitySpanDays int        `json:"activity_span_days"`
	Consistency      float64    `json:"consistency_score"`
	Volatility       float64    `json:"volatility"`
	RecentTrend      float64    `json:"recent_trend"`
}

type monthPoint struct {
	key   string
	at    float64
	count int
}

func ComputeTemporalStats(counts MonthlyCounts, firstSeen, lastSeen time.Time) TemporalStats {
	stats := TemporalStats{
		FirstSeen:        firstSeen,
		LastSeen:         lastSeen,
		MonthsActive:     len(counts),
		ActivitySpanDays: int(lastSeen.Sub(firstSeen).Hours() / 24),
	}

	points := sortedPoints(counts)
	total := 0
	for _, p := range points {
		total += p.count
	}
	stats.TotalOccurrences = total
	if total == 0 {
		return stats
	}

	n := float64(total)
	var sum float64
	for _, p := range points {
		sum += p.at * float64(p.count)
	}
	mean := sum / n

	var m2, m3, m4 float64
	for _, p := range points {
		d := p.at - mean
		c := float64(p.count)
		m2 += c * d * d
		m3 += c * d * d * d
		m4 += c * d * d * d * d
	}
	std := math.Sqrt(m2 / n)
	stats.StdDays = std / 86400

	if total > 1 && std > 0 {
		stats.Skewness = (m3 / n) / math.Pow(std, 3)
		stats.Kurtosis = (m4/n)/math.Pow(std, 4) - 3
	}

	stats.MeanDate = unixPtr(mean)
	stats.MedianDate = unixPtr(weightedPercentile(points, total, 0.5))
	stats.P25Date = unixPtr(weightedPercentile(points, total, 0.25))
	stats.P75Date = unixPtr(weightedPercentile(points, total, 0.75))

	for _, p := range points {
		if p.count > stats.PeakCount {
			stats.PeakCount = p.count
			stats.PeakMonth = p.key
		}
	}

	stats.Consistency, stats.Volatility = consistency(counts)
	stats.RecentTrend = Trend(counts, recentTrendMonths)

	return stats
}

// RecencyScore is the count-weighted mean of exp(-age/decayDays) over the
// months in counts, in [0, 1]. Future months are ignored.
func RecencyScore(counts MonthlyCounts, now time.Time, decayDays float64) float64 {
	if decayDays <= 0 {
		decayDays = 365
	}

	var score float64
	total := 0
	for key, c := range counts {
		if c <= 0 {
			continue
		}
		total += c
		month, err := time.Parse(MonthLayout, key)
		if err != nil {
			continue
		}
		days := now.Sub(month).Hours() / 24
		if days < 0 {
			continue
		}
		score += float64(c) * math.Exp(-days/decayDays)
	}
	if total == 0 {
		return 0
	}
	return score / float64(total)
}

// Consistency is 1/(1+cv) over the monthly counts; one month is perfectly consistent.
func Consistency(counts MonthlyCounts) float64 {
	if len(counts) == 0 {
		return 0
	}
	c, _ := consistency(counts)
	return c
}

func consistency(counts MonthlyCounts) (score, volatility float64) {
	if len(counts) <= 1 {
		return 1, 0
	}
	var sum float64
	for _, c := range counts {
		sum += float64(c)
	}
	mean := sum / float64(len(counts))
	if mean == 0 {
		return 0, 0
	}
	var sq float64
	for _, c := range counts {
		d := float64(c) - mean
		sq += d * d
	}
	volatility = math.Sqrt(sq/float64(len(counts))) / mean
	return 1 / (1 + volatility), volatility
}

// Trend is the least-squares slope of the last lookback months (by key order).
func Trend(counts MonthlyCounts, lookback int) float64 {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if lookback > 0 && len(keys) > lookback {
		keys = keys[len(keys)-lookback:]
	}
	if len(keys) < 2 {
		return 0
	}

	n := float64(len(keys))
	var sx, sy, sxy, sxx float64
	for i, k := range keys {
		x, y := float64(i), float64(counts[k])
		sx += x
		sy += y
		sxy += x * y
		sxx += x * x
	}
	den := n*sxx - sx*sx
	if den == 0 {
		return 0
	}
	return (n*sxy - sx*sy) / den
}

func sortedPoints(counts MonthlyCounts) []monthPoint {
	points := make([]monthPoint, 0, len(counts))
	for key, c := range counts {
		if c <= 0 {
			continue
		}
		month, err := time.Parse(MonthLayout, key)
		if err != nil {
			continue
		}
		points = append(points, monthPoint{key: key, at: float64(month.Unix()), count: c})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].at < points[j].at })
	return points
}

// weightedPercentile interpolates linearly between the expanded samples, the
// same way a percentile over every individual occurrence would.
func weightedPercentile(points []monthPoint, total int, q float64) float64 {
	pos := q * float64(total-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	vlo, vhi := valueAt(points, lo), valueAt(points, hi)
	return vlo + (vhi-vlo)*(pos-float64(lo))
}

func valueAt(points []monthPoint, idx int) float64 {
	seen := 0
	for _, p := range points {
		seen += p.count
		if idx < seen {
			return p.at
		}
	}
	return points[len(points)-1].at
}

func unixPtr(sec float64) *time.Time {
	t := time.Unix(int64(sec), 0).UTC()
	return &t
}
