package cardgraph

import (
	"context"
	"time"
)

const (
	// KeySeparator joins the two card names of an edge key in snapshots.
	// Card names never contain it.
	KeySeparator = "|||"

	// MonthLayout is the layout of every monthly bucket key.
	MonthLayout = "2006-01"

	// DefaultMaxEdgeWeight flags edges whose weight is likely the result of corruption.
	DefaultMaxEdgeWeight = 100000
)

// Classifier resolves the game a card belongs to. It returns "" when unknown.
type Classifier interface {
	Game(ctx context.Context, cardName string, fuzzy bool) (string, error)
}

// PeriodResolver maps a format label and time to a format-period key such as
// "Standard_2024" or "Standard_G". Implementations must not mutate shared state.
type PeriodResolver interface {
	PeriodKey(game, format string, at time.Time) (string, error)
}

type CardNode struct {
	Name       string
	Game       string
	FirstSeen  time.Time
	LastSeen   time.Time
	TotalDecks int
	Attributes map[string]any
}

// EdgeKey is the canonical, lexicographically ordered pair of card names.
type EdgeKey struct {
	Card1 string
	Card2 string
}

type MonthlyCounts map[string]int

type Edge struct {
	Card1         string
	Card2         string
	Game          string
	Weight        int64
	FirstSeen     time.Time
	LastSeen      time.Time
	DeckSources   []string
	Metadata      EdgeMetadata
	MonthlyCounts MonthlyCounts
	FormatPeriods map[string]MonthlyCounts

	stats *TemporalStats
}

// Graph owns every node and edge of one logical graph instance. It assumes a
// single writer; callers serialize mutations.
type Graph struct {
	Nodes               map[string]*CardNode
	Edges               map[EdgeKey]*Edge
	LastUpdate          time.Time
	TotalDecksProcessed int

	// Periods resolves format-period keys for temporal tracking; nil falls back to years.
	Periods PeriodResolver
}

type EdgeFilter struct {
	Game      string
	MinWeight int64
	Format    string
	Since     time.Time
}

type Statistics struct {
	NumNodes            int            `json:"num_nodes"`
	NumEdges            int            `json:"num_edges"`
	TotalDecksProcessed int            `json:"total_decks_processed"`
	LastUpdate          *time.Time     `json:"last_update"`
	AvgDegree           float64        `json:"avg_degree"`
	MaxDegree           int            `json:"max_degree"`
	AvgEdgeWeight       float64        `json:"avg_edge_weight"`
	MaxEdgeWeight       int64          `json:"max_edge_weight"`
	GameDistribution    map[string]int `json:"game_distribution"`
}
