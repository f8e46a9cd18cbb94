package cardgraph

import (
	"slices"
	"sort"
	"time"
)

func NewGraph() *Graph {
	return &Graph{
		Nodes: map[string]*CardNode{},
		Edges: map[EdgeKey]*Edge{},
	}
}

// Reset clears every node, edge and counter. The period resolver is kept.
func (g *Graph) Reset() {
	g.Nodes = map[string]*CardNode{}
	g.Edges = map[EdgeKey]*Edge{}
	g.LastUpdate = time.Time{}
	g.TotalDecksProcessed = 0
}

func (g *Graph) Node(name string) (*CardNode, bool) {
	n, ok := g.Nodes[name]
	return n, ok
}

func (g *Graph) Edge(a, b string) (*Edge, bool) {
	e, ok := g.Edges[NewEdgeKey(a, b)]
	return e, ok
}

// NodeGame returns the known game of a card, or "".
func (g *Graph) NodeGame(name string) string {
	if n, ok := g.Nodes[name]; ok {
		return n.Game
	}
	return ""
}

// ResolveEdgeGame returns the game an edge between cards of game a and b
// belongs to. conflict is true when both are known and differ, in which case
// the edge has no game.
func ResolveEdgeGame(a, b string) (game string, conflict bool) {
	switch {
	case a != "" && b != "" && a != b:
		return "", true
	case a != "":
		return a, false
	default:
		return b, false
	}
}

// Strengthening describes one upsert-or-strengthen request from an auxiliary source.
type Strengthening struct {
	CardA, CardB string
	Increment    int64
	Source       Provenance

	// At widens the edge interval and counts one monthly occurrence. Zero skips temporal updates.
	At time.Time

	// Game overrides the game derived from the endpoints for new edges.
	Game string

	// IdempotentWeight adds Increment only when Source is new on the edge.
	IdempotentWeight bool
}

type StrengthenResult struct {
	Created   bool
	Tagged    bool
	Weighted  bool
	CrossGame bool
	Skipped   bool
}

// Strengthen creates the edge between the two cards if needed, adds the
// weight increment and records the provenance once per source instance.
// Pairs whose endpoints belong to different games are left untouched.
func (g *Graph) Strengthen(s Strengthening) StrengthenResult {
	var res StrengthenResult
	if s.CardA == "" || s.CardB == "" || s.CardA == s.CardB {
		res.Skipped = true
		return res
	}

	game, conflict := ResolveEdgeGame(g.NodeGame(s.CardA), g.NodeGame(s.CardB))
	if conflict {
		res.CrossGame = true
		res.Skipped = true
		return res
	}
	if s.Game != "" {
		game = s.Game
	}

	key := NewEdgeKey(s.CardA, s.CardB)
	edge, ok := g.Edges[key]
	if !ok {
		at := s.At
		if at.IsZero() {
			at = time.Now().UTC()
		}
		edge = NewEdge(key, game, at)
		g.Edges[key] = edge
		res.Created = true
	} else if edge.Game == "" && game != "" {
		edge.Game = game
	}

	if s.Source != nil {
		res.Tagged = edge.Metadata.AddProvenance(s.Source)
	}

	if res.Tagged || !s.IdempotentWeight {
		edge.AddWeight(s.Increment)
		res.Weighted = true
		if !s.At.IsZero() {
			edge.Widen(s.At)
			edge.ObserveTemporal(s.At, "", g.Periods)
		}
	}

	return res
}

// Neighbors lists the cards sharing an edge of at least minWeight with card.
func (g *Graph) Neighbors(card string, minWeight int64, game string) []string {
	var out []string
	for key, e := range g.Edges {
		if e.Weight < minWeight || (game != "" && e.Game != game) {
			continue
		}
		switch card {
		case key.Card1:
			out = append(out, key.Card2)
		case key.Card2:
			out = append(out, key.Card1)
		}
	}
	sort.Strings(out)
	return out
}

func (g *Graph) QueryEdges(f EdgeFilter) []*Edge {
	var out []*Edge
	for _, key := range g.SortedEdgeKeys() {
		e := g.Edges[key]
		if e.Weight < f.MinWeight {
			continue
		}
		if f.Game != "" && e.Game != f.Game {
			continue
		}
		if f.Format != "" && !slices.Contains(e.Metadata.Formats, f.Format) {
			continue
		}
		if !f.Since.IsZero() && e.LastSeen.Before(f.Since) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (g *Graph) NewCardsSince(since time.Time) []string {
	var out []string
	for name, n := range g.Nodes {
		if !n.FirstSeen.Before(since) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// SuspiciousEdges returns edges whose weight exceeds limit, a sign of
// replayed or corrupted input.
func (g *Graph) SuspiciousEdges(limit int64) []*Edge {
	if limit <= 0 {
		limit = DefaultMaxEdgeWeight
	}
	var out []*Edge
	for _, key := range g.SortedEdgeKeys() {
		if e := g.Edges[key]; e.Weight > limit {
			out = append(out, e)
		}
	}
	return out
}

func (g *Graph) SortedEdgeKeys() []EdgeKey {
	keys := make([]EdgeKey, 0, len(g.Edges))
	for k := range g.Edges {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Card1 != keys[j].Card1 {
			return keys[i].Card1 < keys[j].Card1
		}
		return keys[i].Card2 < keys[j].Card2
	})
	return keys
}

func (g *Graph) SortedNodeNames() []string {
	names := make([]string, 0, len(g.Nodes))
	for name := range g.Nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (g *Graph) Statistics() Statistics {
	stats := Statistics{
		NumNodes:            len(g.Nodes),
		NumEdges:            len(g.Edges),
		TotalDecksProcessed: g.TotalDecksProcessed,
		GameDistribution:    map[string]int{},
	}
	if !g.LastUpdate.IsZero() {
		t := g.LastUpdate
		stats.LastUpdate = &t
	}

	degrees := map[string]int{}
	var weightSum int64
	for key, e := range g.Edges {
		degrees[key.Card1]++
		degrees[key.Card2]++
		weightSum += e.Weight
		if e.Weight > stats.MaxEdgeWeight {
			stats.MaxEdgeWeight = e.Weight
		}
	}

	if len(degrees) > 0 {
		total := 0
		for _, d := range degrees {
			total += d
			if d > stats.MaxDegree {
				stats.MaxDegree = d
			}
		}
		stats.AvgDegree = float64(total) / float64(len(degrees))
	}
	if len(g.Edges) > 0 {
		stats.AvgEdgeWeight = float64(weightSum) / float64(len(g.Edges))
	}

	for _, n := range g.Nodes {
		game := n.Game
		if game == "" {
			game = "Unknown"
		}
		stats.GameDistribution[game]++
	}

	return stats
}
