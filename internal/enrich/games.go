package enrich

import (
	"context"

	"github.com/arclabs561/decksage-sub002/internal/logger"
	"github.com/arclabs561/decksage-sub002/pkg/cardgraph"
)

// GameFixReport counts what FixGameLabels changed. NodesFixed, EdgesFixed
// and EdgesCleared are modifications; the other counters only describe.
type GameFixReport struct {
	NodesFixed     int
	NodesLabeled   int
	NodesNotFound  int
	EdgesFixed     int
	EdgesLabeled   int
	EdgesCleared   int
	CrossGame      int
	CrossGameEdges []cardgraph.EdgeKey
}

// FixGameLabels backfills unknown node games through the classifier, then
// labels edges from their endpoints. An edge whose endpoints belong to
// different games is flagged and left without a game, even if it had one.
func FixGameLabels(ctx context.Context, g *cardgraph.Graph, c cardgraph.Classifier) (GameFixReport, error) {
	var rep GameFixReport

	for _, name := range g.SortedNodeNames() {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		n := g.Nodes[name]
		if n.Game != "" {
			rep.NodesLabeled++
			continue
		}
		if c == nil {
			rep.NodesNotFound++
			continue
		}

		game, err := c.Game(ctx, name, true)
		if err != nil {
			logger.Debug("classifier lookup failed", "card", name, "error", err)
		}
		if game == "" {
			rep.NodesNotFound++
			continue
		}
		n.Game = game
		rep.NodesFixed++
	}

	for _, key := range g.SortedEdgeKeys() {
		e := g.Edges[key]
		game, conflict := cardgraph.ResolveEdgeGame(g.NodeGame(key.Card1), g.NodeGame(key.Card2))
		switch {
		case conflict:
			logger.Debug("cross-game edge", "card1", key.Card1, "game1", g.NodeGame(key.Card1),
				"card2", key.Card2, "game2", g.NodeGame(key.Card2), "edge_game", e.Game)
			if e.Game != "" {
				e.Game = ""
				rep.EdgesCleared++
			}
			rep.CrossGame++
			rep.CrossGameEdges = append(rep.CrossGameEdges, key)
		case e.Game != "":
			rep.EdgesLabeled++
		case game != "":
			e.Game = game
			rep.EdgesFixed++
		}
	}

	logger.Info("game labels fixed",
		"nodes_fixed", rep.NodesFixed,
		"nodes_labeled", rep.NodesLabeled,
		"nodes_not_found", rep.NodesNotFound,
		"edges_fixed", rep.EdgesFixed,
		"edges_labeled", rep.EdgesLabeled,
		"edges_cleared", rep.EdgesCleared,
		"cross_game", rep.CrossGame,
	)
	return rep, nil
}
