package enrich

import (
	"context"
	"slices"
	"time"

	"github.com/arclabs561/decksage-sub002/internal/logger"
	"github.com/arclabs561/decksage-sub002/pkg/cardgraph"
)

// The integrators in this file read the deck-level metadata ingestion has
// already aggregated onto edges.

// groupByLabel maps each label returned by labels to the cards of every
// edge carrying it.
func groupByLabel(g *cardgraph.Graph, game string, labels func(*cardgraph.Edge) []string) map[string]cardSet {
	groups := map[string]cardSet{}
	for _, key := range g.SortedEdgeKeys() {
		e := g.Edges[key]
		if game != "" && e.Game != game {
			continue
		}
		for _, label := range labels(e) {
			if label == "" {
				continue
			}
			set, ok := groups[label]
			if !ok {
				set = cardSet{}
				groups[label] = set
			}
			set.add(e.Card1, e.Card2)
		}
	}
	return groups
}

type ArchetypeIntegrator struct {
	Increment int64

	// MinCards is the number of distinct cards an archetype needs before its
	// cards are linked.
	MinCards int

	Options Options
}

func (ai *ArchetypeIntegrator) Name() string { return NameArchetypes }

func (ai *ArchetypeIntegrator) Apply(ctx context.Context, g *cardgraph.Graph) (Report, error) {
	rep := Report{Integrator: NameArchetypes}

	groups := groupByLabel(g, ai.Options.Game, func(e *cardgraph.Edge) []string { return e.Metadata.Archetypes })
	significant := 0
	for _, archetype := range sortedKeys(groups) {
		cards := groups[archetype].sorted()
		if len(cards) < ai.MinCards {
			continue
		}
		significant++

		src := cardgraph.ArchetypeRecord{Archetype: archetype, Weight: ai.Increment}
		if err := strengthenGroup(ctx, g, &rep, ai.Options, cards, ai.Increment, src, time.Time{}); err != nil {
			return rep, err
		}
	}
	logger.Debug("archetype groups", "found", len(groups), "significant", significant)
	return rep, nil
}

type FormatIntegrator struct {
	Increment int64
	Options   Options
}

func (fi *FormatIntegrator) Name() string { return NameFormats }

func (fi *FormatIntegrator) Apply(ctx context.Context, g *cardgraph.Graph) (Report, error) {
	rep := Report{Integrator: NameFormats}

	groups := groupByLabel(g, fi.Options.Game, func(e *cardgraph.Edge) []string { return e.Metadata.Formats })
	for _, format := range sortedKeys(groups) {
		src := cardgraph.FormatRecord{Format: format, Weight: fi.Increment}
		if err := strengthenGroup(ctx, g, &rep, fi.Options, groups[format].sorted(), fi.Increment, src, time.Time{}); err != nil {
			return rep, err
		}
	}
	return rep, nil
}

// TournamentTiers are the placement bands and their multipliers.
type TournamentTiers struct {
	Base   float64
	First  float64
	Top4   float64
	Top8   float64
	MinTop int
}

func DefaultTournamentTiers() TournamentTiers {
	return TournamentTiers{Base: 1.5, First: 2.0, Top4: 1.5, Top8: 1.2, MinTop: 8}
}

// Boost is the weight one placement earns; placements outside MinTop earn nothing.
func (t TournamentTiers) Boost(placement int) int64 {
	if placement < 1 || placement > t.MinTop {
		return 0
	}
	switch {
	case placement == 1:
		return int64(t.Base * t.First)
	case placement <= 4:
		return int64(t.Base * t.Top4)
	default:
		return int64(t.Base * t.Top8)
	}
}

// TournamentIntegrator boosts existing edges seen in top-placing decks. It
// never creates edges.
type TournamentIntegrator struct {
	Tiers   TournamentTiers
	Options Options
}

func (ti *TournamentIntegrator) Name() string { return NameTournament }

func (ti *TournamentIntegrator) Apply(ctx context.Context, g *cardgraph.Graph) (Report, error) {
	rep := Report{Integrator: NameTournament}

	for _, key := range g.SortedEdgeKeys() {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		e := g.Edges[key]
		if ti.Options.Game != "" && e.Game != ti.Options.Game {
			continue
		}

		var top []int
		var boost int64
		for _, p := range e.Metadata.Placements {
			if p >= 1 && p <= ti.Tiers.MinTop {
				top = append(top, p)
				boost += ti.Tiers.Boost(p)
			}
		}
		if len(top) == 0 {
			continue
		}

		rep.Groups++
		src := cardgraph.TournamentRecord{
			TopPlacements:    top,
			PerformanceBoost: boost,
			MinPlacement:     slices.Min(top),
		}
		res := g.Strengthen(cardgraph.Strengthening{
			CardA:            e.Card1,
			CardB:            e.Card2,
			Increment:        boost,
			Source:           src,
			IdempotentWeight: ti.Options.IdempotentWeight,
		})
		rep.record(res, boost)
	}
	return rep, nil
}
