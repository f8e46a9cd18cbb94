// Package enrich layers auxiliary relationship sources onto a card graph.
// Every integrator goes through Graph.Strengthen, so a source instance is
// tagged on an edge at most once no matter how often it is replayed.
package enrich

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/arclabs561/decksage-sub002/internal/logger"
	"github.com/arclabs561/decksage-sub002/internal/metrics"
	"github.com/arclabs561/decksage-sub002/pkg/cardgraph"
)

const (
	NamePacks      = "packs"
	NameArchetypes = "archetypes"
	NameAttributes = "attributes"
	NameTournament = "tournament"
	NameFormats    = "formats"
)

// Integrator applies one auxiliary source to the graph.
type Integrator interface {
	Name() string
	Apply(ctx context.Context, g *cardgraph.Graph) (Report, error)
}

// Options are shared by every integrator.
type Options struct {
	// Game restricts the pass to one game; empty means all games.
	Game string

	// IdempotentWeight makes weight follow the provenance rule: a replayed
	// source instance adds nothing.
	IdempotentWeight bool

	// MaxGroup skips groups with more cards than this; zero means no bound.
	MaxGroup int
}

type Report struct {
	Integrator string
	Groups     int
	Oversized  int
	Pairs      int
	Created    int
	Tagged     int
	Weighted   int
	CrossGame  int
	WeightAdd  int64
}

func (r *Report) record(res cardgraph.StrengthenResult, inc int64) {
	r.Pairs++
	if res.CrossGame {
		r.CrossGame++
	}
	if res.Skipped {
		metrics.EdgeUpdate(r.Integrator, "skipped")
		return
	}
	if res.Created {
		r.Created++
		metrics.EdgeUpdate(r.Integrator, "created")
	}
	if res.Tagged {
		r.Tagged++
		metrics.EdgeUpdate(r.Integrator, "tagged")
	}
	if res.Weighted {
		r.Weighted++
		r.WeightAdd += inc
	}
}

func (r Report) log() {
	logger.Info("integrator finished",
		"integrator", r.Integrator,
		"groups", r.Groups,
		"oversized", r.Oversized,
		"pairs", r.Pairs,
		"created", r.Created,
		"tagged", r.Tagged,
		"weighted", r.Weighted,
		"cross_game", r.CrossGame,
		"weight_added", r.WeightAdd,
	)
}

// strengthenGroup applies the primitive to every pair of a sorted card group.
func strengthenGroup(ctx context.Context, g *cardgraph.Graph, rep *Report, opts Options, cards []string, inc int64, src cardgraph.Provenance, at time.Time) error {
	if len(cards) < 2 {
		return nil
	}
	if opts.MaxGroup > 0 && len(cards) > opts.MaxGroup {
		rep.Oversized++
		logger.Warn("skipping oversized group",
			"integrator", rep.Integrator, "source", src.SourceID(), "cards", len(cards), "max", opts.MaxGroup)
		return nil
	}

	rep.Groups++
	for i := range cards {
		if err := ctx.Err(); err != nil {
			return err
		}
		for j := i + 1; j < len(cards); j++ {
			res := g.Strengthen(cardgraph.Strengthening{
				CardA:            cards[i],
				CardB:            cards[j],
				Increment:        inc,
				Source:           src,
				At:               at,
				Game:             opts.Game,
				IdempotentWeight: opts.IdempotentWeight,
			})
			rep.record(res, inc)
		}
	}
	return nil
}

// cardSet collects distinct card names and returns them sorted.
type cardSet map[string]struct{}

func (s cardSet) add(names ...string) {
	for _, n := range names {
		if n != "" {
			s[n] = struct{}{}
		}
	}
}

func (s cardSet) sorted() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Pipeline runs registered integrators in registration order.
type Pipeline struct {
	order       []string
	integrators map[string]Integrator
}

func NewPipeline() *Pipeline {
	return &Pipeline{integrators: make(map[string]Integrator)}
}

func (p *Pipeline) Register(in Integrator) {
	if _, ok := p.integrators[in.Name()]; !ok {
		p.order = append(p.order, in.Name())
	}
	p.integrators[in.Name()] = in
}

func (p *Pipeline) Names() []string {
	return append([]string(nil), p.order...)
}

// Run applies the named integrators, or all of them when names is empty.
// It stops at the first integrator that fails; the graph keeps the changes
// made so far and the caller decides whether to save.
func (p *Pipeline) Run(ctx context.Context, g *cardgraph.Graph, names ...string) ([]Report, error) {
	if len(names) == 0 {
		names = p.order
	}

	var reports []Report
	for _, name := range names {
		in, ok := p.integrators[name]
		if !ok {
			return reports, fmt.Errorf("unknown integrator %q", name)
		}

		start := time.Now()
		rep, err := in.Apply(ctx, g)
		if err != nil {
			return reports, fmt.Errorf("%s: %w", name, err)
		}
		rep.log()
		logger.Debug("integrator timing", "integrator", name, "elapsed", time.Since(start))
		reports = append(reports, rep)
	}
	return reports, nil
}
