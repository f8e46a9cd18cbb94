package ingest

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arclabs561/decksage-sub002/internal/logger"
	"github.com/arclabs561/decksage-sub002/internal/metrics"
	"github.com/arclabs561/decksage-sub002/pkg/cardgraph"
)

const DefaultSideboardMultiplier = 0.5

type Options struct {
	// SideboardMultiplier scales pairs where either card is in the sideboard.
	SideboardMultiplier float64

	// Attributes is merged into a card's node each time the card is observed.
	Attributes map[string]map[string]any

	// Classifier resolves card games for decks that carry no game tag.
	Classifier cardgraph.Classifier

	Now func() time.Time
}

// Ingester folds decks into a graph. It is not safe for concurrent use.
type Ingester struct {
	graph *cardgraph.Graph
	cache MetadataCache
	opts  Options
}

// DeckResult describes what one deck changed.
type DeckResult struct {
	DeckID       string
	Cards        int
	EdgesCreated int
	EdgesUpdated int
	CrossGame    int
}

// Summary describes a batch.
type Summary struct {
	Added        int
	Skipped      int
	EdgesCreated int
	EdgesUpdated int
}

func (s *Summary) add(r DeckResult) {
	s.Added++
	s.EdgesCreated += r.EdgesCreated
	s.EdgesUpdated += r.EdgesUpdated
}

func New(g *cardgraph.Graph, cache MetadataCache, opts Options) *Ingester {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if opts.SideboardMultiplier <= 0 {
		opts.SideboardMultiplier = DefaultSideboardMultiplier
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Ingester{graph: g, cache: cache, opts: opts}
}

func (in *Ingester) Graph() *cardgraph.Graph {
	return in.graph
}

// SetDeckMetadata registers metadata for a deck id before the deck is added.
func (in *Ingester) SetDeckMetadata(ctx context.Context, deckID string, meta DeckMetadata) error {
	return in.cache.Put(ctx, deckID, meta)
}

type cardInfo struct {
	game string
}

type pairUpdate struct {
	weight     int64
	partitions []string
}

// AddDeck observes every distinct card of the deck and strengthens the edge
// of every pair of distinct cards by count(A) * count(B), scaled down when
// either card sits in the sideboard. Each pair is updated once per deck.
func (in *Ingester) AddDeck(ctx context.Context, deck Deck) (DeckResult, error) {
	res := DeckResult{DeckID: deck.ID}

	entries := make([]CardEntry, 0, len(deck.Cards))
	for _, c := range deck.Cards {
		c.Name = strings.TrimSpace(c.Name)
		if c.Name == "" || c.Count <= 0 {
			continue
		}
		if c.Partition == "" {
			c.Partition = PartitionMain
		}
		entries = append(entries, c)
	}
	if len(entries) == 0 {
		metrics.DeckSkipped("empty")
		return res, cardgraph.ErrEmptyDeck
	}

	ts := deck.Timestamp
	if ts.IsZero() {
		ts = in.opts.Now()
	}

	meta := deck.Meta
	if deck.ID != "" {
		cached, ok, err := in.cache.Get(ctx, deck.ID)
		if err != nil {
			logger.Warn("deck metadata lookup failed", "deck", deck.ID, "error", err)
		} else if ok {
			meta = cached
		}
	}

	cards := in.observeCards(ctx, deck, entries, ts)
	res.Cards = len(cards)

	pairs := in.pairWeights(entries)
	keys := make([]cardgraph.EdgeKey, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	for _, key := range keys {
		p := pairs[key]
		game, conflict := cardgraph.ResolveEdgeGame(cards[key.Card1].game, cards[key.Card2].game)
		if conflict {
			res.CrossGame++
		}

		edge, ok := in.graph.Edges[key]
		if !ok {
			edge = cardgraph.NewEdge(key, game, ts)
			in.graph.Edges[key] = edge
			res.EdgesCreated++
			metrics.EdgeUpdate("deck", "created")
		} else {
			if edge.Game == "" && game != "" {
				edge.Game = game
			}
			res.EdgesUpdated++
			metrics.EdgeUpdate("deck", "updated")
		}

		edge.AddWeight(p.weight)
		edge.Widen(ts)
		edge.AddDeckSource(deck.ID)
		edge.ObserveTemporal(ts, meta.Format, in.graph.Periods)
		edge.Metadata.AddPartitions(p.partitions...)
		aggregateMetadata(&edge.Metadata, meta)
	}

	in.graph.LastUpdate = ts
	in.graph.TotalDecksProcessed++
	metrics.DeckIngested(deck.Game)

	return res, nil
}

func (in *Ingester) observeCards(ctx context.Context, deck Deck, entries []CardEntry, ts time.Time) map[string]*cardInfo {
	cards := map[string]*cardInfo{}
	var order []string
	for _, e := range entries {
		if _, ok := cards[e.Name]; !ok {
			cards[e.Name] = &cardInfo{game: deck.Game}
			order = append(order, e.Name)
		}
	}

	for _, name := range order {
		info := cards[name]
		node, ok := in.graph.Nodes[name]

		if info.game == "" {
			switch {
			case ok && node.Game != "":
				info.game = node.Game
			case in.opts.Classifier != nil:
				game, err := in.opts.Classifier.Game(ctx, name, false)
				if err != nil {
					logger.Debug("classifier lookup failed", "card", name, "error", err)
				}
				info.game = game
			}
		}

		if !ok {
			node = cardgraph.NewCardNode(name, info.game, ts)
			in.graph.Nodes[name] = node
		}
		node.Observe(ts, info.game, in.opts.Attributes[name])
	}

	return cards
}

func (in *Ingester) pairWeights(entries []CardEntry) map[cardgraph.EdgeKey]*pairUpdate {
	pairs := map[cardgraph.EdgeKey]*pairUpdate{}
	for i := range entries {
		a := entries[i]
		for j := i + 1; j < len(entries); j++ {
			b := entries[j]
			if a.Name == b.Name {
				continue
			}

			w := int64(a.Count) * int64(b.Count)
			if isSideboard(a.Partition) || isSideboard(b.Partition) {
				w = int64(float64(w) * in.opts.SideboardMultiplier)
			}

			key := cardgraph.NewEdgeKey(a.Name, b.Name)
			p, ok := pairs[key]
			if !ok {
				p = &pairUpdate{}
				pairs[key] = p
			}
			p.weight += w
			p.partitions = appendUnique(p.partitions, a.Partition)
			p.partitions = appendUnique(p.partitions, b.Partition)
		}
	}
	return pairs
}

func aggregateMetadata(m *cardgraph.EdgeMetadata, meta DeckMetadata) {
	m.AddFormat(meta.Format)
	m.AddArchetype(meta.Archetype)
	if meta.Placement > 0 {
		m.Placements = append(m.Placements, meta.Placement)
	}
	if meta.EventDate != "" {
		m.EventDates = append(m.EventDates, meta.EventDate)
	}
}

// Ingest adds every deck, skipping decks that fail instead of aborting the batch.
func (in *Ingester) Ingest(ctx context.Context, decks []Deck) (Summary, error) {
	var sum Summary
	for i, d := range decks {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		res, err := in.AddDeck(ctx, d)
		if err != nil {
			logger.Debug("skipping deck", "deck", d.ID, "index", i, "error", err)
			sum.Skipped++
			continue
		}
		sum.add(res)
		if sum.Added%1000 == 0 {
			logger.Info("ingest progress", "added", sum.Added, "total", len(decks))
		}
	}
	return sum, nil
}

// Rebuild clears the graph and ingests decks from scratch.
func (in *Ingester) Rebuild(ctx context.Context, decks []Deck) (Summary, error) {
	in.graph.Reset()
	logger.Info("rebuilding graph", "decks", len(decks))
	return in.Ingest(ctx, decks)
}

// ensureID gives anonymous decks a stable-for-this-run identifier.
func ensureID(d *Deck) {
	if d.ID == "" {
		d.ID = "deck_" + uuid.NewString()
	}
}

func isSideboard(partition string) bool {
	return strings.EqualFold(partition, PartitionSideboard)
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}
