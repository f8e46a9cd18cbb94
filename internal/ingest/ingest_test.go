package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/arclabs561/decksage-sub002/internal/classifier"
	"github.com/arclabs561/decksage-sub002/pkg/cardgraph"
)

func decodeDeck(t *testing.T, doc string) Deck {
	t.Helper()
	var d Deck
	if err := json.Unmarshal([]byte(doc), &d); err != nil {
		t.Fatalf("failed to decode deck: %v", err)
	}
	return d
}

func burnDeck(t *testing.T, id string) Deck {
	t.Helper()
	d := decodeDeck(t, `{"Main": [{"name":"Bolt","count":4},{"name":"Shock","count":2}]}`)
	d.ID = id
	d.Timestamp = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	d.Meta.Format = "Standard"
	return d
}

func TestAddDeckWeights(t *testing.T) {
	ctx := context.Background()
	g := cardgraph.NewGraph()
	in := New(g, nil, Options{})

	res, err := in.AddDeck(ctx, burnDeck(t, "d1"))
	if err != nil {
		t.Fatalf("failed to add deck: %v", err)
	}
	if res.EdgesCreated != 1 || res.Cards != 2 {
		t.Errorf("unexpected result %+v", res)
	}

	edge, ok := g.Edge("Shock", "Bolt")
	if !ok {
		t.Fatal("expected Bolt/Shock edge")
	}
	if edge.Weight != 8 {
		t.Errorf("expected weight 8, got %d", edge.Weight)
	}
	if len(edge.MonthlyCounts) != 1 || edge.MonthlyCounts["2024-03"] != 1 {
		t.Errorf("unexpected monthly counts %v", edge.MonthlyCounts)
	}
	if edge.FormatPeriods["Standard_2024"]["2024-03"] != 1 {
		t.Errorf("unexpected format periods %v", edge.FormatPeriods)
	}
	if g.Nodes["Bolt"].TotalDecks != 1 {
		t.Errorf("expected Bolt in 1 deck, got %d", g.Nodes["Bolt"].TotalDecks)
	}
	if g.TotalDecksProcessed != 1 {
		t.Errorf("expected 1 deck processed, got %d", g.TotalDecksProcessed)
	}

	if _, err := in.AddDeck(ctx, burnDeck(t, "d2")); err != nil {
		t.Fatalf("failed to add second deck: %v", err)
	}
	if edge.Weight != 16 {
		t.Errorf("expected weight 16, got %d", edge.Weight)
	}
	if edge.MonthlyCounts["2024-03"] != 2 {
		t.Errorf("expected 2 occurrences in 2024-03, got %d", edge.MonthlyCounts["2024-03"])
	}
	if len(edge.DeckSources) != 2 {
		t.Errorf("expected 2 deck sources, got %v", edge.DeckSources)
	}
	if g.Nodes["Bolt"].TotalDecks != 2 {
		t.Errorf("expected Bolt in 2 decks, got %d", g.Nodes["Bolt"].TotalDecks)
	}
}

func TestAddDeckSameIDAddsWeightOnly(t *testing.T) {
	ctx := context.Background()
	g := cardgraph.NewGraph()
	in := New(g, nil, Options{})

	for i := 0; i < 2; i++ {
		if _, err := in.AddDeck(ctx, burnDeck(t, "d1")); err != nil {
			t.Fatalf("failed to add deck: %v", err)
		}
	}

	edge, _ := g.Edge("Bolt", "Shock")
	if edge.Weight != 16 {
		t.Errorf("expected weight 16, got %d", edge.Weight)
	}
	if len(edge.DeckSources) != 1 || edge.DeckSources[0] != "d1" {
		t.Errorf("expected a single deck source, got %v", edge.DeckSources)
	}
}

func TestAddDeckKeyOrderIndependent(t *testing.T) {
	ctx := context.Background()
	g := cardgraph.NewGraph()
	in := New(g, nil, Options{})

	for i, doc := range []string{
		`{"cards": [{"name":"Zap","count":1},{"name":"Arc","count":1}]}`,
		`{"cards": [{"name":"Arc","count":1},{"name":"Zap","count":1}]}`,
	} {
		d := decodeDeck(t, doc)
		d.ID = string(rune('a' + i))
		if _, err := in.AddDeck(ctx, d); err != nil {
			t.Fatalf("failed to add deck: %v", err)
		}
	}

	if len(g.Edges) != 1 {
		t.Fatalf("expected one edge, got %d", len(g.Edges))
	}
	for key, e := range g.Edges {
		if key.Card1 != "Arc" || key.Card2 != "Zap" {
			t.Errorf("expected (Arc, Zap), got %v", key)
		}
		if e.Weight != 2 {
			t.Errorf("expected weight 2, got %d", e.Weight)
		}
	}
}

func TestAddDeckSideboard(t *testing.T) {
	ctx := context.Background()
	g := cardgraph.NewGraph()
	in := New(g, nil, Options{})

	d := decodeDeck(t, `{"partitions": [
		{"name": "Main", "cards": [{"name":"Bolt","count":4},{"name":"Shock","count":3}]},
		{"name": "Sideboard", "cards": [{"name":"Pyroblast","count":3}]}
	]}`)
	d.ID = "sb"
	if _, err := in.AddDeck(ctx, d); err != nil {
		t.Fatalf("failed to add deck: %v", err)
	}

	cases := []struct {
		a, b   string
		weight int64
	}{
		{"Bolt", "Shock", 12},
		{"Bolt", "Pyroblast", 6},
		{"Shock", "Pyroblast", 4}, // 9 * 0.5 truncates
	}
	for _, c := range cases {
		e, ok := g.Edge(c.a, c.b)
		if !ok {
			t.Errorf("missing edge %s/%s", c.a, c.b)
			continue
		}
		if e.Weight != c.weight {
			t.Errorf("%s/%s: expected weight %d, got %d", c.a, c.b, c.weight, e.Weight)
		}
	}

	e, _ := g.Edge("Bolt", "Pyroblast")
	if len(e.Metadata.Partitions) != 2 {
		t.Errorf("expected both partitions recorded, got %v", e.Metadata.Partitions)
	}
}

func TestAddDeckSplitCopiesAccumulate(t *testing.T) {
	ctx := context.Background()
	g := cardgraph.NewGraph()
	in := New(g, nil, Options{SideboardMultiplier: 1})

	d := decodeDeck(t, `{"Main": [{"name":"Bolt","count":2},{"name":"Shock","count":1}], "Sideboard": [{"name":"Bolt","count":2}]}`)
	d.ID = "split"
	if _, err := in.AddDeck(ctx, d); err != nil {
		t.Fatalf("failed to add deck: %v", err)
	}

	if len(g.Edges) != 1 {
		t.Fatalf("expected no self edge, got %d edges", len(g.Edges))
	}
	e, _ := g.Edge("Bolt", "Shock")
	if e.Weight != 4 {
		t.Errorf("expected weight 4, got %d", e.Weight)
	}
	if e.MonthlyCounts == nil || len(e.DeckSources) != 1 {
		t.Errorf("expected one observation, got %v", e.DeckSources)
	}
	if g.Nodes["Bolt"].TotalDecks != 1 {
		t.Errorf("expected Bolt observed once, got %d", g.Nodes["Bolt"].TotalDecks)
	}
}

func TestAddDeckEmpty(t *testing.T) {
	g := cardgraph.NewGraph()
	in := New(g, nil, Options{})

	_, err := in.AddDeck(context.Background(), decodeDeck(t, `{"cards": [{"name":"","count":2}]}`))
	if !errors.Is(err, cardgraph.ErrEmptyDeck) {
		t.Fatalf("expected ErrEmptyDeck, got %v", err)
	}
	if g.TotalDecksProcessed != 0 {
		t.Errorf("empty deck must not count as processed")
	}
}

func TestAddDeckMetadataAggregation(t *testing.T) {
	ctx := context.Background()
	g := cardgraph.NewGraph()
	in := New(g, nil, Options{})

	meta := DeckMetadata{Format: "Modern", Placement: 3, EventDate: "2024-05-04", Archetype: "Burn"}
	if err := in.SetDeckMetadata(ctx, "d1", meta); err != nil {
		t.Fatalf("failed to set metadata: %v", err)
	}
	if err := in.SetDeckMetadata(ctx, "d2", DeckMetadata{Format: "Modern", Placement: 1, Archetype: "Burn"}); err != nil {
		t.Fatalf("failed to set metadata: %v", err)
	}

	for _, id := range []string{"d1", "d2"} {
		d := burnDeck(t, id)
		d.Meta = DeckMetadata{}
		if _, err := in.AddDeck(ctx, d); err != nil {
			t.Fatalf("failed to add deck: %v", err)
		}
	}

	e, _ := g.Edge("Bolt", "Shock")
	if len(e.Metadata.Formats) != 1 || e.Metadata.Formats[0] != "Modern" {
		t.Errorf("unexpected formats %v", e.Metadata.Formats)
	}
	if len(e.Metadata.Archetypes) != 1 {
		t.Errorf("unexpected archetypes %v", e.Metadata.Archetypes)
	}
	if len(e.Metadata.Placements) != 2 || e.Metadata.Placements[0] != 3 || e.Metadata.Placements[1] != 1 {
		t.Errorf("unexpected placements %v", e.Metadata.Placements)
	}
	if len(e.Metadata.EventDates) != 1 {
		t.Errorf("unexpected event dates %v", e.Metadata.EventDates)
	}
	if e.FormatPeriods["Modern_2024"]["2024-03"] != 2 {
		t.Errorf("unexpected format periods %v", e.FormatPeriods)
	}
}

func TestAddDeckGameResolution(t *testing.T) {
	ctx := context.Background()
	g := cardgraph.NewGraph()
	table := classifier.NewTable(map[string]string{"Bolt": "MTG", "Pikachu": "PKM"})
	in := New(g, nil, Options{
		Classifier: table,
		Attributes: map[string]map[string]any{"Bolt": {"type": "Instant"}},
	})

	d := decodeDeck(t, `{"cards": [{"name":"Bolt","count":1},{"name":"Shock","count":1},{"name":"Pikachu","count":1}]}`)
	d.ID = "mixed"
	res, err := in.AddDeck(ctx, d)
	if err != nil {
		t.Fatalf("failed to add deck: %v", err)
	}
	if res.CrossGame != 1 {
		t.Errorf("expected 1 cross-game pair, got %d", res.CrossGame)
	}

	if g.Nodes["Bolt"].Game != "MTG" || g.Nodes["Shock"].Game != "" {
		t.Errorf("unexpected node games %q %q", g.Nodes["Bolt"].Game, g.Nodes["Shock"].Game)
	}
	if g.Nodes["Bolt"].Attributes["type"] != "Instant" {
		t.Errorf("expected attributes merged, got %v", g.Nodes["Bolt"].Attributes)
	}

	if e, _ := g.Edge("Bolt", "Shock"); e.Game != "MTG" {
		t.Errorf("expected edge game from known endpoint, got %q", e.Game)
	}
	if e, _ := g.Edge("Bolt", "Pikachu"); e.Game != "" {
		t.Errorf("expected cross-game edge without game, got %q", e.Game)
	}
}

func TestDeckShapes(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want map[string]int
	}{
		{
			name: "partitions",
			doc:  `{"deck_id": "x", "game": "magic", "partitions": [{"name": "Main", "cards": [{"name": "Bolt", "count": 4}]}, {"name": "Sideboard", "cards": ["Shock"]}]}`,
			want: map[string]int{"Main/Bolt": 4, "Sideboard/Shock": 1},
		},
		{
			name: "flat",
			doc:  `{"id": "x", "cards": [{"name": "Bolt", "count": "3"}, {"name": "Shock", "count": 2, "partition": "Sideboard"}]}`,
			want: map[string]int{"Main/Bolt": 3, "Sideboard/Shock": 2},
		},
		{
			name: "partition map",
			doc:  `{"id": "x", "format": "Modern", "Main": [{"name": "Bolt", "count": 4}], "Sideboard": ["Shock"]}`,
			want: map[string]int{"Main/Bolt": 4, "Sideboard/Shock": 1},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			d := decodeDeck(t, c.doc)
			if d.ID != "x" {
				t.Errorf("expected id x, got %q", d.ID)
			}
			got := map[string]int{}
			for _, card := range d.Cards {
				got[card.Partition+"/"+card.Name] = card.Count
			}
			if len(got) != len(c.want) {
				t.Fatalf("expected %v, got %v", c.want, got)
			}
			for k, v := range c.want {
				if got[k] != v {
					t.Errorf("%s: expected %d, got %d", k, v, got[k])
				}
			}
		})
	}
}

func TestDeckNestedMetadata(t *testing.T) {
	d := decodeDeck(t, `{
		"id": "t1",
		"game": "pokemon",
		"timestamp": "2024-06-02T10:00:00",
		"type": {"inner": {"format": "Standard", "placement": "2", "eventDate": "2024-06-01", "tournamentSize": 120, "metaShare": 0.12}},
		"cards": ["Pikachu"]
	}`)

	if d.Game != "PKM" {
		t.Errorf("expected PKM, got %q", d.Game)
	}
	if d.Timestamp.IsZero() || d.Timestamp.Month() != time.June {
		t.Errorf("unexpected timestamp %v", d.Timestamp)
	}
	if d.Meta.Format != "Standard" || d.Meta.EventDate != "2024-06-01" || d.Meta.TournamentSize != 120 {
		t.Errorf("unexpected metadata %+v", d.Meta)
	}
	if d.Meta.Placement != 2 {
		t.Errorf("expected placement 2, got %d", d.Meta.Placement)
	}
	if d.Meta.MetaShare == nil || *d.Meta.MetaShare != 0.12 {
		t.Errorf("unexpected meta share %v", d.Meta.MetaShare)
	}
}

func TestIngestReader(t *testing.T) {
	ctx := context.Background()
	input := strings.Join([]string{
		`{"id": "a", "date": "2024-01-10", "format": "Modern", "cards": [{"name":"Bolt","count":4},{"name":"Shock","count":4}]}`,
		``,
		`{not json`,
		`{"format": "Modern", "cards": [{"name":"Bolt","count":1},{"name":"Shock","count":1}]}`,
		`{"id": "empty", "cards": []}`,
	}, "\n")

	g := cardgraph.NewGraph()
	cache := NewMemoryCache()
	in := New(g, cache, Options{})

	sum, err := in.IngestReader(ctx, strings.NewReader(input))
	if err != nil {
		t.Fatalf("failed to ingest: %v", err)
	}
	if sum.Added != 2 || sum.Skipped != 2 {
		t.Errorf("expected 2 added and 2 skipped, got %+v", sum)
	}
	if cache.Len() != 2 {
		t.Errorf("expected metadata for 2 decks, got %d", cache.Len())
	}

	e, _ := g.Edge("Bolt", "Shock")
	if e.Weight != 17 {
		t.Errorf("expected weight 17, got %d", e.Weight)
	}
	if len(e.DeckSources) != 2 {
		t.Errorf("expected generated id for anonymous deck, got %v", e.DeckSources)
	}
	if e.MonthlyCounts["2024-01"] != 1 {
		t.Errorf("unexpected monthly counts %v", e.MonthlyCounts)
	}
}

func TestRebuild(t *testing.T) {
	ctx := context.Background()
	g := cardgraph.NewGraph()
	in := New(g, nil, Options{})

	if _, err := in.AddDeck(ctx, burnDeck(t, "old")); err != nil {
		t.Fatalf("failed to add deck: %v", err)
	}
	other := decodeDeck(t, `{"cards": [{"name":"Opt","count":1},{"name":"Ponder","count":1}]}`)
	other.ID = "new"

	sum, err := in.Rebuild(ctx, []Deck{other})
	if err != nil {
		t.Fatalf("failed to rebuild: %v", err)
	}
	if sum.Added != 1 {
		t.Errorf("expected 1 deck added, got %d", sum.Added)
	}
	if _, ok := g.Edge("Bolt", "Shock"); ok {
		t.Error("expected old edge cleared")
	}
	if g.TotalDecksProcessed != 1 || len(g.Nodes) != 2 {
		t.Errorf("unexpected graph after rebuild: %d decks, %d nodes", g.TotalDecksProcessed, len(g.Nodes))
	}
}
