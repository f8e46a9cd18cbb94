package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/arclabs561/decksage-sub002/pkg/cardgraph"
)

func sampleGraph() *cardgraph.Graph {
	at := time.Date(2024, 3, 1, 12, 30, 0, 123456789, time.UTC)
	later := at.AddDate(0, 2, 0)

	g := cardgraph.NewGraph()
	g.LastUpdate = later
	g.TotalDecksProcessed = 7

	bolt := cardgraph.NewCardNode("Lightning Bolt", "MTG", at)
	bolt.Observe(later, "MTG", map[string]any{"type": "Instant", "colors": []string{"R"}, "cmc": 1})
	g.Nodes[bolt.Name] = bolt
	g.Nodes["Shock"] = cardgraph.NewCardNode("Shock", "", at)

	e := cardgraph.NewEdge(cardgraph.NewEdgeKey("Shock", "Lightning Bolt"), "MTG", at)
	e.AddWeight(16)
	e.Widen(later)
	e.AddDeckSource("deck-1")
	e.AddDeckSource("deck-2")
	e.ObserveTemporal(at, "Modern", nil)
	e.ObserveTemporal(later, "", nil)
	e.Metadata.AddFormat("Modern")
	e.Metadata.AddArchetype("Burn")
	e.Metadata.Placements = []int{1, 4}
	e.Metadata.AddProvenance(cardgraph.PackRecord{PackID: "P1", PackName: "Starter", ReleaseDate: "2024-01-05"})
	e.Metadata.AddProvenance(cardgraph.TournamentRecord{TopPlacements: []int{1, 4}, PerformanceBoost: 3, MinPlacement: 8})
	g.Edges[e.Key()] = e

	return g
}

func assertGraphEqual(t *testing.T, want, got *cardgraph.Graph) {
	t.Helper()

	if got.TotalDecksProcessed != want.TotalDecksProcessed {
		t.Errorf("expected %d decks processed, got %d", want.TotalDecksProcessed, got.TotalDecksProcessed)
	}
	if !got.LastUpdate.Equal(want.LastUpdate) {
		t.Errorf("expected last update %v, got %v", want.LastUpdate, got.LastUpdate)
	}
	if len(got.Nodes) != len(want.Nodes) || len(got.Edges) != len(want.Edges) {
		t.Fatalf("expected %d nodes/%d edges, got %d/%d", len(want.Nodes), len(want.Edges), len(got.Nodes), len(got.Edges))
	}

	for name, wn := range want.Nodes {
		gn, ok := got.Nodes[name]
		if !ok {
			t.Errorf("node %q missing", name)
			continue
		}
		if gn.Game != wn.Game || gn.TotalDecks != wn.TotalDecks {
			t.Errorf("node %q: expected %+v, got %+v", name, wn, gn)
		}
		if !gn.FirstSeen.Equal(wn.FirstSeen) || !gn.LastSeen.Equal(wn.LastSeen) {
			t.Errorf("node %q: timestamps differ", name)
		}
		if !reflect.DeepEqual(gn.Attributes, wn.Attributes) {
			t.Errorf("node %q: expected attributes %v, got %v", name, wn.Attributes, gn.Attributes)
		}
	}

	for key, we := range want.Edges {
		ge, ok := got.Edges[key]
		if !ok {
			t.Errorf("edge %s missing", key)
			continue
		}
		if ge.Weight != we.Weight || ge.Game != we.Game {
			t.Errorf("edge %s: expected weight %d game %q, got %d %q", key, we.Weight, we.Game, ge.Weight, ge.Game)
		}
		if !ge.FirstSeen.Equal(we.FirstSeen) || !ge.LastSeen.Equal(we.LastSeen) {
			t.Errorf("edge %s: timestamps differ", key)
		}
		if !reflect.DeepEqual(ge.DeckSources, we.DeckSources) {
			t.Errorf("edge %s: expected sources %v, got %v", key, we.DeckSources, ge.DeckSources)
		}
		if !reflect.DeepEqual(ge.MonthlyCounts, we.MonthlyCounts) {
			t.Errorf("edge %s: expected monthly %v, got %v", key, we.MonthlyCounts, ge.MonthlyCounts)
		}
		if !reflect.DeepEqual(ge.FormatPeriods, we.FormatPeriods) {
			t.Errorf("edge %s: expected periods %v, got %v", key, we.FormatPeriods, ge.FormatPeriods)
		}
		if !reflect.DeepEqual(ge.Metadata, we.Metadata) {
			t.Errorf("edge %s: expected metadata %+v, got %+v", key, we.Metadata, ge.Metadata)
		}
	}
}

func openTestSQLite(t *testing.T, path string, opts Options) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(context.Background(), path, opts)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t, filepath.Join(t.TempDir(), "graph.db"), DefaultOptions())

	want := sampleGraph()
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("failed to save: %v", err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	assertGraphEqual(t, want, got)

	// save replaces, it does not append
	if err := s.Save(ctx, got); err != nil {
		t.Fatalf("failed to save again: %v", err)
	}
	nodes, edges, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if nodes != 2 || edges != 1 {
		t.Errorf("expected 2 nodes and 1 edge, got %d and %d", nodes, edges)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewSnapshot(filepath.Join(t.TempDir(), "nested", "graph.json"))

	want := sampleGraph()
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("failed to save: %v", err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	assertGraphEqual(t, want, got)
}

func TestSQLiteChunkedLoad(t *testing.T) {
	ctx := context.Background()
	opts := DefaultOptions()
	opts.ChunkSize = 2
	s := openTestSQLite(t, filepath.Join(t.TempDir(), "graph.db"), opts)

	g := cardgraph.NewGraph()
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cards := []string{"a", "b", "c", "d"}
	for _, c := range cards {
		g.Nodes[c] = cardgraph.NewCardNode(c, "MTG", at)
	}
	for i := range cards {
		for j := i + 1; j < len(cards); j++ {
			e := cardgraph.NewEdge(cardgraph.NewEdgeKey(cards[i], cards[j]), "MTG", at)
			e.AddWeight(int64(i + j))
			g.Edges[e.Key()] = e
		}
	}

	if err := s.Save(ctx, g); err != nil {
		t.Fatalf("failed to save: %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	if len(got.Nodes) != 4 || len(got.Edges) != 6 {
		t.Errorf("expected 4 nodes and 6 edges, got %d and %d", len(got.Nodes), len(got.Edges))
	}
}

func TestSQLiteMalformedTemporalColumns(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t, filepath.Join(t.TempDir(), "graph.db"), DefaultOptions())

	if err := s.Save(ctx, sampleGraph()); err != nil {
		t.Fatalf("failed to save: %v", err)
	}

	_, err := s.DB().ExecContext(ctx,
		`UPDATE edges SET monthly_counts = ?, format_periods = ?`,
		`{"2024-03": 2, "March": 1, "2024-04": "x"}`, `[1, 2, 3]`)
	if err != nil {
		t.Fatalf("failed to corrupt row: %v", err)
	}

	g, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load must tolerate malformed buckets: %v", err)
	}

	e, ok := g.Edge("Lightning Bolt", "Shock")
	if !ok {
		t.Fatal("edge missing")
	}
	if len(e.MonthlyCounts) != 1 || e.MonthlyCounts["2024-03"] != 2 {
		t.Errorf("expected partially populated counts, got %v", e.MonthlyCounts)
	}
	if len(e.FormatPeriods) != 0 {
		t.Errorf("expected empty periods, got %v", e.FormatPeriods)
	}

	if _, err := s.DB().ExecContext(ctx, `UPDATE edges SET monthly_counts = 'not json', metadata = '[]'`); err != nil {
		t.Fatalf("failed to corrupt row: %v", err)
	}
	g, err = s.Load(ctx)
	if err != nil {
		t.Fatalf("load must tolerate malformed values: %v", err)
	}
	if e, _ := g.Edge("Lightning Bolt", "Shock"); len(e.MonthlyCounts) != 0 || !e.Metadata.IsEmpty() {
		t.Errorf("expected emptied fields, got %v %+v", e.MonthlyCounts, e.Metadata)
	}
}

const legacySchema = `
CREATE TABLE nodes (
    name TEXT PRIMARY KEY,
    game TEXT,
    first_seen TEXT,
    last_seen TEXT,
    total_decks INTEGER DEFAULT 0,
    attributes TEXT
);
CREATE TABLE edges (
    card1 TEXT NOT NULL,
    card2 TEXT NOT NULL,
    game TEXT,
    weight INTEGER DEFAULT 1,
    first_seen TEXT,
    last_seen TEXT,
    deck_sources TEXT,
    metadata TEXT,
    PRIMARY KEY (card1, card2)
);
INSERT INTO nodes VALUES ('Bolt', 'MTG', '2023-05-01T00:00:00', '2023-06-01T00:00:00', 3, '{"cmc": 1}');
INSERT INTO edges VALUES ('Bolt', 'Shock', 'MTG', 12, '2023-05-01T00:00:00', '2023-06-01T00:00:00', '["d1"]', '{"formats": ["Modern"]}');
`

func writeLegacyStore(t *testing.T, path string) {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("failed to open legacy store: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec(legacySchema); err != nil {
		t.Fatalf("failed to create legacy store: %v", err)
	}
}

func TestSQLiteMigratesLegacyStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "legacy.db")
	writeLegacyStore(t, path)

	s := openTestSQLite(t, path, DefaultOptions())

	for _, col := range []string{"monthly_counts", "format_periods"} {
		ok, err := columnExists(ctx, s.DB(), "edges", col)
		if err != nil || !ok {
			t.Errorf("expected column %s after migration, err=%v", col, err)
		}
	}

	g, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("failed to load legacy store: %v", err)
	}

	e, ok := g.Edge("Shock", "Bolt")
	if !ok {
		t.Fatal("legacy edge missing")
	}
	if e.Weight != 12 || len(e.MonthlyCounts) != 0 || e.Metadata.Formats[0] != "Modern" {
		t.Errorf("unexpected legacy edge %+v", e)
	}
	if want := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC); !e.FirstSeen.Equal(want) {
		t.Errorf("expected naive timestamp to parse, got %v", e.FirstSeen)
	}
	if g.Nodes["Bolt"].TotalDecks != 3 {
		t.Errorf("unexpected node %+v", g.Nodes["Bolt"])
	}

	// reopening does not re-apply anything
	s.Close()
	s2 := openTestSQLite(t, path, DefaultOptions())
	applied, err := s2.appliedMigrations(ctx)
	if err != nil {
		t.Fatalf("failed to read migrations: %v", err)
	}
	if len(applied) != len(migrations) {
		t.Errorf("expected %d applied migrations, got %d", len(migrations), len(applied))
	}
}

func TestSQLiteReadOnlyLegacyStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")
	writeLegacyStore(t, path)

	opts := DefaultOptions()
	opts.ReadOnly = true
	s := openTestSQLite(t, path, opts)

	g, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("missing columns must read as absent: %v", err)
	}
	if len(g.Edges) != 1 {
		t.Errorf("expected 1 edge, got %d", len(g.Edges))
	}
}

func TestSQLiteMissingTableReinitialized(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t, filepath.Join(t.TempDir(), "graph.db"), DefaultOptions())

	if _, err := s.DB().ExecContext(ctx, "DROP TABLE edges"); err != nil {
		t.Fatalf("failed to drop table: %v", err)
	}

	g, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("expected schema to be re-initialized, got %v", err)
	}
	if len(g.Edges) != 0 {
		t.Errorf("expected empty graph, got %d edges", len(g.Edges))
	}

	if _, err := s.DB().ExecContext(ctx, "DROP TABLE nodes"); err != nil {
		t.Fatalf("failed to drop table: %v", err)
	}
	if err := s.Save(ctx, sampleGraph()); err != nil {
		t.Fatalf("expected save to re-initialize schema, got %v", err)
	}
}

func TestSnapshotMissingFile(t *testing.T) {
	g, err := NewSnapshot(filepath.Join(t.TempDir(), "none.json")).Load(context.Background())
	if err != nil {
		t.Fatalf("expected empty graph, got %v", err)
	}
	if len(g.Nodes) != 0 {
		t.Errorf("expected no nodes, got %d", len(g.Nodes))
	}
}

func TestSnapshotDropsMalformedRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.json")
	doc := `{
  "nodes": {"Bolt": {"name": "Bolt", "first_seen": "2024-03-01T00:00:00", "last_seen": "2024-03-01T00:00:00", "total_decks": 1}, "Bad": "oops"},
  "edges": {
    "Bolt|||Shock": {"weight": 8, "first_seen": "2024-03-01T00:00:00", "last_seen": "2024-03-01T00:00:00", "deck_sources": ["d1"], "monthly_counts": {"2024-03": 1, "bad": 2}},
    "NoSeparator": {"weight": 1},
    "Bolt|||Zap": {"weight": "heavy"}
  },
  "last_update": "2024-03-01T00:00:00",
  "total_decks_processed": 1
}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("failed to write snapshot: %v", err)
	}

	g, err := NewSnapshot(path).Load(context.Background())
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	if len(g.Nodes) != 1 || len(g.Edges) != 1 {
		t.Fatalf("expected 1 node and 1 edge, got %d and %d", len(g.Nodes), len(g.Edges))
	}
	e, _ := g.Edge("Bolt", "Shock")
	if e.Weight != 8 || len(e.MonthlyCounts) != 1 {
		t.Errorf("unexpected edge %+v", e)
	}
}

func TestSnapshotCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.json")
	if err := os.WriteFile(path, []byte(`{"nodes": [`), 0o644); err != nil {
		t.Fatalf("failed to write snapshot: %v", err)
	}

	_, err := NewSnapshot(path).Load(context.Background())
	if !errors.Is(err, cardgraph.ErrStoreCorrupted) {
		t.Fatalf("expected corrupted error, got %v", err)
	}
	if cardgraph.IsRetryable(err) {
		t.Error("corruption must not be retryable")
	}
}

func TestErrorKind(t *testing.T) {
	cases := map[string]error{
		"database is locked":                cardgraph.ErrStoreLocked,
		"database disk image is malformed":  cardgraph.ErrStoreCorrupted,
		"file is not a database":            cardgraph.ErrStoreCorrupted,
		"no such table: edges":              cardgraph.ErrSchemaMissing,
		"constraint failed: UNIQUE":         nil,
	}
	for msg, want := range cases {
		if got := errorKind(errors.New(msg)); got != want {
			t.Errorf("errorKind(%q) = %v, want %v", msg, got, want)
		}
	}

	err := classify("save", "graph.db", errors.New("database is locked"))
	if !cardgraph.IsRetryable(err) {
		t.Errorf("expected retryable error, got %v", err)
	}
	var se *cardgraph.StoreError
	if !errors.As(err, &se) || se.Hint() == "" {
		t.Errorf("expected store error with hint, got %v", err)
	}
}

func TestResolveBackend(t *testing.T) {
	cases := []struct {
		path, name, want string
	}{
		{"graph.db", "", BackendSQLite},
		{"graph.SQLITE", "", BackendSQLite},
		{"graph.json", "", BackendSnapshot},
		{"graph.json", "sqlite", BackendSQLite},
		{"graph.db", "snapshot", BackendSnapshot},
	}
	for _, c := range cases {
		got, err := ResolveBackend(c.path, c.name)
		if err != nil || got != c.want {
			t.Errorf("ResolveBackend(%q, %q) = %q, %v", c.path, c.name, got, err)
		}
	}

	if _, err := ResolveBackend("graph.db", "postgres"); err == nil {
		t.Error("expected error for unknown backend")
	}
}
