package updater

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/arclabs561/decksage-sub002/internal/archive"
	"github.com/arclabs561/decksage-sub002/internal/config"
	"github.com/arclabs561/decksage-sub002/internal/enrich"
	"github.com/arclabs561/decksage-sub002/internal/store"
	"github.com/arclabs561/decksage-sub002/pkg/cardgraph"
)

const (
	burnDecks = `{"id": "a", "date": "2024-01-10", "format": "Modern", "cards": [{"name":"Bolt","count":4},{"name":"Shock","count":4}]}
{"id": "b", "date": "2024-02-03", "format": "Modern", "cards": [{"name":"Bolt","count":1},{"name":"Shock","count":1},{"name":"Opt","count":2}]}
`
	blueDecks = `{"id": "c", "date": "2024-03-01", "cards": [{"name":"Opt","count":4},{"name":"Ponder","count":4}]}
`
)

func testConfig(t *testing.T, graphFile string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		GraphPath:   filepath.Join(dir, graphFile),
		LoadChunk:   100,
		BusyTimeout: time.Second,
		InboxDir:    filepath.Join(dir, "inbox"),
		ExportDir:   filepath.Join(dir, "export"),
		Weights:     config.DefaultWeights(),
		Storage:     config.StorageConfig{Keep: 3},
	}
}

func writeFile(t *testing.T, path, data string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

func TestIngestInbox(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, "graph.json")
	writeFile(t, filepath.Join(cfg.InboxDir, "01-burn.jsonl"), burnDecks)
	writeFile(t, filepath.Join(cfg.InboxDir, "02-blue.jsonl"), blueDecks)
	writeFile(t, filepath.Join(cfg.InboxDir, "notes.txt"), "not a deck file")

	u := New(cfg, Deps{})
	sum, err := u.IngestInbox(ctx)
	if err != nil {
		t.Fatalf("failed to ingest inbox: %v", err)
	}
	if sum.Added != 3 {
		t.Errorf("expected 3 decks added, got %+v", sum)
	}

	for _, name := range []string{"01-burn.jsonl", "02-blue.jsonl"} {
		if _, err := os.Stat(filepath.Join(cfg.InboxDir, ProcessedDir, name)); err != nil {
			t.Errorf("expected %s moved to processed: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(cfg.InboxDir, "notes.txt")); err != nil {
		t.Errorf("expected non-deck file left alone: %v", err)
	}

	g, err := u.Load(ctx)
	if err != nil {
		t.Fatalf("failed to load graph: %v", err)
	}
	e, ok := g.Edge("Shock", "Bolt")
	if !ok || e.Weight != 17 {
		t.Fatalf("unexpected Bolt/Shock edge %+v", e)
	}
	if g.TotalDecksProcessed != 3 {
		t.Errorf("expected 3 decks processed, got %d", g.TotalDecksProcessed)
	}
	if len(e.FormatPeriods) == 0 {
		t.Error("expected format periods tracked through the calendar")
	}

	sum, err = u.IngestInbox(ctx)
	if err != nil || sum.Added != 0 {
		t.Errorf("expected empty second pass, got %+v, %v", sum, err)
	}
}

func TestIngestInboxNotConfigured(t *testing.T) {
	cfg := testConfig(t, "graph.json")
	cfg.InboxDir = ""
	if _, err := New(cfg, Deps{}).IngestInbox(context.Background()); err == nil {
		t.Error("expected error without inbox")
	}
}

func TestIngestFilesSQLite(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, "graph.db")
	dir := filepath.Dir(cfg.GraphPath)
	u := New(cfg, Deps{})

	if _, err := u.IngestFiles(ctx, writeFile(t, filepath.Join(dir, "burn.jsonl"), burnDecks)); err != nil {
		t.Fatalf("failed to ingest: %v", err)
	}
	if _, err := u.IngestFiles(ctx, writeFile(t, filepath.Join(dir, "blue.jsonl"), blueDecks)); err != nil {
		t.Fatalf("failed to ingest: %v", err)
	}

	stats, err := u.Stats(ctx)
	if err != nil {
		t.Fatalf("failed to read stats: %v", err)
	}
	if stats.NumNodes != 4 || stats.NumEdges != 4 || stats.TotalDecksProcessed != 3 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestLoadDoesNotMigrate(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, "graph.db")
	dir := filepath.Dir(cfg.GraphPath)
	u := New(cfg, Deps{})

	if _, err := u.IngestFiles(ctx, writeFile(t, filepath.Join(dir, "burn.jsonl"), burnDecks)); err != nil {
		t.Fatalf("failed to ingest: %v", err)
	}

	db, err := sql.Open("sqlite3", cfg.GraphPath)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	defer db.Close()
	if _, err := db.ExecContext(ctx, "DELETE FROM schema_migrations"); err != nil {
		t.Fatalf("failed to clear migrations: %v", err)
	}

	stats, err := u.Stats(ctx)
	if err != nil {
		t.Fatalf("failed to read stats: %v", err)
	}
	if stats.NumEdges != 3 {
		t.Errorf("expected 3 edges, got %d", stats.NumEdges)
	}

	var applied int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&applied); err != nil {
		t.Fatalf("failed to count migrations: %v", err)
	}
	if applied != 0 {
		t.Errorf("read must not migrate the store, found %d applied migrations", applied)
	}
}

func TestRebuild(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, "graph.json")
	dir := filepath.Dir(cfg.GraphPath)
	u := New(cfg, Deps{})

	if _, err := u.IngestFiles(ctx, writeFile(t, filepath.Join(dir, "burn.jsonl"), burnDecks)); err != nil {
		t.Fatalf("failed to ingest: %v", err)
	}
	sum, err := u.Rebuild(ctx, writeFile(t, filepath.Join(dir, "blue.jsonl"), blueDecks))
	if err != nil {
		t.Fatalf("failed to rebuild: %v", err)
	}
	if sum.Added != 1 {
		t.Errorf("expected 1 deck, got %+v", sum)
	}

	g, err := u.Load(ctx)
	if err != nil {
		t.Fatalf("failed to load graph: %v", err)
	}
	if _, ok := g.Edge("Bolt", "Shock"); ok {
		t.Error("expected old edges dropped by rebuild")
	}
	if e, ok := g.Edge("Opt", "Ponder"); !ok || e.Weight != 16 {
		t.Errorf("unexpected Opt/Ponder edge %+v", e)
	}
	if g.TotalDecksProcessed != 1 {
		t.Errorf("expected counters reset, got %d", g.TotalDecksProcessed)
	}
}

func TestEnrich(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, "graph.json")
	dir := filepath.Dir(cfg.GraphPath)
	u := New(cfg, Deps{})

	if _, err := u.IngestFiles(ctx, writeFile(t, filepath.Join(dir, "burn.jsonl"), burnDecks)); err != nil {
		t.Fatalf("failed to ingest: %v", err)
	}

	p, closeSources, err := u.Pipeline(ctx, "")
	if err != nil {
		t.Fatalf("failed to build pipeline: %v", err)
	}
	closeSources()
	if got := strings.Join(p.Names(), ","); got != "archetypes,tournament,formats" {
		t.Errorf("unexpected integrators %s", got)
	}

	reports, err := u.Enrich(ctx, "", enrich.NameFormats)
	if err != nil {
		t.Fatalf("failed to enrich: %v", err)
	}
	if len(reports) != 1 || reports[0].Integrator != enrich.NameFormats {
		t.Fatalf("unexpected reports %+v", reports)
	}

	g, err := u.Load(ctx)
	if err != nil {
		t.Fatalf("failed to load graph: %v", err)
	}
	e, _ := g.Edge("Bolt", "Shock")
	if e.Weight != 18 || len(e.Metadata.FormatLegality) != 1 {
		t.Errorf("expected format pass saved, got weight %d and %+v", e.Weight, e.Metadata.FormatLegality)
	}

	if _, err := u.Enrich(ctx, "", enrich.NamePacks); err == nil {
		t.Error("expected error for integrator without a source")
	}
}

func TestEnrichWithSources(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, "graph.json")
	dir := filepath.Dir(cfg.GraphPath)
	cfg.PackDB = filepath.Join(dir, "packs.db")
	cfg.AttributesFile = writeFile(t, filepath.Join(dir, "attrs.csv"),
		"name,rarity,type_line\nBolt,common,Instant\nShock,common,Instant\nOpt,common,Instant\n")

	src, err := enrich.OpenPackDB(ctx, cfg.PackDB)
	if err != nil {
		t.Fatalf("failed to open pack db: %v", err)
	}
	if err := src.AddPack(ctx, enrich.Pack{ID: "M1", Game: "MTG", Name: "Set", ReleaseDate: "2024-01-01", Cards: []string{"Bolt", "Opt"}}); err != nil {
		t.Fatalf("failed to add pack: %v", err)
	}
	src.Close()

	u := New(cfg, Deps{})
	if _, err := u.IngestFiles(ctx, writeFile(t, filepath.Join(dir, "burn.jsonl"), burnDecks)); err != nil {
		t.Fatalf("failed to ingest: %v", err)
	}

	reports, err := u.Enrich(ctx, "")
	if err != nil {
		t.Fatalf("failed to enrich: %v", err)
	}
	if len(reports) != 5 {
		t.Fatalf("expected all five integrators, got %d", len(reports))
	}

	g, err := u.Load(ctx)
	if err != nil {
		t.Fatalf("failed to load graph: %v", err)
	}
	if g.Nodes["Bolt"].Attributes["rarity"] != "common" {
		t.Errorf("expected node attributes merged, got %v", g.Nodes["Bolt"].Attributes)
	}
	if _, ok := g.Nodes["Bolt"].Attributes["packs"]; !ok {
		t.Error("expected pack tag on node")
	}
}

func TestFixGames(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, "graph.json")
	dir := filepath.Dir(cfg.GraphPath)

	u := New(cfg, Deps{Classifier: staticClassifier{"Bolt": "MTG", "Shock": "MTG", "Opt": "MTG"}})
	if _, err := u.IngestFiles(ctx, writeFile(t, filepath.Join(dir, "burn.jsonl"), burnDecks)); err != nil {
		t.Fatalf("failed to ingest: %v", err)
	}

	rep, err := u.FixGames(ctx)
	if err != nil {
		t.Fatalf("failed to fix games: %v", err)
	}
	if rep.CrossGame != 0 {
		t.Errorf("unexpected report %+v", rep)
	}

	g, err := u.Load(ctx)
	if err != nil {
		t.Fatalf("failed to load graph: %v", err)
	}
	for key, e := range g.Edges {
		if e.Game != "MTG" {
			t.Errorf("expected %v labeled MTG, got %q", key, e.Game)
		}
	}
}

func TestFixGamesSavesClearedCrossGameEdge(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, "graph.json")
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	g := cardgraph.NewGraph()
	g.Nodes["Bolt"] = cardgraph.NewCardNode("Bolt", "MTG", at)
	g.Nodes["Pikachu"] = cardgraph.NewCardNode("Pikachu", "PKM", at)
	e := cardgraph.NewEdge(cardgraph.NewEdgeKey("Bolt", "Pikachu"), "MTG", at)
	e.AddWeight(4)
	g.Edges[e.Key()] = e
	if err := store.NewSnapshot(cfg.GraphPath).Save(ctx, g); err != nil {
		t.Fatalf("failed to save graph: %v", err)
	}

	u := New(cfg, Deps{})
	rep, err := u.FixGames(ctx)
	if err != nil {
		t.Fatalf("failed to fix games: %v", err)
	}
	if rep.CrossGame != 1 || rep.EdgesCleared != 1 {
		t.Errorf("unexpected report %+v", rep)
	}

	loaded, err := u.Load(ctx)
	if err != nil {
		t.Fatalf("failed to load graph: %v", err)
	}
	if got, _ := loaded.Edge("Bolt", "Pikachu"); got == nil || got.Game != "" {
		t.Errorf("expected cross-game edge stored without a game, got %+v", got)
	}

	// already cleared: nothing to save
	before, err := os.Stat(cfg.GraphPath)
	if err != nil {
		t.Fatalf("failed to stat graph: %v", err)
	}
	rep, err = u.FixGames(ctx)
	if err != nil {
		t.Fatalf("failed to fix games: %v", err)
	}
	if rep.CrossGame != 1 || rep.EdgesCleared != 0 {
		t.Errorf("unexpected second report %+v", rep)
	}
	after, err := os.Stat(cfg.GraphPath)
	if err != nil {
		t.Fatalf("failed to stat graph: %v", err)
	}
	if !after.ModTime().Equal(before.ModTime()) {
		t.Error("graph rewritten although nothing changed")
	}
}

type staticClassifier map[string]string

func (c staticClassifier) Game(ctx context.Context, name string, fuzzy bool) (string, error) {
	return c[name], nil
}

type fakeArchive struct {
	uploads []string
	pruned  map[string]int
	checked func(path string)
}

func (f *fakeArchive) UploadFile(ctx context.Context, prefix, localPath string) (string, error) {
	if f.checked != nil {
		f.checked(localPath)
	}
	name := archive.ObjectName(prefix, localPath, time.Now())
	f.uploads = append(f.uploads, name)
	return name, nil
}

func (f *fakeArchive) Prune(ctx context.Context, prefix string, keep int) (int, error) {
	if f.pruned == nil {
		f.pruned = map[string]int{}
	}
	f.pruned[prefix] = keep
	return 0, nil
}

func TestArchive(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, "graph.db")
	dir := filepath.Dir(cfg.GraphPath)

	fa := &fakeArchive{}
	fa.checked = func(path string) {
		g, err := store.NewSnapshot(path).Load(ctx)
		if err != nil {
			t.Errorf("uploaded snapshot unreadable: %v", err)
			return
		}
		if len(g.Edges) != 3 {
			t.Errorf("expected 3 edges in snapshot, got %d", len(g.Edges))
		}
	}

	u := New(cfg, Deps{Archive: fa})
	if _, err := u.IngestFiles(ctx, writeFile(t, filepath.Join(dir, "burn.jsonl"), burnDecks)); err != nil {
		t.Fatalf("failed to ingest: %v", err)
	}

	name, err := u.Archive(ctx)
	if err != nil {
		t.Fatalf("failed to archive: %v", err)
	}
	if !strings.HasPrefix(name, archive.PrefixSnapshots) || !strings.HasSuffix(name, ".json") {
		t.Errorf("unexpected object name %s", name)
	}
	if fa.pruned[archive.PrefixSnapshots] != 3 {
		t.Errorf("expected prune keeping 3, got %v", fa.pruned)
	}

	if _, err := New(cfg, Deps{}).Archive(ctx); err == nil {
		t.Error("expected error without archive")
	}
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, "graph.json")
	dir := filepath.Dir(cfg.GraphPath)

	fa := &fakeArchive{}
	u := New(cfg, Deps{Archive: fa})
	if _, err := u.IngestFiles(ctx, writeFile(t, filepath.Join(dir, "burn.jsonl"), burnDecks)); err != nil {
		t.Fatalf("failed to ingest: %v", err)
	}

	res, err := u.Export(ctx, ExportOptions{MinWeight: 2, Upload: true})
	if err != nil {
		t.Fatalf("failed to export: %v", err)
	}
	if res.Edges != 3 {
		t.Errorf("expected 3 edges over the threshold, got %d", res.Edges)
	}
	for _, path := range []string{res.Parquet.Nodes, res.Parquet.Edges, res.EdgeList, res.Adjacency} {
		if filepath.Dir(path) != cfg.ExportDir {
			t.Errorf("expected %s in export dir", path)
		}
		if _, err := os.Stat(path); err != nil {
			t.Errorf("missing export file: %v", err)
		}
	}
	if len(res.Uploaded) != 4 || !strings.HasPrefix(res.Uploaded[0], archive.PrefixExports) {
		t.Errorf("unexpected uploads %v", res.Uploaded)
	}
}

func TestLoadMissingStore(t *testing.T) {
	cfg := testConfig(t, "graph.db")
	g, err := New(cfg, Deps{}).Load(context.Background())
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	if len(g.Nodes) != 0 || g.Periods == nil {
		t.Errorf("expected empty graph with a calendar, got %+v", g)
	}
}
