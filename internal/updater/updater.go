// Package updater runs one update cycle step at a time against the
// configured graph store: ingest, enrich, fix games, export and archive.
// Every step loads the graph, mutates it and saves it back under one lock.
package updater

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arclabs561/decksage-sub002/internal/archive"
	"github.com/arclabs561/decksage-sub002/internal/config"
	"github.com/arclabs561/decksage-sub002/internal/enrich"
	"github.com/arclabs561/decksage-sub002/internal/export"
	"github.com/arclabs561/decksage-sub002/internal/formats"
	"github.com/arclabs561/decksage-sub002/internal/ingest"
	"github.com/arclabs561/decksage-sub002/internal/logger"
	"github.com/arclabs561/decksage-sub002/internal/metrics"
	"github.com/arclabs561/decksage-sub002/internal/store"
	"github.com/arclabs561/decksage-sub002/pkg/cardgraph"
)

// ProcessedDir is the inbox subdirectory ingested files are moved into.
const ProcessedDir = "processed"

// Archiver is the part of the object-storage client the updater needs.
type Archiver interface {
	UploadFile(ctx context.Context, prefix, localPath string) (string, error)
	Prune(ctx context.Context, prefix string, keep int) (int, error)
}

// Deps are the optional collaborators. Nil fields disable what depends on them.
type Deps struct {
	Classifier cardgraph.Classifier
	Cache      ingest.MetadataCache
	Archive    Archiver
	Calendar   *formats.Calendar
}

type Updater struct {
	cfg  *config.Config
	deps Deps

	// mu serializes writers; the graph assumes a single one.
	mu sync.Mutex
}

func New(cfg *config.Config, deps Deps) *Updater {
	if deps.Calendar == nil {
		deps.Calendar = formats.Default()
	}
	return &Updater{cfg: cfg, deps: deps}
}

func (u *Updater) storeOptions(readOnly bool) store.Options {
	return store.Options{
		Backend:     u.cfg.Backend,
		ChunkSize:   u.cfg.LoadChunk,
		BusyTimeout: u.cfg.BusyTimeout,
		ReadOnly:    readOnly,
	}
}

func (u *Updater) open(ctx context.Context, readOnly bool) (cardgraph.Backend, *cardgraph.Graph, error) {
	backend, err := store.Open(ctx, u.cfg.GraphPath, u.storeOptions(readOnly))
	if err != nil {
		return nil, nil, err
	}

	g, err := backend.Load(ctx)
	if err != nil {
		backend.Close()
		return nil, nil, err
	}
	g.Periods = u.deps.Calendar

	for _, e := range g.SuspiciousEdges(u.cfg.Weights.MaxEdgeWeight) {
		logger.Warn("suspicious edge weight", "card1", e.Card1, "card2", e.Card2, "weight", e.Weight)
	}
	metrics.GraphSize(len(g.Nodes), len(g.Edges))
	return backend, g, nil
}

// Load returns the stored graph without taking the writer lock. The store is
// opened read-only, so it is neither migrated nor switched to WAL here, and
// the read sees the last committed save even while a writer is busy. A store
// that does not exist yet loads as an empty graph.
func (u *Updater) Load(ctx context.Context) (*cardgraph.Graph, error) {
	if _, err := os.Stat(u.cfg.GraphPath); errors.Is(err, os.ErrNotExist) {
		g := cardgraph.NewGraph()
		g.Periods = u.deps.Calendar
		return g, nil
	}

	backend, g, err := u.open(ctx, true)
	if err != nil {
		return nil, err
	}
	return g, backend.Close()
}

// update loads the graph, runs fn and saves the graph when fn reports a change.
func (u *Updater) update(ctx context.Context, fn func(g *cardgraph.Graph) (bool, error)) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	backend, g, err := u.open(ctx, false)
	if err != nil {
		return err
	}
	defer backend.Close()

	changed, err := fn(g)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	if err := backend.Save(ctx, g); err != nil {
		return err
	}
	metrics.GraphSize(len(g.Nodes), len(g.Edges))
	return nil
}

func (u *Updater) ingester(g *cardgraph.Graph) (*ingest.Ingester, error) {
	opts := ingest.Options{
		SideboardMultiplier: u.cfg.Weights.SideboardMultiplier,
		Classifier:          u.deps.Classifier,
	}
	if u.cfg.AttributesFile != "" {
		table, err := enrich.LoadAttributesCSV(u.cfg.AttributesFile)
		if err != nil {
			return nil, err
		}
		opts.Attributes = table
	}
	return ingest.New(g, u.deps.Cache, opts), nil
}

// IngestFiles adds every deck in the given JSONL files to the stored graph.
func (u *Updater) IngestFiles(ctx context.Context, paths ...string) (ingest.Summary, error) {
	var total ingest.Summary
	err := u.update(ctx, func(g *cardgraph.Graph) (bool, error) {
		in, err := u.ingester(g)
		if err != nil {
			return false, err
		}
		for _, path := range paths {
			sum, err := in.IngestFile(ctx, path)
			addSummary(&total, sum)
			if err != nil {
				return false, err
			}
		}
		return total.Added > 0, nil
	})
	return total, err
}

// Rebuild discards the stored graph and builds it again from the given files.
func (u *Updater) Rebuild(ctx context.Context, paths ...string) (ingest.Summary, error) {
	var total ingest.Summary
	err := u.update(ctx, func(g *cardgraph.Graph) (bool, error) {
		in, err := u.ingester(g)
		if err != nil {
			return false, err
		}
		g.Reset()
		for _, path := range paths {
			sum, err := in.IngestFile(ctx, path)
			addSummary(&total, sum)
			if err != nil {
				return false, err
			}
		}
		logger.Info("graph rebuilt", "files", len(paths), "decks", total.Added, "edges", len(g.Edges))
		return true, nil
	})
	return total, err
}

func addSummary(total *ingest.Summary, sum ingest.Summary) {
	total.Added += sum.Added
	total.Skipped += sum.Skipped
	total.EdgesCreated += sum.EdgesCreated
	total.EdgesUpdated += sum.EdgesUpdated
}

// InboxFiles lists the JSONL files waiting in dir, oldest name first.
func InboxFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// IngestInbox ingests the files waiting in the inbox and moves them into its
// processed subdirectory once the graph is saved.
func (u *Updater) IngestInbox(ctx context.Context) (ingest.Summary, error) {
	if u.cfg.InboxDir == "" {
		return ingest.Summary{}, fmt.Errorf("inbox directory is not configured")
	}

	files, err := InboxFiles(u.cfg.InboxDir)
	if err != nil {
		return ingest.Summary{}, fmt.Errorf("read inbox: %w", err)
	}
	if len(files) == 0 {
		logger.Debug("inbox empty", "dir", u.cfg.InboxDir)
		return ingest.Summary{}, nil
	}

	sum, err := u.IngestFiles(ctx, files...)
	if err != nil {
		return sum, err
	}

	done := filepath.Join(u.cfg.InboxDir, ProcessedDir)
	if err := os.MkdirAll(done, 0o755); err != nil {
		return sum, err
	}
	for _, path := range files {
		if err := os.Rename(path, filepath.Join(done, filepath.Base(path))); err != nil {
			return sum, fmt.Errorf("move %s: %w", path, err)
		}
	}
	return sum, nil
}

// Pipeline builds the enrichment pipeline from the configured weights and
// sources. Integrators whose source is not configured are left out. The
// returned function releases the sources.
func (u *Updater) Pipeline(ctx context.Context, game string) (*enrich.Pipeline, func() error, error) {
	w := u.cfg.Weights
	opts := enrich.Options{Game: game, IdempotentWeight: w.IdempotentEnrichment}
	closer := func() error { return nil }

	p := enrich.NewPipeline()
	if u.cfg.PackDB != "" {
		src, err := enrich.OpenPackDB(ctx, u.cfg.PackDB)
		if err != nil {
			return nil, nil, err
		}
		closer = src.Close
		p.Register(&enrich.PackIntegrator{Source: src, Increment: w.PackIncrement, Options: opts})
	}
	p.Register(&enrich.ArchetypeIntegrator{Increment: w.ArchetypeIncrement, MinCards: w.MinArchetypeCards, Options: opts})
	if u.cfg.AttributesFile != "" {
		table, err := enrich.LoadAttributesCSV(u.cfg.AttributesFile)
		if err != nil {
			closer()
			return nil, nil, err
		}
		attrOpts := opts
		attrOpts.MaxGroup = w.MaxAttributeGroup
		p.Register(&enrich.AttributeIntegrator{Table: table, Increment: w.AttributeIncrement, Options: attrOpts})
	}
	p.Register(&enrich.TournamentIntegrator{
		Tiers: enrich.TournamentTiers{
			Base:   w.Tournament.Base,
			First:  w.Tournament.First,
			Top4:   w.Tournament.Top4,
			Top8:   w.Tournament.Top8,
			MinTop: w.Tournament.MinPlacement,
		},
		Options: opts,
	})
	p.Register(&enrich.FormatIntegrator{Increment: w.FormatIncrement, Options: opts})
	return p, closer, nil
}

// Enrich runs the named integrators, or all configured ones, and saves the graph.
func (u *Updater) Enrich(ctx context.Context, game string, names ...string) ([]enrich.Report, error) {
	p, closeSources, err := u.Pipeline(ctx, game)
	if err != nil {
		return nil, err
	}
	defer closeSources()

	var reports []enrich.Report
	err = u.update(ctx, func(g *cardgraph.Graph) (bool, error) {
		reports, err = p.Run(ctx, g, names...)
		if err != nil {
			return false, err
		}
		if u.cfg.AttributesFile != "" {
			table, err := enrich.LoadAttributesCSV(u.cfg.AttributesFile)
			if err != nil {
				return false, err
			}
			logger.Info("node attributes merged", "nodes", enrich.ApplyNodeAttributes(g, table))
		}
		return true, nil
	})
	return reports, err
}

// FixGames repairs node and edge game labels with the configured classifier.
func (u *Updater) FixGames(ctx context.Context) (enrich.GameFixReport, error) {
	var rep enrich.GameFixReport
	err := u.update(ctx, func(g *cardgraph.Graph) (bool, error) {
		var err error
		rep, err = enrich.FixGameLabels(ctx, g, u.deps.Classifier)
		if err != nil {
			return false, err
		}
		return rep.NodesFixed+rep.EdgesFixed+rep.EdgesCleared > 0, nil
	})
	return rep, err
}

type ExportOptions struct {
	Dir       string
	MinWeight int64
	Game      string
	Features  bool

	// Upload copies the written files to the archive.
	Upload bool
}

type ExportResult struct {
	Parquet   export.Files
	EdgeList  string
	Adjacency string
	Edges     int
	Uploaded  []string
}

// Export writes Parquet tables, a TSV edge list and an adjacency map of the
// stored graph into opts.Dir.
func (u *Updater) Export(ctx context.Context, opts ExportOptions) (ExportResult, error) {
	if opts.Dir == "" {
		opts.Dir = u.cfg.ExportDir
	}
	var res ExportResult

	g, err := u.Load(ctx)
	if err != nil {
		return res, err
	}

	if res.Parquet, err = export.Parquet(ctx, g, opts.Dir); err != nil {
		return res, err
	}

	res.EdgeList = filepath.Join(opts.Dir, "edges.tsv")
	res.Edges, err = export.EdgeListFile(res.EdgeList, g, export.EdgeListOptions{
		Format:    export.FormatTSV,
		MinWeight: opts.MinWeight,
		Game:      opts.Game,
		Features:  opts.Features,
	})
	if err != nil {
		return res, err
	}

	res.Adjacency = filepath.Join(opts.Dir, "adjacency.json")
	f, err := os.Create(res.Adjacency)
	if err != nil {
		return res, err
	}
	if err := export.WriteAdjacency(f, g, opts.MinWeight); err != nil {
		f.Close()
		return res, err
	}
	if err := f.Close(); err != nil {
		return res, err
	}
	logger.Info("export written", "dir", opts.Dir, "edges", res.Edges)

	if !opts.Upload {
		return res, nil
	}
	if u.deps.Archive == nil {
		return res, fmt.Errorf("archive is not configured")
	}
	for _, path := range []string{res.Parquet.Nodes, res.Parquet.Edges, res.EdgeList, res.Adjacency} {
		name, err := u.deps.Archive.UploadFile(ctx, archive.PrefixExports, path)
		if err != nil {
			return res, err
		}
		res.Uploaded = append(res.Uploaded, name)
	}
	return res, nil
}

// Archive uploads a snapshot of the stored graph and prunes old snapshots.
// The snapshot is written from the loaded graph, so a transactional store
// with an unmerged write-ahead log is still archived whole.
func (u *Updater) Archive(ctx context.Context) (string, error) {
	if u.deps.Archive == nil {
		return "", fmt.Errorf("archive is not configured")
	}

	g, err := u.Load(ctx)
	if err != nil {
		return "", err
	}

	dir, err := os.MkdirTemp("", "cardgraph-archive-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "graph-"+time.Now().UTC().Format("20060102")+".json")
	if err := store.NewSnapshot(path).Save(ctx, g); err != nil {
		return "", err
	}

	name, err := u.deps.Archive.UploadFile(ctx, archive.PrefixSnapshots, path)
	if err != nil {
		return "", err
	}
	if _, err := u.deps.Archive.Prune(ctx, archive.PrefixSnapshots, u.cfg.Storage.Keep); err != nil {
		logger.Warn("archive prune failed", "error", err)
	}
	return name, nil
}

// Stats returns the statistics of the stored graph.
func (u *Updater) Stats(ctx context.Context) (cardgraph.Statistics, error) {
	g, err := u.Load(ctx)
	if err != nil {
		return cardgraph.Statistics{}, err
	}
	return g.Statistics(), nil
}
