// Package export projects a card graph into files for downstream training
// and analysis: Parquet tables, edge lists and adjacency maps.
package export

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/parquet-go/parquet-go"
	"golang.org/x/sync/errgroup"

	"github.com/arclabs561/decksage-sub002/internal/logger"
	"github.com/arclabs561/decksage-sub002/pkg/cardgraph"
)

const (
	FormatEdgeList = "edgelist"
	FormatTSV      = "tsv"
)

type NodeRow struct {
	Name       string `parquet:"name"`
	Game       string `parquet:"game"`
	FirstSeen  string `parquet:"first_seen"`
	LastSeen   string `parquet:"last_seen"`
	TotalDecks int64  `parquet:"total_decks"`
	Attributes string `parquet:"attributes"`
}

type EdgeRow struct {
	Card1         string `parquet:"card1"`
	Card2         string `parquet:"card2"`
	Game          string `parquet:"game"`
	Weight        int64  `parquet:"weight"`
	FirstSeen     string `parquet:"first_seen"`
	LastSeen      string `parquet:"last_seen"`
	DeckSources   string `parquet:"deck_sources"`
	Metadata      string `parquet:"metadata"`
	MonthlyCounts string `parquet:"monthly_counts"`
	FormatPeriods string `parquet:"format_periods"`
}

// Files names the tables written by Parquet.
type Files struct {
	Nodes string
	Edges string
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func jsonString(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func NodeRows(g *cardgraph.Graph) ([]NodeRow, error) {
	names := g.SortedNodeNames()
	rows := make([]NodeRow, 0, len(names))
	for _, name := range names {
		n := g.Nodes[name]
		row := NodeRow{
			Name:       n.Name,
			Game:       n.Game,
			FirstSeen:  formatTime(n.FirstSeen),
			LastSeen:   formatTime(n.LastSeen),
			TotalDecks: int64(n.TotalDecks),
		}
		if len(n.Attributes) > 0 {
			attrs, err := jsonString(n.Attributes)
			if err != nil {
				return nil, fmt.Errorf("encode attributes of %s: %w", name, err)
			}
			row.Attributes = attrs
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func EdgeRows(g *cardgraph.Graph) ([]EdgeRow, error) {
	keys := g.SortedEdgeKeys()
	rows := make([]EdgeRow, 0, len(keys))
	for _, key := range keys {
		e := g.Edges[key]
		row := EdgeRow{
			Card1:     e.Card1,
			Card2:     e.Card2,
			Game:      e.Game,
			Weight:    e.Weight,
			FirstSeen: formatTime(e.FirstSeen),
			LastSeen:  formatTime(e.LastSeen),
		}

		var err error
		sources := e.DeckSources
		if sources == nil {
			sources = []string{}
		}
		if row.DeckSources, err = jsonString(sources); err != nil {
			return nil, err
		}
		if row.Metadata, err = jsonString(e.Metadata); err != nil {
			return nil, fmt.Errorf("encode metadata of %s: %w", key, err)
		}
		if row.MonthlyCounts, err = jsonString(e.MonthlyCounts); err != nil {
			return nil, err
		}
		if row.FormatPeriods, err = jsonString(e.FormatPeriods); err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Parquet writes nodes.parquet and edges.parquet into dir. The two tables
// are encoded concurrently.
func Parquet(ctx context.Context, g *cardgraph.Graph, dir string) (Files, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Files{}, err
	}
	files := Files{
		Nodes: filepath.Join(dir, "nodes.parquet"),
		Edges: filepath.Join(dir, "edges.parquet"),
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		rows, err := NodeRows(g)
		if err != nil {
			return err
		}
		return writeParquet(ctx, files.Nodes, rows)
	})
	eg.Go(func() error {
		rows, err := EdgeRows(g)
		if err != nil {
			return err
		}
		return writeParquet(ctx, files.Edges, rows)
	})
	if err := eg.Wait(); err != nil {
		return Files{}, err
	}

	logger.Info("exported parquet", "nodes", files.Nodes, "edges", files.Edges)
	return files, nil
}

const parquetBatch = 10000

func writeParquet[T any](ctx context.Context, path string, rows []T) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := parquet.NewGenericWriter[T](f, parquet.Compression(&parquet.Snappy))
	for start := 0; start < len(rows); start += parquetBatch {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+parquetBatch, len(rows))
		if _, err := w.Write(rows[start:end]); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return f.Close()
}

type EdgeListOptions struct {
	// Format is FormatEdgeList (space separated, no header) or FormatTSV.
	Format    string
	MinWeight int64
	Game      string

	// Features appends a JSON object of per-edge features as a fourth column.
	Features bool

	// Now anchors the recency feature; zero means time.Now.
	Now time.Time
}

// EdgeFeatures are the extra per-edge values written with Features set.
type EdgeFeatures struct {
	Decks        int            `json:"decks"`
	MonthsActive int            `json:"months_active"`
	Recency      float64        `json:"recency"`
	Consistency  float64        `json:"consistency"`
	Trend        float64        `json:"trend"`
	Formats      []string       `json:"formats,omitempty"`
	Provenance   map[string]int `json:"provenance,omitempty"`
}

const recencyDecayDays = 365

func edgeFeatures(e *cardgraph.Edge, now time.Time) EdgeFeatures {
	stats := e.TemporalStats()
	f := EdgeFeatures{
		Decks:        len(e.DeckSources),
		MonthsActive: stats.MonthsActive,
		Recency:      cardgraph.RecencyScore(e.MonthlyCounts, now, recencyDecayDays),
		Consistency:  stats.Consistency,
		Trend:        stats.RecentTrend,
		Formats:      e.Metadata.Formats,
	}
	for _, kind := range []cardgraph.ProvenanceKind{
		cardgraph.KindPack, cardgraph.KindArchetype, cardgraph.KindAttribute,
		cardgraph.KindFormat, cardgraph.KindTournament,
	} {
		if n := e.Metadata.ProvenanceCount(kind); n > 0 {
			if f.Provenance == nil {
				f.Provenance = map[string]int{}
			}
			f.Provenance[string(kind)] = n
		}
	}
	return f
}

// WriteEdgeList writes one "card1 card2 weight" line per matching edge in
// key order and returns the number of edges written.
func WriteEdgeList(w io.Writer, g *cardgraph.Graph, opts EdgeListOptions) (int, error) {
	sep := " "
	if opts.Format == FormatTSV {
		sep = "\t"
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	bw := bufio.NewWriter(w)
	if opts.Format == FormatTSV {
		header := "card1\tcard2\tweight"
		if opts.Features {
			header += "\tfeatures"
		}
		if _, err := bw.WriteString(header + "\n"); err != nil {
			return 0, err
		}
	}

	n := 0
	for _, key := range g.SortedEdgeKeys() {
		e := g.Edges[key]
		if e.Weight < opts.MinWeight || (opts.Game != "" && e.Game != opts.Game) {
			continue
		}

		line := e.Card1 + sep + e.Card2 + sep + strconv.FormatInt(e.Weight, 10)
		if opts.Features {
			feat, err := jsonString(edgeFeatures(e, now))
			if err != nil {
				return n, err
			}
			line += sep + feat
		}
		if _, err := bw.WriteString(line + "\n"); err != nil {
			return n, err
		}
		n++
	}
	return n, bw.Flush()
}

func EdgeListFile(path string, g *cardgraph.Graph, opts EdgeListOptions) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n, err := WriteEdgeList(f, g, opts)
	if err != nil {
		return n, fmt.Errorf("write %s: %w", path, err)
	}
	return n, f.Close()
}

// Adjacency maps every card to its sorted neighbors over edges of at least minWeight.
func Adjacency(g *cardgraph.Graph, minWeight int64) map[string][]string {
	adj := map[string][]string{}
	for _, key := range g.SortedEdgeKeys() {
		e := g.Edges[key]
		if e.Weight < minWeight {
			continue
		}
		adj[e.Card1] = append(adj[e.Card1], e.Card2)
		adj[e.Card2] = append(adj[e.Card2], e.Card1)
	}
	for card := range adj {
		sort.Strings(adj[card])
	}
	return adj
}

// WriteAdjacency writes the adjacency map as one JSON object.
func WriteAdjacency(w io.Writer, g *cardgraph.Graph, minWeight int64) error {
	enc := json.NewEncoder(w)
	return enc.Encode(Adjacency(g, minWeight))
}
