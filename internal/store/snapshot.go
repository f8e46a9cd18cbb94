package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/arclabs561/decksage-sub002/internal/logger"
	"github.com/arclabs561/decksage-sub002/internal/metrics"
	"github.com/arclabs561/decksage-sub002/pkg/cardgraph"
)

// Snapshot is the portable backend: the whole graph as one JSON document.
type Snapshot struct {
	path string
}

var _ cardgraph.Backend = (*Snapshot)(nil)

type snapshotDoc struct {
	Nodes               map[string]json.RawMessage `json:"nodes"`
	Edges               map[string]json.RawMessage `json:"edges"`
	LastUpdate          *string                    `json:"last_update"`
	TotalDecksProcessed int                        `json:"total_decks_processed"`
}

func NewSnapshot(path string) *Snapshot {
	return &Snapshot{path: path}
}

func (s *Snapshot) Path() string {
	return s.path
}

func (s *Snapshot) Close() error {
	return nil
}

// Load returns an empty graph when the file does not exist yet.
func (s *Snapshot) Load(ctx context.Context) (*cardgraph.Graph, error) {
	start := time.Now()

	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return cardgraph.NewGraph(), nil
	}
	if err != nil {
		metrics.StoreOp(BackendSnapshot, "load", start, "other")
		return nil, fmt.Errorf("load %s: %w", s.path, err)
	}
	defer f.Close()

	g, report, err := decode(ctx, f)
	if err != nil {
		err = &cardgraph.StoreError{Kind: cardgraph.ErrStoreCorrupted, Op: "load", Path: s.path, Err: err}
		metrics.StoreOp(BackendSnapshot, "load", start, kindLabel(err))
		return nil, err
	}

	metrics.StoreOp(BackendSnapshot, "load", start, "")
	metrics.GraphSize(len(g.Nodes), len(g.Edges))
	report.log(BackendSnapshot, s.path)
	return g, nil
}

// Save writes to a temporary file next to the target and renames it into
// place, so readers see either the old or the new document.
func (s *Snapshot) Save(ctx context.Context, g *cardgraph.Graph) error {
	start := time.Now()

	err := s.save(ctx, g)
	if err != nil {
		metrics.StoreOp(BackendSnapshot, "save", start, "other")
		return fmt.Errorf("save %s: %w", s.path, err)
	}

	metrics.StoreOp(BackendSnapshot, "save", start, "")
	metrics.GraphSize(len(g.Nodes), len(g.Edges))
	logger.Info("graph saved", "backend", BackendSnapshot, "path", s.path,
		"nodes", len(g.Nodes), "edges", len(g.Edges), "duration", time.Since(start))
	return nil
}

func (s *Snapshot) save(ctx context.Context, g *cardgraph.Graph) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := Encode(ctx, w, g); err != nil {
		tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), s.path)
}

// Encode writes g as a snapshot document.
func Encode(ctx context.Context, w io.Writer, g *cardgraph.Graph) error {
	doc := snapshotDoc{
		Nodes:               make(map[string]json.RawMessage, len(g.Nodes)),
		Edges:               make(map[string]json.RawMessage, len(g.Edges)),
		TotalDecksProcessed: g.TotalDecksProcessed,
	}
	if !g.LastUpdate.IsZero() {
		ts := formatTime(g.LastUpdate)
		doc.LastUpdate = &ts
	}

	for name, n := range g.Nodes {
		rec, err := recordFromNode(n)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		doc.Nodes[name] = raw
	}

	for i, key := range g.SortedEdgeKeys() {
		if i%DefaultChunkSize == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		rec, err := recordFromEdge(g.Edges[key])
		if err != nil {
			return err
		}
		raw, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		doc.Edges[key.String()] = raw
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// Decode reads a snapshot document. Individual malformed nodes, edges and
// temporal buckets are dropped; only an unreadable document is an error.
func Decode(ctx context.Context, r io.Reader) (*cardgraph.Graph, error) {
	g, _, err := decode(ctx, r)
	return g, err
}

func decode(ctx context.Context, r io.Reader) (*cardgraph.Graph, *loadReport, error) {
	var doc snapshotDoc
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, nil, err
	}

	g := cardgraph.NewGraph()
	report := &loadReport{}

	g.TotalDecksProcessed = max(doc.TotalDecksProcessed, 0)
	if doc.LastUpdate != nil {
		if t, err := parseTime(*doc.LastUpdate); err == nil {
			g.LastUpdate = t
		} else {
			report.repairedFields++
		}
	}

	for name, raw := range doc.Nodes {
		var rec nodeRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			logger.Debug("dropping snapshot node", "name", name, "error", err)
			report.droppedNodes++
			continue
		}
		if rec.Name == "" {
			rec.Name = name
		}
		node, err := rec.toNode(report)
		if err != nil {
			report.droppedNodes++
			continue
		}
		g.Nodes[node.Name] = node
		report.nodes++
	}

	i := 0
	for keyStr, raw := range doc.Edges {
		if i%DefaultChunkSize == 0 {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
		}
		i++

		key, err := cardgraph.ParseEdgeKey(keyStr)
		if err != nil {
			logger.Debug("dropping snapshot edge", "key", keyStr, "error", err)
			report.droppedEdges++
			continue
		}

		var rec edgeRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			logger.Debug("dropping snapshot edge", "key", keyStr, "error", err)
			report.droppedEdges++
			continue
		}
		// the map key is authoritative for the endpoints
		rec.Card1, rec.Card2 = key.Card1, key.Card2

		edge, err := rec.toEdge(report)
		if err != nil {
			report.droppedEdges++
			continue
		}
		g.Edges[edge.Key()] = edge
		report.edges++
	}

	return g, report, nil
}
