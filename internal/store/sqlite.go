package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/arclabs561/decksage-sub002/internal/logger"
	"github.com/arclabs561/decksage-sub002/internal/metrics"
	"github.com/arclabs561/decksage-sub002/pkg/cardgraph"
)

// SQLiteStore is the transactional backend: one nodes table, one edges table
// keyed by the ordered card pair, and a small key/value table for counters.
type SQLiteStore struct {
	db   *sql.DB
	path string
	opts Options
}

var _ cardgraph.Backend = (*SQLiteStore)(nil)

func OpenSQLite(ctx context.Context, path string, opts Options) (*SQLiteStore, error) {
	opts = opts.withDefaults()

	dsn := path
	if opts.ReadOnly {
		dsn = "file:" + path + "?mode=ro"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, classify("open", path, err)
	}

	// one connection keeps pragmas and transactions on the same handle
	db.SetMaxOpenConns(1)

	pragmas := []string{fmt.Sprintf("PRAGMA busy_timeout=%d", opts.BusyTimeout.Milliseconds())}
	if !opts.ReadOnly {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, classify("open", path, err)
		}
	}

	s := &SQLiteStore{db: db, path: path, opts: opts}
	if !opts.ReadOnly {
		if err := s.migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}

	return s, nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}

	return nil
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Path() string {
	return s.path
}

// Counts returns the stored node and edge counts without loading the graph.
func (s *SQLiteStore) Counts(ctx context.Context) (nodes, edges int, err error) {
	if err := s.db.QueryRowContext(ctx, queryCountNodes).Scan(&nodes); err != nil {
		return 0, 0, classify("count", s.path, err)
	}
	if err := s.db.QueryRowContext(ctx, queryCountEdges).Scan(&edges); err != nil {
		return 0, 0, classify("count", s.path, err)
	}
	return nodes, edges, nil
}

// Save replaces the stored graph with g in a single transaction.
func (s *SQLiteStore) Save(ctx context.Context, g *cardgraph.Graph) error {
	start := time.Now()

	err := s.save(ctx, g)
	if errors.Is(err, cardgraph.ErrSchemaMissing) && !s.opts.ReadOnly {
		logger.Warn("schema missing on save, re-initializing", "path", s.path)
		if err = s.migrate(ctx); err == nil {
			err = s.save(ctx, g)
		}
	}

	metrics.StoreOp(BackendSQLite, "save", start, kindLabel(err))
	if err == nil {
		metrics.GraphSize(len(g.Nodes), len(g.Edges))
		logger.Info("graph saved", "backend", BackendSQLite, "path", s.path,
			"nodes", len(g.Nodes), "edges", len(g.Edges), "duration", time.Since(start))
	}
	return err
}

func (s *SQLiteStore) save(ctx context.Context, g *cardgraph.Graph) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("save", s.path, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
			err = classify("save", s.path, err)
		}
	}()

	if _, err = tx.ExecContext(ctx, queryDeleteEdges); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, queryDeleteNodes); err != nil {
		return err
	}

	if err = s.insertNodes(ctx, tx, g); err != nil {
		return err
	}
	if err = s.insertEdges(ctx, tx, g); err != nil {
		return err
	}

	meta := [][2]string{
		{metaLastUpdate, formatTime(g.LastUpdate)},
		{metaTotalDecksProcessed, strconv.Itoa(g.TotalDecksProcessed)},
	}
	for _, kv := range meta {
		if _, err = tx.ExecContext(ctx, queryUpsertMeta, kv[0], kv[1]); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) insertNodes(ctx context.Context, tx *sql.Tx, g *cardgraph.Graph) error {
	stmt, err := tx.PrepareContext(ctx, queryInsertNode)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, name := range g.SortedNodeNames() {
		rec, err := recordFromNode(g.Nodes[name])
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, name, nullString(rec.Game), rec.FirstSeen, rec.LastSeen,
			rec.TotalDecks, nullRaw(rec.Attributes)); err != nil {
			return fmt.Errorf("insert node %q: %w", name, err)
		}
		if (i+1)%s.opts.ChunkSize == 0 {
			logChunk("saved node chunk", i+1, "path", s.path)
		}
	}
	return nil
}

func (s *SQLiteStore) insertEdges(ctx context.Context, tx *sql.Tx, g *cardgraph.Graph) error {
	stmt, err := tx.PrepareContext(ctx, queryInsertEdge)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, key := range g.SortedEdgeKeys() {
		rec, err := recordFromEdge(g.Edges[key])
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, key.Card1, key.Card2, nullString(rec.Game), rec.Weight,
			rec.FirstSeen, rec.LastSeen, nullRaw(rec.DeckSources), nullRaw(rec.Metadata),
			nullRaw(rec.MonthlyCounts), nullRaw(rec.FormatPeriods)); err != nil {
			return fmt.Errorf("insert edge %s: %w", key, err)
		}
		if (i+1)%s.opts.ChunkSize == 0 {
			logChunk("saved edge chunk", i+1, "path", s.path)
		}
	}
	return nil
}

// Load reads the whole graph in bounded pages inside one read transaction.
// A store whose tables are missing is re-initialized and loads as empty.
func (s *SQLiteStore) Load(ctx context.Context) (*cardgraph.Graph, error) {
	start := time.Now()

	g, report, err := s.load(ctx)
	if errors.Is(err, cardgraph.ErrSchemaMissing) && !s.opts.ReadOnly {
		logger.Warn("schema missing on load, re-initializing", "path", s.path)
		if err = s.migrate(ctx); err == nil {
			g, report, err = s.load(ctx)
		}
	}

	metrics.StoreOp(BackendSQLite, "load", start, kindLabel(err))
	if err != nil {
		return nil, err
	}

	metrics.GraphSize(len(g.Nodes), len(g.Edges))
	report.log(BackendSQLite, s.path)
	return g, nil
}

func (s *SQLiteStore) load(ctx context.Context) (g *cardgraph.Graph, report *loadReport, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, classify("load", s.path, err)
	}
	defer tx.Rollback()

	g = cardgraph.NewGraph()
	report = &loadReport{}

	nodeCols, err := tableColumns(ctx, tx, "nodes")
	if err != nil {
		return nil, nil, classify("load", s.path, err)
	}
	edgeCols, err := tableColumns(ctx, tx, "edges")
	if err != nil {
		return nil, nil, classify("load", s.path, err)
	}
	if len(nodeCols) == 0 || len(edgeCols) == 0 {
		return nil, nil, &cardgraph.StoreError{Kind: cardgraph.ErrSchemaMissing, Op: "load", Path: s.path}
	}

	if err := s.loadMeta(ctx, tx, g); err != nil {
		return nil, nil, classify("load", s.path, err)
	}
	if err := s.loadNodes(ctx, tx, g, report); err != nil {
		return nil, nil, classify("load", s.path, err)
	}
	if err := s.loadEdges(ctx, tx, edgeCols, g, report); err != nil {
		return nil, nil, classify("load", s.path, err)
	}

	return g, report, nil
}

func (s *SQLiteStore) loadMeta(ctx context.Context, tx *sql.Tx, g *cardgraph.Graph) error {
	rows, err := tx.QueryContext(ctx, querySelectMeta)
	if err != nil {
		// stores written by older tooling have no counters table
		if errors.Is(errorKind(err), cardgraph.ErrSchemaMissing) {
			return nil
		}
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var value sql.NullString
		if err := rows.Scan(&key, &value); err != nil {
			return err
		}
		switch key {
		case metaLastUpdate:
			if t, err := parseTime(value.String); err == nil {
				g.LastUpdate = t
			}
		case metaTotalDecksProcessed:
			if n, err := strconv.Atoi(value.String); err == nil && n >= 0 {
				g.TotalDecksProcessed = n
			}
		}
	}
	return rows.Err()
}

func (s *SQLiteStore) loadNodes(ctx context.Context, tx *sql.Tx, g *cardgraph.Graph, report *loadReport) error {
	cursor := ""
	for {
		rows, err := tx.QueryContext(ctx, querySelectNodesPage, cursor, s.opts.ChunkSize)
		if err != nil {
			return err
		}

		n := 0
		for rows.Next() {
			var name string
			var game, first, last, attrs sql.NullString
			var decks any
			if err := rows.Scan(&name, &game, &first, &last, &decks, &attrs); err != nil {
				rows.Close()
				return err
			}
			n++
			cursor = name

			total, _ := toInt64(decks)
			rec := nodeRecord{
				Name:       name,
				Game:       game.String,
				FirstSeen:  first.String,
				LastSeen:   last.String,
				TotalDecks: int(total),
				Attributes: json.RawMessage(attrs.String),
			}
			node, err := rec.toNode(report)
			if err != nil {
				logger.Debug("dropping node row", "name", name, "error", err)
				report.droppedNodes++
				continue
			}
			g.Nodes[node.Name] = node
			report.nodes++
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return err
		}

		if n > 0 {
			logChunk("loaded node chunk", report.nodes, "path", s.path)
		}
		if n < s.opts.ChunkSize {
			return nil
		}
	}
}

func (s *SQLiteStore) loadEdges(ctx context.Context, tx *sql.Tx, cols map[string]bool, g *cardgraph.Graph, report *loadReport) error {
	selected := make([]string, len(edgeColumns))
	for i, c := range edgeColumns {
		if cols[c] {
			selected[i] = c
		} else {
			selected[i] = "NULL AS " + c
		}
	}
	query := "SELECT " + strings.Join(selected, ", ") +
		" FROM edges WHERE (card1, card2) > (?, ?) ORDER BY card1, card2 LIMIT ?"

	var c1, c2 string
	for {
		rows, err := tx.QueryContext(ctx, query, c1, c2, s.opts.ChunkSize)
		if err != nil {
			return err
		}

		n := 0
		for rows.Next() {
			var card1, card2 string
			var game, first, last, sources, meta, monthly, periods sql.NullString
			var weight any
			if err := rows.Scan(&card1, &card2, &game, &weight, &first, &last,
				&sources, &meta, &monthly, &periods); err != nil {
				rows.Close()
				return err
			}
			n++
			c1, c2 = card1, card2

			w, ok := toInt64(weight)
			if !ok {
				logger.Debug("dropping edge row with bad weight", "card1", card1, "card2", card2)
				report.droppedEdges++
				continue
			}

			rec := edgeRecord{
				Card1:         card1,
				Card2:         card2,
				Game:          game.String,
				Weight:        w,
				FirstSeen:     first.String,
				LastSeen:      last.String,
				DeckSources:   json.RawMessage(sources.String),
				Metadata:      json.RawMessage(meta.String),
				MonthlyCounts: json.RawMessage(monthly.String),
				FormatPeriods: json.RawMessage(periods.String),
			}
			edge, err := rec.toEdge(report)
			if err != nil {
				logger.Debug("dropping edge row", "card1", card1, "card2", card2, "error", err)
				report.droppedEdges++
				continue
			}
			g.Edges[edge.Key()] = edge
			report.edges++
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return err
		}

		if n > 0 {
			logChunk("loaded edge chunk", report.edges, "path", s.path)
		}
		if n < s.opts.ChunkSize {
			return nil
		}
	}
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case nil:
		return 0, true
	case []byte:
		i, err := strconv.ParseInt(string(n), 10, 64)
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}
