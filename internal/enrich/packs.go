package enrich

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/arclabs561/decksage-sub002/internal/logger"
	"github.com/arclabs561/decksage-sub002/pkg/cardgraph"
)

// Pack is one printed product and its card list in printing order.
type Pack struct {
	ID          string
	Game        string
	Name        string
	Code        string
	Type        string
	ReleaseDate string
	Cards       []string
}

func (p Pack) record() cardgraph.PackRecord {
	return cardgraph.PackRecord{
		PackID:      p.ID,
		PackName:    p.Name,
		PackCode:    p.Code,
		PackType:    p.Type,
		ReleaseDate: p.ReleaseDate,
	}
}

// Released parses the release date; the zero time means unknown.
func (p Pack) Released() time.Time {
	s := strings.TrimSpace(p.ReleaseDate)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	logger.Debug("unparsable pack release date", "pack", p.ID, "release_date", s)
	return time.Time{}
}

// PackSource lists packs, newest first. An empty game lists every game.
type PackSource interface {
	Packs(ctx context.Context, game string) ([]Pack, error)
}

// StaticPacks serves a fixed pack list.
type StaticPacks []Pack

func (s StaticPacks) Packs(ctx context.Context, game string) ([]Pack, error) {
	out := make([]Pack, 0, len(s))
	for _, p := range s {
		if game == "" || p.Game == game {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ReleaseDate > out[j].ReleaseDate })
	return out, nil
}

const packSchema = `
CREATE TABLE IF NOT EXISTS packs (
	pack_id TEXT PRIMARY KEY,
	game TEXT NOT NULL,
	pack_name TEXT NOT NULL,
	pack_code TEXT,
	pack_type TEXT,
	release_date TEXT,
	card_count INTEGER,
	metadata TEXT,
	created_at TEXT,
	updated_at TEXT
);

CREATE TABLE IF NOT EXISTS pack_cards (
	pack_id TEXT NOT NULL,
	card_name TEXT NOT NULL,
	rarity TEXT,
	card_number TEXT,
	is_foil INTEGER DEFAULT 0,
	metadata TEXT,
	PRIMARY KEY (pack_id, card_name, card_number)
);

CREATE INDEX IF NOT EXISTS idx_packs_game ON packs(game);
CREATE INDEX IF NOT EXISTS idx_pack_cards_card ON pack_cards(card_name);
CREATE INDEX IF NOT EXISTS idx_pack_cards_pack ON pack_cards(pack_id);
`

const (
	queryPacks = `
		SELECT pack_id, game, pack_name, COALESCE(pack_code, ''), COALESCE(pack_type, ''), COALESCE(release_date, '')
		FROM packs
		WHERE (? = '' OR game = ?)
		ORDER BY release_date DESC, pack_id`

	queryPackCards = `
		SELECT pack_id, card_name
		FROM pack_cards
		ORDER BY pack_id, card_number, card_name`

	upsertPack = `
		INSERT INTO packs (pack_id, game, pack_name, pack_code, pack_type, release_date, card_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pack_id) DO UPDATE SET
			game = excluded.game,
			pack_name = excluded.pack_name,
			pack_code = excluded.pack_code,
			pack_type = excluded.pack_type,
			release_date = excluded.release_date,
			card_count = excluded.card_count,
			updated_at = excluded.updated_at`

	deletePackCards = `DELETE FROM pack_cards WHERE pack_id = ?`

	insertPackCard = `INSERT OR IGNORE INTO pack_cards (pack_id, card_name, card_number) VALUES (?, ?, ?)`
)

// SQLitePackSource reads packs from a pack database with packs and
// pack_cards tables.
type SQLitePackSource struct {
	db *sql.DB
}

var _ PackSource = (*SQLitePackSource)(nil)

// OpenPackDB opens a pack database, creating the tables when they are missing.
func OpenPackDB(ctx context.Context, path string) (*SQLitePackSource, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open pack db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, packSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init pack schema: %w", err)
	}
	return &SQLitePackSource{db: db}, nil
}

func (s *SQLitePackSource) Close() error {
	return s.db.Close()
}

func (s *SQLitePackSource) Packs(ctx context.Context, game string) ([]Pack, error) {
	rows, err := s.db.QueryContext(ctx, queryPacks, game, game)
	if err != nil {
		return nil, fmt.Errorf("query packs: %w", err)
	}

	var packs []Pack
	index := map[string]int{}
	for rows.Next() {
		var p Pack
		if err := rows.Scan(&p.ID, &p.Game, &p.Name, &p.Code, &p.Type, &p.ReleaseDate); err != nil {
			rows.Close()
			return nil, err
		}
		index[p.ID] = len(packs)
		packs = append(packs, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	cards, err := s.db.QueryContext(ctx, queryPackCards)
	if err != nil {
		return nil, fmt.Errorf("query pack cards: %w", err)
	}
	defer cards.Close()

	for cards.Next() {
		var id, name string
		if err := cards.Scan(&id, &name); err != nil {
			return nil, err
		}
		if i, ok := index[id]; ok {
			packs[i].Cards = append(packs[i].Cards, name)
		}
	}
	return packs, cards.Err()
}

// AddPack inserts or replaces a pack and its card list.
func (s *SQLitePackSource) AddPack(ctx context.Context, p Pack) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx, upsertPack, p.ID, p.Game, p.Name, p.Code, p.Type, p.ReleaseDate, len(p.Cards), now, now); err != nil {
		return fmt.Errorf("upsert pack %s: %w", p.ID, err)
	}
	if _, err := tx.ExecContext(ctx, deletePackCards, p.ID); err != nil {
		return err
	}
	for i, name := range p.Cards {
		if _, err := tx.ExecContext(ctx, insertPackCard, p.ID, name, fmt.Sprintf("%04d", i+1)); err != nil {
			return fmt.Errorf("insert pack card %s: %w", name, err)
		}
	}
	return tx.Commit()
}

// PackIntegrator strengthens every pair of graph cards printed in the same
// pack and records the pack on each card's "packs" attribute.
type PackIntegrator struct {
	Source    PackSource
	Increment int64
	Options   Options
}

func (pi *PackIntegrator) Name() string { return NamePacks }

func (pi *PackIntegrator) Apply(ctx context.Context, g *cardgraph.Graph) (Report, error) {
	rep := Report{Integrator: NamePacks}

	packs, err := pi.Source.Packs(ctx, pi.Options.Game)
	if err != nil {
		return rep, err
	}
	logger.Info("applying packs", "packs", len(packs), "game", pi.Options.Game)

	missing := 0
	for i, p := range packs {
		if p.ID == "" {
			continue
		}

		set := cardSet{}
		for _, name := range p.Cards {
			if _, ok := g.Nodes[name]; ok {
				set.add(name)
			} else {
				missing++
			}
		}
		cards := set.sorted()
		if len(cards) < 2 {
			continue
		}

		if err := strengthenGroup(ctx, g, &rep, pi.Options, cards, pi.Increment, p.record(), p.Released()); err != nil {
			return rep, err
		}
		for _, name := range cards {
			tagNodePack(g.Nodes[name], p)
		}

		if (i+1)%10 == 0 {
			logger.Debug("pack progress", "processed", i+1, "total", len(packs), "created", rep.Created)
		}
	}
	if missing > 0 {
		logger.Warn("pack cards not found in graph", "count", missing)
	}
	return rep, nil
}

// tagNodePack appends the pack to the node's "packs" attribute once.
func tagNodePack(n *cardgraph.CardNode, p Pack) bool {
	if n.Attributes == nil {
		n.Attributes = map[string]any{}
	}

	list, _ := n.Attributes["packs"].([]any)
	for _, item := range list {
		if m, ok := item.(map[string]any); ok && m["pack_id"] == p.ID {
			return false
		}
	}

	n.Attributes["packs"] = append(list, map[string]any{
		"pack_id":      p.ID,
		"pack_name":    p.Name,
		"pack_code":    p.Code,
		"pack_type":    p.Type,
		"release_date": p.ReleaseDate,
	})
	return true
}
