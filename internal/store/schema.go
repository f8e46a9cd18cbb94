package store

import "context"

const schema = `
CREATE TABLE IF NOT EXISTS nodes (
    name TEXT PRIMARY KEY,
    game TEXT,
    first_seen TEXT,
    last_seen TEXT,
    total_decks INTEGER DEFAULT 0,
    attributes TEXT
);

CREATE TABLE IF NOT EXISTS edges (
    card1 TEXT NOT NULL,
    card2 TEXT NOT NULL,
    game TEXT,
    weight INTEGER DEFAULT 1,
    first_seen TEXT,
    last_seen TEXT,
    deck_sources TEXT,
    metadata TEXT,
    monthly_counts TEXT,
    format_periods TEXT,
    PRIMARY KEY (card1, card2)
);

CREATE INDEX IF NOT EXISTS idx_nodes_game ON nodes(game);
CREATE INDEX IF NOT EXISTS idx_edges_card1 ON edges(card1);
CREATE INDEX IF NOT EXISTS idx_edges_card2 ON edges(card2);
CREATE INDEX IF NOT EXISTS idx_edges_game ON edges(game);
CREATE INDEX IF NOT EXISTS idx_edges_weight ON edges(weight);

CREATE TABLE IF NOT EXISTS graph_meta (
    key TEXT PRIMARY KEY,
    value TEXT
);

CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TEXT DEFAULT (datetime('now'))
);
`

// migration is applied once per store, in version order, to bring stores
// written before a column existed up to schema. apply must be idempotent:
// fresh stores already match schema.
type migration struct {
	version int
	name    string
	apply   func(ctx context.Context, tx execQuerier) error
}

var migrations = []migration{
	{1, "edges.monthly_counts", addColumn("edges", "monthly_counts", "TEXT")},
	{2, "edges.format_periods", addColumn("edges", "format_periods", "TEXT")},
}
