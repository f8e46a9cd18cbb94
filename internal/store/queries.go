package store

const (
	queryInsertNode = `INSERT INTO nodes (name, game, first_seen, last_seen, total_decks, attributes)
		VALUES (?, ?, ?, ?, ?, ?)`

	queryInsertEdge = `INSERT INTO edges (card1, card2, game, weight, first_seen, last_seen, deck_sources, metadata, monthly_counts, format_periods)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryDeleteNodes = `DELETE FROM nodes`
	queryDeleteEdges = `DELETE FROM edges`

	queryUpsertMeta = `INSERT INTO graph_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`

	querySelectMeta = `SELECT key, value FROM graph_meta`

	querySelectNodesPage = `SELECT name, game, first_seen, last_seen, total_decks, attributes
		FROM nodes WHERE name > ? ORDER BY name LIMIT ?`

	queryAppliedMigrations = `SELECT version FROM schema_migrations`
	queryRecordMigration   = `INSERT INTO schema_migrations (version, name) VALUES (?, ?)`

	queryCountNodes = `SELECT COUNT(*) FROM nodes`
	queryCountEdges = `SELECT COUNT(*) FROM edges`
)

const (
	metaLastUpdate          = "last_update"
	metaTotalDecksProcessed = "total_decks_processed"
)

// edgeColumns lists the edge columns in select order. Columns added by
// migrations may be missing on a read-only store and are selected as NULL.
var edgeColumns = []string{
	"card1", "card2", "game", "weight", "first_seen", "last_seen",
	"deck_sources", "metadata", "monthly_counts", "format_periods",
}
