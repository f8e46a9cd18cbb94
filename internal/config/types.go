package config

import "time"

type Config struct {
	GraphPath   string
	Backend     string
	LoadChunk   int
	BusyTimeout time.Duration

	MetaCacheDir   string
	ClassifierFile string
	AttributesFile string
	PackDB         string
	WeightsFile    string
	InboxDir       string
	ExportDir      string
	MetricsAddr    string

	Weights  Weights
	Schedule ScheduleConfig
	Storage  StorageConfig
}

type ScheduleConfig struct {
	// Ingest, Enrich and Archive are cron expressions; empty disables the job.
	Ingest  string
	Enrich  string
	Archive string

	Timezone string
}

type StorageConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string

	// Keep is how many archived snapshots survive a prune; negative keeps all.
	Keep int
}

// Weights holds every tunable constant of ingestion and enrichment.
type Weights struct {
	SideboardMultiplier float64 `yaml:"sideboard_multiplier"`

	PackIncrement      int64 `yaml:"pack_increment"`
	ArchetypeIncrement int64 `yaml:"archetype_increment"`
	AttributeIncrement int64 `yaml:"attribute_increment"`
	FormatIncrement    int64 `yaml:"format_increment"`

	MinArchetypeCards int `yaml:"min_archetype_cards"`
	MaxAttributeGroup int `yaml:"max_attribute_group"`

	Tournament TournamentWeights `yaml:"tournament"`

	// MaxEdgeWeight flags edges heavier than this as likely corrupt.
	MaxEdgeWeight int64 `yaml:"max_edge_weight"`

	// IdempotentEnrichment stops replayed sources from adding weight.
	IdempotentEnrichment bool `yaml:"idempotent_enrichment"`
}

type TournamentWeights struct {
	Base         float64 `yaml:"base"`
	First        float64 `yaml:"first"`
	Top4         float64 `yaml:"top4"`
	Top8         float64 `yaml:"top8"`
	MinPlacement int     `yaml:"min_placement"`
}
