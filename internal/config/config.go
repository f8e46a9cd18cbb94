package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

func Load() (*Config, error) {
	graphPath := os.Getenv("CARDGRAPH_PATH")
	if graphPath == "" {
		graphPath = "data/graph.db"
	}

	loadChunk := 50000
	if n, err := strconv.Atoi(os.Getenv("CARDGRAPH_LOAD_CHUNK")); err == nil && n > 0 {
		loadChunk = n
	}

	busyTimeout := 5 * time.Second
	if ms, err := strconv.Atoi(os.Getenv("CARDGRAPH_BUSY_TIMEOUT_MS")); err == nil && ms > 0 {
		busyTimeout = time.Duration(ms) * time.Millisecond
	}

	metaCacheDir := os.Getenv("CARDGRAPH_METACACHE_DIR")
	if metaCacheDir == "" {
		metaCacheDir = "data/metacache"
	}

	exportDir := os.Getenv("CARDGRAPH_EXPORT_DIR")
	if exportDir == "" {
		exportDir = "data/export"
	}

	metricsAddr := os.Getenv("CARDGRAPH_METRICS_ADDR")
	if metricsAddr == "" {
		metricsAddr = ":9464"
	}

	weightsFile := os.Getenv("CARDGRAPH_WEIGHTS_FILE")
	weights, err := LoadWeights(weightsFile)
	if err != nil {
		return nil, err
	}

	return &Config{
		GraphPath:      graphPath,
		Backend:        os.Getenv("CARDGRAPH_BACKEND"),
		LoadChunk:      loadChunk,
		BusyTimeout:    busyTimeout,
		MetaCacheDir:   metaCacheDir,
		ClassifierFile: os.Getenv("CARDGRAPH_CLASSIFIER_FILE"),
		AttributesFile: os.Getenv("CARDGRAPH_ATTRIBUTES_FILE"),
		PackDB:         os.Getenv("CARDGRAPH_PACK_DB"),
		WeightsFile:    weightsFile,
		InboxDir:       os.Getenv("CARDGRAPH_INBOX"),
		ExportDir:      exportDir,
		MetricsAddr:    metricsAddr,
		Weights:        weights,
		Schedule:       loadScheduleConfig(),
		Storage:        loadStorageConfig(),
	}, nil
}

func loadScheduleConfig() ScheduleConfig {
	ingest := os.Getenv("CARDGRAPH_SCHEDULE_INGEST")
	if ingest == "" {
		ingest = "0 * * * *" // hourly
	}

	timezone := os.Getenv("TZ")
	if timezone == "" {
		timezone = "UTC"
	}

	return ScheduleConfig{
		Ingest:   ingest,
		Enrich:   os.Getenv("CARDGRAPH_SCHEDULE_ENRICH"),
		Archive:  os.Getenv("CARDGRAPH_SCHEDULE_ARCHIVE"),
		Timezone: timezone,
	}
}

func loadStorageConfig() StorageConfig {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		endpoint = "minio:9000"
	}

	bucket := os.Getenv("MINIO_BUCKET")
	if bucket == "" {
		bucket = "cardgraph"
	}

	keep := 14
	if n, err := strconv.Atoi(os.Getenv("MINIO_ARCHIVE_KEEP")); err == nil {
		keep = n
	}

	accessKey := os.Getenv("MINIO_ACCESS_KEY")
	secretKey := os.Getenv("MINIO_SECRET_KEY")

	return StorageConfig{
		Enabled:   accessKey != "" && secretKey != "",
		Endpoint:  endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
		UseSSL:    os.Getenv("MINIO_USE_SSL") == "true",
		Bucket:    bucket,
		Keep:      keep,
	}
}

func DefaultWeights() Weights {
	return Weights{
		SideboardMultiplier: 0.5,
		PackIncrement:       1,
		ArchetypeIncrement:  2,
		AttributeIncrement:  1,
		FormatIncrement:     1,
		MinArchetypeCards:   3,
		MaxAttributeGroup:   400,
		Tournament: TournamentWeights{
			Base:         1.5,
			First:        2.0,
			Top4:         1.5,
			Top8:         1.2,
			MinPlacement: 8,
		},
		MaxEdgeWeight: 100000,
	}
}

// LoadWeights returns the defaults overlaid with the YAML file at path.
// An empty path or a missing file yields the defaults.
func LoadWeights(path string) (Weights, error) {
	w := DefaultWeights()
	if path == "" {
		return w, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return w, nil
	}
	if err != nil {
		return w, fmt.Errorf("read weights: %w", err)
	}

	if err := yaml.Unmarshal(data, &w); err != nil {
		return w, fmt.Errorf("parse weights %s: %w", path, err)
	}
	if err := w.Validate(); err != nil {
		return w, fmt.Errorf("weights %s: %w", path, err)
	}
	return w, nil
}

func (w Weights) Validate() error {
	if w.SideboardMultiplier <= 0 || w.SideboardMultiplier > 1 {
		return fmt.Errorf("sideboard_multiplier must be in (0, 1], got %v", w.SideboardMultiplier)
	}
	for name, v := range map[string]int64{
		"pack_increment":      w.PackIncrement,
		"archetype_increment": w.ArchetypeIncrement,
		"attribute_increment": w.AttributeIncrement,
		"format_increment":    w.FormatIncrement,
	} {
		if v < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if w.Tournament.MinPlacement < 1 {
		return fmt.Errorf("tournament.min_placement must be at least 1")
	}
	if w.MaxAttributeGroup < 0 {
		return fmt.Errorf("max_attribute_group must not be negative")
	}
	return nil
}
