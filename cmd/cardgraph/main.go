package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/arclabs561/decksage-sub002/internal/archive"
	"github.com/arclabs561/decksage-sub002/internal/classifier"
	"github.com/arclabs561/decksage-sub002/internal/config"
	"github.com/arclabs561/decksage-sub002/internal/formats"
	"github.com/arclabs561/decksage-sub002/internal/logger"
	"github.com/arclabs561/decksage-sub002/internal/metacache"
	"github.com/arclabs561/decksage-sub002/internal/updater"
)

func init() {
	godotenv.Load()
}

var (
	debug bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "cardgraph",
	Short:         "Build and enrich a weighted card co-occurrence graph from decklists",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger.SetOutput(os.Stderr, debug || os.Getenv("CARDGRAPH_DEBUG") == "true")

		var err error
		cfg, err = config.Load()
		return err
	},
}

func main() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringP("graph", "g", "", "graph store path (overrides CARDGRAPH_PATH)")
	rootCmd.PersistentFlags().String("backend", "", "store backend: sqlite, snapshot or empty for auto")

	registerCommands(rootCmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		logger.Fatal("command failed", "error", err)
	}
}

// applyFlags lets the global flags override the environment.
func applyFlags(cmd *cobra.Command) {
	if path, _ := cmd.Flags().GetString("graph"); path != "" {
		cfg.GraphPath = path
	}
	if backend, _ := cmd.Flags().GetString("backend"); backend != "" {
		cfg.Backend = backend
	}
}

// app holds the updater and the collaborators it was built from.
type app struct {
	updater *updater.Updater
	cache   *metacache.Cache
	archive *archive.Client
}

func (a *app) Close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			logger.Error("failed to close metadata cache", "error", err)
		}
	}
}

func newApp(cmd *cobra.Command) (*app, error) {
	applyFlags(cmd)
	a := &app{}
	deps := updater.Deps{Calendar: formats.Default()}

	if cfg.ClassifierFile != "" {
		table, err := classifier.LoadFile(cfg.ClassifierFile)
		if err != nil {
			return nil, err
		}
		deps.Classifier = table
		logger.Info("classifier enabled", "cards", table.Len())
	}

	if cfg.MetaCacheDir != "" {
		cache, err := metacache.Open(metacache.DefaultConfig(cfg.MetaCacheDir))
		if err != nil {
			return nil, err
		}
		a.cache = cache
		deps.Cache = cache
		logger.Debug("metadata cache enabled", "path", cfg.MetaCacheDir)
	}

	// minio storage (optional)
	if cfg.Storage.Enabled {
		client, err := archive.NewClient(archive.Config{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			UseSSL:    cfg.Storage.UseSSL,
			Bucket:    cfg.Storage.Bucket,
		})
		if err != nil {
			logger.Error("failed to create archive client", "error", err)
		} else {
			initCtx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			if err := client.Init(initCtx); err != nil {
				logger.Error("failed to init archive bucket", "error", err)
			} else {
				a.archive = client
				deps.Archive = client
				logger.Info("archive enabled", "endpoint", cfg.Storage.Endpoint, "bucket", client.Bucket())
			}
			cancel()
		}
	}

	a.updater = updater.New(cfg, deps)
	return a, nil
}
