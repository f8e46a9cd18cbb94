package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arclabs561/decksage-sub002/internal/ingest"
	"github.com/arclabs561/decksage-sub002/internal/logger"
	"github.com/arclabs561/decksage-sub002/internal/updater"
)

func registerCommands(root *cobra.Command) {
	ingestCmd := &cobra.Command{
		Use:   "ingest [file.jsonl...]",
		Short: "Add decks from JSONL files, or from the inbox when no file is given",
		RunE:  runIngest,
	}

	rebuildCmd := &cobra.Command{
		Use:   "rebuild file.jsonl...",
		Short: "Discard the graph and build it again from the given files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runRebuild,
	}

	enrichCmd := &cobra.Command{
		Use:   "enrich [integrator...]",
		Short: "Apply enrichment integrators (packs, archetypes, attributes, tournament, formats)",
		RunE:  runEnrich,
	}
	enrichCmd.Flags().String("game", "", "restrict enrichment to one game")

	fixGamesCmd := &cobra.Command{
		Use:   "fix-games",
		Short: "Backfill card games and null out cross-game edge labels",
		RunE:  runFixGames,
	}

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write Parquet tables, a TSV edge list and an adjacency map",
		RunE:  runExport,
	}
	exportCmd.Flags().String("dir", "", "output directory (overrides CARDGRAPH_EXPORT_DIR)")
	exportCmd.Flags().Int64("min-weight", 1, "drop edges lighter than this from the edge list and adjacency")
	exportCmd.Flags().String("game", "", "only export edges of this game to the edge list")
	exportCmd.Flags().Bool("features", false, "add a JSON feature column to the edge list")
	exportCmd.Flags().Bool("upload", false, "copy the exported files to the archive")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print graph statistics as JSON",
		RunE:  runStats,
	}

	archiveCmd := &cobra.Command{
		Use:   "archive",
		Short: "Upload a snapshot of the graph to object storage",
		RunE:  runArchive,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduled update cycle and serve metrics",
		RunE:  runServe,
	}

	root.AddCommand(ingestCmd, rebuildCmd, enrichCmd, fixGamesCmd, exportCmd, statsCmd, archiveCmd, serveCmd)
}

func logSummary(msg string, sum ingest.Summary) {
	logger.Info(msg, "added", sum.Added, "skipped", sum.Skipped,
		"edges_created", sum.EdgesCreated, "edges_updated", sum.EdgesUpdated)
}

func runIngest(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	var sum ingest.Summary
	if len(args) == 0 {
		sum, err = a.updater.IngestInbox(cmd.Context())
	} else {
		sum, err = a.updater.IngestFiles(cmd.Context(), args...)
	}
	if err != nil {
		return err
	}
	logSummary("ingest complete", sum)
	return nil
}

func runRebuild(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	sum, err := a.updater.Rebuild(cmd.Context(), args...)
	if err != nil {
		return err
	}
	logSummary("rebuild complete", sum)
	return nil
}

func runEnrich(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	game, _ := cmd.Flags().GetString("game")
	reports, err := a.updater.Enrich(cmd.Context(), game, args...)
	if err != nil {
		return err
	}
	return printJSON(reports)
}

func runFixGames(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	rep, err := a.updater.FixGames(cmd.Context())
	if err != nil {
		return err
	}
	if rep.CrossGame > 0 {
		logger.Warn("cross-game edges found", "count", rep.CrossGame, "sample", sample(rep.CrossGameEdges, 10))
	}
	return printJSON(rep)
}

func sample[T any](items []T, n int) []T {
	if len(items) > n {
		return items[:n]
	}
	return items
}

func runExport(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := updater.ExportOptions{}
	opts.Dir, _ = cmd.Flags().GetString("dir")
	opts.MinWeight, _ = cmd.Flags().GetInt64("min-weight")
	opts.Game, _ = cmd.Flags().GetString("game")
	opts.Features, _ = cmd.Flags().GetBool("features")
	opts.Upload, _ = cmd.Flags().GetBool("upload")

	res, err := a.updater.Export(cmd.Context(), opts)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runStats(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.updater.Stats(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(stats)
}

func runArchive(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.archive == nil {
		return fmt.Errorf("archive is not available, set MINIO_ACCESS_KEY and MINIO_SECRET_KEY")
	}
	name, err := a.updater.Archive(cmd.Context())
	if err != nil {
		return err
	}
	logger.Info("graph archived", "bucket", a.archive.Bucket(), "object", name)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
