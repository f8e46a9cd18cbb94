package main

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/spf13/cobra"

	"github.com/arclabs561/decksage-sub002/internal/logger"
	"github.com/arclabs561/decksage-sub002/internal/metrics"
	"github.com/arclabs561/decksage-sub002/internal/scheduler"
)

type server struct {
	app   *app
	sched *scheduler.Scheduler
	ctx   context.Context
}

type statusResponse struct {
	GraphPath string               `json:"graph_path"`
	Jobs      map[string]time.Time `json:"next_runs"`
	MemUsed   uint64               `json:"mem_used_bytes"`
	MemUsage  float64              `json:"mem_usage_percent"`
	DiskPath  string               `json:"disk_path"`
	DiskUsed  uint64               `json:"disk_used_bytes"`
	DiskFree  uint64               `json:"disk_free_bytes"`
	Archive   bool                 `json:"archive_enabled"`
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	schedule := cfg.Schedule
	if cfg.InboxDir == "" && schedule.Ingest != "" {
		logger.Warn("ingest schedule ignored, CARDGRAPH_INBOX is not set")
		schedule.Ingest = ""
	}
	if a.archive == nil && schedule.Archive != "" {
		logger.Warn("archive schedule ignored, archive is not available")
		schedule.Archive = ""
	}

	sched, err := scheduler.New(schedule, a.updater)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	s := &server{app: a, sched: sched, ctx: ctx}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("POST /jobs/{name}", s.handleRunJob)
	mux.Handle("GET /metrics", metrics.Handler())

	httpServer := &http.Server{
		Addr:         cfg.MetricsAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("cardgraph serving", "addr", cfg.MetricsAddr, "graph", cfg.GraphPath)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
		}
	}()

	sched.Start(ctx)
	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpServer.Shutdown(shutdownCtx)

	select {
	case <-sched.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("running jobs did not finish before shutdown")
	}

	if a.cache != nil {
		if err := a.cache.CollectGarbage(); err != nil {
			logger.Error("metadata cache gc failed", "error", err)
		}
	}
	return nil
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	dir := filepath.Dir(cfg.GraphPath)
	status := statusResponse{
		GraphPath: cfg.GraphPath,
		Jobs:      s.sched.Next(time.Now()),
		DiskPath:  dir,
		Archive:   s.app.archive != nil,
	}
	if memInfo, err := mem.VirtualMemory(); err == nil {
		status.MemUsed = memInfo.Used
		status.MemUsage = memInfo.UsedPercent
	}
	if diskInfo, err := disk.Usage(dir); err == nil {
		status.DiskUsed = diskInfo.Used
		status.DiskFree = diskInfo.Free
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.app.updater.Stats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleRunJob starts a job outside its schedule. The job runs on the server
// context so it survives the request.
func (s *server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	switch name {
	case scheduler.JobIngest, scheduler.JobEnrich, scheduler.JobArchive:
	default:
		http.Error(w, "unknown job "+name, http.StatusNotFound)
		return
	}

	go func() {
		if err := s.sched.RunNow(s.ctx, name); err != nil {
			logger.Error("manual job failed", "job", name, "error", err)
		}
	}()
	w.WriteHeader(http.StatusAccepted)
}
