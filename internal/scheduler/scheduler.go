// Package scheduler runs the graph update cycle on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/arclabs561/decksage-sub002/internal/config"
	"github.com/arclabs561/decksage-sub002/internal/enrich"
	"github.com/arclabs561/decksage-sub002/internal/ingest"
	"github.com/arclabs561/decksage-sub002/internal/logger"
	"github.com/arclabs561/decksage-sub002/internal/metrics"
)

const (
	JobIngest  = "ingest"
	JobEnrich  = "enrich"
	JobArchive = "archive"
)

// standard 5-field cron format: minute hour day-of-month month day-of-week
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Runner performs the steps of one update cycle.
type Runner interface {
	IngestInbox(ctx context.Context) (ingest.Summary, error)
	Enrich(ctx context.Context, game string, names ...string) ([]enrich.Report, error)
	Archive(ctx context.Context) (string, error)
}

// Job is one scheduled step.
type Job struct {
	Name string
	Spec string

	id cron.EntryID
}

type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	loc    *time.Location

	mu   sync.Mutex
	ctx  context.Context
	jobs []Job
}

// cronLogger routes the cron library's logs through the package logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

// ValidateSpec reports whether spec is a 5-field cron expression.
func ValidateSpec(spec string) error {
	if _, err := cronParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return nil
}

// New registers a job for every non-empty schedule in cfg. A run that is
// still going when its next tick arrives causes that tick to be skipped.
func New(cfg config.ScheduleConfig, runner Runner) (*Scheduler, error) {
	loc := time.UTC
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("load timezone %s: %w", cfg.Timezone, err)
		}
		loc = l
	}

	cl := cronLogger{}
	s := &Scheduler{
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		runner: runner,
		loc:    loc,
		ctx:    context.Background(),
	}

	specs := map[string]string{
		JobIngest:  cfg.Ingest,
		JobEnrich:  cfg.Enrich,
		JobArchive: cfg.Archive,
	}
	for _, name := range []string{JobIngest, JobEnrich, JobArchive} {
		spec := specs[name]
		if spec == "" {
			continue
		}
		if err := ValidateSpec(spec); err != nil {
			return nil, fmt.Errorf("%s schedule: %w", name, err)
		}

		id, err := s.cron.AddFunc(spec, func() { s.run(name) })
		if err != nil {
			return nil, fmt.Errorf("%s schedule: %w", name, err)
		}
		s.jobs = append(s.jobs, Job{Name: name, Spec: spec, id: id})
	}
	return s, nil
}

// Next returns the next run of each job after now, in the scheduler's timezone.
func (s *Scheduler) Next(now time.Time) map[string]time.Time {
	next := map[string]time.Time{}
	for _, job := range s.jobs {
		sched, err := cronParser.Parse(job.Spec)
		if err != nil {
			continue
		}
		next[job.Name] = sched.Next(now.In(s.loc))
	}
	return next
}

// Start runs the jobs in the background until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	for _, job := range s.jobs {
		logger.Info("job scheduled", "job", job.Name, "spec", job.Spec, "next", s.cron.Entry(job.id).Next)
	}

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
}

// Stop stops scheduling and returns a context that is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *Scheduler) run(name string) {
	if err := s.RunNow(s.context(), name); err != nil {
		logger.Error("scheduled job failed", "job", name, "error", err)
	}
}

// RunNow runs one job immediately in the caller's goroutine.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	start := time.Now()
	var err error

	switch name {
	case JobIngest:
		var sum ingest.Summary
		sum, err = s.runner.IngestInbox(ctx)
		if err == nil {
			logger.Info("inbox ingested", "added", sum.Added, "skipped", sum.Skipped,
				"edges_created", sum.EdgesCreated, "edges_updated", sum.EdgesUpdated)
		}
	case JobEnrich:
		var reports []enrich.Report
		reports, err = s.runner.Enrich(ctx, "")
		if err == nil {
			logger.Info("graph enriched", "integrators", len(reports))
		}
	case JobArchive:
		var object string
		object, err = s.runner.Archive(ctx)
		if err == nil {
			logger.Info("graph archived", "object", object)
		}
	default:
		return fmt.Errorf("unknown job %q", name)
	}

	metrics.JobRun(name, start, err)
	return err
}

// Names lists the registered jobs in name order.
func (s *Scheduler) Names() []string {
	names := make([]string, 0, len(s.jobs))
	for _, job := range s.jobs {
		names = append(names, job.Name)
	}
	sort.Strings(names)
	return names
}
