package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/internal/runs"
	"github.com/rendis/nodeflow/pkg/schema"
)

// Job runs a graph file on a cron schedule.
type Job struct {
	Name     string `json:"name"`
	Cron     string `json:"cron"`
	Graph    string `json:"graph"`
	Disabled bool   `json:"disabled,omitempty"`
}

// JobStatus is a snapshot of a job's schedule and last outcome.
type JobStatus struct {
	Job
	NextRunAt  time.Time  `json:"next_run_at"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastRunID  string     `json:"last_run_id,omitempty"`
	LastStatus string     `json:"last_status,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

// GraphRunner executes a graph. Satisfied by *runs.Service.
type GraphRunner interface {
	Execute(ctx context.Context, req runs.Request) (*runs.Result, error)
}

// GraphLoader reads the graph a job refers to.
type GraphLoader func(path string) (*schema.Graph, error)

const defaultInterval = 30 * time.Second

// Scheduler runs due jobs on a ticker.
type Scheduler struct {
	runner   GraphRunner
	load     GraphLoader
	parser   cron.Parser
	logger   *slog.Logger
	interval time.Duration

	mu     sync.Mutex
	jobs   map[string]*JobStatus
	cancel context.CancelFunc
	done   chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// NewScheduler creates a Scheduler. interval <= 0 uses the default tick.
func NewScheduler(runner GraphRunner, load GraphLoader, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Scheduler{
		runner:   runner,
		load:     load,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger:   logger,
		interval: interval,
		jobs:     make(map[string]*JobStatus),
		inflight: make(map[string]struct{}),
	}
}

// Add registers a job; its first run is the next cron time after now.
func (s *Scheduler) Add(job Job, now time.Time) error {
	if job.Name == "" {
		return schema.NewError(schema.ErrCodeValidation, "scheduled job has no name")
	}
	if job.Graph == "" {
		return schema.NewErrorf(schema.ErrCodeValidation, "scheduled job %q has no graph", job.Name)
	}
	next, err := s.CalculateNextRun(job.Cron, now)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "scheduled job %q: %v", job.Name, err).WithCause(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.Name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "scheduled job %q already registered", job.Name)
	}
	s.jobs[job.Name] = &JobStatus{Job: job, NextRunAt: next}
	return nil
}

// Jobs returns a snapshot of all jobs sorted by name.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.jobs))
	for _, js := range s.jobs {
		out = append(out, *js)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go s.loop(schedCtx, done)
	s.logger.Info("scheduler started", slog.Int("jobs", len(s.Jobs())), slog.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Jobs run beside the loop so a slow graph never delays the others.
	var running sync.WaitGroup
	defer running.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			s.dispatch(ctx, t.UTC(), &running)
		}
	}
}

// Tick runs every enabled job that is due at now, waits for them, and
// returns how many started.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) int {
	var wg sync.WaitGroup
	n := s.dispatch(ctx, now, &wg)
	wg.Wait()
	return n
}

// dispatch starts each due job on wg and advances its next run time. A job
// whose previous run is still going is skipped for this slot.
func (s *Scheduler) dispatch(ctx context.Context, now time.Time, wg *sync.WaitGroup) int {
	var due []Job
	s.mu.Lock()
	for _, js := range s.jobs {
		if js.Disabled || js.NextRunAt.After(now) {
			continue
		}
		// The expression was validated in Add.
		js.NextRunAt, _ = s.CalculateNextRun(js.Cron, now)
		due = append(due, js.Job)
	}
	s.mu.Unlock()
	sort.Slice(due, func(i, j int) bool { return due[i].Name < due[j].Name })

	started := 0
	for _, job := range due {
		if !s.tryAcquire(job.Name) {
			s.logger.WarnContext(ctx, "scheduled job still running, skipping", slog.String("job", job.Name))
			continue
		}
		started++
		wg.Go(func() {
			defer s.releaseJob(job.Name)
			s.runJob(ctx, job, now)
		})
	}
	return started
}

func (s *Scheduler) runJob(ctx context.Context, job Job, now time.Time) {
	s.logger.InfoContext(ctx, "running scheduled job", slog.String("job", job.Name), slog.String("graph", job.Graph))

	var (
		runID  string
		runErr error
	)
	g, err := s.load(job.Graph)
	if err != nil {
		runErr = err
	} else {
		res, err := s.runner.Execute(ctx, runs.Request{Graph: g, Source: "schedule"})
		if err != nil {
			runErr = err
		} else {
			runID = res.RunID
		}
	}

	status := "success"
	errMsg := ""
	if runErr != nil {
		status = "error"
		errMsg = runErr.Error()
		s.logger.ErrorContext(ctx, "scheduled job failed", slog.String("job", job.Name), slog.String("error", errMsg))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if js, ok := s.jobs[job.Name]; ok {
		ran := now
		js.LastRunAt = &ran
		js.LastRunID = runID
		js.LastStatus = status
		js.LastError = errMsg
	}
}

func (s *Scheduler) tryAcquire(name string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[name]; ok {
		return false
	}
	s.inflight[name] = struct{}{}
	return true
}

func (s *Scheduler) releaseJob(name string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, name)
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	s.logger.Info("scheduler stopped")
	return nil
}
