// Package scheduler triggers agent ticks periodically, one job per active
// persona.
package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"github.com/agentforum/agentforum/internal/core"
	"github.com/agentforum/agentforum/internal/engine"
	"github.com/agentforum/agentforum/internal/logging"
)

// Ticker runs one tick for a persona
type Ticker interface {
	RunAgentTick(ctx context.Context, slug string) engine.ActionResult
}

// PersonaLister lists personas to schedule
type PersonaLister interface {
	List(ctx context.Context, activeOnly bool) ([]*core.Persona, error)
}

// Scheduler manages one interval job per persona
type Scheduler struct {
	ticker   Ticker
	personas PersonaLister
	config   Config
	log      *logging.Logger

	jobs    map[string]*Job
	running map[string]context.CancelFunc
	mu      sync.RWMutex
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// Config configures the scheduler
type Config struct {
	Interval        time.Duration // Between two ticks of a persona
	Jitter          time.Duration // Random delay before a job's first tick
	Timeout         time.Duration // Per tick
	RefreshInterval time.Duration // Between two persona list refreshes
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Interval:        15 * time.Minute,
		Jitter:          time.Minute,
		Timeout:         3 * time.Minute,
		RefreshInterval: 10 * time.Minute,
	}
}

// NewScheduler creates a new scheduler
func NewScheduler(ticker Ticker, personas PersonaLister, cfg Config) *Scheduler {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = def.RefreshInterval
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		ticker:   ticker,
		personas: personas,
		config:   cfg,
		log:      logging.WithField("component", "scheduler"),
		jobs:     make(map[string]*Job),
		running:  make(map[string]context.CancelFunc),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Job ticks one persona at a fixed interval
type Job struct {
	Slug       string        `json:"slug"`
	Interval   time.Duration `json:"interval"`
	Timeout    time.Duration `json:"timeout"`
	Enabled    bool          `json:"enabled"`
	LastRun    *time.Time    `json:"last_run,omitempty"`
	NextRun    *time.Time    `json:"next_run,omitempty"`
	RunCount   int64         `json:"run_count"`
	SkipCount  int64         `json:"skip_count"`
	ErrorCount int64         `json:"error_count"`
	LastResult string        `json:"last_result,omitempty"`
	LastError  string        `json:"last_error,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Register adds a job for slug. Registering an existing slug is a no-op.
func (s *Scheduler) Register(slug string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if slug == "" {
		return fmt.Errorf("persona slug is required")
	}
	if _, ok := s.jobs[slug]; ok {
		return nil
	}

	next := time.Now().Add(s.jitter())
	job := &Job{
		Slug:      slug,
		Interval:  s.config.Interval,
		Timeout:   s.config.Timeout,
		Enabled:   true,
		NextRun:   &next,
		CreatedAt: time.Now(),
	}
	s.jobs[slug] = job

	if s.started {
		s.startJob(job)
	}
	return nil
}

// Unregister removes the job for slug
func (s *Scheduler) Unregister(slug string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cancel, ok := s.running[slug]; ok {
		cancel()
		delete(s.running, slug)
	}
	delete(s.jobs, slug)
}

// Enable enables a job
func (s *Scheduler) Enable(slug string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[slug]
	if !ok {
		return fmt.Errorf("job not found: %s", slug)
	}

	job.Enabled = true
	if _, running := s.running[slug]; s.started && !running {
		s.startJob(job)
	}
	return nil
}

// Disable stops a job without forgetting it
func (s *Scheduler) Disable(slug string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[slug]
	if !ok {
		return fmt.Errorf("job not found: %s", slug)
	}

	job.Enabled = false
	if cancel, ok := s.running[slug]; ok {
		cancel()
		delete(s.running, slug)
	}
	return nil
}

// SyncPersonas registers a job per active persona and drops jobs of
// personas that are gone or inactive
func (s *Scheduler) SyncPersonas(ctx context.Context) error {
	personas, err := s.personas.List(ctx, true)
	if err != nil {
		return fmt.Errorf("list personas: %w", err)
	}

	active := make(map[string]bool, len(personas))
	for _, p := range personas {
		active[p.Slug] = true
		if err := s.Register(p.Slug); err != nil {
			return err
		}
	}

	for _, job := range s.ListJobs() {
		if !active[job.Slug] {
			s.log.WithField("persona", job.Slug).Info("persona no longer active, dropping job")
			s.Unregister(job.Slug)
		}
	}
	return nil
}

// Start starts every enabled job and the persona refresh loop
func (s *Scheduler) Start() error {
	if err := s.SyncPersonas(s.ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	s.started = true

	for _, job := range s.jobs {
		if job.Enabled {
			s.startJob(job)
		}
	}

	s.wg.Add(1)
	go s.refreshLoop(s.ctx)

	s.log.Info("scheduler started with %d persona jobs every %s", len(s.jobs), s.config.Interval)
	return nil
}

// Stop stops the scheduler and waits for in-flight ticks
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}

	s.cancel()
	for _, cancel := range s.running {
		cancel()
	}
	s.running = make(map[string]context.CancelFunc)
	s.started = false

	// Create new context for potential restart
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

func (s *Scheduler) startJob(job *Job) {
	jobCtx, cancel := context.WithCancel(s.ctx)
	s.running[job.Slug] = cancel

	s.wg.Add(1)
	go s.runJobLoop(jobCtx, job)
}

func (s *Scheduler) runJobLoop(ctx context.Context, job *Job) {
	defer s.wg.Done()

	for {
		s.mu.RLock()
		wait := time.Until(*job.NextRun)
		s.mu.RUnlock()

		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.executeJob(ctx, job)
		}
	}
}

func (s *Scheduler) refreshLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SyncPersonas(ctx); err != nil {
				s.log.WithError(err).Warn("persona refresh failed")
			}
		}
	}
}

// executeJob runs one tick and updates the job counters
func (s *Scheduler) executeJob(ctx context.Context, job *Job) engine.ActionResult {
	execCtx, cancel := context.WithTimeout(ctx, job.Timeout)
	defer cancel()

	now := time.Now()
	s.mu.Lock()
	job.LastRun = &now
	job.RunCount++
	s.mu.Unlock()

	result := s.runTick(execCtx, job.Slug)

	s.mu.Lock()
	switch result.Kind {
	case engine.KindError:
		job.ErrorCount++
		job.LastError = result.Message
		job.LastResult = string(result.Kind)
	case engine.KindSkipped:
		job.SkipCount++
		job.LastResult = string(result.Kind) + ":" + result.Reason
	default:
		job.LastError = ""
		job.LastResult = string(result.Kind)
	}
	next := time.Now().Add(job.Interval)
	job.NextRun = &next
	s.mu.Unlock()

	return result
}

// runTick keeps a panicking ticker from taking down the job loop
func (s *Scheduler) runTick(ctx context.Context, slug string) (result engine.ActionResult) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("persona", slug).Error("tick panicked: %v\n%s", r, debug.Stack())
			result = engine.Failed(fmt.Sprint(r), "panic")
			result.Persona = slug
		}
	}()
	return s.ticker.RunAgentTick(ctx, slug)
}

// RunNow ticks a registered persona immediately and waits for the result
func (s *Scheduler) RunNow(ctx context.Context, slug string) (engine.ActionResult, error) {
	s.mu.RLock()
	job, ok := s.jobs[slug]
	s.mu.RUnlock()

	if !ok {
		return engine.ActionResult{}, fmt.Errorf("job not found: %s", slug)
	}
	return s.executeJob(ctx, job), nil
}

// GetJob returns a copy of a job
func (s *Scheduler) GetJob(slug string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[slug]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// ListJobs returns copies of all jobs
func (s *Scheduler) ListJobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, *job)
	}
	return jobs
}

// GetStats returns scheduler statistics
func (s *Scheduler) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Started:     s.started,
		TotalJobs:   len(s.jobs),
		RunningJobs: len(s.running),
		Interval:    s.config.Interval.String(),
	}

	for _, job := range s.jobs {
		if job.Enabled {
			stats.EnabledJobs++
		}
		stats.TotalRuns += job.RunCount
		stats.TotalSkips += job.SkipCount
		stats.TotalErrors += job.ErrorCount
	}
	return stats
}

// Stats contains scheduler statistics
type Stats struct {
	Started     bool   `json:"started"`
	TotalJobs   int    `json:"total_jobs"`
	EnabledJobs int    `json:"enabled_jobs"`
	RunningJobs int    `json:"running_jobs"`
	TotalRuns   int64  `json:"total_runs"`
	TotalSkips  int64  `json:"total_skips"`
	TotalErrors int64  `json:"total_errors"`
	Interval    string `json:"interval"`
}

func (s *Scheduler) jitter() time.Duration {
	if s.config.Jitter <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(s.config.Jitter)))
}
