package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/i474232898/airwatch/internal/metrics"
	"github.com/i474232898/airwatch/internal/telemetry"
)

const (
	defaultInterval = 15 * time.Minute
	defaultTimeout  = 30 * time.Second
)

// Collector is the part of telemetry.Service the scheduler drives.
type Collector interface {
	Locations() []telemetry.Location
	Collect(ctx context.Context, loc telemetry.Location) (telemetry.Reading, error)
}

// Options configures the trigger. Cron, when set, takes precedence over Interval.
type Options struct {
	Interval time.Duration
	Cron     string
	// Timeout bounds each location's collection within a cycle.
	Timeout time.Duration
}

// CycleReport summarises one collection cycle.
type CycleReport struct {
	Started   time.Time
	Duration  time.Duration
	Succeeded []string
	Failed    map[string]error
}

// Scheduler periodically collects readings for the tracked locations.
// Start and Stop are idempotent.
type Scheduler struct {
	collector Collector
	opts      Options
	logger    *slog.Logger

	mu        sync.Mutex
	scheduler *gocron.Scheduler
	cancel    context.CancelFunc
}

// New creates a stopped Scheduler.
func New(collector Collector, opts Options, logger *slog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		collector: collector,
		opts:      opts,
		logger:    logger.With("component", "scheduler"),
	}
}

// Start schedules the periodic job and starts the underlying scheduler. The first
// cycle runs immediately. Starting a running scheduler is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scheduler != nil {
		return nil
	}
	if len(s.collector.Locations()) == 0 {
		s.logger.Warn("no locations configured; nothing to schedule")
	}

	// Stop waits for an in-flight cycle to complete before cancelling this.
	ctx, cancel := context.WithCancel(context.Background())

	sched := gocron.NewScheduler(time.UTC)
	sched.SingletonModeAll()

	var job *gocron.Scheduler
	if s.opts.Cron != "" {
		// Cron jobs otherwise wait for their first match.
		job = sched.Cron(s.opts.Cron).StartImmediately()
	} else {
		job = sched.Every(s.opts.Interval)
	}
	if _, err := job.Do(func() { s.RunCycle(ctx) }); err != nil {
		cancel()
		return err
	}

	sched.StartAsync()
	s.scheduler = sched
	s.cancel = cancel
	s.logger.Info("started", "interval", s.opts.Interval, "cron", s.opts.Cron)
	return nil
}

// Stop cancels future cycles; a cycle already running is allowed to complete.
// Stopping a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scheduler == nil {
		return
	}
	s.scheduler.Stop()
	s.cancel()
	s.scheduler = nil
	s.cancel = nil
	s.logger.Info("stopped")
}

// IsRunning reports whether the periodic trigger is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduler != nil
}

// RunCycle collects every tracked location concurrently. A failure for one
// location is logged and never affects the others.
func (s *Scheduler) RunCycle(ctx context.Context) CycleReport {
	start := time.Now()
	defer metrics.ObserveCycle(start)

	locations := s.collector.Locations()
	s.logger.Info("running collection cycle", "locations", len(locations))

	report := CycleReport{Started: start.UTC(), Failed: make(map[string]error)}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, loc := range locations {
		loc := loc
		wg.Add(1)
		go func() {
			defer wg.Done()

			cctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
			defer cancel()

			_, err := s.collector.Collect(cctx, loc)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					s.logger.Warn("collection timed out", "location", loc.Key(), "timeout", s.opts.Timeout)
				} else {
					s.logger.Warn("collection failed", "location", loc.Key(), "error", err)
				}
				report.Failed[loc.Key()] = err
				return
			}
			report.Succeeded = append(report.Succeeded, loc.Key())
		}()
	}
	wg.Wait()

	report.Duration = time.Since(start)
	s.logger.Info("completed collection cycle",
		"succeeded", len(report.Succeeded),
		"failed", len(report.Failed),
		"duration", report.Duration,
	)
	return report
}
