// Package scheduler runs pipeline stages on fixed intervals.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/user/dealtracker/internal/apperror"
	"github.com/user/dealtracker/internal/pipeline"
	"github.com/user/dealtracker/pkg/logger"
)

// JobFunc is one pipeline stage.
type JobFunc func(ctx context.Context) (pipeline.Report, error)

// JobStatus describes a scheduled job.
type JobStatus struct {
	Name      string           `json:"name"`
	Interval  string           `json:"interval"`
	Running   bool             `json:"running"`
	NextRun   time.Time        `json:"next_run"`
	LastRun   *time.Time       `json:"last_run,omitempty"`
	LastError string           `json:"last_error,omitempty"`
	Report    *pipeline.Report `json:"last_report,omitempty"`
}

type job struct {
	name     string
	interval time.Duration
	fn       JobFunc
	entry    cron.EntryID

	// running is held for the whole run; manual and scheduled runs share it.
	running sync.Mutex

	mu      sync.Mutex
	busy    bool
	lastRun *time.Time
	lastErr error
	report  *pipeline.Report
}

// Scheduler runs each job at most once at a time. Different jobs may overlap.
type Scheduler struct {
	cron *cron.Cron
	jobs map[string]*job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an idle scheduler.
func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	l := cronLogger{}

	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(l),
			cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
		),
		jobs:   map[string]*job{},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers fn to run every interval.
func (s *Scheduler) Add(name string, interval time.Duration, fn JobFunc) error {
	if interval <= 0 {
		return apperror.Invalid("interval", fmt.Sprintf("interval of job %s must be positive", name))
	}
	if _, ok := s.jobs[name]; ok {
		return apperror.Conflict("job", name)
	}

	j := &job{name: name, interval: interval, fn: fn}
	id, err := s.cron.AddFunc("@every "+interval.String(), func() {
		s.execute(s.ctx, j)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}
	j.entry = id
	s.jobs[name] = j
	return nil
}

// Start begins running jobs on their intervals.
func (s *Scheduler) Start() {
	s.cron.Start()
	for _, st := range s.Status() {
		logger.Info().Str("job", st.Name).Str("interval", st.Interval).Time("next_run", st.NextRun).Msg("Job scheduled")
	}
	logger.Info().Int("jobs", len(s.jobs)).Msg("Scheduler started")
}

// Stop cancels running jobs and waits for them to return, manual runs included.
func (s *Scheduler) Stop() {
	logger.Info().Msg("Stopping scheduler")
	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
}

// RunNow runs a job immediately and returns its report. It fails with a
// conflict error when the job is already running.
func (s *Scheduler) RunNow(ctx context.Context, name string) (pipeline.Report, error) {
	j, ok := s.jobs[name]
	if !ok {
		return pipeline.Report{}, apperror.NotFound("job", name)
	}
	if !j.running.TryLock() {
		return pipeline.Report{}, apperror.Conflict("job", name)
	}
	defer j.running.Unlock()

	s.wg.Add(1)
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	logger.Info().Str("job", name).Msg("Manual run requested")
	return s.run(ctx, j)
}

// Status returns every job sorted by name.
func (s *Scheduler) Status() []JobStatus {
	statuses := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		st := JobStatus{
			Name:     j.name,
			Interval: j.interval.String(),
			NextRun:  s.cron.Entry(j.entry).Next,
		}

		j.mu.Lock()
		st.Running = j.busy
		st.LastRun = j.lastRun
		st.Report = j.report
		if j.lastErr != nil {
			st.LastError = j.lastErr.Error()
		}
		j.mu.Unlock()

		statuses = append(statuses, st)
	}
	sort.Slice(statuses, func(i, k int) bool { return statuses[i].Name < statuses[k].Name })
	return statuses
}

func (s *Scheduler) execute(ctx context.Context, j *job) {
	if !j.running.TryLock() {
		logger.Info().Str("job", j.name).Msg("Job still running, skipping")
		return
	}
	defer j.running.Unlock()

	if _, err := s.run(ctx, j); err != nil {
		logger.Error().Err(err).Str("job", j.name).Msg("Job failed, retrying next interval")
	}
}

func (s *Scheduler) run(ctx context.Context, j *job) (report pipeline.Report, err error) {
	j.mu.Lock()
	j.busy = true
	j.mu.Unlock()

	started := time.Now().UTC()
	defer func() {
		// A panicking stage is reported as a failed run.
		if r := recover(); r != nil {
			err = apperror.Fatal(j.name, fmt.Errorf("panic: %v", r))
		}

		j.mu.Lock()
		j.busy = false
		j.lastRun = &started
		j.lastErr = err
		j.report = &report
		j.mu.Unlock()
	}()

	return j.fn(ctx)
}

// cronLogger routes cron's own messages through the application logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
