// Package scheduler is the durable, multi-process cron scheduler: a
// PostgreSQL-backed job store reconciled against an in-process
// robfig/cron/v3 trigger set, generalized from the teacher's single
// fixed-interval Scheduler to the job-table model spec.md §4.5
// describes.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// cronExpressionParts is the number of space-separated fields a
// standard 5-field cron expression carries.
const cronExpressionParts = 5

// cronParser computes next-run times for the NextRunTime column,
// independent of the per-Scheduler cron.Cron instance so it can be
// used before a job is ever registered in-process.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// IsOneTimeTask reports whether cronExpr names an absolute moment
// rather than a recurring pattern: all of minute/hour/day/month are
// literal digit strings and day-of-week is exactly "*", matching
// is_one_time_task.
func IsOneTimeTask(cronExpr string) bool {
	parts := strings.Fields(cronExpr)
	if len(parts) != cronExpressionParts {
		return false
	}
	minute, hour, day, month, dayOfWeek := parts[0], parts[1], parts[2], parts[3], parts[4]
	return isDigits(minute) && isDigits(hour) && isDigits(day) && isDigits(month) && dayOfWeek == "*"
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// FireFunc is invoked when a job's trigger fires. It receives the
// owning Task's id; the caller (internal/schedulertask) performs the
// EXECUTING transition, self-callback, and outcome recording.
type FireFunc func(ctx context.Context, taskID uuid.UUID)

// Scheduler wraps a robfig/cron.Cron instance and the shared
// PostgreSQL job store, mirroring the teacher's Start/Stop/Wait/
// IsRunning lifecycle shape.
type Scheduler struct {
	cron      *cron.Cron
	store     *JobStore
	fire      FireFunc
	entries   map[string]cron.EntryID
	refreshInterval time.Duration
	sem       chan struct{}

	mu        sync.RWMutex
	isRunning bool
	prevJobIDs map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Scheduler. refreshInterval governs how often
// RefreshJobs is invoked while running; pass 0 to disable the
// background refresh loop and call RefreshJobs manually. maxWorkers
// bounds how many fired jobs can run their FireFunc concurrently in
// this process; pass 0 for no cap (e.g. the worker-side thin client
// that never fires jobs at all).
func New(store *JobStore, fire FireFunc, refreshInterval time.Duration, maxWorkers int) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:            cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow))),
		store:           store,
		fire:            fire,
		entries:         make(map[string]cron.EntryID),
		refreshInterval: refreshInterval,
		ctx:             ctx,
		cancel:          cancel,
	}
	if maxWorkers > 0 {
		s.sem = make(chan struct{}, maxWorkers)
	}
	return s
}

// Start starts the cron runner, loads every job currently in the store,
// and — if a refresh interval was configured — launches the
// background reconciliation loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: already running")
	}
	s.isRunning = true
	s.mu.Unlock()

	s.cron.Start()
	logrus.Info("scheduler started")

	if err := s.RefreshJobs(); err != nil {
		logrus.Errorf("scheduler: failed to refresh jobs on startup: %v", err)
	}

	if s.refreshInterval > 0 {
		s.wg.Add(1)
		go s.refreshLoop()
	}
	return nil
}

// Stop stops the cron runner, waiting up to 30s for in-flight jobs,
// matching the teacher's graceful-shutdown-with-timeout shape.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	s.cancel()
	cronCtx := s.cron.Stop()

	select {
	case <-cronCtx.Done():
		logrus.Info("scheduler stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("scheduler stop timeout, forcing shutdown")
	}
	return nil
}

// IsRunning reports whether the scheduler is currently running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Wait blocks until the background refresh loop has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// AddJob registers a Task's cron expression both in the shared store
// and, if this process is currently running, in the in-process cron
// set. One-shot jobs remove themselves from the in-process set after
// their single firing.
func (s *Scheduler) AddJob(jobID string, taskID uuid.UUID, cronExpr string) error {
	oneShot := IsOneTimeTask(cronExpr)

	var nextRunTime *time.Time
	if schedule, err := cronParser.Parse(cronExpr); err == nil {
		next := schedule.Next(time.Now().UTC())
		nextRunTime = &next
	}

	if err := s.store.Upsert(Job{JobID: jobID, TaskID: taskID, CronExpression: cronExpr, OneShot: oneShot, NextRunTime: nextRunTime}); err != nil {
		return fmt.Errorf("scheduler: add job %s: %w", jobID, err)
	}

	if s.IsRunning() {
		if err := s.scheduleInProcess(jobID, taskID, cronExpr, oneShot); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) scheduleInProcess(jobID string, taskID uuid.UUID, cronExpr string, oneShot bool) error {
	s.mu.Lock()
	if existing, ok := s.entries[jobID]; ok {
		s.cron.Remove(existing)
		delete(s.entries, jobID)
	}
	s.mu.Unlock()

	entryID, err := s.cron.AddFunc(cronExpr, func() { s.run(jobID, taskID, cronExpr, oneShot) })
	if err != nil {
		return fmt.Errorf("scheduler: invalid cron expression %q: %w", cronExpr, err)
	}

	s.mu.Lock()
	s.entries[jobID] = entryID
	s.mu.Unlock()

	logrus.Infof("scheduler: registered job %s (one_shot=%v)", jobID, oneShot)
	return nil
}

func (s *Scheduler) run(jobID string, taskID uuid.UUID, cronExpr string, oneShot bool) {
	s.wg.Add(1)
	defer s.wg.Done()

	if !s.IsRunning() {
		logrus.Infof("scheduler: not running, skipping firing of job %s", jobID)
		return
	}

	if oneShot {
		s.mu.Lock()
		if entryID, ok := s.entries[jobID]; ok {
			s.cron.Remove(entryID)
			delete(s.entries, jobID)
		}
		s.mu.Unlock()
		if _, err := s.store.Remove(jobID); err != nil {
			logrus.Errorf("scheduler: failed to remove one-shot job %s from store: %v", jobID, err)
		}
	} else if schedule, err := cronParser.Parse(cronExpr); err == nil {
		next := schedule.Next(time.Now().UTC())
		if err := s.store.UpdateNextRunTime(jobID, next); err != nil {
			logrus.Errorf("scheduler: failed to advance next_run_time for job %s: %v", jobID, err)
		}
	}

	if s.sem != nil {
		s.sem <- struct{}{}
		defer func() { <-s.sem }()
	}
	s.fire(s.ctx, taskID)
}

// RemoveJob removes a job from the store and, if present, the
// in-process cron set. Returns false if the job did not exist.
func (s *Scheduler) RemoveJob(jobID string) (bool, error) {
	s.mu.Lock()
	if entryID, ok := s.entries[jobID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, jobID)
	}
	s.mu.Unlock()

	removed, err := s.store.Remove(jobID)
	if err != nil {
		logrus.Warnf("scheduler: failed to remove job %s: %v", jobID, err)
		return false, err
	}
	return removed, nil
}

func (s *Scheduler) refreshLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.RefreshJobs(); err != nil {
				logrus.Errorf("scheduler: refresh failed: %v", err)
			}
		}
	}
}

// RefreshJobs reconciles the in-process cron set against the shared
// store, logging only when the job set has actually changed and
// force-reloading any job whose next_run_time has already passed,
// matching refresh_jobs's log-only-on-change and overdue-reload
// behavior.
func (s *Scheduler) RefreshJobs() error {
	jobs, err := s.store.GetAll()
	if err != nil {
		return fmt.Errorf("scheduler: refresh: %w", err)
	}

	current := make(map[string]struct{}, len(jobs))
	for _, j := range jobs {
		current[j.JobID] = struct{}{}
	}

	s.mu.Lock()
	prev := s.prevJobIDs
	s.prevJobIDs = current
	s.mu.Unlock()

	logJobSetChange(prev, current, len(jobs))

	now := time.Now().UTC()
	for _, j := range jobs {
		overdue := j.NextRunTime != nil && j.NextRunTime.Before(now)

		s.mu.RLock()
		_, scheduled := s.entries[j.JobID]
		s.mu.RUnlock()

		if !scheduled || overdue {
			if err := s.scheduleInProcess(j.JobID, j.TaskID, j.CronExpression, j.OneShot); err != nil {
				logrus.Errorf("scheduler: failed to (re)load job %s: %v", j.JobID, err)
			}
		}
	}
	return nil
}

func logJobSetChange(prev, current map[string]struct{}, total int) {
	if prev == nil {
		logrus.Infof("scheduler: initial job list loaded - found %d jobs", total)
		return
	}
	added, removed := 0, 0
	for id := range current {
		if _, ok := prev[id]; !ok {
			added++
		}
	}
	for id := range prev {
		if _, ok := current[id]; !ok {
			removed++
		}
	}
	if added > 0 || removed > 0 {
		logrus.Infof("scheduler: job list changed: +%d added, -%d removed (total: %d)", added, removed, total)
	}
}
