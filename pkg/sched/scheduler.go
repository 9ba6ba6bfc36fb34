// Package sched runs Jet statements on cron schedules, e.g. a periodic
// flush of a metrics stream. Schedules are wall-clock and independent of
// flow traffic.
package sched

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/jsonjet/jsonjet/pkg/engine"
)

// Job is a scheduled statement.
type Job struct {
	Name      string `json:"name"`
	Schedule  string `json:"schedule"` // cron syntax
	Statement string `json:"statement"`
}

// Scheduler manages cron jobs against the engine.
type Scheduler struct {
	eng    *engine.Engine
	logger *zap.Logger
	cron   *cron.Cron
	jobs   map[string]Job
	mu     sync.RWMutex
}

// NewScheduler creates a new cron scheduler.
func NewScheduler(eng *engine.Engine, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		eng:    eng,
		logger: logger,
		cron:   cron.New(cron.WithSeconds()),
		jobs:   make(map[string]Job),
	}
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	s.logger.Info("Starting statement scheduler")
	s.cron.Start()
}

// Stop stops the scheduler.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// AddJob registers a new cron job.
func (s *Scheduler) AddJob(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(job.Schedule, func() {
		s.executeJob(job)
	})
	if err != nil {
		return fmt.Errorf("invalid schedule: %v", err)
	}

	s.jobs[job.Name] = job
	s.logger.Info("Added scheduled statement",
		zap.String("name", job.Name), zap.String("schedule", job.Schedule), zap.Int("id", int(id)))
	return nil
}

func (s *Scheduler) executeJob(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp := s.eng.Execute(ctx, job.Statement)
	if !resp.Success {
		s.logger.Warn("Scheduled statement failed",
			zap.String("name", job.Name), zap.String("error", resp.Error))
		return
	}
	s.logger.Info("Scheduled statement executed", zap.String("name", job.Name))
}

// ListJobs returns all registered jobs.
func (s *Scheduler) ListJobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		list = append(list, j)
	}
	return list
}
