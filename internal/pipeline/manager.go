package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/skypro1111/chunkscribe/internal/metrics"
	"github.com/skypro1111/chunkscribe/internal/model"
)

// JobStatus is a job's lifecycle state
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Finished reports whether the job reached a final state
func (s JobStatus) Finished() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// JobRunner executes one transcription
type JobRunner interface {
	Run(ctx context.Context, jobID string, req Request) (*Result, error)
}

// Job is one background transcription
type Job struct {
	ID         string
	Request    Request
	Status     JobStatus
	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	ErrorKind  model.ErrorKind
	Error      string
	Failures   []model.ChunkFailure
	Result     *Result

	cancel context.CancelFunc
	mu     sync.RWMutex
}

// JobInfo is a point-in-time copy of a job for APIs
type JobInfo struct {
	ID         string               `json:"id"`
	Request    Request              `json:"request"`
	Status     JobStatus            `json:"status"`
	CreatedAt  time.Time            `json:"created_at"`
	StartedAt  *time.Time           `json:"started_at,omitempty"`
	FinishedAt *time.Time           `json:"finished_at,omitempty"`
	ErrorKind  model.ErrorKind      `json:"error_kind,omitempty"`
	Error      string               `json:"error,omitempty"`
	Failures   []model.ChunkFailure `json:"failures,omitempty"`
	Result     *Result              `json:"result,omitempty"`
}

// Info returns a snapshot of the job
func (j *Job) Info() JobInfo {
	j.mu.RLock()
	defer j.mu.RUnlock()

	info := JobInfo{
		ID:        j.ID,
		Request:   j.Request,
		Status:    j.Status,
		CreatedAt: j.CreatedAt,
		ErrorKind: j.ErrorKind,
		Error:     j.Error,
		Failures:  j.Failures,
		Result:    j.Result,
	}
	if !j.StartedAt.IsZero() {
		started := j.StartedAt
		info.StartedAt = &started
	}
	if !j.FinishedAt.IsZero() {
		finished := j.FinishedAt
		info.FinishedAt = &finished
	}
	return info
}

// ManagerConfig contains job execution settings
type ManagerConfig struct {
	MaxConcurrent   int
	Retention       time.Duration
	CleanupInterval time.Duration
}

// Manager runs jobs in the background and keeps them until retention expires
type Manager struct {
	jobs    map[string]*Job
	mu      sync.RWMutex
	runner  JobRunner
	config  ManagerConfig
	slots   *semaphore.Weighted
	logger  *slog.Logger
	metrics *metrics.Metrics

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	cleanup chan struct{}
}

// NewManager creates a job manager and starts its cleanup routine
func NewManager(runner JobRunner, config ManagerConfig, logger *slog.Logger, m *metrics.Metrics) *Manager {
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = 1
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	mgr := &Manager{
		jobs:    make(map[string]*Job),
		runner:  runner,
		config:  config,
		slots:   semaphore.NewWeighted(int64(config.MaxConcurrent)),
		logger:  logger,
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
		cleanup: make(chan struct{}),
	}

	go mgr.startCleanupRoutine()

	return mgr
}

// Submit queues a transcription and returns immediately
func (m *Manager) Submit(req Request) (JobInfo, error) {
	if req.AudioPath == "" {
		return JobInfo{}, fmt.Errorf("audio_path is required")
	}
	if m.ctx.Err() != nil {
		return JobInfo{}, fmt.Errorf("job manager is stopped")
	}

	jobCtx, jobCancel := context.WithCancel(m.ctx)
	job := &Job{
		ID:        uuid.NewString(),
		Request:   req,
		Status:    JobQueued,
		CreatedAt: time.Now(),
		cancel:    jobCancel,
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	m.logger.Info("Job submitted",
		slog.String("job_id", job.ID),
		slog.String("audio", req.AudioPath),
		slog.Bool("diarization", req.Diarization))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.execute(jobCtx, job)
	}()

	return job.Info(), nil
}

func (m *Manager) execute(ctx context.Context, job *Job) {
	defer job.cancel()

	if err := m.slots.Acquire(ctx, 1); err != nil {
		m.finish(job, nil, err)
		return
	}
	defer m.slots.Release(1)

	job.mu.Lock()
	job.Status = JobRunning
	job.StartedAt = time.Now()
	job.mu.Unlock()
	m.metrics.SetActiveJobs(m.countStatus(JobRunning))

	result, err := m.runner.Run(ctx, job.ID, job.Request)
	m.finish(job, result, err)
}

func (m *Manager) finish(job *Job, result *Result, err error) {
	job.mu.Lock()
	job.FinishedAt = time.Now()
	switch {
	case err == nil:
		job.Status = JobCompleted
		job.Result = result
	case errors.Is(err, context.Canceled):
		job.Status = JobCancelled
		job.Error = "cancelled"
	default:
		job.Status = JobFailed
		job.Error = err.Error()
		job.ErrorKind = model.KindOf(err)
		var merr *model.Error
		if errors.As(err, &merr) {
			job.Failures = merr.Failures
		}
	}
	status := job.Status
	elapsed := job.FinishedAt.Sub(job.CreatedAt)
	job.mu.Unlock()

	m.metrics.RecordJobFinished(string(status), elapsed.Seconds())
	m.metrics.SetActiveJobs(m.countStatus(JobRunning))

	if err != nil && status == JobFailed {
		m.logger.Error("Job failed",
			slog.String("job_id", job.ID),
			slog.String("error_kind", string(job.ErrorKind)),
			slog.String("error", err.Error()))
		return
	}
	m.logger.Info("Job finished",
		slog.String("job_id", job.ID),
		slog.String("status", string(status)),
		slog.Duration("elapsed", elapsed))
}

// Get returns a job snapshot
func (m *Manager) Get(id string) (JobInfo, bool) {
	m.mu.RLock()
	job, exists := m.jobs[id]
	m.mu.RUnlock()

	if !exists {
		return JobInfo{}, false
	}
	return job.Info(), true
}

// List returns all known jobs, newest first
func (m *Manager) List() []JobInfo {
	m.mu.RLock()
	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	m.mu.RUnlock()

	infos := make([]JobInfo, 0, len(jobs))
	for _, job := range jobs {
		infos = append(infos, job.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.After(infos[j].CreatedAt)
	})
	return infos
}

// Cancel stops a queued or running job
func (m *Manager) Cancel(id string) bool {
	m.mu.RLock()
	job, exists := m.jobs[id]
	m.mu.RUnlock()

	if !exists {
		return false
	}

	job.mu.RLock()
	finished := job.Status.Finished()
	job.mu.RUnlock()
	if finished {
		return false
	}

	job.cancel()
	m.logger.Info("Job cancellation requested", slog.String("job_id", id))
	return true
}

// ActiveCount returns the number of queued or running jobs
func (m *Manager) ActiveCount() int {
	return m.countStatus(JobQueued) + m.countStatus(JobRunning)
}

func (m *Manager) countStatus(status JobStatus) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, job := range m.jobs {
		job.mu.RLock()
		if job.Status == status {
			n++
		}
		job.mu.RUnlock()
	}
	return n
}

// Stop cancels running jobs and waits for them and the cleanup routine
func (m *Manager) Stop() {
	m.logger.Info("Stopping job manager...")

	m.cancel()
	m.wg.Wait()
	<-m.cleanup

	m.logger.Info("Job manager stopped", slog.Int("jobs", len(m.List())))
}

// startCleanupRoutine periodically drops finished jobs past retention
func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	m.logger.Info("Job cleanup routine started",
		slog.Duration("retention", m.config.Retention),
		slog.Duration("check_interval", m.config.CleanupInterval))

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Info("Job cleanup routine stopping")
			return
		case <-ticker.C:
			m.cleanupExpiredJobs()
		}
	}
}

// cleanupExpiredJobs removes finished jobs older than the retention period
func (m *Manager) cleanupExpiredJobs() {
	now := time.Now()
	expired := make([]string, 0)

	m.mu.RLock()
	for id, job := range m.jobs {
		job.mu.RLock()
		if job.Status.Finished() && now.Sub(job.FinishedAt) > m.config.Retention {
			expired = append(expired, id)
		}
		job.mu.RUnlock()
	}
	m.mu.RUnlock()

	if len(expired) == 0 {
		return
	}

	m.mu.Lock()
	for _, id := range expired {
		delete(m.jobs, id)
	}
	m.mu.Unlock()

	m.logger.Info("Cleaned up expired jobs", slog.Int("expired_count", len(expired)))
}
