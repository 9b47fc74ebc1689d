// Package jobs runs batch analysis off the request path: submitted jobs
// queue behind a bounded worker pool, and callers observe completion by
// polling job status.
package jobs

import (
	"fmt"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Result is what a completed job exposes
type Result struct {
	// Paths of the artifacts the job wrote (events, alerts, heatmap, video)
	Artifacts map[string]string `json:"artifacts"`
	// Aggregate report, shape owned by the handler
	Report any `json:"report"`
}

// Job is the externally visible state of one submitted job.
// Completed and failed are terminal: a failed job exposes a single error
// string and no partial results.
type Job struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Status      Status    `json:"status"`
	SubmittedAt time.Time `json:"submittedAt"`
	StartedAt   time.Time `json:"startedAt,omitempty"`
	FinishedAt  time.Time `json:"finishedAt,omitempty"`
	Error       string    `json:"error,omitempty"`
	Result      *Result   `json:"result,omitempty"`
}

// Handler does the actual work of a job
type Handler func() (*Result, error)

type queuedJob struct {
	id      string
	handler Handler
}

// Manager owns the worker pool and the job table
type Manager struct {
	log logs.Log

	lock sync.Mutex
	jobs map[string]*Job

	queue chan queuedJob
	wg    sync.WaitGroup
}

func NewManager(log logs.Log, workers, queueSize int) (*Manager, error) {
	if workers < 1 {
		return nil, fmt.Errorf("jobs: workers %v must be at least 1", workers)
	}
	if queueSize < 1 {
		return nil, fmt.Errorf("jobs: queueSize %v must be at least 1", queueSize)
	}
	m := &Manager{
		log:   log,
		jobs:  map[string]*Job{},
		queue: make(chan queuedJob, queueSize),
	}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	return m, nil
}

// Submit enqueues a job and returns its id for status polling.
// Fails if the queue is full rather than blocking the caller.
func (m *Manager) Submit(name string, handler Handler) (string, error) {
	job := &Job{
		ID:          uuid.NewString(),
		Name:        name,
		Status:      StatusPending,
		SubmittedAt: time.Now(),
	}
	m.lock.Lock()
	m.jobs[job.ID] = job
	m.lock.Unlock()

	select {
	case m.queue <- queuedJob{id: job.ID, handler: handler}:
	default:
		m.lock.Lock()
		delete(m.jobs, job.ID)
		m.lock.Unlock()
		return "", fmt.Errorf("jobs: queue is full")
	}
	m.log.Infof("Job %v (%v) submitted", job.ID, name)
	return job.ID, nil
}

// Get returns a snapshot of a job's state
func (m *Manager) Get(id string) (Job, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// List returns snapshots of all known jobs
func (m *Manager) List() []Job {
	m.lock.Lock()
	defer m.lock.Unlock()
	out := make([]Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		out = append(out, *job)
	}
	return out
}

// Close stops accepting work and waits for running jobs to finish
func (m *Manager) Close() {
	close(m.queue)
	m.wg.Wait()
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for item := range m.queue {
		m.setRunning(item.id)
		result, err := m.runProtected(item)
		m.lock.Lock()
		job := m.jobs[item.id]
		job.FinishedAt = time.Now()
		if err != nil {
			job.Status = StatusFailed
			job.Error = err.Error()
			job.Result = nil
		} else {
			job.Status = StatusCompleted
			job.Result = result
		}
		m.lock.Unlock()
		if err != nil {
			m.log.Errorf("Job %v (%v) failed: %v", job.ID, job.Name, err)
		} else {
			m.log.Infof("Job %v (%v) completed", job.ID, job.Name)
		}
	}
}

func (m *Manager) setRunning(id string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	job := m.jobs[id]
	job.Status = StatusRunning
	job.StartedAt = time.Now()
}

// A panicking handler marks the job failed instead of killing the worker
func (m *Manager) runProtected(item queuedJob) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("job panic: %v", r)
		}
	}()
	return item.handler()
}
