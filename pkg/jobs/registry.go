package jobs

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Kind names what a job does to its audit
type Kind string

const (
	KindStart    Kind = "start"    // discovery then continuation, right after creation
	KindContinue Kind = "continue" // on-demand continuation
	KindRecrawl  Kind = "recrawl"
)

// Status represents the current state of a job
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Job is one unit of in-process work on an audit
type Job struct {
	ID           string    `json:"id"`
	AuditID      string    `json:"audit_id"`
	Kind         Kind      `json:"kind"`
	Status       Status    `json:"status"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`

	ctx    context.Context
	cancel context.CancelFunc
}

// Context is cancelled when the registry shuts down
func (j Job) Context() context.Context {
	if j.ctx == nil {
		return context.Background()
	}
	return j.ctx
}

// defaultHistory is how many finished jobs stay queryable
const defaultHistory = 200

// Registry serializes work per audit: at most one job runs for an audit id in this process
type Registry struct {
	mu       sync.Mutex
	jobs     map[string]*Job
	byAudit  map[string]string // auditID -> running jobID
	finished []string          // finished job ids, oldest first
	keep     int
	wg       sync.WaitGroup
	log      *logrus.Entry
}

// NewRegistry creates an empty registry
func NewRegistry(log *logrus.Entry) *Registry {
	return &Registry{
		jobs:    make(map[string]*Job),
		byAudit: make(map[string]string),
		keep:    defaultHistory,
		log:     log.WithField("component", "jobs"),
	}
}

// retire records a finished job and evicts the oldest beyond the history limit. Caller holds mu.
func (r *Registry) retire(j *Job) {
	r.finished = append(r.finished, j.ID)
	for len(r.finished) > r.keep {
		delete(r.jobs, r.finished[0])
		r.finished = r.finished[1:]
	}
}

// Acquire registers a running job for auditID. If one is already running it is returned with ok=false.
func (r *Registry) Acquire(auditID string, kind Kind) (job Job, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, exists := r.byAudit[auditID]; exists {
		if existing := r.jobs[id]; existing != nil && existing.Status == StatusRunning {
			return *existing, false
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &Job{
		ID:        uuid.New().String(),
		AuditID:   auditID,
		Kind:      kind,
		Status:    StatusRunning,
		StartedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	r.jobs[j.ID] = j
	r.byAudit[auditID] = j.ID
	return *j, true
}

// Release ends a job; a non-nil err marks it failed
func (r *Registry) Release(jobID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, exists := r.jobs[jobID]
	if !exists || j.Status != StatusRunning {
		return
	}
	j.Status = StatusCompleted
	if err != nil {
		j.Status = StatusFailed
		j.ErrorMessage = err.Error()
	}
	j.CompletedAt = time.Now()
	j.cancel()
	if r.byAudit[j.AuditID] == jobID {
		delete(r.byAudit, j.AuditID)
	}
	r.retire(j)
}

// Go runs fn in the background as a job for auditID, unless a job for it is already running.
func (r *Registry) Go(auditID string, kind Kind, fn func(ctx context.Context) error) (Job, bool) {
	job, ok := r.Acquire(auditID, kind)
	if !ok {
		r.log.WithFields(logrus.Fields{"audit_id": auditID, "running_job": job.ID}).Debug("Job already running for audit, not starting another")
		return job, false
	}
	r.Start(job, fn)
	return job, true
}

// Start runs fn in the background under a job already taken with Acquire and releases it when
// fn returns. Panics in fn are recovered and recorded as job failures.
func (r *Registry) Start(job Job, fn func(ctx context.Context) error) {
	auditID, kind := job.AuditID, job.Kind
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		var err error
		defer func() {
			if p := recover(); p != nil {
				r.log.WithFields(logrus.Fields{
					"audit_id":    auditID,
					"job_id":      job.ID,
					"panic_info":  p,
					"stack_trace": string(debug.Stack()),
				}).Error("PANIC Recovered in audit job")
				err = fmt.Errorf("panic: %v", p)
			}
			r.Release(job.ID, err)
		}()
		err = fn(job.Context())
		if err != nil {
			r.log.WithFields(logrus.Fields{"audit_id": auditID, "kind": kind}).Warnf("Audit job failed: %v", err)
		}
	}()
}

// Get retrieves a job by ID
func (r *Registry) Get(jobID string) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[jobID]; ok {
		return *j, true
	}
	return Job{}, false
}

// Running returns the job currently running for an audit
func (r *Registry) Running(auditID string) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byAudit[auditID]; ok {
		if j := r.jobs[id]; j != nil && j.Status == StatusRunning {
			return *j, true
		}
	}
	return Job{}, false
}

// IsRunning checks if a job is currently running for an audit
func (r *Registry) IsRunning(auditID string) bool {
	_, ok := r.Running(auditID)
	return ok
}

// List returns a snapshot of all jobs
func (r *Registry) List() []Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, *j)
	}
	return out
}

// CancelAll cancels all running jobs
func (r *Registry) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.Status == StatusRunning {
			j.cancel()
			j.Status = StatusCancelled
			j.CompletedAt = time.Now()
			r.retire(j)
		}
	}
	r.byAudit = make(map[string]string)
}

// Wait blocks until background jobs started with Go return, or ctx ends
func (r *Registry) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
