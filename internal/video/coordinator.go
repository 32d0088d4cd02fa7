// Package video submits render jobs and turns renderer updates into engine
// events.  Results for jobs that were replaced or whose session ended are
// logged and discarded.
package video

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/iliyamo/kiosk-session-server/internal/engine"
)

// Job is one render request.  ID is the session's current job id and is
// echoed back on every update.
type Job struct {
	ID          string `json:"jobId"`
	SessionID   string `json:"sessionId"`
	KioskID     string `json:"kioskId"`
	Attempt     int    `json:"attempt"`
	TemplateID  string `json:"templateId"`
	AnimalID    string `json:"animalId"`
	UserName    string `json:"userName"`
	UserMessage string `json:"userMessage"`
}

// Update kinds reported by renderers.
const (
	UpdateProgress  = "progress"
	UpdateCompleted = "completed"
	UpdateFailed    = "failed"
)

// Update is a renderer report about a job.
type Update struct {
	JobID        string `json:"jobId"`
	Kind         string `json:"kind"`
	Progress     int    `json:"progress,omitempty"`
	VideoURL     string `json:"videoUrl,omitempty"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
	Message      string `json:"message,omitempty"`
	Retryable    bool   `json:"retryable,omitempty"`
}

// Renderer accepts render jobs.  Updates come back through Sink.Handle.
type Renderer interface {
	Submit(ctx context.Context, job Job) error
}

// Sink receives renderer updates.
type Sink interface {
	Handle(u Update) error
}

// ApplyFunc feeds a render event into the owning session.
type ApplyFunc func(sessionID string, ev engine.Event) error

var ErrUnknownJob = errors.New("unknown render job")

type Options struct {
	MaxAttempts  int
	RetryBackoff time.Duration
}

type tracked struct {
	sessionID string
	attempt   int
}

type Coordinator struct {
	opts  Options
	apply ApplyFunc
	log   *log.Logger

	mu       sync.RWMutex
	renderer Renderer
	jobs     map[string]tracked
}

func NewCoordinator(opts Options, apply ApplyFunc, logger *log.Logger) *Coordinator {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &Coordinator{opts: opts, apply: apply, log: logger, jobs: make(map[string]tracked)}
}

// Use installs the renderer.  It must be called before the first Submit.
func (c *Coordinator) Use(r Renderer) {
	c.mu.Lock()
	c.renderer = r
	c.mu.Unlock()
}

// Submit hands job to the renderer.  Retries wait RetryBackoff first and
// give up silently when ctx ends during the wait.
func (c *Coordinator) Submit(ctx context.Context, job Job) {
	if job.Attempt > 1 && c.opts.RetryBackoff > 0 {
		t := time.NewTimer(c.opts.RetryBackoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}

	c.mu.Lock()
	c.jobs[job.ID] = tracked{sessionID: job.SessionID, attempt: job.Attempt}
	r := c.renderer
	c.mu.Unlock()

	if r == nil {
		_ = c.Handle(Update{JobID: job.ID, Kind: UpdateFailed, Message: "no renderer configured"})
		return
	}
	c.log.Infoj(log.JSON{"msg": "render job submitted", "session_id": job.SessionID, "job_id": job.ID, "attempt": job.Attempt, "template": job.TemplateID})
	if err := r.Submit(ctx, job); err != nil {
		if ctx.Err() != nil {
			return
		}
		c.log.Errorj(log.JSON{"msg": "render submit failed", "session_id": job.SessionID, "job_id": job.ID, "err": err.Error()})
		_ = c.Handle(Update{JobID: job.ID, Kind: UpdateFailed, Message: err.Error(), Retryable: true})
	}
}

// Handle maps u onto the session that owns the job.  A retryable failure
// with attempts left is turned into a retry request.
func (c *Coordinator) Handle(u Update) error {
	c.mu.RLock()
	tj, ok := c.jobs[u.JobID]
	c.mu.RUnlock()
	if !ok {
		c.log.Infoj(log.JSON{"msg": "render update discarded", "job_id": u.JobID, "kind": u.Kind, "reason": "unknown job"})
		return ErrUnknownJob
	}

	var ev engine.Event
	switch u.Kind {
	case UpdateProgress:
		ev = engine.VideoGenerationProgress{JobID: u.JobID, Progress: u.Progress}
	case UpdateCompleted:
		ev = engine.VideoGenerationCompleted{JobID: u.JobID, VideoURL: u.VideoURL, ThumbnailURL: u.ThumbnailURL}
	case UpdateFailed:
		ev = engine.VideoGenerationFailed{
			JobID:     u.JobID,
			Message:   u.Message,
			Retryable: u.Retryable,
			Retry:     u.Retryable && tj.attempt < c.opts.MaxAttempts,
		}
	default:
		return ErrUnknownJob
	}
	if u.Kind != UpdateProgress {
		c.mu.Lock()
		delete(c.jobs, u.JobID)
		c.mu.Unlock()
	}

	err := c.apply(tj.sessionID, ev)
	if err != nil {
		if errors.Is(err, engine.ErrStaleResult) || errors.Is(err, engine.ErrSessionTerminal) {
			c.log.Infoj(log.JSON{"msg": "render update discarded", "session_id": tj.sessionID, "job_id": u.JobID, "kind": u.Kind, "code": engine.Code(err)})
		} else {
			c.log.Warnj(log.JSON{"msg": "render update rejected", "session_id": tj.sessionID, "job_id": u.JobID, "kind": u.Kind, "code": engine.Code(err)})
		}
	}
	return err
}

// Forget drops the jobs of sessionID so late updates are discarded here.
func (c *Coordinator) Forget(sessionID string) {
	c.mu.Lock()
	for id, tj := range c.jobs {
		if tj.sessionID == sessionID {
			delete(c.jobs, id)
		}
	}
	c.mu.Unlock()
}
