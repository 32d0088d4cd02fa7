package video

import (
	"context"
	"fmt"
	"time"
)

// Simulated renders nothing.  It reports progress in fixed steps and then
// completes with URLs under BaseURL.  Used when no broker is configured.
type Simulated struct {
	Sink    Sink
	BaseURL string
	Step    time.Duration
	// Fail makes attempts up to and including Fail report a retryable error.
	Fail int
}

func (s *Simulated) Submit(ctx context.Context, job Job) error {
	step := s.Step
	if step <= 0 {
		step = 500 * time.Millisecond
	}
	go s.run(ctx, job, step)
	return nil
}

func (s *Simulated) run(ctx context.Context, job Job, step time.Duration) {
	t := time.NewTicker(step)
	defer t.Stop()
	for p := 25; p <= 100; p += 25 {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if job.Attempt <= s.Fail && p == 50 {
			_ = s.Sink.Handle(Update{JobID: job.ID, Kind: UpdateFailed, Message: "simulated render failure", Retryable: true})
			return
		}
		if p == 100 {
			_ = s.Sink.Handle(Update{
				JobID:        job.ID,
				Kind:         UpdateCompleted,
				VideoURL:     fmt.Sprintf("%s/media/videos/%s.mp4", s.BaseURL, job.ID),
				ThumbnailURL: fmt.Sprintf("%s/media/thumbnails/%s.jpg", s.BaseURL, job.ID),
			})
			return
		}
		if err := s.Sink.Handle(Update{JobID: job.ID, Kind: UpdateProgress, Progress: p}); err != nil {
			return
		}
	}
}
