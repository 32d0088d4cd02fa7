// Package queue carries render jobs to the video workers over RabbitMQ and
// feeds their progress reports back to the coordinator.
package queue

import (
	"time"

	"github.com/iliyamo/kiosk-session-server/internal/video"
)

// Queue names shared with the render workers.
const (
	RenderRequestQueue = "video.render.requests"
	RenderEventQueue   = "video.render.events"
)

// RenderRequest is published once per render attempt.  Workers echo JobID
// on every RenderEvent.
type RenderRequest struct {
	video.Job
	RequestedAt time.Time `json:"requestedAt"`
}

// RenderEvent is a worker report: progress, completion or failure.
type RenderEvent struct {
	video.Update
	At time.Time `json:"at"`
}
