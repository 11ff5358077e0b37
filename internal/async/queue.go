package async

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Job asks a worker to run the pipeline for one registered queue item.
type Job struct {
	ItemID      uuid.UUID
	SubmittedAt time.Time
}

// Handler processes one job. The context carries the per-job timeout.
type Handler func(ctx context.Context, job Job) error

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}
