package domain

import (
	"context"
	"time"
)

// PublishJobCause описывает источник запроса на публикацию.
type PublishJobCause string

const (
	// PublishCauseManual — публикацию запросили вручную через API.
	PublishCauseManual PublishJobCause = "manual"
	// PublishCauseScheduled — пост дошёл до своего слота расписания.
	PublishCauseScheduled PublishJobCause = "scheduled"
)

// PublishJob содержит информацию о задаче публикации поста.
type PublishJob struct {
	ID          string          `json:"job_id,omitempty"`
	PostID      string          `json:"post_id"`
	BusinessID  string          `json:"business_id"`
	RequestedAt time.Time       `json:"requested_at"`
	Cause       PublishJobCause `json:"cause"`
}

// PublishQueue описывает очередь задач публикации.
type PublishQueue interface {
	Enqueue(ctx context.Context, job PublishJob) error
	Pop(ctx context.Context) (PublishJob, error)
}
