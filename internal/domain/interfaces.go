package domain

import (
	"context"
	"time"
)

// PostRepo управляет записями постов. Update сверяет Version и
// возвращает ErrConflict при несовпадении.
type PostRepo interface {
	Create(ctx context.Context, record PostRecord) (PostRecord, error)
	Get(ctx context.Context, id string) (PostRecord, error)
	Update(ctx context.Context, record PostRecord) (PostRecord, error)
	Delete(ctx context.Context, id string) error
	ListByBusiness(ctx context.Context, businessID string, window DateRange) ([]PostRecord, error)
	ListDue(ctx context.Context, now time.Time) ([]PostRecord, error)
}

// BusinessRepo хранит настройки расписания бизнесов.
type BusinessRepo interface {
	UpsertPreferences(ctx context.Context, prefs BusinessPreferences) (BusinessPreferences, error)
	GetPreferences(ctx context.Context, businessID string) (BusinessPreferences, error)
}

// Publisher — внешний канал публикации. Возвращает внешний идентификатор
// поста либо ошибку (*PublisherError для ответов канала).
type Publisher interface {
	Publish(ctx context.Context, post PostRecord, creds ChannelCredentials) (string, error)
}

// PlannerService — операции, которыми пользуется внешний HTTP-слой.
type PlannerService interface {
	Plan(ctx context.Context, businessID string, candidates []PostCandidate, prefs BusinessPreferences, window DateRange) (Schedule, error)
	GetSchedule(ctx context.Context, businessID string, window DateRange) (Schedule, error)
	ConfirmDraft(ctx context.Context, postID string) (PostRecord, error)
	EditPost(ctx context.Context, postID string, edit PostEdit) (PostRecord, error)
	CancelPost(ctx context.Context, postID string) (PostRecord, error)
	DeletePost(ctx context.Context, postID string) error
	RequestPublish(ctx context.Context, postID string, creds ChannelCredentials) (PostRecord, error)
	RetryPublish(ctx context.Context, postID string, creds ChannelCredentials) (PostRecord, error)
	ResolvePublish(ctx context.Context, postID string, outcome PublishResult) (PostRecord, error)
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Once(key string, ttl time.Duration, fn func() error) error
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
	Del(key string) error
}
