package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"smm-planner/internal/domain"
	"smm-planner/internal/infra/metrics"
	"smm-planner/internal/usecase/lifecycle"
)

// Dispatcher выполняет публикацию поста во внешнем канале и переводит пост
// в терминальное состояние по результату.
type Dispatcher struct {
	posts     domain.PostRepo
	manager   *lifecycle.Manager
	publisher domain.Publisher
	timeout   time.Duration
	log       zerolog.Logger
}

// NewDispatcher создаёт диспетчер. timeout ограничивает обращение к каналу,
// если у контекста вызывающей стороны нет собственного дедлайна.
func NewDispatcher(posts domain.PostRepo, manager *lifecycle.Manager, publisher domain.Publisher, timeout time.Duration, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{posts: posts, manager: manager, publisher: publisher, timeout: timeout, log: logger}
}

// Publish публикует пост, уже переведённый менеджером в состояние publishing.
// Успех и отказ канала — штатные исходы: запись получает терминальное
// состояние и PublishResult, ошибка не возвращается. Ошибка возвращается
// только при инфраструктурных сбоях; таймаут оставляет пост в publishing,
// чтобы сверка с каналом решила настоящий исход.
func (d *Dispatcher) Publish(ctx context.Context, postID string, creds domain.ChannelCredentials) (domain.PostRecord, error) {
	record, err := d.posts.Get(ctx, postID)
	if err != nil {
		return domain.PostRecord{}, fmt.Errorf("получение поста: %w", err)
	}
	if record.State != domain.StatePublishing {
		return domain.PostRecord{}, &domain.IllegalTransitionError{From: record.State, Event: domain.EventRequestPublish}
	}

	callCtx := ctx
	if _, ok := ctx.Deadline(); !ok && d.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	externalID, pubErr := d.publisher.Publish(callCtx, record, creds)
	metrics.ObserveNetworkRequest("publisher", "publish", record.BusinessID, start, pubErr)

	switch {
	case pubErr == nil:
		metrics.IncPublishAttempt("success")
		return d.manager.Apply(ctx, postID, domain.EventPublishSucceeded, func(r *domain.PostRecord) error {
			r.PublishResult = &domain.PublishResult{ExternalID: externalID, CompletedAt: time.Now().UTC()}
			return nil
		})
	case errors.Is(pubErr, context.DeadlineExceeded) || errors.Is(pubErr, context.Canceled):
		// Исход неизвестен: канал мог успеть опубликовать. Состояние не трогаем.
		metrics.IncPublishAttempt("timeout")
		d.log.Warn().Str("post_id", postID).Msg("dispatch: таймаут публикации, требуется сверка")
		return record, fmt.Errorf("%w: публикация поста %s", domain.ErrTimeout, postID)
	default:
		metrics.IncPublishAttempt("failed")
		result := interpretFailure(pubErr)
		d.log.Warn().Str("post_id", postID).Str("kind", result.Err.Kind).Msg("dispatch: канал отклонил публикацию")
		return d.manager.Apply(ctx, postID, domain.EventPublishFailed, func(r *domain.PostRecord) error {
			r.PublishResult = result
			return nil
		})
	}
}

// interpretFailure приводит ошибку канала к структурированному результату.
// Сетевые и прикладные отказы здесь одинаково терминальны: повтор — только
// явный retry_publish, автоматических ретраев нет.
func interpretFailure(err error) *domain.PublishResult {
	var pErr *domain.PublisherError
	if !errors.As(err, &pErr) {
		pErr = &domain.PublisherError{Kind: "network", Message: err.Error()}
	}
	return &domain.PublishResult{Err: pErr, CompletedAt: time.Now().UTC()}
}
