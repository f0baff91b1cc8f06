package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"smm-planner/internal/domain"
)

// transitions — таблица допустимых переходов жизненного цикла.
var transitions = map[domain.PostState]map[domain.Event]domain.PostState{
	domain.StateDraft: {
		domain.EventConfirm: domain.StateScheduled,
		domain.EventCancel:  domain.StateCancelled,
	},
	domain.StateScheduled: {
		domain.EventEdit:           domain.StateScheduled,
		domain.EventCancel:         domain.StateCancelled,
		domain.EventRequestPublish: domain.StatePublishing,
	},
	domain.StatePublishing: {
		domain.EventPublishSucceeded: domain.StatePublished,
		domain.EventPublishFailed:    domain.StateFailed,
	},
	domain.StateFailed: {
		domain.EventRetryPublish: domain.StatePublishing,
	},
}

// Manager выполняет переходы жизненного цикла, сериализуя операции по id поста.
// На один id в каждый момент времени выполняется ровно один переход.
type Manager struct {
	posts domain.PostRepo
	log   zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager создаёт менеджер жизненного цикла.
func NewManager(posts domain.PostRepo, logger zerolog.Logger) *Manager {
	return &Manager{posts: posts, log: logger, locks: make(map[string]*sync.Mutex)}
}

func (m *Manager) lockFor(postID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[postID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[postID] = lock
	}
	return lock
}

// nextState проверяет допустимость перехода.
// Повторный запрос публикации на публикуемом посте — отдельная ошибка,
// чтобы вызывающая сторона отличала гонку от неверного использования.
func nextState(from domain.PostState, event domain.Event) (domain.PostState, error) {
	if from == domain.StatePublishing && (event == domain.EventRequestPublish || event == domain.EventRetryPublish) {
		return "", domain.ErrAlreadyInProgress
	}
	if event == domain.EventEdit && (from == domain.StatePublishing || from == domain.StatePublished) {
		return "", domain.ErrImmutablePost
	}
	to, ok := transitions[from][event]
	if !ok {
		return "", &domain.IllegalTransitionError{From: from, Event: event}
	}
	return to, nil
}

// Apply выполняет переход по событию. mutate, если задан, применяется к записи
// до сохранения (правки контента, результат публикации); при ошибке mutate
// запись остаётся нетронутой.
func (m *Manager) Apply(ctx context.Context, postID string, event domain.Event, mutate func(*domain.PostRecord) error) (domain.PostRecord, error) {
	lock := m.lockFor(postID)
	lock.Lock()
	defer lock.Unlock()

	record, err := m.posts.Get(ctx, postID)
	if err != nil {
		return domain.PostRecord{}, fmt.Errorf("получение поста: %w", err)
	}

	to, err := nextState(record.State, event)
	if err != nil {
		return domain.PostRecord{}, err
	}

	if mutate != nil {
		if err := mutate(&record); err != nil {
			return domain.PostRecord{}, err
		}
	}

	record.State = to
	record.UpdatedAt = time.Now().UTC()

	updated, err := m.posts.Update(ctx, record)
	if err != nil {
		return domain.PostRecord{}, fmt.Errorf("сохранение перехода %s: %w", event, err)
	}
	m.log.Debug().Str("post_id", postID).Str("event", string(event)).Str("state", string(updated.State)).Msg("lifecycle: переход выполнен")
	return updated, nil
}

// Delete удаляет пост. Запись в состоянии publishing удалять нельзя:
// внешний канал может ещё держать её контент в полёте.
func (m *Manager) Delete(ctx context.Context, postID string) error {
	lock := m.lockFor(postID)
	lock.Lock()
	defer lock.Unlock()

	record, err := m.posts.Get(ctx, postID)
	if err != nil {
		return fmt.Errorf("получение поста: %w", err)
	}
	if record.State == domain.StatePublishing {
		return &domain.IllegalTransitionError{From: record.State, Event: domain.EventDelete}
	}
	if err := m.posts.Delete(ctx, postID); err != nil {
		return fmt.Errorf("удаление поста: %w", err)
	}

	m.mu.Lock()
	delete(m.locks, postID)
	m.mu.Unlock()
	return nil
}

// ApplyEdit применяет правку контента или слота к посту в состоянии scheduled.
func (m *Manager) ApplyEdit(ctx context.Context, postID string, edit domain.PostEdit) (domain.PostRecord, error) {
	return m.Apply(ctx, postID, domain.EventEdit, func(record *domain.PostRecord) error {
		if edit.Text != nil {
			record.Text = *edit.Text
		}
		if edit.Hashtags != nil {
			record.Hashtags = edit.Hashtags
		}
		if edit.CallToAction != nil {
			record.CallToAction = *edit.CallToAction
		}
		if edit.ScheduledDate != nil {
			record.ScheduledDate = *edit.ScheduledDate
		}
		if edit.ScheduledTime != nil {
			if _, err := time.Parse("15:04", *edit.ScheduledTime); err != nil {
				return fmt.Errorf("%w: время слота %q", domain.ErrInvalidPreferences, *edit.ScheduledTime)
			}
			record.ScheduledTime = *edit.ScheduledTime
		}
		return nil
	})
}
