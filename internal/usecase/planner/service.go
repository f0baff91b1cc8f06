package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"smm-planner/internal/domain"
	"smm-planner/internal/infra/metrics"
	"smm-planner/internal/usecase/allocator"
	"smm-planner/internal/usecase/dispatch"
	"smm-planner/internal/usecase/lifecycle"
)

// Config задаёт поведение оркестратора.
type Config struct {
	// DraftOnly оставляет созданные посты черновиками до ручного подтверждения.
	DraftOnly bool
	// ScheduleCacheTTL — срок жизни закэшированного расписания.
	ScheduleCacheTTL time.Duration
}

// Service — точка входа планирования: раскладывает кандидатов по слотам,
// сохраняет записи и отдаёт производное расписание.
type Service struct {
	posts      domain.PostRepo
	manager    *lifecycle.Manager
	dispatcher *dispatch.Dispatcher
	cache      domain.Cache // допускается nil
	cfg        Config
	log        zerolog.Logger
}

var _ domain.PlannerService = (*Service)(nil)

// NewService создаёт оркестратор планирования.
func NewService(posts domain.PostRepo, manager *lifecycle.Manager, dispatcher *dispatch.Dispatcher, cache domain.Cache, cfg Config, logger zerolog.Logger) *Service {
	if cfg.ScheduleCacheTTL <= 0 {
		cfg.ScheduleCacheTTL = 30 * time.Second
	}
	return &Service{posts: posts, manager: manager, dispatcher: dispatcher, cache: cache, cfg: cfg, log: logger}
}

func validatePlan(businessID string, prefs domain.BusinessPreferences, window domain.DateRange) error {
	if businessID == "" {
		return fmt.Errorf("%w: пустой идентификатор бизнеса", domain.ErrInvalidPreferences)
	}
	if !window.Valid() {
		return fmt.Errorf("%w: некорректное окно планирования", domain.ErrInvalidPreferences)
	}
	if prefs.Frequency < 0 || prefs.Frequency > 7 {
		return fmt.Errorf("%w: частота %d вне диапазона 0..7", domain.ErrInvalidPreferences, prefs.Frequency)
	}
	if prefs.Frequency > 0 && len(prefs.PreferredDays) > 0 && prefs.Frequency > len(prefs.PreferredDays) {
		return fmt.Errorf("%w: частота %d больше количества предпочитаемых дней %d", domain.ErrInvalidPreferences, prefs.Frequency, len(prefs.PreferredDays))
	}
	return nil
}

// Plan раскладывает кандидатов по окну и создаёт записи постов.
// Батч атомарен для вызывающей стороны: при сбое в середине уже созданные
// записи откатываются, возвращается PlanningAbortedError.
func (s *Service) Plan(ctx context.Context, businessID string, candidates []domain.PostCandidate, prefs domain.BusinessPreferences, window domain.DateRange) (domain.Schedule, error) {
	if err := validatePlan(businessID, prefs, window); err != nil {
		return domain.Schedule{}, err
	}
	prefs.BusinessID = businessID

	assignments, err := allocator.Allocate(candidates, prefs, window)
	if err != nil {
		return domain.Schedule{}, err
	}
	metrics.IncPlan()

	created := make([]domain.PostRecord, 0, len(assignments))
	abort := func(cause error) error {
		var rollbackErrs []error
		for _, record := range created {
			if err := s.posts.Delete(ctx, record.ID); err != nil {
				s.log.Error().Err(err).Str("post_id", record.ID).Msg("planner: откат записи не удался")
				rollbackErrs = append(rollbackErrs, fmt.Errorf("пост %s: %w", record.ID, err))
			}
		}
		return &domain.PlanningAbortedError{Cause: cause, RollbackErrs: rollbackErrs}
	}

	now := time.Now().UTC()
	for _, assignment := range assignments {
		record := domain.PostRecord{
			ID:            uuid.NewString(),
			BusinessID:    businessID,
			Text:          assignment.Candidate.Text,
			Hashtags:      assignment.Candidate.Hashtags,
			PostType:      assignment.Candidate.PostType,
			Tone:          assignment.Candidate.Tone,
			CallToAction:  assignment.Candidate.CallToAction,
			State:         domain.StateDraft,
			ScheduledDate: assignment.Date,
			ScheduledTime: assignment.Time,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		saved, err := s.posts.Create(ctx, record)
		if err != nil {
			return domain.Schedule{}, abort(fmt.Errorf("создание черновика: %w", err))
		}
		created = append(created, saved)
	}

	if !s.cfg.DraftOnly {
		for i, record := range created {
			confirmed, err := s.manager.Apply(ctx, record.ID, domain.EventConfirm, nil)
			if err != nil {
				return domain.Schedule{}, abort(fmt.Errorf("подтверждение черновика %s: %w", record.ID, err))
			}
			created[i] = confirmed
		}
	}

	s.invalidateSchedule(businessID)
	metrics.AddPlannedPosts(len(created))
	s.log.Info().Str("business_id", businessID).Int("posts", len(created)).Msg("planner: расписание создано")
	return buildSchedule(businessID, window, created), nil
}

// GetSchedule возвращает производное расписание за окно, отсортированное
// по дате и времени. Расписание не хранится — пересчитывается из записей.
func (s *Service) GetSchedule(ctx context.Context, businessID string, window domain.DateRange) (domain.Schedule, error) {
	if businessID == "" || !window.Valid() {
		return domain.Schedule{}, fmt.Errorf("%w: некорректный запрос расписания", domain.ErrInvalidPreferences)
	}

	cacheKey := s.scheduleKey(businessID, window)
	if s.cache != nil && cacheKey != "" {
		if raw, err := s.cache.Get(cacheKey); err == nil && len(raw) > 0 {
			var cached domain.Schedule
			if err := json.Unmarshal(raw, &cached); err == nil {
				return cached, nil
			}
		}
	}

	start := time.Now()
	records, err := s.posts.ListByBusiness(ctx, businessID, window)
	if err != nil {
		return domain.Schedule{}, fmt.Errorf("выборка постов: %w", err)
	}
	schedule := buildSchedule(businessID, window, records)
	metrics.ObserveScheduleBuild(time.Since(start))

	if s.cache != nil && cacheKey != "" {
		if raw, err := json.Marshal(schedule); err == nil {
			_ = s.cache.Set(cacheKey, raw, s.cfg.ScheduleCacheTTL)
		}
	}
	return schedule, nil
}

// ConfirmDraft переводит черновик в scheduled.
func (s *Service) ConfirmDraft(ctx context.Context, postID string) (domain.PostRecord, error) {
	record, err := s.manager.Apply(ctx, postID, domain.EventConfirm, nil)
	if err != nil {
		return domain.PostRecord{}, err
	}
	s.invalidateSchedule(record.BusinessID)
	return record, nil
}

// EditPost применяет правку контента или слота.
func (s *Service) EditPost(ctx context.Context, postID string, edit domain.PostEdit) (domain.PostRecord, error) {
	record, err := s.manager.ApplyEdit(ctx, postID, edit)
	if err != nil {
		return domain.PostRecord{}, err
	}
	s.invalidateSchedule(record.BusinessID)
	return record, nil
}

// CancelPost отменяет черновик или запланированный пост.
func (s *Service) CancelPost(ctx context.Context, postID string) (domain.PostRecord, error) {
	record, err := s.manager.Apply(ctx, postID, domain.EventCancel, nil)
	if err != nil {
		return domain.PostRecord{}, err
	}
	s.invalidateSchedule(record.BusinessID)
	return record, nil
}

// DeletePost удаляет запись поста из хранилища.
func (s *Service) DeletePost(ctx context.Context, postID string) error {
	record, err := s.posts.Get(ctx, postID)
	if err != nil {
		return fmt.Errorf("получение поста: %w", err)
	}
	if err := s.manager.Delete(ctx, postID); err != nil {
		return err
	}
	s.invalidateSchedule(record.BusinessID)
	return nil
}

// RequestPublish переводит пост в publishing и запускает диспетчер.
func (s *Service) RequestPublish(ctx context.Context, postID string, creds domain.ChannelCredentials) (domain.PostRecord, error) {
	record, err := s.manager.Apply(ctx, postID, domain.EventRequestPublish, nil)
	if err != nil {
		return domain.PostRecord{}, err
	}
	defer s.invalidateSchedule(record.BusinessID)
	return s.dispatcher.Publish(ctx, postID, creds)
}

// RetryPublish повторяет публикацию после неуспеха. Повтор всегда явный.
func (s *Service) RetryPublish(ctx context.Context, postID string, creds domain.ChannelCredentials) (domain.PostRecord, error) {
	record, err := s.manager.Apply(ctx, postID, domain.EventRetryPublish, nil)
	if err != nil {
		return domain.PostRecord{}, err
	}
	defer s.invalidateSchedule(record.BusinessID)
	return s.dispatcher.Publish(ctx, postID, creds)
}

// ResolvePublish — ручная сверка поста, зависшего в publishing после таймаута:
// внешний канал опрошен, настоящий исход применяется явным переходом.
func (s *Service) ResolvePublish(ctx context.Context, postID string, outcome domain.PublishResult) (domain.PostRecord, error) {
	event := domain.EventPublishSucceeded
	if outcome.Err != nil {
		event = domain.EventPublishFailed
	}
	if outcome.CompletedAt.IsZero() {
		outcome.CompletedAt = time.Now().UTC()
	}
	record, err := s.manager.Apply(ctx, postID, event, func(r *domain.PostRecord) error {
		result := outcome
		r.PublishResult = &result
		return nil
	})
	if err != nil {
		return domain.PostRecord{}, err
	}
	s.invalidateSchedule(record.BusinessID)
	return record, nil
}

// scheduleKey строит ключ кэша с ревизией бизнеса: инвалидация — смена ревизии.
func (s *Service) scheduleKey(businessID string, window domain.DateRange) string {
	if s.cache == nil {
		return ""
	}
	revKey := "schedule_rev:" + businessID
	rev := ""
	if raw, err := s.cache.Get(revKey); err == nil {
		rev = string(raw)
	}
	if rev == "" {
		rev = strconv.FormatInt(time.Now().UnixNano(), 10)
		_ = s.cache.Set(revKey, []byte(rev), 24*time.Hour)
	}
	return fmt.Sprintf("schedule:%s:%s:%s:%s", businessID, rev, window.From.Format("2006-01-02"), window.To.Format("2006-01-02"))
}

func (s *Service) invalidateSchedule(businessID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del("schedule_rev:" + businessID); err != nil {
		s.log.Warn().Err(err).Str("business_id", businessID).Msg("planner: сброс кэша расписания не удался")
	}
}

func buildSchedule(businessID string, window domain.DateRange, records []domain.PostRecord) domain.Schedule {
	entries := make([]domain.ScheduleEntry, 0, len(records))
	for _, record := range records {
		if record.State == domain.StateCancelled {
			continue
		}
		entries = append(entries, domain.ScheduleEntry{
			Date:    record.ScheduledDate,
			Weekday: record.ScheduledDate.Weekday(),
			PostID:  record.ID,
			Time:    record.ScheduledTime,
			State:   record.State,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Date.Equal(entries[j].Date) {
			return entries[i].Date.Before(entries[j].Date)
		}
		if entries[i].Time != entries[j].Time {
			return entries[i].Time < entries[j].Time
		}
		return entries[i].PostID < entries[j].PostID
	})
	return domain.Schedule{BusinessID: businessID, Window: window, Entries: entries}
}
