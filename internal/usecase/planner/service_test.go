package planner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"smm-planner/internal/domain"
	"smm-planner/internal/usecase/dispatch"
	"smm-planner/internal/usecase/lifecycle"
)

type memRepo struct {
	mu          sync.Mutex
	records     map[string]domain.PostRecord
	createCalls int
	failCreate  int // номер вызова Create, который вернёт ошибку; 0 — не падать
}

func newMemRepo() *memRepo {
	return &memRepo{records: make(map[string]domain.PostRecord)}
}

func (r *memRepo) Create(_ context.Context, record domain.PostRecord) (domain.PostRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createCalls++
	if r.failCreate > 0 && r.createCalls >= r.failCreate {
		return domain.PostRecord{}, errors.New("хранилище недоступно")
	}
	record.Version = 1
	r.records[record.ID] = record
	return record, nil
}

func (r *memRepo) Get(_ context.Context, id string) (domain.PostRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[id]
	if !ok {
		return domain.PostRecord{}, domain.ErrNotFound
	}
	return record, nil
}

func (r *memRepo) Update(_ context.Context, record domain.PostRecord) (domain.PostRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.records[record.ID]
	if !ok {
		return domain.PostRecord{}, domain.ErrNotFound
	}
	if current.Version != record.Version {
		return domain.PostRecord{}, domain.ErrConflict
	}
	record.Version++
	r.records[record.ID] = record
	return record, nil
}

func (r *memRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.records, id)
	return nil
}

func (r *memRepo) ListByBusiness(_ context.Context, businessID string, window domain.DateRange) ([]domain.PostRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.PostRecord
	for _, record := range r.records {
		if record.BusinessID == businessID && window.Contains(record.ScheduledDate) {
			out = append(out, record)
		}
	}
	return out, nil
}

func (r *memRepo) ListDue(context.Context, time.Time) ([]domain.PostRecord, error) {
	return nil, nil
}

func (r *memRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

type okPublisher struct{}

func (okPublisher) Publish(context.Context, domain.PostRecord, domain.ChannelCredentials) (string, error) {
	return "fb_ok", nil
}

func newService(repo *memRepo, cfg Config) *Service {
	manager := lifecycle.NewManager(repo, zerolog.Nop())
	dispatcher := dispatch.NewDispatcher(repo, manager, okPublisher{}, time.Second, zerolog.Nop())
	return NewService(repo, manager, dispatcher, nil, cfg, zerolog.Nop())
}

func weekWindow() domain.DateRange {
	return domain.DateRange{
		From: time.Date(2025, time.August, 4, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2025, time.August, 10, 0, 0, 0, 0, time.UTC),
	}
}

func candidates(n int) []domain.PostCandidate {
	var out []domain.PostCandidate
	for i := 0; i < n; i++ {
		out = append(out, domain.PostCandidate{Text: "пост", PostType: "tip"})
	}
	return out
}

func monWedFri() domain.BusinessPreferences {
	return domain.BusinessPreferences{
		Frequency:     3,
		PreferredDays: []time.Weekday{time.Monday, time.Wednesday, time.Friday},
	}
}

func TestPlanRoundTrip(t *testing.T) {
	repo := newMemRepo()
	service := newService(repo, Config{})

	schedule, err := service.Plan(context.Background(), "biz", candidates(5), monWedFri(), weekWindow())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(schedule.Entries) != 3 {
		t.Fatalf("ожидали 3 записи, получили %d", len(schedule.Entries))
	}
	for _, entry := range schedule.Entries {
		if entry.State != domain.StateScheduled {
			t.Fatalf("ожидали scheduled, получили %s", entry.State)
		}
	}

	got, err := service.GetSchedule(context.Background(), "biz", weekWindow())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(got.Entries) != len(schedule.Entries) {
		t.Fatalf("round-trip потерял записи: %d != %d", len(got.Entries), len(schedule.Entries))
	}
	for i := range got.Entries {
		if got.Entries[i].PostID != schedule.Entries[i].PostID {
			t.Fatalf("порядок записей отличается на позиции %d", i)
		}
		if i > 0 && got.Entries[i].Date.Before(got.Entries[i-1].Date) {
			t.Fatalf("расписание не отсортировано по датам")
		}
	}
}

func TestPlanDraftOnly(t *testing.T) {
	repo := newMemRepo()
	service := newService(repo, Config{DraftOnly: true})

	schedule, err := service.Plan(context.Background(), "biz", candidates(3), monWedFri(), weekWindow())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	for _, entry := range schedule.Entries {
		if entry.State != domain.StateDraft {
			t.Fatalf("ожидали draft, получили %s", entry.State)
		}
	}
}

func TestPlanRollbackOnStoreFailure(t *testing.T) {
	repo := newMemRepo()
	repo.failCreate = 3
	service := newService(repo, Config{})

	_, err := service.Plan(context.Background(), "biz", candidates(5), monWedFri(), weekWindow())
	var aborted *domain.PlanningAbortedError
	if !errors.As(err, &aborted) {
		t.Fatalf("ожидали PlanningAbortedError, получили %v", err)
	}
	if repo.count() != 0 {
		t.Fatalf("откат неполный: осталось %d записей", repo.count())
	}
}

func TestPlanInvalidPreferences(t *testing.T) {
	repo := newMemRepo()
	service := newService(repo, Config{})
	window := weekWindow()

	cases := []struct {
		name  string
		prefs domain.BusinessPreferences
		win   domain.DateRange
	}{
		{"частота выше недели", domain.BusinessPreferences{Frequency: 9}, window},
		{"частота больше дней", domain.BusinessPreferences{Frequency: 4, PreferredDays: []time.Weekday{time.Monday, time.Friday}}, window},
		{"перевёрнутое окно", monWedFri(), domain.DateRange{From: window.To, To: window.From}},
	}
	for _, tc := range cases {
		if _, err := service.Plan(context.Background(), "biz", candidates(3), tc.prefs, tc.win); !errors.Is(err, domain.ErrInvalidPreferences) {
			t.Fatalf("%s: ожидали ErrInvalidPreferences, получили %v", tc.name, err)
		}
	}
	if repo.count() != 0 {
		t.Fatalf("при невалидных настройках записи создаваться не должны")
	}
}

func TestPlanNoEligibleDays(t *testing.T) {
	repo := newMemRepo()
	service := newService(repo, Config{})
	midweek := domain.DateRange{
		From: time.Date(2025, time.August, 5, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2025, time.August, 7, 0, 0, 0, 0, time.UTC),
	}
	prefs := domain.BusinessPreferences{Frequency: 1, PreferredDays: []time.Weekday{time.Sunday}}

	_, err := service.Plan(context.Background(), "biz", candidates(2), prefs, midweek)
	if !errors.Is(err, domain.ErrInsufficientSlots) {
		t.Fatalf("ожидали ErrInsufficientSlots, получили %v", err)
	}
	if repo.count() != 0 {
		t.Fatalf("записи не должны были создаваться, есть %d", repo.count())
	}
}

func TestPlanDeterministicSlots(t *testing.T) {
	first := newMemRepo()
	second := newMemRepo()

	a, err := newService(first, Config{}).Plan(context.Background(), "biz", candidates(5), monWedFri(), weekWindow())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	b, err := newService(second, Config{}).Plan(context.Background(), "biz", candidates(5), monWedFri(), weekWindow())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	for i := range a.Entries {
		if !a.Entries[i].Date.Equal(b.Entries[i].Date) || a.Entries[i].Time != b.Entries[i].Time {
			t.Fatalf("слоты недетерминированы: %v/%s != %v/%s", a.Entries[i].Date, a.Entries[i].Time, b.Entries[i].Date, b.Entries[i].Time)
		}
	}
}

func TestRequestPublishThenEditFails(t *testing.T) {
	repo := newMemRepo()
	service := newService(repo, Config{})

	schedule, err := service.Plan(context.Background(), "biz", candidates(1), domain.BusinessPreferences{Frequency: 1}, weekWindow())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	postID := schedule.Entries[0].PostID

	published, err := service.RequestPublish(context.Background(), postID, domain.ChannelCredentials{PageID: "page"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if published.State != domain.StatePublished {
		t.Fatalf("ожидали published, получили %s", published.State)
	}
	if published.PublishResult == nil || published.PublishResult.ExternalID != "fb_ok" {
		t.Fatalf("внешний id не сохранён: %+v", published.PublishResult)
	}

	text := "правка"
	if _, err := service.EditPost(context.Background(), postID, domain.PostEdit{Text: &text}); !errors.Is(err, domain.ErrImmutablePost) {
		t.Fatalf("ожидали ErrImmutablePost, получили %v", err)
	}
}

func TestResolvePublish(t *testing.T) {
	repo := newMemRepo()
	service := newService(repo, Config{})

	record, _ := repo.Create(context.Background(), domain.PostRecord{ID: "p1", BusinessID: "biz", State: domain.StatePublishing})
	resolved, err := service.ResolvePublish(context.Background(), record.ID, domain.PublishResult{ExternalID: "fb_42"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if resolved.State != domain.StatePublished {
		t.Fatalf("ожидали published, получили %s", resolved.State)
	}

	record2, _ := repo.Create(context.Background(), domain.PostRecord{ID: "p2", BusinessID: "biz", State: domain.StatePublishing})
	failed, err := service.ResolvePublish(context.Background(), record2.ID, domain.PublishResult{Err: &domain.PublisherError{Kind: "rejected", Message: "нет прав"}})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if failed.State != domain.StateFailed {
		t.Fatalf("ожидали failed, получили %s", failed.State)
	}
}

func TestCancelExcludedFromSchedule(t *testing.T) {
	repo := newMemRepo()
	service := newService(repo, Config{})

	schedule, err := service.Plan(context.Background(), "biz", candidates(3), monWedFri(), weekWindow())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := service.CancelPost(context.Background(), schedule.Entries[0].PostID); err != nil {
		t.Fatalf("отмена не прошла: %v", err)
	}

	got, err := service.GetSchedule(context.Background(), "biz", weekWindow())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(got.Entries) != 2 {
		t.Fatalf("отменённый пост должен исчезнуть из расписания, записей %d", len(got.Entries))
	}
}
