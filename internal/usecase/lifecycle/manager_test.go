package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"smm-planner/internal/domain"
)

// memRepo — потокобезопасное хранилище в памяти с проверкой версий,
// как у боевого Postgres-адаптера.
type memRepo struct {
	mu      sync.Mutex
	records map[string]domain.PostRecord
}

func newMemRepo(records ...domain.PostRecord) *memRepo {
	repo := &memRepo{records: make(map[string]domain.PostRecord)}
	for _, r := range records {
		repo.records[r.ID] = r
	}
	return repo
}

func (r *memRepo) Create(_ context.Context, record domain.PostRecord) (domain.PostRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
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

func (r *memRepo) ListDue(_ context.Context, _ time.Time) ([]domain.PostRecord, error) {
	return nil, nil
}

func newManager(repo domain.PostRepo) *Manager {
	return NewManager(repo, zerolog.Nop())
}

func post(id string, state domain.PostState) domain.PostRecord {
	return domain.PostRecord{ID: id, BusinessID: "biz", State: state, Version: 1, Text: "пост"}
}

func TestConfirmDraft(t *testing.T) {
	repo := newMemRepo(post("p1", domain.StateDraft))
	m := newManager(repo)

	updated, err := m.Apply(context.Background(), "p1", domain.EventConfirm, nil)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if updated.State != domain.StateScheduled {
		t.Fatalf("ожидали scheduled, получили %s", updated.State)
	}
	if updated.UpdatedAt.IsZero() {
		t.Fatalf("ожидали обновлённый updated_at")
	}
}

func TestIllegalTransitionLeavesRecord(t *testing.T) {
	repo := newMemRepo(post("p1", domain.StateDraft))
	m := newManager(repo)

	_, err := m.Apply(context.Background(), "p1", domain.EventRequestPublish, nil)
	var illegal *domain.IllegalTransitionError
	if !errors.As(err, &illegal) {
		t.Fatalf("ожидали IllegalTransitionError, получили %v", err)
	}
	if illegal.From != domain.StateDraft || illegal.Event != domain.EventRequestPublish {
		t.Fatalf("ошибка не описывает переход: %v", illegal)
	}

	record, _ := repo.Get(context.Background(), "p1")
	if record.State != domain.StateDraft || record.Version != 1 {
		t.Fatalf("запись изменилась после неудачного перехода: %+v", record)
	}
}

func TestEditPublishedIsImmutable(t *testing.T) {
	repo := newMemRepo(post("p1", domain.StatePublished))
	m := newManager(repo)

	text := "новый текст"
	_, err := m.ApplyEdit(context.Background(), "p1", domain.PostEdit{Text: &text})
	if !errors.Is(err, domain.ErrImmutablePost) {
		t.Fatalf("ожидали ErrImmutablePost, получили %v", err)
	}
	record, _ := repo.Get(context.Background(), "p1")
	if record.Text != "пост" {
		t.Fatalf("текст изменился: %q", record.Text)
	}
}

func TestEditScheduledKeepsState(t *testing.T) {
	repo := newMemRepo(post("p1", domain.StateScheduled))
	m := newManager(repo)

	slot := "17:45"
	updated, err := m.ApplyEdit(context.Background(), "p1", domain.PostEdit{ScheduledTime: &slot})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if updated.State != domain.StateScheduled {
		t.Fatalf("edit не должен менять состояние, получили %s", updated.State)
	}
	if updated.ScheduledTime != "17:45" {
		t.Fatalf("слот не обновился: %s", updated.ScheduledTime)
	}
}

func TestConcurrentRequestPublishSingleWinner(t *testing.T) {
	repo := newMemRepo(post("p1", domain.StateScheduled))
	m := newManager(repo)

	const callers = 16
	var wg sync.WaitGroup
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Apply(context.Background(), "p1", domain.EventRequestPublish, nil)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	winners, rejected := 0, 0
	for err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, domain.ErrAlreadyInProgress):
			rejected++
		default:
			t.Fatalf("неожиданная ошибка: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("ожидали ровно одного победителя, получили %d", winners)
	}
	if rejected != callers-1 {
		t.Fatalf("ожидали %d отказов AlreadyInProgress, получили %d", callers-1, rejected)
	}
}

func TestRetryWhilePublishingRejected(t *testing.T) {
	repo := newMemRepo(post("p1", domain.StatePublishing))
	m := newManager(repo)

	_, err := m.Apply(context.Background(), "p1", domain.EventRetryPublish, nil)
	if !errors.Is(err, domain.ErrAlreadyInProgress) {
		t.Fatalf("ожидали ErrAlreadyInProgress, получили %v", err)
	}
}

func TestRetryAfterFailure(t *testing.T) {
	repo := newMemRepo(post("p1", domain.StateFailed))
	m := newManager(repo)

	updated, err := m.Apply(context.Background(), "p1", domain.EventRetryPublish, nil)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if updated.State != domain.StatePublishing {
		t.Fatalf("ожидали publishing, получили %s", updated.State)
	}
}

func TestDeletePublishingForbidden(t *testing.T) {
	repo := newMemRepo(post("p1", domain.StatePublishing))
	m := newManager(repo)

	err := m.Delete(context.Background(), "p1")
	var illegal *domain.IllegalTransitionError
	if !errors.As(err, &illegal) {
		t.Fatalf("ожидали IllegalTransitionError, получили %v", err)
	}
	if _, err := repo.Get(context.Background(), "p1"); err != nil {
		t.Fatalf("запись не должна была удалиться: %v", err)
	}
}

func TestDeleteScheduled(t *testing.T) {
	repo := newMemRepo(post("p1", domain.StateScheduled))
	m := newManager(repo)

	if err := m.Delete(context.Background(), "p1"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := repo.Get(context.Background(), "p1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("запись должна быть удалена, получили %v", err)
	}
}

func TestCancelFromDraftAndScheduled(t *testing.T) {
	repo := newMemRepo(post("p1", domain.StateDraft), post("p2", domain.StateScheduled))
	m := newManager(repo)

	for _, id := range []string{"p1", "p2"} {
		updated, err := m.Apply(context.Background(), id, domain.EventCancel, nil)
		if err != nil {
			t.Fatalf("отмена %s: %v", id, err)
		}
		if updated.State != domain.StateCancelled {
			t.Fatalf("ожидали cancelled, получили %s", updated.State)
		}
	}
}
