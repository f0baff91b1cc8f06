package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"smm-planner/internal/domain"
	"smm-planner/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.PostRepo     = (*Postgres)(nil)
	_ domain.BusinessRepo = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return p.connCtx()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

const postColumns = `id, business_id, text, hashtags, post_type, tone, call_to_action, state,
scheduled_date, scheduled_time, external_id, publish_error_kind, publish_error_message,
publish_completed_at, created_at, updated_at, version`

func scanPost(row pgx.Row) (domain.PostRecord, error) {
	var (
		record      domain.PostRecord
		state       string
		externalID  sql.NullString
		errKind     sql.NullString
		errMessage  sql.NullString
		completedAt sql.NullTime
	)
	err := row.Scan(&record.ID, &record.BusinessID, &record.Text, &record.Hashtags, &record.PostType,
		&record.Tone, &record.CallToAction, &state, &record.ScheduledDate, &record.ScheduledTime,
		&externalID, &errKind, &errMessage, &completedAt, &record.CreatedAt, &record.UpdatedAt, &record.Version)
	if err != nil {
		return domain.PostRecord{}, err
	}
	record.State = domain.PostState(state)
	if externalID.Valid || errKind.Valid {
		result := &domain.PublishResult{ExternalID: externalID.String}
		if errKind.Valid {
			result.Err = &domain.PublisherError{Kind: errKind.String, Message: errMessage.String}
		}
		if completedAt.Valid {
			result.CompletedAt = completedAt.Time
		}
		record.PublishResult = result
	}
	return record, nil
}

func publishResultColumns(record domain.PostRecord) (externalID, errKind, errMessage sql.NullString, completedAt sql.NullTime) {
	if record.PublishResult == nil {
		return
	}
	if record.PublishResult.ExternalID != "" {
		externalID = sql.NullString{String: record.PublishResult.ExternalID, Valid: true}
	}
	if record.PublishResult.Err != nil {
		errKind = sql.NullString{String: record.PublishResult.Err.Kind, Valid: true}
		errMessage = sql.NullString{String: record.PublishResult.Err.Message, Valid: true}
	}
	if !record.PublishResult.CompletedAt.IsZero() {
		completedAt = sql.NullTime{Time: record.PublishResult.CompletedAt, Valid: true}
	}
	return
}

// Create реализует domain.PostRepo.
func (p *Postgres) Create(ctx context.Context, record domain.PostRecord) (domain.PostRecord, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	externalID, errKind, errMessage, completedAt := publishResultColumns(record)
	start := time.Now()
	row := p.pool.QueryRow(ctx, `
INSERT INTO posts (id, business_id, text, hashtags, post_type, tone, call_to_action, state,
	scheduled_date, scheduled_time, external_id, publish_error_kind, publish_error_message,
	publish_completed_at, created_at, updated_at, version)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, now(), now(), 1)
RETURNING `+postColumns,
		record.ID, record.BusinessID, record.Text, record.Hashtags, record.PostType, record.Tone,
		record.CallToAction, string(record.State), record.ScheduledDate, record.ScheduledTime,
		externalID, errKind, errMessage, completedAt)
	saved, err := scanPost(row)
	metrics.ObserveNetworkRequest("postgres", "posts_insert", "posts", start, err)
	if err != nil {
		return domain.PostRecord{}, fmt.Errorf("вставка поста: %w", err)
	}
	return saved, nil
}

// Get реализует domain.PostRepo.
func (p *Postgres) Get(ctx context.Context, id string) (domain.PostRecord, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE id = $1`, id)
	record, err := scanPost(row)
	metrics.ObserveNetworkRequest("postgres", "posts_get", "posts", start, err)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PostRecord{}, domain.ErrNotFound
		}
		return domain.PostRecord{}, fmt.Errorf("чтение поста: %w", err)
	}
	return record, nil
}

// Update реализует domain.PostRepo с оптимистичной проверкой версии.
func (p *Postgres) Update(ctx context.Context, record domain.PostRecord) (domain.PostRecord, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	externalID, errKind, errMessage, completedAt := publishResultColumns(record)
	start := time.Now()
	row := p.pool.QueryRow(ctx, `
UPDATE posts SET text = $3, hashtags = $4, post_type = $5, tone = $6, call_to_action = $7,
	state = $8, scheduled_date = $9, scheduled_time = $10, external_id = $11,
	publish_error_kind = $12, publish_error_message = $13, publish_completed_at = $14,
	updated_at = now(), version = version + 1
WHERE id = $1 AND version = $2
RETURNING `+postColumns,
		record.ID, record.Version, record.Text, record.Hashtags, record.PostType, record.Tone,
		record.CallToAction, string(record.State), record.ScheduledDate, record.ScheduledTime,
		externalID, errKind, errMessage, completedAt)
	saved, err := scanPost(row)
	metrics.ObserveNetworkRequest("postgres", "posts_update", "posts", start, err)
	if err == nil {
		return saved, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.PostRecord{}, fmt.Errorf("обновление поста: %w", err)
	}

	// Запись либо отсутствует, либо версия устарела.
	var exists bool
	if checkErr := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM posts WHERE id = $1)`, record.ID).Scan(&exists); checkErr != nil {
		return domain.PostRecord{}, fmt.Errorf("проверка записи: %w", checkErr)
	}
	if !exists {
		return domain.PostRecord{}, domain.ErrNotFound
	}
	return domain.PostRecord{}, domain.ErrConflict
}

// Delete реализует domain.PostRepo.
func (p *Postgres) Delete(ctx context.Context, id string) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `DELETE FROM posts WHERE id = $1`, id)
	metrics.ObserveNetworkRequest("postgres", "posts_delete", "posts", start, err)
	if err != nil {
		return fmt.Errorf("удаление поста: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListByBusiness реализует domain.PostRepo.
func (p *Postgres) ListByBusiness(ctx context.Context, businessID string, window domain.DateRange) ([]domain.PostRecord, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+postColumns+` FROM posts
WHERE business_id = $1 AND scheduled_date BETWEEN $2 AND $3
ORDER BY scheduled_date, scheduled_time, id`, businessID, window.From, window.To)
	metrics.ObserveNetworkRequest("postgres", "posts_list", "posts", start, err)
	if err != nil {
		return nil, fmt.Errorf("выборка постов: %w", err)
	}
	defer rows.Close()

	var out []domain.PostRecord
	for rows.Next() {
		record, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("чтение поста: %w", err)
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// ListDue возвращает запланированные посты, чей слот уже наступил.
func (p *Postgres) ListDue(ctx context.Context, now time.Time) ([]domain.PostRecord, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	day := now.Format("2006-01-02")
	slot := now.Format("15:04")
	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+postColumns+` FROM posts
WHERE state = $1 AND (scheduled_date < $2 OR (scheduled_date = $2 AND scheduled_time <= $3))
ORDER BY scheduled_date, scheduled_time, id`, string(domain.StateScheduled), day, slot)
	metrics.ObserveNetworkRequest("postgres", "posts_due", "posts", start, err)
	if err != nil {
		return nil, fmt.Errorf("выборка постов к публикации: %w", err)
	}
	defer rows.Close()

	var out []domain.PostRecord
	for rows.Next() {
		record, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("чтение поста: %w", err)
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// UpsertPreferences реализует domain.BusinessRepo.
func (p *Postgres) UpsertPreferences(ctx context.Context, prefs domain.BusinessPreferences) (domain.BusinessPreferences, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	days := make([]int, 0, len(prefs.PreferredDays))
	for _, day := range prefs.PreferredDays {
		days = append(days, int(day))
	}

	start := time.Now()
	var stored []int
	err := p.pool.QueryRow(ctx, `
INSERT INTO businesses (business_id, frequency, preferred_days, default_tone, default_post_type, updated_at)
VALUES ($1, $2, $3, $4, $5, now())
ON CONFLICT (business_id) DO UPDATE SET frequency = EXCLUDED.frequency,
	preferred_days = EXCLUDED.preferred_days, default_tone = EXCLUDED.default_tone,
	default_post_type = EXCLUDED.default_post_type, updated_at = now()
RETURNING business_id, frequency, preferred_days, default_tone, default_post_type, updated_at`,
		prefs.BusinessID, prefs.Frequency, days, prefs.DefaultTone, prefs.DefaultPostType).
		Scan(&prefs.BusinessID, &prefs.Frequency, &stored, &prefs.DefaultTone, &prefs.DefaultPostType, &prefs.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "businesses_upsert", "businesses", start, err)
	if err != nil {
		return domain.BusinessPreferences{}, fmt.Errorf("сохранение настроек: %w", err)
	}
	prefs.PreferredDays = toWeekdays(stored)
	return prefs, nil
}

// GetPreferences реализует domain.BusinessRepo.
func (p *Postgres) GetPreferences(ctx context.Context, businessID string) (domain.BusinessPreferences, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var (
		prefs domain.BusinessPreferences
		days  []int
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT business_id, frequency, preferred_days, default_tone, default_post_type, updated_at
FROM businesses WHERE business_id = $1`, businessID).
		Scan(&prefs.BusinessID, &prefs.Frequency, &days, &prefs.DefaultTone, &prefs.DefaultPostType, &prefs.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "businesses_get", "businesses", start, err)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BusinessPreferences{}, domain.ErrNotFound
		}
		return domain.BusinessPreferences{}, fmt.Errorf("чтение настроек: %w", err)
	}
	prefs.PreferredDays = toWeekdays(days)
	return prefs, nil
}

func toWeekdays(days []int) []time.Weekday {
	if len(days) == 0 {
		return nil
	}
	out := make([]time.Weekday, 0, len(days))
	for _, day := range days {
		out = append(out, time.Weekday(day))
	}
	return out
}
