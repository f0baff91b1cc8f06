package domain

import "time"

// PostState описывает состояние поста в жизненном цикле.
type PostState string

const (
	// StateDraft — пост создан планировщиком, но не подтверждён.
	StateDraft PostState = "draft"
	// StateScheduled — пост подтверждён и ждёт публикации.
	StateScheduled PostState = "scheduled"
	// StatePublishing — публикация выполняется.
	StatePublishing PostState = "publishing"
	// StatePublished — пост опубликован во внешнем канале.
	StatePublished PostState = "published"
	// StateFailed — попытка публикации завершилась ошибкой.
	StateFailed PostState = "failed"
	// StateCancelled — пост отменён до публикации.
	StateCancelled PostState = "cancelled"
)

// Event описывает событие перехода жизненного цикла поста.
type Event string

const (
	EventConfirm          Event = "confirm"
	EventEdit             Event = "edit"
	EventCancel           Event = "cancel"
	EventRequestPublish   Event = "request_publish"
	EventPublishSucceeded Event = "publish_succeeded"
	EventPublishFailed    Event = "publish_failed"
	EventRetryPublish     Event = "retry_publish"
	EventDelete           Event = "delete"
)

// BusinessPreferences хранит настройки расписания бизнеса.
type BusinessPreferences struct {
	BusinessID      string
	Frequency       int
	PreferredDays   []time.Weekday
	DefaultTone     string
	DefaultPostType string
	UpdatedAt       time.Time
}

// PostCandidate — сгенерированный снаружи контент, ещё не поставленный в расписание.
// Неизменяем после передачи планировщику.
type PostCandidate struct {
	Text          string
	Hashtags      []string
	PostType      string
	Tone          string
	CallToAction  string
	SuggestedTime string // "HH:MM", пусто если генератор не предложил время
}

// DateRange задаёт окно планирования, границы включительно.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Valid сообщает, что окно непустое и границы не перепутаны.
func (r DateRange) Valid() bool {
	return !r.From.IsZero() && !r.To.IsZero() && !r.To.Before(r.From)
}

// Days возвращает количество календарных дней в окне.
func (r DateRange) Days() int {
	from := truncateDay(r.From)
	to := truncateDay(r.To)
	return int(to.Sub(from).Hours()/24) + 1
}

// Weeks возвращает количество недель в окне с округлением вверх.
func (r DateRange) Weeks() int {
	days := r.Days()
	return (days + 6) / 7
}

// Contains сообщает, попадает ли дата в окно.
func (r DateRange) Contains(t time.Time) bool {
	day := truncateDay(t)
	return !day.Before(truncateDay(r.From)) && !day.After(truncateDay(r.To))
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// SlotAssignment — результат работы аллокатора: кандидат, закреплённый за слотом.
type SlotAssignment struct {
	Candidate PostCandidate
	Date      time.Time
	Time      string // "HH:MM"
}

// PublisherError описывает структурированную ошибку внешнего канала.
type PublisherError struct {
	Kind    string
	Message string
}

func (e *PublisherError) Error() string {
	return "ошибка канала публикации (" + e.Kind + "): " + e.Message
}

// PublishResult фиксирует итог попытки публикации.
// Err заполнен только при неуспехе, ExternalID — только при успехе.
type PublishResult struct {
	ExternalID  string
	Err         *PublisherError
	CompletedAt time.Time
}

// PostRecord — запись поста во владении хранилища.
// Все мутации проходят через менеджер жизненного цикла.
type PostRecord struct {
	ID            string
	BusinessID    string
	Text          string
	Hashtags      []string
	PostType      string
	Tone          string
	CallToAction  string
	State         PostState
	ScheduledDate time.Time
	ScheduledTime string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Version       int
	PublishResult *PublishResult
}

// PostEdit перечисляет поля, которые разрешено менять до публикации.
type PostEdit struct {
	Text          *string
	Hashtags      []string
	CallToAction  *string
	ScheduledDate *time.Time
	ScheduledTime *string
}

// ScheduleEntry — одна позиция производного расписания.
type ScheduleEntry struct {
	Date    time.Time    `json:"date"`
	Weekday time.Weekday `json:"weekday"`
	PostID  string       `json:"post_id"`
	Time    string       `json:"time"`
	State   PostState    `json:"state"`
}

// Schedule — производное представление над PostRecord за окно.
// Не хранится отдельной сущностью и пересчитывается при чтении.
type Schedule struct {
	BusinessID string          `json:"business_id"`
	Window     DateRange       `json:"window"`
	Entries    []ScheduleEntry `json:"entries"`
}

// ChannelCredentials — учётные данные страницы внешнего канала.
type ChannelCredentials struct {
	PageID      string
	AccessToken string
}
