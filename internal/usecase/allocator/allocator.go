package allocator

import (
	"sort"
	"time"

	"smm-planner/internal/domain"
)

// Слоты по умолчанию для типов постов. Конкретная привязка не принципиальна,
// важна только детерминированность.
var defaultTimeByType = map[string]string{
	"promo":   "15:00",
	"insight": "15:00",
	"tip":     "09:00",
	"update":  "09:00",
}

const fallbackTime = "12:00"

// Allocate распределяет кандидатов по слотам окна планирования.
// Функция чистая: одинаковые входы всегда дают одинаковый результат.
//
// Подходящие дни — пересечение дней окна с предпочитаемыми днями недели;
// пустой список предпочтений означает все дни окна. Кандидаты раскладываются
// по подходящим дням по кругу, внутри недели в порядке с понедельника,
// неделя за неделей, чтобы посты не скапливались на одном дне.
func Allocate(candidates []domain.PostCandidate, prefs domain.BusinessPreferences, window domain.DateRange) ([]domain.SlotAssignment, error) {
	if prefs.Frequency == 0 {
		// Явный запрос нулевого количества постов — пустое расписание, не ошибка.
		return nil, nil
	}
	if !window.Valid() {
		return nil, domain.ErrInvalidPreferences
	}
	if len(candidates) == 0 {
		return nil, domain.ErrEmptyCandidates
	}

	dates := eligibleDates(prefs.PreferredDays, window)
	if len(dates) == 0 {
		return nil, domain.ErrInsufficientSlots
	}

	total := prefs.Frequency * window.Weeks()
	if len(candidates) < total {
		total = len(candidates)
	}

	used := make(map[string]map[string]struct{})
	assignments := make([]domain.SlotAssignment, 0, total)
	for i := 0; i < total; i++ {
		date := dates[i%len(dates)]
		candidate := candidates[i]
		slotTime := pickTime(candidate, date, used)
		assignments = append(assignments, domain.SlotAssignment{
			Candidate: candidate,
			Date:      date,
			Time:      slotTime,
		})
	}
	return assignments, nil
}

// eligibleDates возвращает подходящие даты окна: по неделям, внутри недели
// в порядке дней с понедельника.
func eligibleDates(preferred []time.Weekday, window domain.DateRange) []time.Time {
	allowed := make(map[time.Weekday]bool, len(preferred))
	for _, day := range preferred {
		allowed[day] = true
	}

	from := midnight(window.From)
	to := midnight(window.To)

	weeks := make(map[int][]time.Time)
	maxWeek := 0
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		if len(allowed) > 0 && !allowed[day.Weekday()] {
			continue
		}
		week := int(day.Sub(from).Hours()/24) / 7
		weeks[week] = append(weeks[week], day)
		if week > maxWeek {
			maxWeek = week
		}
	}

	var dates []time.Time
	for week := 0; week <= maxWeek; week++ {
		chunk := weeks[week]
		sort.SliceStable(chunk, func(i, j int) bool {
			return mondayIndex(chunk[i].Weekday()) < mondayIndex(chunk[j].Weekday())
		})
		dates = append(dates, chunk...)
	}
	return dates
}

// pickTime выбирает время слота: предложенное кандидатом, если оно свободно
// в этот день, иначе время по типу поста; коллизии сдвигаются на час.
func pickTime(candidate domain.PostCandidate, date time.Time, used map[string]map[string]struct{}) string {
	dayKey := date.Format("2006-01-02")
	taken := used[dayKey]
	if taken == nil {
		taken = make(map[string]struct{})
		used[dayKey] = taken
	}

	base := candidate.SuggestedTime
	if _, err := time.Parse("15:04", base); err != nil {
		base = ""
	}
	if base == "" || isTaken(taken, base) {
		base = defaultTimeByType[candidate.PostType]
		if base == "" {
			base = fallbackTime
		}
	}

	minutes := toMinutes(base)
	for shift := 0; shift < 60; shift++ {
		for hour := 0; hour < 24; hour++ {
			slot := fromMinutes((minutes + hour*60 + shift) % (24 * 60))
			if !isTaken(taken, slot) {
				taken[slot] = struct{}{}
				return slot
			}
		}
	}
	// День полностью занят — больше 1440 постов на дату на практике не бывает.
	taken[base] = struct{}{}
	return base
}

func isTaken(taken map[string]struct{}, slot string) bool {
	_, ok := taken[slot]
	return ok
}

func toMinutes(hhmm string) int {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 12 * 60
	}
	return t.Hour()*60 + t.Minute()
}

func fromMinutes(minutes int) string {
	return time.Date(2000, 1, 1, minutes/60, minutes%60, 0, 0, time.UTC).Format("15:04")
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func mondayIndex(day time.Weekday) int {
	return (int(day) + 6) % 7
}
