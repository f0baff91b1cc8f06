package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidPreferences возвращается при некорректных настройках планирования.
	ErrInvalidPreferences = errors.New("некорректные настройки планирования")
	// ErrInsufficientSlots возвращается, если в окне нет ни одного подходящего дня.
	ErrInsufficientSlots = errors.New("в окне нет подходящих дней для публикации")
	// ErrEmptyCandidates возвращается, если планировщику не передали кандидатов.
	ErrEmptyCandidates = errors.New("нет кандидатов для планирования")
	// ErrAlreadyInProgress возвращается при попытке публикации поста, который уже публикуется.
	ErrAlreadyInProgress = errors.New("публикация поста уже выполняется")
	// ErrImmutablePost возвращается при попытке изменить публикуемый или опубликованный пост.
	ErrImmutablePost = errors.New("опубликованный пост изменять нельзя")
	// ErrTimeout возвращается, если внешняя операция не уложилась в отведённое время.
	ErrTimeout = errors.New("превышено время ожидания внешней операции")
	// ErrNotFound возвращается хранилищем, если записи нет.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict возвращается хранилищем при несовпадении версии записи.
	ErrConflict = errors.New("конфликт версий записи")
)

// IllegalTransitionError описывает недопустимый переход жизненного цикла.
type IllegalTransitionError struct {
	From  PostState
	Event Event
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("недопустимый переход: событие %q из состояния %q", e.Event, e.From)
}

// PlanningAbortedError сообщает об отменённом батче планирования.
// Cause — исходная ошибка, RollbackErrs — ошибки отката, если он был неполным.
type PlanningAbortedError struct {
	Cause        error
	RollbackErrs []error
}

func (e *PlanningAbortedError) Error() string {
	msg := fmt.Sprintf("планирование прервано: %v", e.Cause)
	if len(e.RollbackErrs) > 0 {
		parts := make([]string, 0, len(e.RollbackErrs))
		for _, rbErr := range e.RollbackErrs {
			parts = append(parts, rbErr.Error())
		}
		msg += "; откат неполный: " + strings.Join(parts, "; ")
	}
	return msg
}

func (e *PlanningAbortedError) Unwrap() error { return e.Cause }
