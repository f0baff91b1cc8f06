package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"smm-planner/internal/adapters/facebook"
	"smm-planner/internal/adapters/repo"
	"smm-planner/internal/domain"
	"smm-planner/internal/infra/cache"
	"smm-planner/internal/infra/config"
	"smm-planner/internal/infra/db"
	httpinfra "smm-planner/internal/infra/http"
	logger "smm-planner/internal/infra/log"
	"smm-planner/internal/infra/metrics"
	"smm-planner/internal/usecase/dispatch"
	"smm-planner/internal/usecase/lifecycle"
	"smm-planner/internal/usecase/planner"
)

func main() {
	cfg := config.Load()
	log.Logger = logger.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)

	var scheduleCache domain.Cache
	if cfg.RedisAddr != "" {
		scheduleCache = cache.NewRedis(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
	}

	var publisher domain.Publisher
	if cfg.Facebook.Mock {
		publisher = facebook.NewMock()
	} else {
		publisher = facebook.NewClient(facebook.Config{
			GraphURL:   cfg.Facebook.GraphURL,
			APIVersion: cfg.Facebook.APIVersion,
			Timeout:    cfg.Facebook.Timeout,
		})
	}

	manager := lifecycle.NewManager(repoAdapter, log.With().Str("component", "lifecycle").Logger())
	dispatcher := dispatch.NewDispatcher(repoAdapter, manager, publisher, cfg.Planner.PublishTimeout, log.With().Str("component", "dispatch").Logger())
	service := planner.NewService(repoAdapter, manager, dispatcher, scheduleCache, planner.Config{
		DraftOnly:        cfg.Planner.DraftOnly,
		ScheduleCacheTTL: cfg.Planner.ScheduleCacheTTL,
	}, log.With().Str("component", "planner").Logger())

	srv := httpinfra.NewServer(log.With().Str("component", "http").Logger())
	r := srv.Router

	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"status": "ok", "timestamp": time.Now().UTC().Format(time.RFC3339)})
	})

	r.Post("/api/planner/schedule", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req planRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.BusinessID == "" {
			writeError(w, http.StatusBadRequest, "business_id is required")
			return
		}
		window, err := parseWindow(req.StartDate, req.EndDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		prefs, err := resolvePrefs(r.Context(), repoAdapter, req)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		schedule, err := service.Plan(r.Context(), req.BusinessID, toCandidates(req.Candidates), prefs, window)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, map[string]any{"schedule": toScheduleResponse(schedule)})
	})

	r.Get("/api/planner/schedule", func(w http.ResponseWriter, r *http.Request) {
		businessID := r.URL.Query().Get("business_id")
		window, err := parseWindow(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		schedule, err := service.GetSchedule(r.Context(), businessID, window)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, map[string]any{"schedule": toScheduleResponse(schedule)})
	})

	r.Get("/api/posts/{id}", func(w http.ResponseWriter, r *http.Request) {
		record, err := repoAdapter.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, map[string]any{"post": toPostResponse(record)})
	})

	r.Put("/api/posts/{id}", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req editRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		edit, err := req.toEdit()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		record, err := service.EditPost(r.Context(), chi.URLParam(r, "id"), edit)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, map[string]any{"post": toPostResponse(record)})
	})

	r.Delete("/api/posts/{id}", func(w http.ResponseWriter, r *http.Request) {
		if err := service.DeletePost(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Post("/api/posts/{id}/confirm", func(w http.ResponseWriter, r *http.Request) {
		record, err := service.ConfirmDraft(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, map[string]any{"post": toPostResponse(record)})
	})

	r.Post("/api/posts/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		record, err := service.CancelPost(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, map[string]any{"post": toPostResponse(record)})
	})

	r.Post("/api/posts/{id}/publish", func(w http.ResponseWriter, r *http.Request) {
		creds, err := readCreds(r, cfg)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		record, err := service.RequestPublish(r.Context(), chi.URLParam(r, "id"), creds)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, map[string]any{"post": toPostResponse(record)})
	})

	r.Post("/api/posts/{id}/retry", func(w http.ResponseWriter, r *http.Request) {
		creds, err := readCreds(r, cfg)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		record, err := service.RetryPublish(r.Context(), chi.URLParam(r, "id"), creds)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, map[string]any{"post": toPostResponse(record)})
	})

	r.Post("/api/posts/{id}/resolve", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req resolveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		outcome := domain.PublishResult{ExternalID: req.ExternalID}
		if req.ErrorKind != "" {
			outcome.Err = &domain.PublisherError{Kind: req.ErrorKind, Message: req.ErrorMessage}
		}
		record, err := service.ResolvePublish(r.Context(), chi.URLParam(r, "id"), outcome)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, map[string]any{"post": toPostResponse(record)})
	})

	r.Put("/api/business/{id}/preferences", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req prefsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		days, err := parseWeekdays(req.PreferredDays)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		prefs, err := repoAdapter.UpsertPreferences(r.Context(), domain.BusinessPreferences{
			BusinessID:      chi.URLParam(r, "id"),
			Frequency:       req.Frequency,
			PreferredDays:   days,
			DefaultTone:     req.DefaultTone,
			DefaultPostType: req.DefaultPostType,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, map[string]any{"preferences": toPrefsResponse(prefs)})
	})

	r.Get("/api/business/{id}/preferences", func(w http.ResponseWriter, r *http.Request) {
		prefs, err := repoAdapter.GetPreferences(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, map[string]any{"preferences": toPrefsResponse(prefs)})
	})

	go func() {
		if err := srv.Start(":" + strconv.Itoa(cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("api: сервер остановлен")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

type candidateRequest struct {
	Text          string   `json:"text"`
	Hashtags      []string `json:"hashtags"`
	PostType      string   `json:"post_type"`
	Tone          string   `json:"tone"`
	CallToAction  string   `json:"call_to_action"`
	SuggestedTime string   `json:"suggested_time"`
}

type planRequest struct {
	BusinessID    string             `json:"business_id"`
	Frequency     int                `json:"frequency"`
	PreferredDays []string           `json:"preferred_days"`
	StartDate     string             `json:"start_date"`
	EndDate       string             `json:"end_date"`
	Candidates    []candidateRequest `json:"candidates"`
}

type editRequest struct {
	Text          *string  `json:"text"`
	Hashtags      []string `json:"hashtags"`
	CallToAction  *string  `json:"call_to_action"`
	ScheduledDate *string  `json:"scheduled_date"`
	ScheduledTime *string  `json:"scheduled_time"`
}

func (r editRequest) toEdit() (domain.PostEdit, error) {
	edit := domain.PostEdit{
		Text:          r.Text,
		Hashtags:      r.Hashtags,
		CallToAction:  r.CallToAction,
		ScheduledTime: r.ScheduledTime,
	}
	if r.ScheduledDate != nil {
		date, err := time.Parse("2006-01-02", *r.ScheduledDate)
		if err != nil {
			return domain.PostEdit{}, errors.New("scheduled_date must be YYYY-MM-DD")
		}
		edit.ScheduledDate = &date
	}
	return edit, nil
}

type resolveRequest struct {
	ExternalID   string `json:"external_id"`
	ErrorKind    string `json:"error_kind"`
	ErrorMessage string `json:"error_message"`
}

type prefsRequest struct {
	Frequency       int      `json:"frequency"`
	PreferredDays   []string `json:"preferred_days"`
	DefaultTone     string   `json:"default_tone"`
	DefaultPostType string   `json:"default_post_type"`
}

type publishRequest struct {
	PageID      string `json:"page_id"`
	AccessToken string `json:"access_token"`
}

func readCreds(r *http.Request, cfg config.AppConfig) (domain.ChannelCredentials, error) {
	var req publishRequest
	if r.Body != nil {
		defer r.Body.Close()
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	creds := domain.ChannelCredentials{PageID: req.PageID, AccessToken: req.AccessToken}
	if creds.PageID == "" {
		creds.PageID = cfg.Facebook.PageID
	}
	if creds.AccessToken == "" {
		creds.AccessToken = cfg.Facebook.AccessToken
	}
	if creds.PageID == "" || creds.AccessToken == "" {
		if !cfg.Facebook.Mock {
			return domain.ChannelCredentials{}, errors.New("page_id and access_token are required")
		}
	}
	return creds, nil
}

func resolvePrefs(ctx context.Context, businesses domain.BusinessRepo, req planRequest) (domain.BusinessPreferences, error) {
	if req.Frequency == 0 && len(req.PreferredDays) == 0 {
		stored, err := businesses.GetPreferences(ctx, req.BusinessID)
		if err == nil {
			return stored, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.BusinessPreferences{}, err
		}
	}
	days, err := parseWeekdays(req.PreferredDays)
	if err != nil {
		return domain.BusinessPreferences{}, err
	}
	return domain.BusinessPreferences{
		BusinessID:    req.BusinessID,
		Frequency:     req.Frequency,
		PreferredDays: days,
	}, nil
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func parseWeekdays(names []string) ([]time.Weekday, error) {
	var out []time.Weekday
	for _, name := range names {
		day, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, errors.New("unknown weekday: " + name)
		}
		out = append(out, day)
	}
	return out, nil
}

// parseWindow разбирает границы окна; пустой конец означает неделю от начала.
func parseWindow(from, to string) (domain.DateRange, error) {
	if from == "" {
		return domain.DateRange{}, errors.New("start date is required")
	}
	start, err := time.Parse("2006-01-02", from)
	if err != nil {
		return domain.DateRange{}, errors.New("start date must be YYYY-MM-DD")
	}
	end := start.AddDate(0, 0, 6)
	if to != "" {
		end, err = time.Parse("2006-01-02", to)
		if err != nil {
			return domain.DateRange{}, errors.New("end date must be YYYY-MM-DD")
		}
	}
	return domain.DateRange{From: start, To: end}, nil
}

type postResponse struct {
	ID            string         `json:"id"`
	BusinessID    string         `json:"business_id"`
	Text          string         `json:"text"`
	Hashtags      []string       `json:"hashtags,omitempty"`
	PostType      string         `json:"post_type,omitempty"`
	Tone          string         `json:"tone,omitempty"`
	CallToAction  string         `json:"call_to_action,omitempty"`
	State         string         `json:"state"`
	ScheduledDate string         `json:"scheduled_date"`
	ScheduledTime string         `json:"scheduled_time"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	PublishResult map[string]any `json:"publish_result,omitempty"`
}

func toPostResponse(record domain.PostRecord) postResponse {
	resp := postResponse{
		ID:            record.ID,
		BusinessID:    record.BusinessID,
		Text:          record.Text,
		Hashtags:      record.Hashtags,
		PostType:      record.PostType,
		Tone:          record.Tone,
		CallToAction:  record.CallToAction,
		State:         string(record.State),
		ScheduledDate: record.ScheduledDate.Format("2006-01-02"),
		ScheduledTime: record.ScheduledTime,
		CreatedAt:     record.CreatedAt,
		UpdatedAt:     record.UpdatedAt,
	}
	if record.PublishResult != nil {
		result := map[string]any{}
		if record.PublishResult.ExternalID != "" {
			result["external_id"] = record.PublishResult.ExternalID
		}
		if record.PublishResult.Err != nil {
			result["error_kind"] = record.PublishResult.Err.Kind
			result["error_message"] = record.PublishResult.Err.Message
		}
		if !record.PublishResult.CompletedAt.IsZero() {
			result["completed_at"] = record.PublishResult.CompletedAt
		}
		resp.PublishResult = result
	}
	return resp
}

type scheduleEntryResponse struct {
	Date    string `json:"date"`
	Weekday string `json:"weekday"`
	PostID  string `json:"post_id"`
	Time    string `json:"time"`
	State   string `json:"state"`
}

func toScheduleResponse(schedule domain.Schedule) map[string]any {
	entries := make([]scheduleEntryResponse, 0, len(schedule.Entries))
	for _, entry := range schedule.Entries {
		entries = append(entries, scheduleEntryResponse{
			Date:    entry.Date.Format("2006-01-02"),
			Weekday: strings.ToLower(entry.Weekday.String()),
			PostID:  entry.PostID,
			Time:    entry.Time,
			State:   string(entry.State),
		})
	}
	return map[string]any{
		"business_id": schedule.BusinessID,
		"from":        schedule.Window.From.Format("2006-01-02"),
		"to":          schedule.Window.To.Format("2006-01-02"),
		"entries":     entries,
	}
}

func toPrefsResponse(prefs domain.BusinessPreferences) map[string]any {
	days := make([]string, 0, len(prefs.PreferredDays))
	for _, day := range prefs.PreferredDays {
		days = append(days, strings.ToLower(day.String()))
	}
	return map[string]any{
		"business_id":       prefs.BusinessID,
		"frequency":         prefs.Frequency,
		"preferred_days":    days,
		"default_tone":      prefs.DefaultTone,
		"default_post_type": prefs.DefaultPostType,
	}
}

func toCandidates(reqs []candidateRequest) []domain.PostCandidate {
	out := make([]domain.PostCandidate, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, domain.PostCandidate{
			Text:          req.Text,
			Hashtags:      req.Hashtags,
			PostType:      req.PostType,
			Tone:          req.Tone,
			CallToAction:  req.CallToAction,
			SuggestedTime: req.SuggestedTime,
		})
	}
	return out
}

func writeDomainError(w http.ResponseWriter, err error) {
	var (
		illegal *domain.IllegalTransitionError
		aborted *domain.PlanningAbortedError
		pubErr  *domain.PublisherError
	)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidPreferences),
		errors.Is(err, domain.ErrEmptyCandidates),
		errors.Is(err, domain.ErrInsufficientSlots):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrAlreadyInProgress),
		errors.Is(err, domain.ErrImmutablePost),
		errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &illegal):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.As(err, &aborted):
		log.Error().Err(err).Msg("api: планирование прервано")
		writeError(w, http.StatusInternalServerError, err.Error())
	case errors.As(err, &pubErr):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		log.Error().Err(err).Msg("api: внутренняя ошибка")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": msg})
}
