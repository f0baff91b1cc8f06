package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	PlansTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "planner_plans_total",
		Help: "Количество запросов на планирование",
	})
	PlannedPostsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "planner_posts_planned_total",
		Help: "Количество постов, поставленных в расписание",
	})
	PublishAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "publish_attempts_total",
		Help: "Попытки публикации по результату",
	}, []string{"result"})
	ScheduleBuildSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "schedule_build_seconds",
		Help:    "Время построения производного расписания",
		Buckets: prometheus.DefBuckets,
	})
	PublishQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "publish_queue_enqueued",
		Help: "Задачи публикации, поставленные планировщиком за тик",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: prometheus.DefBuckets,
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		PlansTotal,
		PlannedPostsTotal,
		PublishAttemptsTotal,
		ScheduleBuildSeconds,
		PublishQueueDepth,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// IncPlan увеличивает счётчик запросов планирования.
func IncPlan() {
	PlansTotal.Inc()
}

// AddPlannedPosts учитывает созданные батчем посты.
func AddPlannedPosts(n int) {
	PlannedPostsTotal.Add(float64(n))
}

// IncPublishAttempt фиксирует исход попытки публикации: success, failed или timeout.
func IncPublishAttempt(result string) {
	PublishAttemptsTotal.WithLabelValues(result).Inc()
}

// ObserveScheduleBuild записывает время построения расписания.
func ObserveScheduleBuild(d time.Duration) {
	ScheduleBuildSeconds.Observe(d.Seconds())
}
