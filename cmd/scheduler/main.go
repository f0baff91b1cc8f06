package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"smm-planner/internal/adapters/repo"
	"smm-planner/internal/domain"
	"smm-planner/internal/infra/cache"
	"smm-planner/internal/infra/config"
	"smm-planner/internal/infra/db"
	logger "smm-planner/internal/infra/log"
	"smm-planner/internal/infra/metrics"
	"smm-planner/internal/infra/queue"
)

// scheduler ставит в очередь публикации посты, чей слот расписания наступил.
// Дедупликация через cache.Once защищает от повторной постановки,
// пока воркер не успел перевести пост в publishing.
func main() {
	cfg := config.Load()
	log.Logger = logger.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("scheduler: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	onceCache := cache.NewRedis(redisClient)

	jobs, err := newPublishQueue(cfg, redisClient)
	if err != nil {
		log.Fatal().Err(err).Msg("scheduler: очередь недоступна")
	}

	metrics.StartServer(ctx, log.With().Str("component", "metrics").Logger(), ":9090")

	ticker := time.NewTicker(cfg.Planner.TickInterval)
	defer ticker.Stop()
	log.Info().Dur("tick", cfg.Planner.TickInterval).Msg("scheduler: старт")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler: остановка")
			return
		case <-ticker.C:
		}

		due, err := repoAdapter.ListDue(ctx, time.Now().UTC())
		if err != nil {
			log.Error().Err(err).Msg("scheduler: ошибка выборки постов")
			continue
		}

		enqueued := 0
		for _, post := range due {
			post := post
			err := onceCache.Once("publish_enqueue:"+post.ID, 30*time.Minute, func() error {
				return jobs.Enqueue(ctx, domain.PublishJob{
					ID:          uuid.NewString(),
					PostID:      post.ID,
					BusinessID:  post.BusinessID,
					RequestedAt: time.Now().UTC(),
					Cause:       domain.PublishCauseScheduled,
				})
			})
			if err != nil {
				log.Error().Err(err).Str("post_id", post.ID).Msg("scheduler: не удалось поставить задачу")
				continue
			}
			enqueued++
		}
		metrics.PublishQueueDepth.Set(float64(enqueued))
		if enqueued > 0 {
			log.Info().Int("jobs", enqueued).Msg("scheduler: задачи поставлены")
		}
	}
}

func newPublishQueue(cfg config.AppConfig, redisClient *redis.Client) (domain.PublishQueue, error) {
	if cfg.Queue.Driver == "rabbitmq" {
		return queue.NewRabbitPublishQueue(cfg.Queue.AMQPURL, cfg.Queue.Key)
	}
	return queue.NewRedisPublishQueue(redisClient, cfg.Queue.Key), nil
}
