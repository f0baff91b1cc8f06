package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"smm-planner/internal/adapters/facebook"
	"smm-planner/internal/adapters/repo"
	"smm-planner/internal/domain"
	"smm-planner/internal/infra/cache"
	"smm-planner/internal/infra/config"
	"smm-planner/internal/infra/db"
	logger "smm-planner/internal/infra/log"
	"smm-planner/internal/infra/metrics"
	"smm-planner/internal/infra/queue"
	"smm-planner/internal/usecase/dispatch"
	"smm-planner/internal/usecase/lifecycle"
	"smm-planner/internal/usecase/planner"
)

// worker разбирает очередь задач публикации и прогоняет каждый пост
// через request_publish. Повторы после таймаута не автоматические:
// пост остаётся в publishing до явной сверки.
func main() {
	cfg := config.Load()
	log.Logger = logger.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("worker: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

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
	service := planner.NewService(repoAdapter, manager, dispatcher, cache.NewRedis(redisClient), planner.Config{
		ScheduleCacheTTL: cfg.Planner.ScheduleCacheTTL,
	}, log.With().Str("component", "planner").Logger())

	jobs, err := newPublishQueue(cfg, redisClient)
	if err != nil {
		log.Fatal().Err(err).Msg("worker: очередь недоступна")
	}

	metrics.StartServer(ctx, log.With().Str("component", "metrics").Logger(), ":9091")

	creds := domain.ChannelCredentials{PageID: cfg.Facebook.PageID, AccessToken: cfg.Facebook.AccessToken}
	log.Info().Msg("worker: старт")

	for {
		job, err := jobs.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				log.Info().Msg("worker: остановка")
				return
			}
			log.Error().Err(err).Msg("worker: ошибка чтения очереди")
			continue
		}

		record, err := service.RequestPublish(ctx, job.PostID, creds)
		switch {
		case err == nil:
			log.Info().Str("post_id", job.PostID).Str("state", string(record.State)).Msg("worker: публикация обработана")
		case errors.Is(err, domain.ErrTimeout):
			log.Warn().Str("post_id", job.PostID).Msg("worker: таймаут публикации, пост ждёт сверки")
		case errors.Is(err, domain.ErrAlreadyInProgress), errors.Is(err, domain.ErrNotFound):
			log.Info().Err(err).Str("post_id", job.PostID).Msg("worker: задача пропущена")
		default:
			var illegal *domain.IllegalTransitionError
			if errors.As(err, &illegal) {
				log.Info().Err(err).Str("post_id", job.PostID).Msg("worker: пост уже не в расписании")
				continue
			}
			log.Error().Err(err).Str("post_id", job.PostID).Msg("worker: публикация не удалась")
		}
	}
}

func newPublishQueue(cfg config.AppConfig, redisClient *redis.Client) (domain.PublishQueue, error) {
	if cfg.Queue.Driver == "rabbitmq" {
		return queue.NewRabbitPublishQueue(cfg.Queue.AMQPURL, cfg.Queue.Key)
	}
	return queue.NewRedisPublishQueue(redisClient, cfg.Queue.Key), nil
}
