package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	TZ     string `envconfig:"TZ" default:"Europe/Amsterdam"`
	Port   int    `envconfig:"PORT" default:"8080"`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	Queue struct {
		Driver  string `envconfig:"PUBLISH_QUEUE_DRIVER" default:"redis"`
		Key     string `envconfig:"PUBLISH_QUEUE_KEY" default:"publish_jobs"`
		AMQPURL string `envconfig:"AMQP_URL"`
	} `envconfig:""`

	Facebook struct {
		GraphURL    string        `envconfig:"FB_GRAPH_URL" default:"https://graph.facebook.com"`
		APIVersion  string        `envconfig:"FB_API_VERSION" default:"v19.0"`
		PageID      string        `envconfig:"FB_PAGE_ID"`
		AccessToken string        `envconfig:"FB_PAGE_TOKEN"`
		Timeout     time.Duration `envconfig:"FB_TIMEOUT" default:"15s"`
		Mock        bool          `envconfig:"FB_MOCK" default:"false"`
	} `envconfig:""`

	Planner struct {
		DraftOnly        bool          `envconfig:"PLANNER_DRAFT_ONLY" default:"false"`
		ScheduleCacheTTL time.Duration `envconfig:"SCHEDULE_CACHE_TTL" default:"30s"`
		PublishTimeout   time.Duration `envconfig:"PUBLISH_TIMEOUT" default:"20s"`
		TickInterval     time.Duration `envconfig:"SCHEDULER_TICK" default:"1m"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
