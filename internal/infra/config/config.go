package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
	AdminToken  string `envconfig:"ADMIN_TOKEN"`

	Source struct {
		PageURL     string        `envconfig:"SOURCE_PAGE_URL" default:"https://checkvisaslots.com/latest-us-visa-availability.html"`
		DataURL     string        `envconfig:"SOURCE_DATA_URL" default:"https://cvs-data-public.s3.us-east-1.amazonaws.com/last-availability.json"`
		ExtraURLs   []string      `envconfig:"SOURCE_EXTRA_URLS"`
		TierOrder   []int         `envconfig:"SOURCE_TIER_ORDER" default:"1,2,3"`
		TierTimeout time.Duration `envconfig:"SOURCE_TIER_TIMEOUT" default:"25s"`
		Retries     int           `envconfig:"SOURCE_RETRIES" default:"3"`
		RetryDelay  time.Duration `envconfig:"SOURCE_RETRY_DELAY" default:"2s"`
		RatePerSec  int           `envconfig:"SOURCE_RPS" default:"2"`
		Rendered    bool          `envconfig:"SOURCE_RENDERED_ENABLED" default:"true"`
	} `envconfig:""`

	Normalize struct {
		// Поправка на известное отставание отметок времени источника.
		Correction time.Duration `envconfig:"FRESHNESS_CORRECTION" default:"5h30m"`
		Timezone   string        `envconfig:"REFERENCE_TZ" default:"Asia/Kolkata"`
	} `envconfig:""`

	Watch struct {
		Interval      time.Duration `envconfig:"CHECK_INTERVAL" default:"10m"`
		RecoveryDelay time.Duration `envconfig:"RECOVERY_DELAY" default:"60s"`
	} `envconfig:""`

	Store struct {
		Dir           string `envconfig:"DATA_DIR" default:"data"`
		AlertLogLimit int    `envconfig:"ALERT_LOG_LIMIT" default:"1000"`
	} `envconfig:""`

	Alerts struct {
		DefaultThreshold int    `envconfig:"DEFAULT_THRESHOLD_MIN" default:"15"`
		ThresholdOptions []int  `envconfig:"THRESHOLD_OPTIONS" default:"1,5,10,15,30,60,120,180,300,600,1440"`
		Workers          int    `envconfig:"DISPATCH_WORKERS" default:"4"`
		RatePerSec       int    `envconfig:"DISPATCH_RPS" default:"5"`
		Sender           string `envconfig:"ALERT_SENDER" default:"smtp"`
	} `envconfig:""`

	SMTP struct {
		Host     string `envconfig:"SMTP_HOST"`
		Port     int    `envconfig:"SMTP_PORT" default:"587"`
		Username string `envconfig:"SMTP_USERNAME"`
		Password string `envconfig:"SMTP_PASSWORD"`
		From     string `envconfig:"SMTP_FROM"`
	} `envconfig:""`

	Telegram struct {
		Token string `envconfig:"TG_BOT_TOKEN"`
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
