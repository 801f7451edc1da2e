package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"visa-slot-watcher/internal/adapters/sender/smtp"
	"visa-slot-watcher/internal/adapters/sender/telegram"
	"visa-slot-watcher/internal/adapters/source/endpoint"
	"visa-slot-watcher/internal/adapters/source/markup"
	"visa-slot-watcher/internal/adapters/source/rendered"
	"visa-slot-watcher/internal/adapters/store"
	"visa-slot-watcher/internal/domain"
	"visa-slot-watcher/internal/fetch"
	"visa-slot-watcher/internal/infra/config"
	applog "visa-slot-watcher/internal/infra/log"
	"visa-slot-watcher/internal/infra/metrics"
	"visa-slot-watcher/internal/usecase/alert"
	"visa-slot-watcher/internal/usecase/match"
	"visa-slot-watcher/internal/usecase/normalize"
	"visa-slot-watcher/internal/usecase/watch"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	fileStore, err := store.NewFiles(cfg.Store.Dir, cfg.Store.AlertLogLimit, logger.With().Str("component", "store").Logger())
	if err != nil {
		logger.Fatal().Err(err).Msg("watcher: не удалось открыть хранилище")
	}

	zone, err := time.LoadLocation(cfg.Normalize.Timezone)
	if err != nil {
		logger.Fatal().Err(err).Str("tz", cfg.Normalize.Timezone).Msg("watcher: неизвестный часовой пояс (REFERENCE_TZ)")
	}

	sourceLimiter := rate.NewLimiter(rate.Limit(cfg.Source.RatePerSec), cfg.Source.RatePerSec)
	tiers := buildTiers(cfg, sourceLimiter, logger)
	if len(tiers) == 0 {
		logger.Fatal().Msg("watcher: не настроен ни один уровень получения данных (SOURCE_TIER_ORDER)")
	}

	fetcher := fetch.New(tiers, fileStore, cfg.Source.TierTimeout, logger.With().Str("component", "fetch").Logger())
	normalizer := normalize.New(cfg.Normalize.Correction, zone)
	engine := match.New(fileStore)

	notifier, err := buildNotifier(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("watcher: не удалось создать канал доставки")
	}

	dispatchLimiter := rate.NewLimiter(rate.Limit(cfg.Alerts.RatePerSec), cfg.Alerts.RatePerSec)
	dispatcher := alert.New(notifier, fileStore, fileStore, dispatchLimiter, cfg.Alerts.Workers, logger.With().Str("component", "alert").Logger())

	runner := watch.NewRunner(fetcher, normalizer, engine, dispatcher, fileStore, fileStore, zone, logger.With().Str("component", "watch").Logger())
	scheduler := watch.NewScheduler(runner, cfg.Watch.Interval, cfg.Watch.RecoveryDelay, logger.With().Str("component", "scheduler").Logger())

	if err := fileStore.UpdateStats(func(st *domain.Stats) { st.LastStartup = time.Now() }); err != nil {
		logger.Error().Err(err).Msg("watcher: не удалось отметить запуск")
	}

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logger.Debug().Err(err).Msg("watcher: systemd недоступен")
	}

	logger.Info().Dur("interval", cfg.Watch.Interval).Int("tiers", len(tiers)).Msg("watcher: запуск циклов проверки")
	if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("watcher: планировщик завершился с ошибкой")
	}

	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		logger.Debug().Err(err).Msg("watcher: systemd недоступен")
	}
	logger.Info().Msg("watcher: остановлен")
}

// buildTiers собирает уровни получения данных в настроенном порядке.
func buildTiers(cfg config.AppConfig, limiter *rate.Limiter, logger zerolog.Logger) []domain.SlotTier {
	endpointURLs := append([]string{cfg.Source.DataURL}, cfg.Source.ExtraURLs...)
	tiers := make([]domain.SlotTier, 0, len(cfg.Source.TierOrder))
	for _, id := range cfg.Source.TierOrder {
		switch id {
		case domain.TierRendered:
			tiers = append(tiers, rendered.New(cfg.Source.PageURL, cfg.Source.Rendered, limiter, logger.With().Str("component", "rendered").Logger()))
		case domain.TierEndpoint:
			tiers = append(tiers, endpoint.New(endpointURLs, cfg.Source.Retries, cfg.Source.RetryDelay, limiter, logger.With().Str("component", "endpoint").Logger()))
		case domain.TierMarkup:
			tiers = append(tiers, markup.New(cfg.Source.PageURL, limiter, logger.With().Str("component", "markup").Logger()))
		default:
			logger.Warn().Int("tier", id).Msg("watcher: неизвестный уровень в SOURCE_TIER_ORDER, пропускаем")
		}
	}
	return tiers
}

// buildNotifier выбирает канал доставки уведомлений по конфигурации.
func buildNotifier(cfg config.AppConfig, logger zerolog.Logger) (domain.Notifier, error) {
	switch strings.ToLower(cfg.Alerts.Sender) {
	case "smtp":
		if cfg.SMTP.Host == "" {
			return nil, errors.New("не указан SMTP сервер (SMTP_HOST)")
		}
		from := cfg.SMTP.From
		if from == "" {
			from = cfg.SMTP.Username
		}
		return smtp.New(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, from, logger.With().Str("component", "smtp").Logger())
	case "telegram":
		if cfg.Telegram.Token == "" {
			return nil, errors.New("не указан токен Telegram (TG_BOT_TOKEN)")
		}
		return telegram.New(cfg.Telegram.Token, logger.With().Str("component", "telegram").Logger())
	default:
		return nil, fmt.Errorf("неизвестный канал доставки %q (ALERT_SENDER)", cfg.Alerts.Sender)
	}
}
