package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"visa-slot-watcher/internal/adapters/source/endpoint"
	"visa-slot-watcher/internal/adapters/source/markup"
	"visa-slot-watcher/internal/adapters/source/rendered"
	"visa-slot-watcher/internal/adapters/store"
	"visa-slot-watcher/internal/domain"
	"visa-slot-watcher/internal/fetch"
	"visa-slot-watcher/internal/infra/config"
	"visa-slot-watcher/internal/usecase/normalize"
)

// Одноразовый прогон цепочки уровней: получить данные, нормализовать и
// напечатать JSON в stdout. Удобен для проверки источника без запуска
// планировщика.
func main() {
	var timeout time.Duration
	flag.DurationVar(&timeout, "timeout", 2*time.Minute, "Overall probe timeout")
	flag.Parse()

	cfg := config.Load()

	fileStore, err := store.NewFiles(cfg.Store.Dir, cfg.Store.AlertLogLimit, log.With().Str("component", "store").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("probe: не удалось открыть хранилище")
	}
	zone, err := time.LoadLocation(cfg.Normalize.Timezone)
	if err != nil {
		log.Fatal().Err(err).Str("tz", cfg.Normalize.Timezone).Msg("probe: неизвестный часовой пояс (REFERENCE_TZ)")
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.Source.RatePerSec), cfg.Source.RatePerSec)
	tiers := buildTiers(cfg, limiter, log.Logger)
	if len(tiers) == 0 {
		log.Fatal().Msg("probe: не настроен ни один уровень получения данных (SOURCE_TIER_ORDER)")
	}
	fetcher := fetch.New(tiers, fileStore, cfg.Source.TierTimeout, log.With().Str("component", "fetch").Logger())

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	result, err := fetcher.Fetch(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("probe: данные недоступны")
	}

	ref := time.Now().In(zone)
	normalizer := normalize.New(cfg.Normalize.Correction, zone)
	records := normalizer.NormalizeAll(result.Payload, ref)
	normalize.SortRecords(records)

	out := probeOutput{
		Tier:      result.TierUsed,
		Stale:     result.Stale,
		FetchedAt: result.FetchedAt,
		Reference: ref,
		Records:   make([]probeRecord, 0, len(records)),
	}
	for _, rec := range records {
		out.Records = append(out.Records, probeRecord{
			VisaType:         rec.VisaType,
			Location:         rec.Location,
			EarliestDate:     rec.CanonDate,
			Appointments:     rec.Appointments,
			FreshnessMinutes: rec.FreshnessMinutes(),
			ParseFailed:      rec.ParseFailed,
		})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Fatal().Err(err).Msg("probe: не удалось вывести результат")
	}
	log.Info().Int("tier", result.TierUsed).Bool("stale", result.Stale).Int("records", len(records)).Msg("probe: готово")
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
			logger.Warn().Int("tier", id).Msg("probe: неизвестный уровень в SOURCE_TIER_ORDER, пропускаем")
		}
	}
	return tiers
}

type probeOutput struct {
	Tier      int           `json:"tier"`
	Stale     bool          `json:"stale"`
	FetchedAt time.Time     `json:"fetched_at"`
	Reference time.Time     `json:"reference_time"`
	Records   []probeRecord `json:"records"`
}

type probeRecord struct {
	VisaType         string  `json:"visa_type"`
	Location         string  `json:"location"`
	EarliestDate     string  `json:"earliest_date"`
	Appointments     int     `json:"appointments"`
	FreshnessMinutes float64 `json:"freshness_minutes"`
	ParseFailed      bool    `json:"parse_failed,omitempty"`
}
