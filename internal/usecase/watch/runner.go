package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"visa-slot-watcher/internal/domain"
	"visa-slot-watcher/internal/infra/metrics"
)

// Runner выполняет один цикл проверки: получение данных, нормализация,
// сопоставление с подписками и рассылка уведомлений.
type Runner struct {
	fetcher    domain.SlotFetcher
	normalizer domain.Normalizer
	matcher    domain.Matcher
	dispatcher domain.AlertDispatcher
	cycles     domain.CycleRepo
	stats      domain.StatsRepo
	zone       *time.Location
	log        zerolog.Logger
}

// NewRunner собирает исполнителя цикла. zone задаёт часовой пояс
// источника, от которого считается свежесть записей.
func NewRunner(
	fetcher domain.SlotFetcher,
	normalizer domain.Normalizer,
	matcher domain.Matcher,
	dispatcher domain.AlertDispatcher,
	cycles domain.CycleRepo,
	stats domain.StatsRepo,
	zone *time.Location,
	logger zerolog.Logger,
) *Runner {
	if zone == nil {
		zone = time.UTC
	}
	return &Runner{
		fetcher:    fetcher,
		normalizer: normalizer,
		matcher:    matcher,
		dispatcher: dispatcher,
		cycles:     cycles,
		stats:      stats,
		zone:       zone,
		log:        logger,
	}
}

// RunCycle прогоняет полный цикл проверки. Ошибкой цикла считаются
// только невозможность получить данные и отказ хранилища подписок;
// сбои отдельных отправок и записи отметки цикл не роняют.
func (r *Runner) RunCycle(ctx context.Context) error {
	start := time.Now()
	ref := start.In(r.zone)

	res, err := r.fetcher.Fetch(ctx)
	if err != nil {
		metrics.ObserveCycle(start, 0, 0, err)
		return fmt.Errorf("watch: получение данных: %w", err)
	}

	records := r.normalizer.NormalizeAll(res.Payload, ref)
	matches, checked, err := r.matcher.Evaluate(records)
	if err != nil {
		metrics.ObserveCycle(start, res.TierUsed, len(records), err)
		return fmt.Errorf("watch: сопоставление: %w", err)
	}

	sent := r.dispatcher.DispatchAll(ctx, matches, ref)

	cycle := domain.CycleResult{
		ID:            uuid.NewString(),
		TierUsed:      res.TierUsed,
		Stale:         res.Stale,
		Records:       len(records),
		ReferenceTime: ref,
		AlertsSent:    sent,
		Subscribers:   checked,
		FinishedAt:    time.Now(),
	}
	if err := r.cycles.SaveCycle(cycle); err != nil {
		r.log.Error().Err(err).Msg("watch: отметка цикла не сохранилась")
	}
	if err := r.stats.UpdateStats(func(st *domain.Stats) { st.Checks++ }); err != nil {
		r.log.Error().Err(err).Msg("watch: статистика не обновилась")
	}

	metrics.ObserveCycle(start, res.TierUsed, len(records), nil)
	metrics.SnapshotAge.Set(time.Since(res.FetchedAt).Seconds())
	r.log.Info().
		Int("tier", res.TierUsed).
		Bool("stale", res.Stale).
		Int("records", len(records)).
		Int("matches", len(matches)).
		Int("sent", sent).
		Int("subscribers", checked).
		Msg("watch: цикл завершён")
	return nil
}
