package alert

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"visa-slot-watcher/internal/domain"
	"visa-slot-watcher/internal/infra/metrics"
)

// Dispatcher рассылает уведомления совпавшим подпискам. Каждая отправка
// независима: отказ одной не трогает остальные.
type Dispatcher struct {
	notifier domain.Notifier
	alerts   domain.AlertLog
	stats    domain.StatsRepo
	limiter  *rate.Limiter
	workers  int
	log      zerolog.Logger
}

var _ domain.AlertDispatcher = (*Dispatcher)(nil)

// New собирает рассыльщика. workers ограничивает число одновременных
// отправок, limiter придерживает общий темп.
func New(notifier domain.Notifier, alerts domain.AlertLog, stats domain.StatsRepo, limiter *rate.Limiter, workers int, logger zerolog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	return &Dispatcher{
		notifier: notifier,
		alerts:   alerts,
		stats:    stats,
		limiter:  limiter,
		workers:  workers,
		log:      logger,
	}
}

// DispatchAll отправляет уведомления по всем совпадениям и возвращает
// число успешно доставленных.
func (d *Dispatcher) DispatchAll(ctx context.Context, matches []domain.Match, ref time.Time) int {
	if len(matches) == 0 {
		return 0
	}

	var (
		wg   sync.WaitGroup
		sent atomic.Int64
	)
	sem := make(chan struct{}, d.workers)
	for _, m := range matches {
		wg.Add(1)
		sem <- struct{}{}
		go func(m domain.Match) {
			defer wg.Done()
			defer func() { <-sem }()
			if d.dispatchOne(ctx, m, ref) {
				sent.Add(1)
			}
		}(m)
	}
	wg.Wait()
	return int(sent.Load())
}

func (d *Dispatcher) dispatchOne(ctx context.Context, m domain.Match, ref time.Time) bool {
	if err := d.limiter.Wait(ctx); err != nil {
		return false
	}

	msg := BuildAlertMessage(m, ref)
	err := d.notifier.Send(ctx, m.Subscription.Email, msg)

	event := domain.AlertEvent{
		ID:        uuid.NewString(),
		Email:     m.Subscription.Email,
		VisaTypes: m.Subscription.VisaTypes,
		Alerts:    len(m.Records),
		Success:   err == nil,
		SentAt:    time.Now(),
	}
	if aerr := d.alerts.Append(event); aerr != nil {
		d.log.Error().Err(aerr).Msg("alert: событие не записалось в журнал")
	}

	if err != nil {
		metrics.AlertsFailed.Inc()
		d.bumpStats(func(st *domain.Stats) { st.AlertsFailed++ })
		d.log.Error().Err(err).Str("email", event.Email).Msg("alert: уведомление не доставлено")
		return false
	}
	metrics.AlertsSent.Inc()
	d.bumpStats(func(st *domain.Stats) { st.AlertsSent++ })
	d.log.Info().Str("email", event.Email).Int("alerts", event.Alerts).Msg("alert: уведомление отправлено")
	return true
}

func (d *Dispatcher) bumpStats(fn func(*domain.Stats)) {
	if err := d.stats.UpdateStats(fn); err != nil {
		d.log.Error().Err(err).Msg("alert: не удалось обновить статистику")
	}
}
