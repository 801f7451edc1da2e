package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"visa-slot-watcher/internal/domain"
	"visa-slot-watcher/internal/infra/metrics"
)

// Fetcher перебирает уровни получения данных по порядку и отдаёт ответ
// первого удачного. Результаты уровней никогда не смешиваются: цикл
// работает с данными ровно одного уровня.
type Fetcher struct {
	tiers    []domain.SlotTier
	snapshot domain.SnapshotRepo
	timeout  time.Duration
	log      zerolog.Logger
}

var _ domain.SlotFetcher = (*Fetcher)(nil)

// New собирает цепочку уровней. timeout ограничивает каждый уровень
// по отдельности.
func New(tiers []domain.SlotTier, snapshot domain.SnapshotRepo, timeout time.Duration, logger zerolog.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = 25 * time.Second
	}
	return &Fetcher{tiers: tiers, snapshot: snapshot, timeout: timeout, log: logger}
}

// Fetch возвращает данные первого отработавшего уровня. Удачный живой
// ответ тут же сохраняется как снапшот. Когда живые уровни исчерпаны,
// отдаётся снапшот с пометкой stale, каким бы старым он ни был; без
// снапшота возвращается ErrFetchExhausted.
func (f *Fetcher) Fetch(ctx context.Context) (domain.FetchResult, error) {
	for _, tier := range f.tiers {
		payload, err := f.attemptTier(ctx, tier)
		if err != nil {
			metrics.IncTierFailure(tier.ID())
			f.log.Warn().Err(err).Str("tier", tier.Name()).Msg("fetch: уровень не дал данных")
			if ctx.Err() != nil {
				return domain.FetchResult{}, ctx.Err()
			}
			continue
		}

		fetchedAt := time.Now()
		if err := f.snapshot.SaveSnapshot(payload, fetchedAt); err != nil {
			f.log.Error().Err(err).Msg("fetch: снапшот не сохранился")
		}
		f.log.Info().Str("tier", tier.Name()).Int("types", len(payload.Result)).Msg("fetch: данные получены")
		return domain.FetchResult{Payload: payload, TierUsed: tier.ID(), FetchedAt: fetchedAt}, nil
	}

	payload, savedAt, err := f.snapshot.LoadSnapshot()
	if err != nil {
		metrics.FetchExhausted.Inc()
		return domain.FetchResult{}, fmt.Errorf("fetch: %w", domain.ErrFetchExhausted)
	}
	f.log.Warn().Time("saved_at", savedAt).Msg("fetch: живые уровни недоступны, отдаём сохранённые данные")
	return domain.FetchResult{
		Payload:   payload,
		TierUsed:  domain.TierSnapshot,
		FetchedAt: savedAt,
		Stale:     true,
	}, nil
}

func (f *Fetcher) attemptTier(ctx context.Context, tier domain.SlotTier) (domain.RawPayload, error) {
	tierCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	payload, err := tier.Attempt(tierCtx)
	if err != nil {
		return domain.RawPayload{}, err
	}
	if err := validatePayload(payload); err != nil {
		return domain.RawPayload{}, err
	}
	return payload, nil
}

// validatePayload отсекает ответы, с которыми дальше нечего делать.
// Пустой result допустим: отсутствие слотов тоже данные.
func validatePayload(payload domain.RawPayload) error {
	if payload.Result == nil {
		return fmt.Errorf("%w: нет поля result", domain.ErrMalformedPayload)
	}
	for label, records := range payload.Result {
		for _, rec := range records {
			if label == "" && rec.VisaType == "" && rec.Location == "" {
				return fmt.Errorf("%w: запись без типа визы и локации", domain.ErrMalformedPayload)
			}
		}
	}
	return nil
}
