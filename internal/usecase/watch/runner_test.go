package watch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"visa-slot-watcher/internal/domain"
)

type stubFetcher struct {
	res domain.FetchResult
	err error
}

func (s *stubFetcher) Fetch(ctx context.Context) (domain.FetchResult, error) {
	return s.res, s.err
}

type stubNormalizer struct {
	records []domain.NormalizedRecord
}

func (s *stubNormalizer) NormalizeAll(payload domain.RawPayload, ref time.Time) []domain.NormalizedRecord {
	return s.records
}

type stubMatcher struct {
	matches []domain.Match
	checked int
	err     error
}

func (s *stubMatcher) Evaluate(records []domain.NormalizedRecord) ([]domain.Match, int, error) {
	return s.matches, s.checked, s.err
}

type stubDispatcher struct {
	sent   int
	called bool
}

func (s *stubDispatcher) DispatchAll(ctx context.Context, matches []domain.Match, ref time.Time) int {
	s.called = true
	return s.sent
}

type stubCycles struct {
	saved []domain.CycleResult
	err   error
}

func (s *stubCycles) SaveCycle(res domain.CycleResult) error {
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, res)
	return nil
}

func (s *stubCycles) LastCycle() (domain.CycleResult, error) {
	return domain.CycleResult{}, domain.ErrCycleMissing
}

type stubStats struct {
	st domain.Stats
}

func (s *stubStats) UpdateStats(fn func(*domain.Stats)) error {
	fn(&s.st)
	return nil
}

func (s *stubStats) Stats() (domain.Stats, error) { return s.st, nil }
func (s *stubStats) ResetStats() error            { return nil }

func TestRunCycleHappyPath(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	fetcher := &stubFetcher{res: domain.FetchResult{
		TierUsed:  domain.TierEndpoint,
		FetchedAt: time.Now(),
	}}
	normalizer := &stubNormalizer{records: make([]domain.NormalizedRecord, 2)}
	matcher := &stubMatcher{matches: []domain.Match{{}}, checked: 3}
	dispatcher := &stubDispatcher{sent: 1}
	cycles := &stubCycles{}
	stats := &stubStats{}

	r := NewRunner(fetcher, normalizer, matcher, dispatcher, cycles, stats, ist, zerolog.Nop())
	if err := r.RunCycle(context.Background()); err != nil {
		t.Fatalf("цикл должен был пройти: %v", err)
	}

	if len(cycles.saved) != 1 {
		t.Fatalf("отметка цикла не сохранилась")
	}
	got := cycles.saved[0]
	if got.TierUsed != domain.TierEndpoint || got.Records != 2 || got.AlertsSent != 1 || got.Subscribers != 3 {
		t.Fatalf("отметка заполнена неверно: %+v", got)
	}
	if got.ID == "" {
		t.Fatalf("отметка без идентификатора")
	}
	if _, off := got.ReferenceTime.Zone(); off != 5*3600+1800 {
		t.Fatalf("опорное время должно быть в поясе источника, смещение %d", off)
	}
	if stats.st.Checks != 1 {
		t.Fatalf("счётчик проверок не вырос: %+v", stats.st)
	}
}

func TestRunCycleFetchErrorPropagates(t *testing.T) {
	fetcher := &stubFetcher{err: domain.ErrFetchExhausted}
	dispatcher := &stubDispatcher{}
	cycles := &stubCycles{}

	r := NewRunner(fetcher, &stubNormalizer{}, &stubMatcher{}, dispatcher, cycles, &stubStats{}, nil, zerolog.Nop())
	if err := r.RunCycle(context.Background()); !errors.Is(err, domain.ErrFetchExhausted) {
		t.Fatalf("ожидали ErrFetchExhausted, получили %v", err)
	}
	if dispatcher.called {
		t.Fatalf("без данных рассылка не должна запускаться")
	}
	if len(cycles.saved) != 0 {
		t.Fatalf("неудачный цикл не должен оставлять отметку")
	}
}

func TestRunCycleMatcherErrorPropagates(t *testing.T) {
	fetcher := &stubFetcher{res: domain.FetchResult{TierUsed: domain.TierEndpoint, FetchedAt: time.Now()}}
	matcher := &stubMatcher{err: errors.New("хранилище подписок отвалилось")}
	dispatcher := &stubDispatcher{}

	r := NewRunner(fetcher, &stubNormalizer{}, matcher, dispatcher, &stubCycles{}, &stubStats{}, nil, zerolog.Nop())
	if err := r.RunCycle(context.Background()); err == nil {
		t.Fatalf("ошибка сопоставления должна подниматься наверх")
	}
	if dispatcher.called {
		t.Fatalf("после ошибки сопоставления рассылка не должна запускаться")
	}
}

func TestRunCycleMarkerFailureNotFatal(t *testing.T) {
	fetcher := &stubFetcher{res: domain.FetchResult{TierUsed: domain.TierMarkup, FetchedAt: time.Now()}}
	cycles := &stubCycles{err: errors.New("диск переполнен")}

	r := NewRunner(fetcher, &stubNormalizer{}, &stubMatcher{}, &stubDispatcher{}, cycles, &stubStats{}, nil, zerolog.Nop())
	if err := r.RunCycle(context.Background()); err != nil {
		t.Fatalf("ошибка отметки не должна ронять цикл: %v", err)
	}
}
