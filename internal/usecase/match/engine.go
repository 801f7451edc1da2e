package match

import (
	"fmt"

	"visa-slot-watcher/internal/domain"
)

// Engine сопоставляет записи цикла с подписками.
type Engine struct {
	subs domain.SubscriptionRepo
}

var _ domain.Matcher = (*Engine)(nil)

// New собирает движок сопоставления поверх хранилища подписок.
func New(subs domain.SubscriptionRepo) *Engine {
	return &Engine{subs: subs}
}

// Evaluate возвращает по совпадению на каждую подписку, которой подошла
// хотя бы одна запись, и общее число проверенных подписок.
func (e *Engine) Evaluate(records []domain.NormalizedRecord) ([]domain.Match, int, error) {
	subs, err := e.subs.List()
	if err != nil {
		return nil, 0, fmt.Errorf("match: чтение подписок: %w", err)
	}

	var matches []domain.Match
	for _, sub := range subs {
		hits := MatchRecords(sub, records)
		if len(hits) == 0 {
			continue
		}
		matches = append(matches, domain.Match{Subscription: sub, Records: hits})
	}
	return matches, len(subs), nil
}

// MatchRecords отбирает записи, подходящие подписке: тип визы совпадает
// буквально, целиком, локация входит в список подписки (пустой список
// означает любую), свежесть не хуже порога. Записи с нечитаемым
// временем источника не участвуют.
func MatchRecords(sub domain.Subscription, records []domain.NormalizedRecord) []domain.NormalizedRecord {
	types := make(map[string]struct{}, len(sub.VisaTypes))
	for _, vt := range sub.VisaTypes {
		types[vt] = struct{}{}
	}
	locations := make(map[string]struct{}, len(sub.Locations))
	for _, loc := range sub.Locations {
		locations[loc] = struct{}{}
	}

	var hits []domain.NormalizedRecord
	for _, rec := range records {
		if rec.ParseFailed {
			continue
		}
		if _, ok := types[rec.VisaType]; !ok {
			continue
		}
		if len(locations) > 0 {
			if _, ok := locations[rec.Location]; !ok {
				continue
			}
		}
		if rec.Freshness > sub.Threshold() {
			continue
		}
		hits = append(hits, rec)
	}
	return hits
}
