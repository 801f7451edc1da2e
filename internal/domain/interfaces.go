package domain

import (
	"context"
	"time"
)

// SlotTier — одна стратегия получения данных источника.
// Attempt либо возвращает полный сырой ответ, либо ошибку; частичные
// результаты не возвращаются.
type SlotTier interface {
	ID() int
	Name() string
	Attempt(ctx context.Context) (RawPayload, error)
}

// SlotFetcher перебирает уровни получения данных до первого успеха.
type SlotFetcher interface {
	Fetch(ctx context.Context) (FetchResult, error)
}

// Normalizer приводит сырые записи к каноническому виду.
type Normalizer interface {
	NormalizeAll(payload RawPayload, ref time.Time) []NormalizedRecord
}

// Matcher сопоставляет записи цикла с подписками.
// Возвращает совпадения и число проверенных подписок.
type Matcher interface {
	Evaluate(records []NormalizedRecord) ([]Match, int, error)
}

// AlertDispatcher рассылает уведомления по совпадениям.
// Возвращает число успешно отправленных уведомлений.
type AlertDispatcher interface {
	DispatchAll(ctx context.Context, matches []Match, ref time.Time) int
}

// SubscriptionRepo управляет подписками.
type SubscriptionRepo interface {
	Upsert(sub Subscription) (Subscription, bool, error)
	Remove(email string) error
	Get(email string) (Subscription, error)
	List() ([]Subscription, error)
}

// SnapshotRepo хранит последний удачный сырой ответ источника.
type SnapshotRepo interface {
	SaveSnapshot(payload RawPayload, fetchedAt time.Time) error
	LoadSnapshot() (RawPayload, time.Time, error)
}

// AlertLog — ограниченный журнал отправленных уведомлений;
// переполнение вытесняет самые старые записи.
type AlertLog interface {
	Append(event AlertEvent) error
	Recent(limit int) ([]AlertEvent, error)
}

// CycleRepo сохраняет отметку последнего завершённого цикла.
type CycleRepo interface {
	SaveCycle(res CycleResult) error
	LastCycle() (CycleResult, error)
}

// StatsRepo — счётчики работы сервиса.
type StatsRepo interface {
	UpdateStats(fn func(*Stats)) error
	Stats() (Stats, error)
	ResetStats() error
}

// Notifier отправляет уведомление получателю. Механика доставки
// скрыта за адаптером; ошибка означает неудачу всей отправки.
type Notifier interface {
	Send(ctx context.Context, recipient string, msg AlertMessage) error
}
