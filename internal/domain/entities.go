package domain

import "time"

// Канонические номера уровней получения данных.
const (
	TierRendered = 1
	TierEndpoint = 2
	TierMarkup   = 3
	TierSnapshot = 4
)

// RawRecord описывает одну строку доступности слотов в том виде,
// в каком её отдаёт источник.
type RawRecord struct {
	Location     string `json:"visa_location"`
	VisaType     string `json:"visa_type"`
	SourceTime   string `json:"createdon"`
	DatesCount   int    `json:"no_of_dates"`
	Appointments int    `json:"no_of_apnts"`
	EarliestDate string `json:"earliest_date"`
}

// RawPayload — полный ответ источника: записи, сгруппированные по меткам виз,
// и серверная отметка времени в миллисекундах.
type RawPayload struct {
	Result    map[string][]RawRecord `json:"result"`
	CreatedOn int64                  `json:"createdon,omitempty"`
}

// NormalizedRecord дополняет сырую запись каноническими полями для сравнения.
type NormalizedRecord struct {
	RawRecord
	BaseType    string
	Subtype     string
	CanonDate   string
	DateKnown   bool
	Freshness   time.Duration
	ParseFailed bool
}

// FreshnessMinutes возвращает свежесть записи в минутах.
func (r NormalizedRecord) FreshnessMinutes() float64 {
	return r.Freshness.Minutes()
}

// FetchResult — результат одного прохода по уровням получения данных.
type FetchResult struct {
	Payload   RawPayload
	TierUsed  int
	FetchedAt time.Time
	Stale     bool
}

// Subscription — подписка на уведомления о свежих слотах.
// Email служит единственным ключом и сравнивается без нормализации.
type Subscription struct {
	Email        string
	VisaTypes    []string
	Locations    []string
	ThresholdMin int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Threshold возвращает порог свежести подписки как длительность.
func (s Subscription) Threshold() time.Duration {
	return time.Duration(s.ThresholdMin) * time.Minute
}

// Match — совпадения записей цикла с одной подпиской.
type Match struct {
	Subscription Subscription
	Records      []NormalizedRecord
}

// AlertMessage — содержимое уведомления для одного получателя.
type AlertMessage struct {
	Subject string
	Body    string
}

// AlertEvent — запись журнала рассылки.
type AlertEvent struct {
	ID        string
	Email     string
	VisaTypes []string
	Alerts    int
	Success   bool
	SentAt    time.Time
}

// CycleResult — итог одного цикла опроса.
type CycleResult struct {
	ID            string
	TierUsed      int
	Stale         bool
	Records       int
	ReferenceTime time.Time
	AlertsSent    int
	Subscribers   int
	FinishedAt    time.Time
}

// Stats — накопительные счётчики работы сервиса.
type Stats struct {
	AlertsSent   int       `json:"alerts_sent"`
	AlertsFailed int       `json:"alerts_failed"`
	SubsCreated  int       `json:"subscriptions_created"`
	SubsUpdated  int       `json:"subscriptions_updated"`
	SubsSaved    int       `json:"subscriptions_saved"`
	Checks       int       `json:"checks_performed"`
	LastStartup  time.Time `json:"last_startup"`
}
