package normalize

import (
	"sort"
	"strings"
	"time"

	"visa-slot-watcher/internal/domain"
)

// sourceTimeLayout — формат отметок времени источника.
const sourceTimeLayout = "2006-01-02 15:04:05"

// Распознаваемые маркеры подтипа в скобках. Всё остальное даёт Other.
var knownSubtypes = map[string]string{
	"Dropbox":   "Dropbox",
	"Emergency": "Emergency",
	"Regular":   "Regular",
	"Blanket":   "Blanket",
}

// Варианты записи даты вида «27 Aug, 25», встречающиеся у источника.
var earliestDateLayouts = []string{
	"2 Jan, 06",
	"2 Jan 06",
	"2 Jan, 2006",
	"2 Jan 2006",
}

// Normalizer приводит сырые записи источника к каноническому виду.
// Чистое преобразование без ввода-вывода.
type Normalizer struct {
	correction time.Duration
	zone       *time.Location
}

var _ domain.Normalizer = (*Normalizer)(nil)

// New создаёт Normalizer с поправкой на отставание источника.
func New(correction time.Duration, zone *time.Location) *Normalizer {
	if zone == nil {
		zone = time.UTC
	}
	return &Normalizer{correction: correction, zone: zone}
}

// Normalize приводит одну запись к каноническому виду относительно
// опорного времени цикла.
func (n *Normalizer) Normalize(raw domain.RawRecord, ref time.Time) domain.NormalizedRecord {
	rec := domain.NormalizedRecord{RawRecord: raw}
	rec.BaseType = BaseType(raw.VisaType)
	rec.Subtype = Subtype(raw.VisaType)
	rec.CanonDate, rec.DateKnown = CanonDate(raw.EarliestDate)

	src, err := time.ParseInLocation(sourceTimeLayout, strings.TrimSpace(raw.SourceTime), n.zone)
	if err != nil {
		rec.ParseFailed = true
		return rec
	}
	rec.Freshness = ref.Sub(src) - n.correction
	return rec
}

// NormalizeAll разворачивает ответ источника в канонический набор цикла.
// Дубликаты по ключу (метка, локация) схлопываются: выживает последняя.
func (n *Normalizer) NormalizeAll(payload domain.RawPayload, ref time.Time) []domain.NormalizedRecord {
	labels := make([]string, 0, len(payload.Result))
	for label := range payload.Result {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	type recKey struct{ label, location string }
	index := make(map[recKey]int)
	records := make([]domain.NormalizedRecord, 0)
	for _, label := range labels {
		for _, raw := range payload.Result[label] {
			if raw.VisaType == "" {
				raw.VisaType = label
			}
			rec := n.Normalize(raw, ref)
			key := recKey{label: rec.VisaType, location: rec.Location}
			if pos, ok := index[key]; ok {
				records[pos] = rec
				continue
			}
			index[key] = len(records)
			records = append(records, rec)
		}
	}
	return records
}

// BaseType возвращает базовый тип визы без скобочного маркера.
func BaseType(visaType string) string {
	base, _, _ := strings.Cut(visaType, "(")
	return strings.TrimSpace(base)
}

// Subtype возвращает распознанный подтип либо Other.
func Subtype(visaType string) string {
	open := strings.Index(visaType, "(")
	if open < 0 {
		return "Other"
	}
	rest := visaType[open+1:]
	marker, _, found := strings.Cut(rest, ")")
	if !found {
		return "Other"
	}
	if sub, ok := knownSubtypes[strings.TrimSpace(marker)]; ok {
		return sub
	}
	return "Other"
}

// CanonDate приводит дату вида «27 Aug, 25» к сортируемому виду
// YYYY-MM-DD. Нераспознанные строки возвращаются как есть и
// сортируются после всех распознанных.
func CanonDate(dateStr string) (string, bool) {
	trimmed := strings.Join(strings.Fields(dateStr), " ")
	if trimmed == "" {
		return dateStr, false
	}
	for _, layout := range earliestDateLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return dateStr, false
}

// SortRecords упорядочивает записи для показа: распознанные даты по
// возрастанию, нераспознанные в конце, при равенстве — по локации.
func SortRecords(records []domain.NormalizedRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.DateKnown != b.DateKnown {
			return a.DateKnown
		}
		if a.CanonDate != b.CanonDate {
			return a.CanonDate < b.CanonDate
		}
		return a.Location < b.Location
	})
}

// Category возвращает человекочитаемую категорию базового типа визы.
func Category(visaType string) string {
	upper := strings.ToUpper(visaType)
	switch {
	case strings.Contains(upper, "B1") || strings.Contains(upper, "B2"):
		return "Business/Tourism"
	case strings.Contains(upper, "F1") || strings.Contains(upper, "F-1"):
		return "Student"
	case strings.Contains(upper, "H1B") || strings.Contains(upper, "H-1B"):
		return "Skilled Worker"
	case strings.Contains(upper, "L1") || strings.Contains(upper, "L-1"):
		return "Intracompany Transfer"
	case strings.Contains(upper, "O1") || strings.Contains(upper, "O-1"):
		return "Extraordinary Ability"
	case strings.Contains(upper, "J1") || strings.Contains(upper, "J-1"):
		return "Exchange Visitor"
	case strings.Contains(upper, "H4") || strings.Contains(upper, "H-4"):
		return "H4 Dependent"
	default:
		return "Other"
	}
}
