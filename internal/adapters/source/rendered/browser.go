package rendered

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"visa-slot-watcher/internal/domain"
	"visa-slot-watcher/internal/infra/metrics"
)

const (
	userAgent        = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
	sourceTimeLayout = "2006-01-02 15:04:05"
)

// Таблица на странице заполняется скриптом, поэтому ждём появления строк
// и забираем уже отрисованные ячейки.
const rowsScript = `
Array.from(document.querySelectorAll("table tbody tr")).map(tr => {
	const cells = Array.from(tr.querySelectorAll("td")).map(td => td.innerText.trim());
	return {
		location: cells[0] || "",
		visa_type: cells[1] || "",
		earliest_date: cells[2] || "",
		appointments: cells[3] || "",
		updated: cells[4] || ""
	};
})
`

var digitsPattern = regexp.MustCompile(`\d+`)

var updatedLayouts = []string{
	"Jan 2, 2006, 3:04 PM",
	"Jan 2, 2006 3:04 PM",
	"2 Jan 2006, 3:04 PM",
}

type tableRow struct {
	Location     string `json:"location"`
	VisaType     string `json:"visa_type"`
	EarliestDate string `json:"earliest_date"`
	Appointments string `json:"appointments"`
	Updated      string `json:"updated"`
}

// Browser получает данные из страницы, исполняя её скрипты в безголовом
// Chrome. Самый свежий, но и самый хрупкий уровень.
type Browser struct {
	pageURL string
	enabled bool
	limiter *rate.Limiter
	log     zerolog.Logger
}

var _ domain.SlotTier = (*Browser)(nil)

// New собирает браузерный уровень. При enabled=false уровень всегда
// отвечает отказом и цепочка сразу переходит к прямой выгрузке.
func New(pageURL string, enabled bool, limiter *rate.Limiter, logger zerolog.Logger) *Browser {
	return &Browser{pageURL: pageURL, enabled: enabled, limiter: limiter, log: logger}
}

// ID возвращает номер уровня получения данных.
func (b *Browser) ID() int { return domain.TierRendered }

// Name возвращает короткое имя уровня для логов и метрик.
func (b *Browser) Name() string { return "rendered" }

// Attempt открывает страницу в безголовом Chrome, дожидается таблицы и
// собирает её строки в исходный формат выгрузки.
func (b *Browser) Attempt(ctx context.Context) (domain.RawPayload, error) {
	if !b.enabled {
		return domain.RawPayload{}, fmt.Errorf("rendered: %w: уровень отключён конфигурацией", domain.ErrTierFailed)
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return domain.RawPayload{}, err
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.UserAgent(userAgent),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	var rows []tableRow
	start := time.Now()
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(b.pageURL),
		chromedp.WaitVisible("table tbody tr", chromedp.ByQuery),
		chromedp.Evaluate(rowsScript, &rows),
	)
	metrics.ObserveNetworkRequest("source_rendered", "render", hostOf(b.pageURL), start, err)
	if err != nil {
		return domain.RawPayload{}, fmt.Errorf("rendered: %w: %v", domain.ErrTierFailed, err)
	}

	payload, err := buildPayload(rows, time.Now())
	if err != nil {
		return domain.RawPayload{}, err
	}
	b.log.Debug().Int("rows", len(rows)).Int("types", len(payload.Result)).Msg("rendered: таблица разобрана")
	return payload, nil
}

func buildPayload(rows []tableRow, fetchedAt time.Time) (domain.RawPayload, error) {
	result := make(map[string][]domain.RawRecord)
	for _, row := range rows {
		if row.Location == "" || row.VisaType == "" {
			continue
		}
		result[row.VisaType] = append(result[row.VisaType], domain.RawRecord{
			Location:     row.Location,
			VisaType:     row.VisaType,
			SourceTime:   parseUpdated(row.Updated, fetchedAt),
			DatesCount:   1,
			Appointments: parseCount(row.Appointments),
			EarliestDate: row.EarliestDate,
		})
	}
	if len(result) == 0 {
		return domain.RawPayload{}, fmt.Errorf("rendered: %w: таблица без пригодных строк", domain.ErrTierFailed)
	}
	return domain.RawPayload{Result: result, CreatedOn: fetchedAt.UnixMilli()}, nil
}

// parseUpdated переводит время из ячейки таблицы в формат выгрузки.
// Нечитаемое время заменяется временем загрузки страницы.
func parseUpdated(cell string, fetchedAt time.Time) string {
	for _, layout := range updatedLayouts {
		if t, err := time.Parse(layout, cell); err == nil {
			return t.Format(sourceTimeLayout)
		}
	}
	return fetchedAt.Format(sourceTimeLayout)
}

func parseCount(cell string) int {
	m := digitsPattern.FindString(cell)
	if m == "" {
		return 0
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	return n
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Host
}
