package markup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"visa-slot-watcher/internal/domain"
	"visa-slot-watcher/internal/infra/metrics"
)

const (
	userAgent   = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
	maxPageSize = 5 << 20
)

// Страница встраивает данные прямо в скрипты либо ссылается на JSON-файл.
// Шаблоны проверяются по порядку, побеждает первый давший рабочие данные.
var embeddedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?s)var\s+slotsData\s*=\s*(\{.*?\});`),
	regexp.MustCompile(`(?s)let\s+data\s*=\s*(\{.*?\});`),
	regexp.MustCompile(`(?s)const\s+visaData\s*=\s*(\{.*?\});`),
	regexp.MustCompile(`(?s)window\.visaSlots\s*=\s*(\{.*?\});`),
}

var s3URLPattern = regexp.MustCompile(`https://[^"]*\.s3[^"]*\.amazonaws\.com/[^"]*\.json`)

var linkedURLPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)url:\s*["']([^"']*\.json)["']`),
	regexp.MustCompile(`(?i)fetch\(["']([^"']*\.json)["']`),
	regexp.MustCompile(`(?i)ajax.*url.*["']([^"']*\.json)["']`),
}

// Extractor вытаскивает данные о слотах из разметки страницы, когда
// прямая выгрузка недоступна.
type Extractor struct {
	httpClient *http.Client
	pageURL    string
	limiter    *rate.Limiter
	log        zerolog.Logger
}

var _ domain.SlotTier = (*Extractor)(nil)

// New собирает экстрактор для страницы pageURL.
func New(pageURL string, limiter *rate.Limiter, logger zerolog.Logger) *Extractor {
	return &Extractor{
		httpClient: &http.Client{Timeout: 20 * time.Second},
		pageURL:    pageURL,
		limiter:    limiter,
		log:        logger,
	}
}

// ID возвращает номер уровня получения данных.
func (e *Extractor) ID() int { return domain.TierMarkup }

// Name возвращает короткое имя уровня для логов и метрик.
func (e *Extractor) Name() string { return "markup" }

// Attempt скачивает страницу и пытается достать данные: сначала из
// встроенных в скрипты объектов, затем по найденным в разметке ссылкам
// на JSON.
func (e *Extractor) Attempt(ctx context.Context) (domain.RawPayload, error) {
	page, err := e.fetchPage(ctx)
	if err != nil {
		return domain.RawPayload{}, fmt.Errorf("markup: %w: %v", domain.ErrTierFailed, err)
	}
	if payload, ok := e.extractEmbedded(page); ok {
		return payload, nil
	}
	if payload, ok := e.fetchLinkedData(ctx, page); ok {
		return payload, nil
	}
	return domain.RawPayload{}, fmt.Errorf("markup: %w: в разметке не нашлось данных", domain.ErrTierFailed)
}

func (e *Extractor) fetchPage(ctx context.Context) (string, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := e.httpClient.Do(req)
	metrics.ObserveNetworkRequest("source_markup", "get_page", hostOf(e.pageURL), start, err)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("статус %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return "", fmt.Errorf("чтение страницы: %w", err)
	}
	return string(body), nil
}

func (e *Extractor) extractEmbedded(page string) (domain.RawPayload, bool) {
	for _, pattern := range embeddedPatterns {
		m := pattern.FindStringSubmatch(page)
		if m == nil {
			continue
		}
		var payload domain.RawPayload
		if err := json.Unmarshal([]byte(m[1]), &payload); err != nil {
			e.log.Debug().Err(err).Str("pattern", pattern.String()).Msg("markup: встроенный объект не разобрался")
			continue
		}
		if payload.Result == nil {
			continue
		}
		return payload, true
	}
	return domain.RawPayload{}, false
}

func (e *Extractor) fetchLinkedData(ctx context.Context, page string) (domain.RawPayload, bool) {
	for _, target := range e.linkedURLs(page) {
		payload, err := e.fetchJSON(ctx, target)
		if err != nil {
			e.log.Warn().Err(err).Str("url", target).Msg("markup: ссылка на данные не сработала")
			continue
		}
		return payload, true
	}
	return domain.RawPayload{}, false
}

func (e *Extractor) linkedURLs(page string) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(target string) {
		if _, ok := seen[target]; ok {
			return
		}
		seen[target] = struct{}{}
		out = append(out, target)
	}
	if m := s3URLPattern.FindString(page); m != "" {
		add(m)
	}
	for _, pattern := range linkedURLPatterns {
		if m := pattern.FindStringSubmatch(page); m != nil {
			add(e.resolve(m[1]))
		}
	}
	return out
}

func (e *Extractor) resolve(ref string) string {
	base, err := url.Parse(e.pageURL)
	if err != nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

func (e *Extractor) fetchJSON(ctx context.Context, target string) (domain.RawPayload, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return domain.RawPayload{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return domain.RawPayload{}, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")

	start := time.Now()
	resp, err := e.httpClient.Do(req)
	metrics.ObserveNetworkRequest("source_markup", "get_data", hostOf(target), start, err)
	if err != nil {
		return domain.RawPayload{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.RawPayload{}, fmt.Errorf("статус %d", resp.StatusCode)
	}
	var payload domain.RawPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return domain.RawPayload{}, fmt.Errorf("разбор ответа: %w", err)
	}
	if payload.Result == nil {
		return domain.RawPayload{}, errors.New("ответ без поля result")
	}
	return payload, nil
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.TrimPrefix(raw, "https://")
	}
	return u.Host
}
