package endpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"visa-slot-watcher/internal/domain"
	"visa-slot-watcher/internal/infra/metrics"
)

const userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

// Client опрашивает JSON-выгрузку источника напрямую, минуя страницу.
type Client struct {
	httpClient *http.Client
	urls       []string
	retries    int
	retryDelay time.Duration
	limiter    *rate.Limiter
	log        zerolog.Logger
}

var _ domain.SlotTier = (*Client)(nil)

// New собирает клиента прямой выгрузки. Первый URL считается основным,
// остальные запасными зеркалами.
func New(urls []string, retries int, retryDelay time.Duration, limiter *rate.Limiter, logger zerolog.Logger) *Client {
	if retries < 0 {
		retries = 0
	}
	return &Client{
		httpClient: &http.Client{Timeout: 20 * time.Second},
		urls:       urls,
		retries:    retries,
		retryDelay: retryDelay,
		limiter:    limiter,
		log:        logger,
	}
}

// ID возвращает номер уровня получения данных.
func (c *Client) ID() int { return domain.TierEndpoint }

// Name возвращает короткое имя уровня для логов и метрик.
func (c *Client) Name() string { return "endpoint" }

// Attempt выполняет серию запросов с постоянной паузой между повторами.
// Зеркала перебираются по кругу: каждая следующая попытка идёт на
// следующий URL.
func (c *Client) Attempt(ctx context.Context) (domain.RawPayload, error) {
	if len(c.urls) == 0 {
		return domain.RawPayload{}, fmt.Errorf("endpoint: %w: не задан URL выгрузки", domain.ErrTierFailed)
	}

	var payload domain.RawPayload
	attempt := 0
	op := func() error {
		target := c.urls[attempt%len(c.urls)]
		attempt++
		p, err := c.fetchOnce(ctx, target)
		if err != nil {
			c.log.Warn().Err(err).Str("url", target).Msg("endpoint: попытка не удалась")
			return err
		}
		payload = p
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryDelay), uint64(c.retries)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return domain.RawPayload{}, fmt.Errorf("endpoint: %w: %v", domain.ErrTierFailed, err)
	}
	return payload, nil
}

func (c *Client) fetchOnce(ctx context.Context, target string) (domain.RawPayload, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.RawPayload{}, err
	}

	u, err := url.Parse(target)
	if err != nil {
		return domain.RawPayload{}, fmt.Errorf("разбор URL: %w", err)
	}
	// Промежуточные кэши обязаны считать каждый запрос уникальным.
	q := u.Query()
	q.Set("t", fmt.Sprintf("%d", time.Now().UnixMilli()))
	q.Set("nocache", uuid.NewString())
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return domain.RawPayload{}, err
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.ObserveNetworkRequest("source_endpoint", "get", u.Host, start, err)
	if err != nil {
		return domain.RawPayload{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.RawPayload{}, fmt.Errorf("статус %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload domain.RawPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return domain.RawPayload{}, fmt.Errorf("разбор ответа: %w", err)
	}
	return payload, nil
}
