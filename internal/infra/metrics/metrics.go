package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	CycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "watch_cycle_seconds",
		Help:    "Длительность одного цикла опроса",
		Buckets: prometheus.DefBuckets,
	})
	CycleErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "watch_cycle_errors_total",
		Help: "Циклы, завершившиеся ошибкой",
	})
	TierUsed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fetch_tier_used_total",
		Help: "Каким уровнем получены данные цикла",
	}, []string{"tier"})
	TierFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fetch_tier_failures_total",
		Help: "Отказы уровней получения данных",
	}, []string{"tier"})
	FetchExhausted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fetch_exhausted_total",
		Help: "Циклы, в которых не дал данных ни один уровень",
	})
	RecordsLastCycle = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "records_last_cycle",
		Help: "Число записей в последнем цикле",
	})
	SnapshotAge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "snapshot_age_seconds",
		Help: "Возраст данных, использованных в последнем цикле",
	})
	AlertsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "alerts_sent_total",
		Help: "Успешно отправленные уведомления",
	})
	AlertsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "alerts_failed_total",
		Help: "Неудачные отправки уведомлений",
	})
	SubscriptionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "subscriptions_active",
		Help: "Текущее число подписок",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 25, 30, 45, 60, 90, 120},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	StorageOpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "storage_op_duration_seconds",
		Help:    "Длительность операций файлового хранилища",
		Buckets: prometheus.DefBuckets,
	}, []string{"op", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		CycleDuration,
		CycleErrors,
		TierUsed,
		TierFailures,
		FetchExhausted,
		RecordsLastCycle,
		SnapshotAge,
		AlertsSent,
		AlertsFailed,
		SubscriptionsActive,
		NetworkRequestDuration,
		NetworkRequestTotal,
		StorageOpDuration,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveStorageOp записывает длительность и статус операции хранилища.
func ObserveStorageOp(op string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	StorageOpDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
}

// ObserveCycle записывает итог завершившегося цикла.
func ObserveCycle(start time.Time, tier, records int, err error) {
	CycleDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		CycleErrors.Inc()
		return
	}
	TierUsed.WithLabelValues(strconv.Itoa(tier)).Inc()
	RecordsLastCycle.Set(float64(records))
}

// IncTierFailure отмечает отказ уровня получения данных.
func IncTierFailure(tier int) {
	TierFailures.WithLabelValues(strconv.Itoa(tier)).Inc()
}
