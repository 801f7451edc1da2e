package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"visa-slot-watcher/internal/adapters/sender/smtp"
	"visa-slot-watcher/internal/adapters/sender/telegram"
	"visa-slot-watcher/internal/adapters/store"
	"visa-slot-watcher/internal/domain"
	"visa-slot-watcher/internal/infra/config"
	httpinfra "visa-slot-watcher/internal/infra/http"
	applog "visa-slot-watcher/internal/infra/log"
	"visa-slot-watcher/internal/infra/metrics"
	"visa-slot-watcher/internal/usecase/alert"
	"visa-slot-watcher/internal/usecase/normalize"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fileStore, err := store.NewFiles(cfg.Store.Dir, cfg.Store.AlertLogLimit, logger.With().Str("component", "store").Logger())
	if err != nil {
		logger.Fatal().Err(err).Msg("api: не удалось открыть хранилище")
	}

	zone, err := time.LoadLocation(cfg.Normalize.Timezone)
	if err != nil {
		logger.Fatal().Err(err).Str("tz", cfg.Normalize.Timezone).Msg("api: неизвестный часовой пояс (REFERENCE_TZ)")
	}
	normalizer := normalize.New(cfg.Normalize.Correction, zone)

	// Канал доставки здесь нужен только для подтверждений и тестовых
	// уведомлений, поэтому его отсутствие не мешает запуску.
	notifier, err := buildNotifier(cfg, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("api: канал доставки не настроен, подтверждения отключены")
		notifier = nil
	}

	srv := httpinfra.NewServer(logger.With().Str("component", "http").Logger())

	srv.Router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"service": "visa-slot-watcher",
			"status":  "ok",
		}
		if _, fetchedAt, err := fileStore.LoadSnapshot(); err == nil {
			resp["snapshot_age_seconds"] = int(time.Since(fetchedAt).Seconds())
		}
		if cycle, err := fileStore.LastCycle(); err == nil {
			resp["last_check"] = toCycleSummary(cycle)
		}
		writeJSON(w, resp)
	})

	srv.Router.Post("/subscribe", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req subscribeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.Email = strings.TrimSpace(req.Email)
		if req.Email == "" {
			writeError(w, http.StatusBadRequest, "email is required")
			return
		}
		if _, err := mail.ParseAddress(req.Email); err != nil {
			writeError(w, http.StatusBadRequest, "invalid email address")
			return
		}
		if len(req.VisaTypes) == 0 {
			writeError(w, http.StatusBadRequest, "select at least one visa type")
			return
		}
		if req.ThresholdMin < 0 {
			writeError(w, http.StatusBadRequest, "alert_threshold must be positive")
			return
		}
		if req.ThresholdMin == 0 {
			req.ThresholdMin = cfg.Alerts.DefaultThreshold
		}
		sub, created, err := fileStore.Upsert(domain.Subscription{
			Email:        req.Email,
			VisaTypes:    req.VisaTypes,
			Locations:    req.Locations,
			ThresholdMin: req.ThresholdMin,
		})
		if err != nil {
			logger.Error().Err(err).Str("email", req.Email).Msg("api: не удалось сохранить подписку")
			writeError(w, http.StatusInternalServerError, "failed to save subscription")
			return
		}
		if notifier != nil {
			go sendConfirmation(notifier, sub, logger)
		}
		status := "updated"
		if created {
			status = "created"
		}
		writeJSON(w, map[string]any{
			"status":       status,
			"subscription": toSubscriptionResponse(sub),
		})
	})

	srv.Router.Post("/unsubscribe", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req unsubscribeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.Email = strings.TrimSpace(req.Email)
		if req.Email == "" {
			writeError(w, http.StatusBadRequest, "email is required")
			return
		}
		if err := fileStore.Remove(req.Email); err != nil {
			if errors.Is(err, domain.ErrSubscriptionNotFound) {
				writeError(w, http.StatusNotFound, "subscription not found")
				return
			}
			logger.Error().Err(err).Str("email", req.Email).Msg("api: не удалось удалить подписку")
			writeError(w, http.StatusInternalServerError, "failed to remove subscription")
			return
		}
		writeJSON(w, map[string]string{"status": "unsubscribed"})
	})

	srv.Router.Get("/my-subscription/{email}", func(w http.ResponseWriter, r *http.Request) {
		email := chi.URLParam(r, "email")
		sub, err := fileStore.Get(email)
		if err != nil {
			if errors.Is(err, domain.ErrSubscriptionNotFound) {
				writeError(w, http.StatusNotFound, "subscription not found")
				return
			}
			logger.Error().Err(err).Str("email", email).Msg("api: не удалось прочитать подписку")
			writeError(w, http.StatusInternalServerError, "failed to load subscription")
			return
		}
		writeJSON(w, toSubscriptionResponse(sub))
	})

	srv.Router.Post("/update-threshold", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req updateThresholdRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.Email = strings.TrimSpace(req.Email)
		if req.Email == "" {
			writeError(w, http.StatusBadRequest, "email is required")
			return
		}
		if req.ThresholdMin <= 0 {
			writeError(w, http.StatusBadRequest, "alert_threshold must be positive")
			return
		}
		sub, err := fileStore.Get(req.Email)
		if err != nil {
			if errors.Is(err, domain.ErrSubscriptionNotFound) {
				writeError(w, http.StatusNotFound, "subscription not found")
				return
			}
			logger.Error().Err(err).Str("email", req.Email).Msg("api: не удалось прочитать подписку")
			writeError(w, http.StatusInternalServerError, "failed to load subscription")
			return
		}
		sub.ThresholdMin = req.ThresholdMin
		updated, _, err := fileStore.Upsert(sub)
		if err != nil {
			logger.Error().Err(err).Str("email", req.Email).Msg("api: не удалось сохранить порог")
			writeError(w, http.StatusInternalServerError, "failed to save subscription")
			return
		}
		writeJSON(w, map[string]any{
			"status":       "updated",
			"subscription": toSubscriptionResponse(updated),
		})
	})

	srv.Router.Get("/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		subs, err := fileStore.List()
		if err != nil {
			logger.Error().Err(err).Msg("api: не удалось получить подписки")
			writeError(w, http.StatusInternalServerError, "failed to load subscriptions")
			return
		}
		writeJSON(w, map[string]any{
			"count":             len(subs),
			"threshold_options": cfg.Alerts.ThresholdOptions,
			"default_threshold": cfg.Alerts.DefaultThreshold,
		})
	})

	srv.Router.Get("/availability", func(w http.ResponseWriter, r *http.Request) {
		payload, fetchedAt, err := fileStore.LoadSnapshot()
		if err != nil {
			if errors.Is(err, domain.ErrSnapshotMissing) {
				writeError(w, http.StatusNotFound, "no availability data yet")
				return
			}
			logger.Error().Err(err).Msg("api: не удалось прочитать снапшот")
			writeError(w, http.StatusInternalServerError, "failed to load availability")
			return
		}
		ref := time.Now().In(zone)
		records := normalizer.NormalizeAll(payload, ref)
		normalize.SortRecords(records)

		groups := make(map[string]*availabilityGroup)
		for _, rec := range records {
			g, ok := groups[rec.BaseType]
			if !ok {
				g = &availabilityGroup{
					VisaType: rec.BaseType,
					Category: normalize.Category(rec.BaseType),
				}
				groups[rec.BaseType] = g
			}
			g.Slots = append(g.Slots, availabilitySlot{
				Location:         rec.Location,
				VisaType:         rec.VisaType,
				EarliestDate:     rec.CanonDate,
				Appointments:     rec.Appointments,
				FreshnessMinutes: rec.FreshnessMinutes(),
				ParseFailed:      rec.ParseFailed,
			})
		}
		baseTypes := make([]string, 0, len(groups))
		for base := range groups {
			baseTypes = append(baseTypes, base)
		}
		sort.Strings(baseTypes)
		out := make([]availabilityGroup, 0, len(baseTypes))
		for _, base := range baseTypes {
			out = append(out, *groups[base])
		}
		writeJSON(w, map[string]any{
			"fetched_at":  fetchedAt,
			"age_seconds": int(time.Since(fetchedAt).Seconds()),
			"visa_types":  out,
		})
	})

	srv.Router.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		stats, err := fileStore.Stats()
		if err != nil {
			logger.Error().Err(err).Msg("api: не удалось прочитать счётчики")
			writeError(w, http.StatusInternalServerError, "failed to load stats")
			return
		}
		resp := map[string]any{"stats": stats}
		if cycle, err := fileStore.LastCycle(); err == nil {
			resp["last_check"] = toCycleSummary(cycle)
		} else if !errors.Is(err, domain.ErrCycleMissing) {
			logger.Error().Err(err).Msg("api: не удалось прочитать отметку цикла")
		}
		writeJSON(w, resp)
	})

	srv.Router.Post("/test-alert", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req testAlertRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.Email = strings.TrimSpace(req.Email)
		if req.Email == "" {
			writeError(w, http.StatusBadRequest, "email is required")
			return
		}
		if notifier == nil {
			writeError(w, http.StatusServiceUnavailable, "alert channel is not configured")
			return
		}
		msg := alert.BuildTestMessage(time.Now())
		if err := notifier.Send(r.Context(), req.Email, msg); err != nil {
			logger.Error().Err(err).Str("email", req.Email).Msg("api: не удалось отправить тестовое уведомление")
			writeError(w, http.StatusBadGateway, "failed to send test alert")
			return
		}
		writeJSON(w, map[string]string{"status": "sent"})
	})

	srv.Router.Group(func(admin chi.Router) {
		admin.Use(httpinfra.AdminTokenMiddleware(cfg.AdminToken))

		admin.Get("/admin/subscriptions", func(w http.ResponseWriter, r *http.Request) {
			subs, err := fileStore.List()
			if err != nil {
				logger.Error().Err(err).Msg("api: не удалось получить подписки")
				writeError(w, http.StatusInternalServerError, "failed to load subscriptions")
				return
			}
			out := make([]subscriptionResponse, 0, len(subs))
			for _, sub := range subs {
				out = append(out, toSubscriptionResponse(sub))
			}
			writeJSON(w, map[string]any{
				"count":         len(out),
				"subscriptions": out,
			})
		})

		admin.Post("/admin/backup", func(w http.ResponseWriter, r *http.Request) {
			if err := fileStore.Backup(); err != nil {
				logger.Error().Err(err).Msg("api: не удалось создать резервную копию")
				writeError(w, http.StatusInternalServerError, "failed to back up subscriptions")
				return
			}
			writeJSON(w, map[string]string{"status": "ok"})
		})

		admin.Post("/admin/reset-stats", func(w http.ResponseWriter, r *http.Request) {
			if err := fileStore.ResetStats(); err != nil {
				logger.Error().Err(err).Msg("api: не удалось сбросить счётчики")
				writeError(w, http.StatusInternalServerError, "failed to reset stats")
				return
			}
			writeJSON(w, map[string]string{"status": "ok"})
		})
	})

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)
	go func() {
		logger.Info().Int("port", cfg.Port).Msg("api: старт")
		if err := srv.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("api: сервер остановлен")
		}
	}()
	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// buildNotifier выбирает канал доставки уведомлений по конфигурации.
func buildNotifier(cfg config.AppConfig, logger zerolog.Logger) (domain.Notifier, error) {
	switch strings.ToLower(cfg.Alerts.Sender) {
	case "smtp":
		if cfg.SMTP.Host == "" {
			return nil, errors.New("не указан SMTP сервер (SMTP_HOST)")
		}
		from := cfg.SMTP.From
		if from == "" {
			from = cfg.SMTP.Username
		}
		return smtp.New(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, from, logger.With().Str("component", "smtp").Logger())
	case "telegram":
		if cfg.Telegram.Token == "" {
			return nil, errors.New("не указан токен Telegram (TG_BOT_TOKEN)")
		}
		return telegram.New(cfg.Telegram.Token, logger.With().Str("component", "telegram").Logger())
	default:
		return nil, fmt.Errorf("неизвестный канал доставки %q (ALERT_SENDER)", cfg.Alerts.Sender)
	}
}

// sendConfirmation отправляет подтверждение подписки в фоне, чтобы не
// задерживать ответ API.
func sendConfirmation(notifier domain.Notifier, sub domain.Subscription, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	msg := alert.BuildWelcomeMessage(sub, time.Now())
	if err := notifier.Send(ctx, sub.Email, msg); err != nil {
		logger.Warn().Err(err).Str("email", sub.Email).Msg("api: не удалось отправить подтверждение")
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": msg})
}

func toSubscriptionResponse(sub domain.Subscription) subscriptionResponse {
	return subscriptionResponse{
		Email:        sub.Email,
		VisaTypes:    sub.VisaTypes,
		Locations:    sub.Locations,
		ThresholdMin: sub.ThresholdMin,
		CreatedAt:    sub.CreatedAt,
		UpdatedAt:    sub.UpdatedAt,
	}
}

func toCycleSummary(cycle domain.CycleResult) cycleSummary {
	return cycleSummary{
		ID:            cycle.ID,
		FinishedAt:    cycle.FinishedAt,
		ReferenceTime: cycle.ReferenceTime,
		Tier:          cycle.TierUsed,
		Stale:         cycle.Stale,
		Records:       cycle.Records,
		AlertsSent:    cycle.AlertsSent,
		Subscribers:   cycle.Subscribers,
	}
}

type subscribeRequest struct {
	Email        string   `json:"email"`
	VisaTypes    []string `json:"visa_types"`
	Locations    []string `json:"locations"`
	ThresholdMin int      `json:"alert_threshold"`
}

type unsubscribeRequest struct {
	Email string `json:"email"`
}

type updateThresholdRequest struct {
	Email        string `json:"email"`
	ThresholdMin int    `json:"alert_threshold"`
}

type testAlertRequest struct {
	Email string `json:"email"`
}

type subscriptionResponse struct {
	Email        string    `json:"email"`
	VisaTypes    []string  `json:"visa_types"`
	Locations    []string  `json:"locations"`
	ThresholdMin int       `json:"alert_threshold"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type cycleSummary struct {
	ID            string    `json:"id"`
	FinishedAt    time.Time `json:"finished_at"`
	ReferenceTime time.Time `json:"reference_time"`
	Tier          int       `json:"tier"`
	Stale         bool      `json:"stale"`
	Records       int       `json:"records"`
	AlertsSent    int       `json:"alerts_sent"`
	Subscribers   int       `json:"subscriptions_checked"`
}

type availabilityGroup struct {
	VisaType string             `json:"visa_type"`
	Category string             `json:"category"`
	Slots    []availabilitySlot `json:"slots"`
}

type availabilitySlot struct {
	Location         string  `json:"location"`
	VisaType         string  `json:"visa_type"`
	EarliestDate     string  `json:"earliest_date"`
	Appointments     int     `json:"appointments"`
	FreshnessMinutes float64 `json:"freshness_minutes"`
	ParseFailed      bool    `json:"parse_failed,omitempty"`
}
