package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"visa-slot-watcher/internal/domain"
	"visa-slot-watcher/internal/infra/metrics"
)

type snapshotFile struct {
	FetchedAt string            `json:"fetched_at"`
	Payload   domain.RawPayload `json:"payload"`
}

// SaveSnapshot переписывает последний удачный ответ источника.
func (s *FileStore) SaveSnapshot(payload domain.RawPayload, fetchedAt time.Time) error {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()

	start := time.Now()
	data, err := json.MarshalIndent(snapshotFile{
		FetchedAt: fetchedAt.Format(fileTimeLayout),
		Payload:   payload,
	}, "", "  ")
	if err == nil {
		err = writeFileAtomic(s.path(snapshotFileName), data)
	}
	metrics.ObserveStorageOp("snapshot_save", start, err)
	if err != nil {
		return fmt.Errorf("сохранение снапшота: %w", err)
	}
	return nil
}

// LoadSnapshot возвращает сохранённый ответ источника и время его получения.
func (s *FileStore) LoadSnapshot() (domain.RawPayload, time.Time, error) {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()

	data, err := os.ReadFile(s.path(snapshotFileName))
	if errors.Is(err, os.ErrNotExist) {
		return domain.RawPayload{}, time.Time{}, domain.ErrSnapshotMissing
	}
	if err != nil {
		return domain.RawPayload{}, time.Time{}, fmt.Errorf("чтение снапшота: %w", err)
	}
	var f snapshotFile
	if err := json.Unmarshal(data, &f); err != nil {
		return domain.RawPayload{}, time.Time{}, fmt.Errorf("%w: %v", domain.ErrStorageCorrupt, err)
	}
	if f.Payload.Result == nil {
		return domain.RawPayload{}, time.Time{}, fmt.Errorf("%w: снапшот без данных", domain.ErrStorageCorrupt)
	}
	return f.Payload, parseFileTime(f.FetchedAt), nil
}

type alertEventRow struct {
	ID        string   `json:"id"`
	Timestamp string   `json:"timestamp"`
	Email     string   `json:"email"`
	VisaTypes []string `json:"visa_types"`
	Alerts    int      `json:"alerts"`
	Success   bool     `json:"success"`
}

// Append дописывает событие в журнал оповещений. Журнал ограничен:
// при переполнении старые записи вытесняются.
func (s *FileStore) Append(event domain.AlertEvent) error {
	s.alertsMu.Lock()
	defer s.alertsMu.Unlock()

	s.alerts = append(s.alerts, event)
	if len(s.alerts) > s.alertLimit {
		s.alerts = s.alerts[len(s.alerts)-s.alertLimit:]
	}

	start := time.Now()
	err := s.persistAlertsLocked()
	metrics.ObserveStorageOp("alert_log_save", start, err)
	if err != nil {
		return fmt.Errorf("сохранение журнала оповещений: %w", err)
	}
	return nil
}

// Recent возвращает до limit последних событий, новые первыми.
func (s *FileStore) Recent(limit int) ([]domain.AlertEvent, error) {
	s.alertsMu.Lock()
	defer s.alertsMu.Unlock()

	n := len(s.alerts)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.AlertEvent, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.alerts[i])
	}
	return out, nil
}

func (s *FileStore) loadAlerts() {
	data, err := os.ReadFile(s.path(alertLogFileName))
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("store: журнал оповещений нечитаем, начинаем заново")
		return
	}
	var rows []alertEventRow
	if err := json.Unmarshal(data, &rows); err != nil {
		s.log.Error().Err(err).Msg("store: журнал оповещений повреждён, начинаем заново")
		return
	}
	if len(rows) > s.alertLimit {
		rows = rows[len(rows)-s.alertLimit:]
	}
	events := make([]domain.AlertEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, domain.AlertEvent{
			ID:        row.ID,
			Email:     row.Email,
			VisaTypes: row.VisaTypes,
			Alerts:    row.Alerts,
			Success:   row.Success,
			SentAt:    parseFileTime(row.Timestamp),
		})
	}
	s.alerts = events
}

func (s *FileStore) persistAlertsLocked() error {
	rows := make([]alertEventRow, 0, len(s.alerts))
	for _, ev := range s.alerts {
		rows = append(rows, alertEventRow{
			ID:        ev.ID,
			Timestamp: ev.SentAt.Format(fileTimeLayout),
			Email:     ev.Email,
			VisaTypes: ev.VisaTypes,
			Alerts:    ev.Alerts,
			Success:   ev.Success,
		})
	}
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return fmt.Errorf("кодирование журнала: %w", err)
	}
	return writeFileAtomic(s.path(alertLogFileName), data)
}

type cycleRow struct {
	ID            string `json:"id"`
	Timestamp     string `json:"timestamp"`
	ReferenceTime string `json:"reference_time"`
	TierUsed      int    `json:"tier_used"`
	Stale         bool   `json:"stale"`
	Records       int    `json:"records"`
	AlertsSent    int    `json:"alerts_sent"`
	Subscribers   int    `json:"subscriptions_checked"`
}

// SaveCycle переписывает отметку последнего завершённого цикла.
func (s *FileStore) SaveCycle(res domain.CycleResult) error {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	start := time.Now()
	data, err := json.MarshalIndent(cycleRow{
		ID:            res.ID,
		Timestamp:     res.FinishedAt.Format(fileTimeLayout),
		ReferenceTime: res.ReferenceTime.Format(fileTimeLayout),
		TierUsed:      res.TierUsed,
		Stale:         res.Stale,
		Records:       res.Records,
		AlertsSent:    res.AlertsSent,
		Subscribers:   res.Subscribers,
	}, "", "  ")
	if err == nil {
		err = writeFileAtomic(s.path(lastCycleFileName), data)
	}
	metrics.ObserveStorageOp("cycle_save", start, err)
	if err != nil {
		return fmt.Errorf("сохранение отметки цикла: %w", err)
	}
	return nil
}

// LastCycle возвращает отметку последнего завершённого цикла.
func (s *FileStore) LastCycle() (domain.CycleResult, error) {
	s.cycleMu.RLock()
	defer s.cycleMu.RUnlock()

	data, err := os.ReadFile(s.path(lastCycleFileName))
	if errors.Is(err, os.ErrNotExist) {
		return domain.CycleResult{}, domain.ErrCycleMissing
	}
	if err != nil {
		return domain.CycleResult{}, fmt.Errorf("чтение отметки цикла: %w", err)
	}
	var row cycleRow
	if err := json.Unmarshal(data, &row); err != nil {
		return domain.CycleResult{}, fmt.Errorf("%w: %v", domain.ErrStorageCorrupt, err)
	}
	return domain.CycleResult{
		ID:            row.ID,
		TierUsed:      row.TierUsed,
		Stale:         row.Stale,
		Records:       row.Records,
		ReferenceTime: parseFileTime(row.ReferenceTime),
		AlertsSent:    row.AlertsSent,
		Subscribers:   row.Subscribers,
		FinishedAt:    parseFileTime(row.Timestamp),
	}, nil
}

// UpdateStats применяет fn к счётчикам и сохраняет их.
func (s *FileStore) UpdateStats(fn func(*domain.Stats)) error {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	next := s.stats
	fn(&next)
	s.stats = next

	start := time.Now()
	err := s.persistStatsLocked()
	metrics.ObserveStorageOp("stats_save", start, err)
	if err != nil {
		return fmt.Errorf("сохранение статистики: %w", err)
	}
	return nil
}

// Stats возвращает текущие счётчики.
func (s *FileStore) Stats() (domain.Stats, error) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats, nil
}

// ResetStats обнуляет счётчики, сохраняя время последнего запуска.
func (s *FileStore) ResetStats() error {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	startup := s.stats.LastStartup
	s.stats = domain.Stats{LastStartup: startup}

	start := time.Now()
	err := s.persistStatsLocked()
	metrics.ObserveStorageOp("stats_save", start, err)
	if err != nil {
		return fmt.Errorf("сброс статистики: %w", err)
	}
	return nil
}

func (s *FileStore) loadStats() {
	data, err := os.ReadFile(s.path(statsFileName))
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("store: файл статистики нечитаем, счётчики обнулены")
		return
	}
	var st domain.Stats
	if err := json.Unmarshal(data, &st); err != nil {
		s.log.Error().Err(err).Msg("store: файл статистики повреждён, счётчики обнулены")
		return
	}
	s.stats = st
}

func (s *FileStore) persistStatsLocked() error {
	data, err := json.MarshalIndent(s.stats, "", "  ")
	if err != nil {
		return fmt.Errorf("кодирование статистики: %w", err)
	}
	return writeFileAtomic(s.path(statsFileName), data)
}
