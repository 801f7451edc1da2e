package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"visa-slot-watcher/internal/domain"
	"visa-slot-watcher/internal/infra/metrics"
)

const (
	subscriptionsFileName       = "subscriptions.json"
	subscriptionsBackupFileName = "subscriptions_backup.json"
	snapshotFileName            = "live_visa_data.json"
	alertLogFileName            = "alerts_log.json"
	lastCycleFileName           = "last_check.json"
	statsFileName               = "stats.json"
)

// fileTimeLayout — локальное ISO-8601 время без зоны, как в файлах данных.
const fileTimeLayout = "2006-01-02T15:04:05"

// FileStore хранит состояние сервиса в JSON-файлах одного каталога.
// Подписки живут в памяти и переписываются на диск при каждом изменении:
// сначала текущий файл копируется в резервный, затем основной атомарно
// заменяется.
type FileStore struct {
	dir        string
	alertLimit int
	log        zerolog.Logger

	subsMu sync.RWMutex
	subs   map[string]domain.Subscription

	snapMu sync.RWMutex

	alertsMu sync.Mutex
	alerts   []domain.AlertEvent

	cycleMu sync.RWMutex

	statsMu sync.Mutex
	stats   domain.Stats
}

var (
	_ domain.SubscriptionRepo = (*FileStore)(nil)
	_ domain.SnapshotRepo     = (*FileStore)(nil)
	_ domain.AlertLog         = (*FileStore)(nil)
	_ domain.CycleRepo        = (*FileStore)(nil)
	_ domain.StatsRepo        = (*FileStore)(nil)
)

// NewFiles открывает каталог данных и восстанавливает состояние.
// Повреждённые файлы не мешают запуску: подписки восстанавливаются из
// резервной копии, в худшем случае сервис стартует с пустым набором.
func NewFiles(dir string, alertLimit int, logger zerolog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("создание каталога данных: %w", err)
	}
	if alertLimit <= 0 {
		alertLimit = 1000
	}
	s := &FileStore{
		dir:        dir,
		alertLimit: alertLimit,
		log:        logger,
		subs:       make(map[string]domain.Subscription),
	}
	s.loadSubscriptions()
	s.loadAlerts()
	s.loadStats()
	metrics.SubscriptionsActive.Set(float64(len(s.subs)))
	return s, nil
}

// Upsert создаёт или заменяет подписку, сохраняя исходный created_at.
// Возвращает сохранённую подписку и признак создания новой.
func (s *FileStore) Upsert(sub domain.Subscription) (domain.Subscription, bool, error) {
	if sub.Email == "" {
		return domain.Subscription{}, false, errors.New("store: пустой email подписки")
	}
	if sub.ThresholdMin <= 0 {
		return domain.Subscription{}, false, errors.New("store: порог должен быть положительным")
	}

	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	now := time.Now()
	prev, existed := s.subs[sub.Email]
	if existed {
		sub.CreatedAt = prev.CreatedAt
	} else {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now
	s.subs[sub.Email] = sub

	if err := s.persistSubscriptionsLocked(); err != nil {
		if existed {
			s.subs[sub.Email] = prev
		} else {
			delete(s.subs, sub.Email)
		}
		return domain.Subscription{}, false, fmt.Errorf("сохранение подписок: %w", err)
	}

	s.bumpStats(func(st *domain.Stats) {
		if existed {
			st.SubsUpdated++
		} else {
			st.SubsCreated++
		}
		st.SubsSaved++
	})
	return sub, !existed, nil
}

// Remove удаляет подписку по email.
func (s *FileStore) Remove(email string) error {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	prev, ok := s.subs[email]
	if !ok {
		return domain.ErrSubscriptionNotFound
	}
	delete(s.subs, email)
	if err := s.persistSubscriptionsLocked(); err != nil {
		s.subs[email] = prev
		return fmt.Errorf("сохранение подписок: %w", err)
	}
	s.bumpStats(func(st *domain.Stats) { st.SubsSaved++ })
	return nil
}

// Get возвращает подписку по email.
func (s *FileStore) Get(email string) (domain.Subscription, error) {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()
	sub, ok := s.subs[email]
	if !ok {
		return domain.Subscription{}, domain.ErrSubscriptionNotFound
	}
	return sub, nil
}

// List возвращает все подписки, упорядоченные по email.
func (s *FileStore) List() ([]domain.Subscription, error) {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()
	out := make([]domain.Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

// Backup принудительно переписывает подписки на диск вместе с резервной
// копией.
func (s *FileStore) Backup() error {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if err := s.persistSubscriptionsLocked(); err != nil {
		return fmt.Errorf("резервное сохранение: %w", err)
	}
	s.bumpStats(func(st *domain.Stats) { st.SubsSaved++ })
	return nil
}

func (s *FileStore) loadSubscriptions() {
	subs, err := readSubscriptionFile(s.path(subscriptionsFileName))
	if err == nil {
		s.subs = indexByEmail(subs)
		return
	}
	primaryMissing := errors.Is(err, os.ErrNotExist)
	if !primaryMissing {
		s.log.Error().Err(err).Msg("store: основной файл подписок нечитаем, пробуем резервный")
	}

	subs, berr := readSubscriptionFile(s.path(subscriptionsBackupFileName))
	if berr == nil {
		s.subs = indexByEmail(subs)
		// Основной файл переписывается сразу, минуя резервную копию:
		// она остаётся единственным целым экземпляром до конца записи.
		if werr := s.rewritePrimaryLocked(); werr != nil {
			s.log.Error().Err(werr).Msg("store: не удалось переписать основной файл из резервного")
		}
		s.log.Warn().Int("count", len(subs)).Msg("store: подписки восстановлены из резервной копии")
		return
	}

	if primaryMissing && errors.Is(berr, os.ErrNotExist) {
		return
	}
	s.log.Error().Err(berr).Msg("store: оба файла подписок нечитаемы, начинаем с пустого набора")
	s.subs = make(map[string]domain.Subscription)
}

func (s *FileStore) persistSubscriptionsLocked() error {
	start := time.Now()
	err := func() error {
		if err := s.copyPrimaryToBackup(); err != nil {
			return err
		}
		return s.rewritePrimaryLocked()
	}()
	metrics.ObserveStorageOp("subscriptions_save", start, err)
	if err == nil {
		metrics.SubscriptionsActive.Set(float64(len(s.subs)))
	}
	return err
}

func (s *FileStore) rewritePrimaryLocked() error {
	data, err := marshalSubscriptions(s.subs)
	if err != nil {
		return err
	}
	return writeFileAtomic(s.path(subscriptionsFileName), data)
}

func (s *FileStore) copyPrimaryToBackup() error {
	data, err := os.ReadFile(s.path(subscriptionsFileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("чтение основного файла: %w", err)
	}
	return writeFileAtomic(s.path(subscriptionsBackupFileName), data)
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *FileStore) bumpStats(fn func(*domain.Stats)) {
	if err := s.UpdateStats(fn); err != nil {
		s.log.Error().Err(err).Msg("store: не удалось обновить статистику")
	}
}

type subscriptionRow struct {
	Email     string   `json:"email"`
	VisaTypes []string `json:"visa_types"`
	Locations []string `json:"locations"`
	Threshold int      `json:"alert_threshold"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at"`
}

func readSubscriptionFile(path string) ([]domain.Subscription, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rows []subscriptionRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageCorrupt, err)
	}
	subs := make([]domain.Subscription, 0, len(rows))
	for i, row := range rows {
		if row.Email == "" || row.Threshold <= 0 {
			return nil, fmt.Errorf("%w: запись %d без обязательных полей", domain.ErrStorageCorrupt, i)
		}
		subs = append(subs, domain.Subscription{
			Email:        row.Email,
			VisaTypes:    row.VisaTypes,
			Locations:    row.Locations,
			ThresholdMin: row.Threshold,
			CreatedAt:    parseFileTime(row.CreatedAt),
			UpdatedAt:    parseFileTime(row.UpdatedAt),
		})
	}
	return subs, nil
}

func marshalSubscriptions(subs map[string]domain.Subscription) ([]byte, error) {
	rows := make([]subscriptionRow, 0, len(subs))
	for _, sub := range subs {
		rows = append(rows, subscriptionRow{
			Email:     sub.Email,
			VisaTypes: sub.VisaTypes,
			Locations: sub.Locations,
			Threshold: sub.ThresholdMin,
			CreatedAt: sub.CreatedAt.Format(fileTimeLayout),
			UpdatedAt: sub.UpdatedAt.Format(fileTimeLayout),
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Email < rows[j].Email })
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("кодирование подписок: %w", err)
	}
	return data, nil
}

func indexByEmail(subs []domain.Subscription) map[string]domain.Subscription {
	out := make(map[string]domain.Subscription, len(subs))
	for _, sub := range subs {
		out[sub.Email] = sub
	}
	return out
}

func parseFileTime(s string) time.Time {
	t, err := time.ParseInLocation(fileTimeLayout, s, time.Local)
	if err != nil {
		return time.Time{}
	}
	return t
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("создание временного файла: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("запись временного файла: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("закрытие временного файла: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("замена файла: %w", err)
	}
	return nil
}
