package alert

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"visa-slot-watcher/internal/domain"
)

type stubNotifier struct {
	mu     sync.Mutex
	sent   []string
	failTo map[string]bool
}

func (s *stubNotifier) Send(ctx context.Context, recipient string, msg domain.AlertMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failTo[recipient] {
		return errors.New("smtp отказал")
	}
	s.sent = append(s.sent, recipient)
	return nil
}

type stubAlertLog struct {
	mu     sync.Mutex
	events []domain.AlertEvent
}

func (s *stubAlertLog) Append(event domain.AlertEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *stubAlertLog) Recent(limit int) ([]domain.AlertEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.AlertEvent(nil), s.events...), nil
}

type stubStats struct {
	mu sync.Mutex
	st domain.Stats
}

func (s *stubStats) UpdateStats(fn func(*domain.Stats)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.st)
	return nil
}

func (s *stubStats) Stats() (domain.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st, nil
}

func (s *stubStats) ResetStats() error { return nil }

func matchFor(email string) domain.Match {
	return domain.Match{
		Subscription: domain.Subscription{
			Email:        email,
			VisaTypes:    []string{"B1/B2 (Dropbox)"},
			ThresholdMin: 15,
		},
		Records: []domain.NormalizedRecord{{
			RawRecord: domain.RawRecord{VisaType: "B1/B2 (Dropbox)", Location: "NEW DELHI VAC", Appointments: 12},
			Freshness: 10 * time.Minute,
		}},
	}
}

func TestDispatchAllCountsSuccesses(t *testing.T) {
	notifier := &stubNotifier{}
	log := &stubAlertLog{}
	stats := &stubStats{}
	d := New(notifier, log, stats, rate.NewLimiter(rate.Inf, 0), 2, zerolog.Nop())

	matches := []domain.Match{matchFor("a@example.com"), matchFor("b@example.com"), matchFor("c@example.com")}
	sent := d.DispatchAll(context.Background(), matches, time.Now())
	if sent != 3 {
		t.Fatalf("ожидали 3 доставки, получили %d", sent)
	}
	if len(log.events) != 3 {
		t.Fatalf("каждая отправка должна попасть в журнал, записей %d", len(log.events))
	}
	if stats.st.AlertsSent != 3 || stats.st.AlertsFailed != 0 {
		t.Fatalf("счётчики разошлись: %+v", stats.st)
	}
}

func TestDispatchAllIsolatesFailures(t *testing.T) {
	notifier := &stubNotifier{failTo: map[string]bool{"b@example.com": true}}
	log := &stubAlertLog{}
	stats := &stubStats{}
	d := New(notifier, log, stats, rate.NewLimiter(rate.Inf, 0), 2, zerolog.Nop())

	matches := []domain.Match{matchFor("a@example.com"), matchFor("b@example.com"), matchFor("c@example.com")}
	sent := d.DispatchAll(context.Background(), matches, time.Now())
	if sent != 2 {
		t.Fatalf("отказ одной доставки не должен трогать остальные: sent=%d", sent)
	}

	var failed int
	for _, ev := range log.events {
		if !ev.Success {
			failed++
			if ev.Email != "b@example.com" {
				t.Fatalf("провалиться должна была доставка b@example.com: %+v", ev)
			}
		}
		if ev.ID == "" {
			t.Fatalf("событие без идентификатора: %+v", ev)
		}
	}
	if failed != 1 {
		t.Fatalf("в журнале должна быть одна неудача, получили %d", failed)
	}
	if stats.st.AlertsSent != 2 || stats.st.AlertsFailed != 1 {
		t.Fatalf("счётчики разошлись: %+v", stats.st)
	}
}

func TestDispatchAllEmpty(t *testing.T) {
	d := New(&stubNotifier{}, &stubAlertLog{}, &stubStats{}, rate.NewLimiter(rate.Inf, 0), 2, zerolog.Nop())
	if sent := d.DispatchAll(context.Background(), nil, time.Now()); sent != 0 {
		t.Fatalf("без совпадений не должно быть отправок: %d", sent)
	}
}

func TestBuildAlertMessage(t *testing.T) {
	m := matchFor("a@example.com")
	ref := time.Date(2025, 8, 27, 16, 0, 0, 0, time.UTC)

	msg := BuildAlertMessage(m, ref)
	if !strings.Contains(msg.Subject, "(1 alerts)") {
		t.Fatalf("тема должна нести число алертов: %q", msg.Subject)
	}
	for _, part := range []string{"B1/B2 (Dropbox)", "NEW DELHI VAC", "updated 10 minutes ago", "12 appointments", "2025-08-27 16:00:00"} {
		if !strings.Contains(msg.Body, part) {
			t.Fatalf("в письме нет %q:\n%s", part, msg.Body)
		}
	}
}

func TestBuildWelcomeMessage(t *testing.T) {
	sub := domain.Subscription{
		Email:        "a@example.com",
		VisaTypes:    []string{"B1/B2 (Dropbox)", "F1 (Regular)"},
		ThresholdMin: 30,
	}
	msg := BuildWelcomeMessage(sub, time.Now())
	if !strings.Contains(msg.Body, "All locations") {
		t.Fatalf("пустой список локаций должен показываться как All locations:\n%s", msg.Body)
	}
	if !strings.Contains(msg.Body, "30 minutes") {
		t.Fatalf("в письме нет порога:\n%s", msg.Body)
	}
}
