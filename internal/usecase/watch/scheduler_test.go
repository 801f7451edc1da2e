package watch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type countingRunner struct {
	mu      sync.Mutex
	runs    int
	active  int
	overlap bool
	delay   time.Duration
	fail    bool
	panicOn int
}

func (c *countingRunner) RunCycle(ctx context.Context) error {
	c.mu.Lock()
	c.runs++
	run := c.runs
	c.active++
	if c.active > 1 {
		c.overlap = true
	}
	c.mu.Unlock()

	if c.delay > 0 {
		time.Sleep(c.delay)
	}

	c.mu.Lock()
	c.active--
	c.mu.Unlock()

	if c.panicOn != 0 && run == c.panicOn {
		panic("цикл взорвался")
	}
	if c.fail {
		return errors.New("цикл не удался")
	}
	return nil
}

func (c *countingRunner) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs
}

func (c *countingRunner) overlapped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.overlap
}

func TestSchedulerNoOverlap(t *testing.T) {
	runner := &countingRunner{delay: 30 * time.Millisecond}
	s := NewScheduler(runner, 10*time.Millisecond, 10*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if err := s.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("ожидали завершение по таймауту: %v", err)
	}

	if runner.overlapped() {
		t.Fatalf("циклы не должны перекрываться")
	}
	if runner.count() < 2 {
		t.Fatalf("ожидали несколько циклов, получили %d", runner.count())
	}
}

func TestSchedulerRecoveryDelay(t *testing.T) {
	runner := &countingRunner{fail: true}
	s := NewScheduler(runner, 500*time.Millisecond, 10*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = s.Run(ctx)

	// При основном интервале 500мс успел бы только первый цикл.
	if runner.count() < 3 {
		t.Fatalf("после неудачи пауза должна быть короткой, циклов %d", runner.count())
	}
}

func TestSchedulerSurvivesPanic(t *testing.T) {
	runner := &countingRunner{panicOn: 1}
	s := NewScheduler(runner, 10*time.Millisecond, 10*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = s.Run(ctx)

	if runner.count() < 2 {
		t.Fatalf("после паники планировщик должен продолжать, циклов %d", runner.count())
	}
}

func TestSchedulerStopsOnCancel(t *testing.T) {
	runner := &countingRunner{}
	s := NewScheduler(runner, time.Hour, time.Minute, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("ожидали context.Canceled, получили %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("планировщик не остановился после отмены контекста")
	}

	if runner.count() != 1 {
		t.Fatalf("до отмены должен был пройти ровно один цикл, прошло %d", runner.count())
	}
}
