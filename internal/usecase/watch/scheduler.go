package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// CycleRunner — один цикл проверки.
type CycleRunner interface {
	RunCycle(ctx context.Context) error
}

// Scheduler запускает циклы строго по одному: следующий стартует не
// раньше, чем завершится предыдущий, затянувшийся цикл просто сдвигает
// расписание. После неудачного цикла пауза короче обычной.
type Scheduler struct {
	runner   CycleRunner
	interval time.Duration
	recovery time.Duration
	log      zerolog.Logger
}

// NewScheduler собирает планировщик с основным интервалом и паузой
// после неудачи.
func NewScheduler(runner CycleRunner, interval, recovery time.Duration, logger zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if recovery <= 0 || recovery > interval {
		recovery = interval
	}
	return &Scheduler{runner: runner, interval: interval, recovery: recovery, log: logger}
}

// Run крутит циклы до отмены контекста. Первый цикл стартует сразу.
func (s *Scheduler) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		delay := s.interval
		if err := s.safeCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Error().Err(err).Dur("retry_in", s.recovery).Msg("scheduler: цикл не удался")
			delay = s.recovery
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		timer.Reset(delay)
	}
}

// safeCycle не даёт панике из цикла уронить весь сервис.
func (s *Scheduler) safeCycle(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("scheduler: паника в цикле: %v", rec)
		}
	}()
	return s.runner.RunCycle(ctx)
}
