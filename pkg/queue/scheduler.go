package queue

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser accepts standard 5-field cron expressions plus descriptors like
// "@every 30s" and "@hourly".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Schedule is a handle to a recurring enqueue registered via Engine.Schedule.
type Schedule struct {
	engine    *Engine
	queueName string
	expr      string
	sched     cronlib.Schedule
	payload   any
	opts      []EnqueueOption

	stopOnce sync.Once
	stopCh   chan struct{}
}

// Schedule periodically enqueues payload to the named queue on the given cron
// schedule. The returned handle stops the schedule and predicts upcoming
// fire times. All schedules are stopped automatically on engine shutdown.
func (e *Engine) Schedule(queueName, cronExpr string, payload any, opts ...EnqueueOption) (*Schedule, error) {
	if payload == nil {
		return nil, ErrPayloadNil
	}
	if queueName == "" {
		queueName = e.opts.defaultQueue
	}

	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return nil, errors.Join(ErrInvalidSchedule, err)
	}

	s := &Schedule{
		engine:    e,
		queueName: queueName,
		expr:      cronExpr,
		sched:     sched,
		payload:   payload,
		opts:      opts,
		stopCh:    make(chan struct{}),
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrEngineClosed
	}
	e.schedules = append(e.schedules, s)
	e.mu.Unlock()

	e.wg.Add(1)
	go s.run()

	e.logger.Info("schedule registered",
		slog.String("queue", queueName),
		slog.String("schedule", cronExpr))

	return s, nil
}

// run fires the schedule until stopped.
func (s *Schedule) run() {
	defer s.engine.wg.Done()

	for {
		next := s.sched.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-s.stopCh:
			timer.Stop()
			return
		case <-s.engine.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if _, err := s.engine.Enqueue(s.engine.ctx, s.queueName, s.payload, s.opts...); err != nil {
			s.engine.logger.Error("scheduled enqueue failed",
				slog.String("queue", s.queueName),
				slog.String("schedule", s.expr),
				slog.String("error", err.Error()))
			s.engine.bus.Emit(Event{Name: EventError, Queue: s.queueName,
				Err: fmt.Errorf("scheduled enqueue failed: %w", err)})
		}
	}
}

// Stop cancels the schedule. Idempotent.
func (s *Schedule) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// NextDates returns the next n fire times of the schedule, starting from now.
func (s *Schedule) NextDates(n int) []time.Time {
	dates := make([]time.Time, 0, n)
	t := time.Now()
	for i := 0; i < n; i++ {
		t = s.sched.Next(t)
		dates = append(dates, t)
	}
	return dates
}
