package game

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"rps.hh/internal/logging"
)

// Sweeper periodically refunds matches that stayed in waiting for longer
// than ttl.
type Sweeper struct {
	coord    *Coordinator
	ttl      time.Duration
	interval time.Duration
	logger   *slog.Logger
	sched    gocron.Scheduler
}

func NewSweeper(coord *Coordinator, ttl, interval time.Duration, logger *slog.Logger) (*Sweeper, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("new scheduler: %w", err)
	}
	s := &Sweeper{
		coord:    coord,
		ttl:      ttl,
		interval: interval,
		logger:   logger,
		sched:    sched,
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.tick),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("expire-waiting-matches"),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("schedule sweep: %w", err)
	}
	return s, nil
}

func (s *Sweeper) Start() {
	s.sched.Start()
}

// Stop waits for a running sweep to finish.
func (s *Sweeper) Stop() error {
	return s.sched.Shutdown()
}

// RunOnce performs a single sweep.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	n, err := s.coord.ExpireStale(ctx, s.ttl)
	if err != nil {
		logging.Error(s.logger, "sweep_failed", err, slog.Int(logging.FieldCount, n))
		return n, err
	}
	if n > 0 {
		logging.Info(s.logger, "sweep_refunded", slog.Int(logging.FieldCount, n))
	}
	return n, nil
}

func (s *Sweeper) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()
	_, _ = s.RunOnce(ctx)
}
