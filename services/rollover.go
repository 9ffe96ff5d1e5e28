package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"ice-telegram/logger"
)

// Rebuilder is the part of OrderStore the scheduler needs.
type Rebuilder interface {
	RebuildLiveTable(ctx context.Context) (int, error)
}

// RolloverResult describes the latest rollover attempt.
type RolloverResult struct {
	At   time.Time
	Rows int
	Err  error
}

// RolloverScheduler rebuilds the live table once at start and then daily at
// a fixed local time. Failed runs are logged and reported; they never stop
// the process or the schedule.
type RolloverScheduler struct {
	store Rebuilder
	loc   *time.Location
	at    string // HH:MM in loc
	sched *gocron.Scheduler

	mu   sync.Mutex
	last RolloverResult
}

func NewRolloverScheduler(store Rebuilder, loc *time.Location, at string) *RolloverScheduler {
	if at == "" {
		at = "00:00"
	}
	return &RolloverScheduler{store: store, loc: loc, at: at}
}

// Start runs one rollover immediately, then schedules the daily job in
// singleton mode so a slow run is never overlapped by the next one.
func (r *RolloverScheduler) Start(ctx context.Context) error {
	_ = r.RunOnce(ctx)

	s := gocron.NewScheduler(r.loc)
	_, err := s.Every(1).Day().At(r.at).SingletonMode().Do(func() {
		_ = r.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule rollover at %s: %w", r.at, err)
	}
	s.StartAsync()
	r.sched = s
	logger.Info("rollover scheduled", zap.String("at", r.at), zap.String("zone", r.loc.String()))
	return nil
}

func (r *RolloverScheduler) Stop() {
	if r.sched != nil {
		r.sched.Stop()
	}
}

// RunOnce performs a rollover now. Errors and panics are logged, reported to
// Sentry and returned; they do not propagate as panics.
func (r *RolloverScheduler) RunOnce(ctx context.Context) (err error) {
	started := time.Now()
	rows := 0
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("rollover panic: %v", p)
		}
		r.mu.Lock()
		r.last = RolloverResult{At: started, Rows: rows, Err: err}
		r.mu.Unlock()
		if err != nil {
			logger.Error("rollover failed", zap.Error(err), zap.Duration("took", time.Since(started)))
			sentry.CaptureException(err)
			return
		}
		logger.Info("rollover done", zap.Int("rows", rows), zap.Duration("took", time.Since(started)))
	}()

	rows, err = r.store.RebuildLiveTable(ctx)
	return err
}

// Last returns the latest attempt; At is zero before the first run.
func (r *RolloverScheduler) Last() RolloverResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}
