package service

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"authservice/internal/metrics"
	"authservice/internal/repository"
)

// DefaultPurgeSchedule runs the sweep every day at midnight.
const DefaultPurgeSchedule = "0 0 * * *"

const (
	purgeRetryDelay = 3 * time.Second
	purgeTimeout    = 5 * time.Minute
)

// Sweeper removes expired entries from the revocation store on a cron
// schedule. Runs never overlap.
type Sweeper struct {
	store    repository.RevocationStore
	schedule string
	metrics  *metrics.Metrics
	logger   *zap.Logger

	cron       *cron.Cron
	mu         sync.Mutex
	now        func() time.Time
	retryDelay time.Duration
}

func NewSweeper(store repository.RevocationStore, schedule string, m *metrics.Metrics, logger *zap.Logger) *Sweeper {
	if schedule == "" {
		schedule = DefaultPurgeSchedule
	}

	cronLog := cronLogger{logger.Sugar().Named("cron")}
	return &Sweeper{
		store:    store,
		schedule: schedule,
		metrics:  m,
		logger:   logger,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		now:        time.Now,
		retryDelay: purgeRetryDelay,
	}
}

// Start schedules the sweep. It fails on an unparsable schedule.
func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), purgeTimeout)
		defer cancel()
		if _, err := s.Purge(ctx); err != nil {
			s.logger.Error("Scheduled revocation purge failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid purge schedule %q: %w", s.schedule, err)
	}

	s.cron.Start()
	s.logger.Info("Revocation sweeper started", zap.String("schedule", s.schedule))
	return nil
}

// Stop halts scheduling and waits for a running purge, or for ctx.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("Revocation sweeper stop timed out")
	}
}

// Purge deletes entries that expired before now and returns how many went.
// A call made while another purge is running is a no-op.
func (s *Sweeper) Purge(ctx context.Context) (int64, error) {
	if !s.mu.TryLock() {
		s.logger.Info("Revocation purge already running; skipping")
		return 0, nil
	}
	defer s.mu.Unlock()

	start := time.Now()
	var removed int64
	err := s.runWithRetry(ctx, func(ctx context.Context) error {
		n, err := s.store.PurgeExpired(ctx, s.now())
		removed = n
		return err
	})
	s.metrics.PurgeDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		s.metrics.PurgeRunsTotal.WithLabelValues("error").Inc()
		return 0, err
	}

	s.metrics.PurgeRunsTotal.WithLabelValues("success").Inc()
	s.metrics.PurgedTokensTotal.Add(float64(removed))
	s.logger.Info("Revocation purge completed", zap.Int64("removed", removed))
	return removed, nil
}

// runWithRetry executes op and, if it fails with a transient connection
// error, waits a moment then retries once.
func (s *Sweeper) runWithRetry(ctx context.Context, op func(context.Context) error) error {
	err := op(ctx)
	if err == nil || !isTransient(err) {
		return err
	}

	s.logger.Warn("Revocation purge hit transient store error; retrying once", zap.Error(err))
	select {
	case <-time.After(s.retryDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return op(ctx)
}

func isTransient(err error) bool {
	return errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		strings.Contains(err.Error(), "connection was closed")
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
