package db

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PoolObserver receives pool gauges on every sample.
type PoolObserver interface {
	ObservePool(total, idle, acquired int32)
}

type PoolSnapshot struct {
	Total     int32
	Idle      int32
	Acquired  int32
	Max       int32
	Waits     int64
	WaitTotal time.Duration
}

// PoolMonitor samples the pool on a fixed interval, feeds the observer and
// warns when every connection is checked out.
type PoolMonitor struct {
	stat     func() PoolSnapshot
	logger   *zap.Logger
	observer PoolObserver
	interval time.Duration
	stop     chan struct{}
	stopOnce sync.Once
	// saturated tracks the last sample so the warning fires once per episode.
	saturated bool
}

func NewPoolMonitor(pool *pgxpool.Pool, logger *zap.Logger, observer PoolObserver, interval time.Duration) *PoolMonitor {
	return newPoolMonitor(func() PoolSnapshot {
		s := pool.Stat()
		return PoolSnapshot{
			Total:     s.TotalConns(),
			Idle:      s.IdleConns(),
			Acquired:  s.AcquiredConns(),
			Max:       s.MaxConns(),
			Waits:     s.EmptyAcquireCount(),
			WaitTotal: s.AcquireDuration(),
		}
	}, logger, observer, interval)
}

func newPoolMonitor(stat func() PoolSnapshot, logger *zap.Logger, observer PoolObserver, interval time.Duration) *PoolMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PoolMonitor{
		stat:     stat,
		logger:   logger,
		observer: observer,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

func (m *PoolMonitor) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.sample()
			case <-m.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (m *PoolMonitor) sample() {
	s := m.stat()
	if m.observer != nil {
		m.observer.ObservePool(s.Total, s.Idle, s.Acquired)
	}

	saturated := s.Max > 0 && s.Acquired >= s.Max
	if saturated && !m.saturated {
		m.logger.Warn("database pool saturated",
			zap.Int32("acquired_conns", s.Acquired),
			zap.Int32("max_conns", s.Max),
			zap.Int64("empty_acquire_count", s.Waits),
		)
	}
	m.saturated = saturated

	m.logger.Debug("database pool stats",
		zap.Int32("total_conns", s.Total),
		zap.Int32("idle_conns", s.Idle),
		zap.Int32("acquired_conns", s.Acquired),
		zap.Duration("acquire_duration", s.WaitTotal),
	)
}

func (m *PoolMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}
