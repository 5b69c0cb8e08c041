// Package audit is the optional ClickHouse sink for completed Attach
// outcomes, gated by features.audit. It writes through a clickhouse-go
// driver.Conn, batching rows locally and flushing on a timer or at a size
// threshold rather than one INSERT per Attach.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/your-org/mme-emmd/internal/config"
	"github.com/your-org/mme-emmd/internal/emmtypes"
)

// Event is one row of the attach_outcomes table: the disposition of a
// single Attach attempt, logged regardless of whether it ended in
// ATTACH ACCEPT, ATTACH REJECT, or a silent abort.
type Event struct {
	Time   time.Time
	UEID   uint32
	IMSI   string
	Result string // "accepted", "rejected", "aborted"
	Cause  emmtypes.EMMCause
}

// Sink batches Events and flushes them to ClickHouse. A nil Sink (the
// disabled default) accepts and discards events silently.
type Sink struct {
	conn      driver.Conn
	table     string
	batchSize int
	logger    *zap.Logger

	mu      sync.Mutex
	pending []Event

	flushEvery time.Duration
	stop       chan struct{}
	done       chan struct{}
}

// Open connects to ClickHouse and starts the background flush loop.
// Callers should use Start, which returns a nil Sink (not an error)
// when auditing is disabled in config.
func Open(cfg config.AuditConfig, logger *zap.Logger) (*Sink, error) {
	opts, err := clickhouse.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("audit: parse dsn: %w", err)
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("audit: open connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("audit: ping: %w", err)
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 200
	}
	flushEvery := cfg.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 5 * time.Second
	}
	table := cfg.Table
	if table == "" {
		table = "attach_outcomes"
	}

	s := &Sink{
		conn:       conn,
		table:      table,
		batchSize:  batchSize,
		logger:     logger,
		flushEvery: flushEvery,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go s.flushLoop()
	return s, nil
}

// Start wires an audit Sink in behind features.audit. Failure to
// connect is logged and degrades to auditing being disabled, matching
// the rest of this daemon's best-effort posture for optional
// observability components.
func Start(cfg *config.Config, logger *zap.Logger) *Sink {
	if !cfg.Features.Audit {
		return nil
	}
	s, err := Open(cfg.Audit, logger)
	if err != nil {
		logger.Warn("audit: disabled, could not connect to clickhouse", zap.Error(err))
		return nil
	}
	logger.Info("audit: clickhouse sink active", zap.String("table", s.table))
	return s
}

// Record enqueues ev for the next flush. Safe to call on a nil Sink.
func (s *Sink) Record(ev Event) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.pending = append(s.pending, ev)
	full := len(s.pending) >= s.batchSize
	s.mu.Unlock()

	if full {
		s.flush()
	}
}

func (s *Sink) flushLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.flushEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.flush()
		case <-s.stop:
			s.flush()
			return
		}
	}
}

func (s *Sink) flush() {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	b, err := s.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s (ts, ue_id, imsi, result, cause)", s.table))
	if err != nil {
		s.logger.Error("audit: prepare batch failed, dropping rows", zap.Error(err), zap.Int("rows", len(batch)))
		return
	}
	for _, ev := range batch {
		if err := b.Append(ev.Time, ev.UEID, ev.IMSI, ev.Result, ev.Cause.String()); err != nil {
			s.logger.Error("audit: append row failed", zap.Error(err))
		}
	}
	if err := b.Send(); err != nil {
		s.logger.Error("audit: send batch failed, rows dropped", zap.Error(err), zap.Int("rows", len(batch)))
		return
	}
	s.logger.Debug("audit: batch flushed", zap.Int("rows", len(batch)))
}

// Close flushes any remaining rows and closes the underlying connection.
func (s *Sink) Close() error {
	if s == nil {
		return nil
	}
	close(s.stop)
	<-s.done
	return s.conn.Close()
}
