// Package analytics persists search telemetry without ever getting in
// the way of a search. Writes buffer through a background flush loop
// and degrade to structured logs when the store misbehaves.
package analytics

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tomehub/tomehub/internal/observability"
	"github.com/tomehub/tomehub/internal/storage"
)

// Config configures the search logger.
type Config struct {
	BufferSize    int
	FlushInterval time.Duration
	// Async buffers entries through the flush loop. Synchronous mode
	// writes inline and is what tests use.
	Async bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize:    256,
		FlushInterval: 5 * time.Second,
		Async:         true,
	}
}

// SearchLogger records completed searches. A nil store puts it in
// log-only mode. Persistent schema errors first drop the
// strategy-details column, then disable persistence entirely, so a
// drifted analytics table can never break retrieval.
type SearchLogger struct {
	log    *observability.Logger
	store  storage.AnalyticsStore
	cfg    Config
	buffer chan *storage.SearchLogEntry
	stop   chan struct{}
	done   chan struct{}

	// 0 healthy, 1 details dropped, 2 store disabled
	drift atomic.Int32
}

// NewSearchLogger creates the logger and starts the flush loop when
// async is enabled.
func NewSearchLogger(log *observability.Logger, store storage.AnalyticsStore, cfg Config) *SearchLogger {
	if log == nil {
		log = observability.Nop()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}

	l := &SearchLogger{
		log:    log.WithComponent("search_analytics"),
		store:  store,
		cfg:    cfg,
		buffer: make(chan *storage.SearchLogEntry, cfg.BufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if cfg.Async {
		go l.runFlushLoop()
	} else {
		close(l.done)
	}
	return l
}

// Log records one search. Best-effort: a full buffer falls back to a
// synchronous write and write errors never reach the caller.
func (l *SearchLogger) Log(ctx context.Context, entry *storage.SearchLogEntry) {
	if entry == nil {
		return
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	if l.cfg.Async {
		select {
		case l.buffer <- entry:
			return
		case <-l.stop:
			return
		default:
			l.log.Warn().Msg("analytics buffer full, writing synchronously")
		}
	}
	l.write(ctx, entry)
}

// Stop drains the buffer, flushes what remains and stops the loop.
func (l *SearchLogger) Stop() {
	if !l.cfg.Async {
		return
	}
	close(l.stop)
	<-l.done
}

func (l *SearchLogger) runFlushLoop() {
	defer close(l.done)

	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()

	var batch []*storage.SearchLogEntry
	for {
		select {
		case entry := <-l.buffer:
			batch = append(batch, entry)
			if len(batch) >= 100 {
				l.flush(batch)
				batch = nil
			}
		case <-ticker.C:
			if len(batch) > 0 {
				l.flush(batch)
				batch = nil
			}
		case <-l.stop:
			for {
				select {
				case entry := <-l.buffer:
					batch = append(batch, entry)
				default:
					if len(batch) > 0 {
						l.flush(batch)
					}
					return
				}
			}
		}
	}
}

func (l *SearchLogger) flush(batch []*storage.SearchLogEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, entry := range batch {
		l.write(ctx, entry)
	}
}

func (l *SearchLogger) write(ctx context.Context, entry *storage.SearchLogEntry) {
	if l.store == nil || l.drift.Load() >= driftDisabled {
		l.logEntry(entry)
		return
	}

	row := *entry
	if l.drift.Load() >= driftNoDetails {
		row.StrategyDetails = nil
	}

	_, err := l.store.LogSearch(ctx, &row)
	if err == nil {
		return
	}
	if !isSchemaDrift(err) {
		l.log.Warn().Err(err).Str("query", entry.Query).Msg("search log write failed")
		return
	}

	// Retry once without the most drift-prone column before giving up
	// on the store.
	if l.drift.CompareAndSwap(driftHealthy, driftNoDetails) {
		l.log.Warn().Err(err).Msg("analytics schema drift, dropping strategy details")
	}
	if row.StrategyDetails != nil {
		row.StrategyDetails = nil
		_, retryErr := l.store.LogSearch(ctx, &row)
		if retryErr == nil {
			return
		}
		if !isSchemaDrift(retryErr) {
			l.log.Warn().Err(retryErr).Str("query", entry.Query).Msg("search log write failed")
			return
		}
	}

	if l.drift.Swap(driftDisabled) != driftDisabled {
		l.log.Error().Err(err).Msg("analytics schema drift persists, disabling persistence")
	}
	l.logEntry(entry)
}

func (l *SearchLogger) logEntry(entry *storage.SearchLogEntry) {
	l.log.Info().
		Str("user_id", entry.UserID.String()).
		Str("query", entry.Query).
		Str("intent", entry.Intent).
		Str("router_mode", entry.RouterMode).
		Int("result_count", entry.ResultCount).
		Bool("cache_hit", entry.CacheHit).
		Int64("duration_ms", entry.DurationMs).
		Msg("search completed")
}

const (
	driftHealthy   int32 = 0
	driftNoDetails int32 = 1
	driftDisabled  int32 = 2
)

// isSchemaDrift recognises errors caused by the analytics table lagging
// a deploy: missing tables or columns on either backend.
func isSchemaDrift(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"does not exist",
		"no such table",
		"no such column",
		"undefined column",
		"unknown column",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
