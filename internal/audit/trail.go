package audit

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/maxkarpets/exitwatch/internal/domain"
	"go.uber.org/zap"
)

// Trail is an append-only CSV record of executed exits, kept alongside the
// structured logs so closed trades can be inspected without a database.
// Writes are thread-safe and buffered; a background ticker flushes them.
type Trail struct {
	mu       sync.Mutex
	writer   *csv.Writer
	file     *os.File
	ticker   *time.Ticker
	done     chan struct{}
	logger   *zap.Logger
	filePath string

	records uint64
}

var header = []string{
	"timestamp", "position_id", "user_id", "token", "reason",
	"entry_price", "exit_price", "pnl_percent", "tx_id",
}

// NewTrail opens (or creates) the audit file, writing the CSV header when the
// file is new.
func NewTrail(filePath string, flushInterval time.Duration, logger *zap.Logger) (*Trail, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat audit file: %w", err)
	}

	t := &Trail{
		writer:   csv.NewWriter(file),
		file:     file,
		ticker:   time.NewTicker(flushInterval),
		done:     make(chan struct{}),
		logger:   logger.Named("audit"),
		filePath: filePath,
	}

	if stat.Size() == 0 {
		if err := t.writer.Write(header); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to write audit header: %w", err)
		}
		t.writer.Flush()
	}

	go t.periodicFlush()
	return t, nil
}

// RecordExit appends one executed exit. Failures are logged, never raised:
// the exit already happened and the caller cannot act on an audit error.
func (t *Trail) RecordExit(pos *domain.Position, reason domain.ExitReason, exitPrice float64, txID string, at time.Time) {
	record := []string{
		at.UTC().Format(time.RFC3339),
		pos.ID,
		pos.UserID,
		pos.TokenAddress,
		string(reason),
		strconv.FormatFloat(pos.EntryPrice, 'f', -1, 64),
		strconv.FormatFloat(exitPrice, 'f', -1, 64),
		strconv.FormatFloat(pos.PnLPercentAt(exitPrice), 'f', 4, 64),
		txID,
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.writer.Write(record); err != nil {
		t.logger.Error("Failed to write audit record",
			zap.String("position_id", pos.ID), zap.Error(err))
		return
	}
	t.records++
}

// Flush forces buffered records to disk.
func (t *Trail) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.writer.Flush()
	if err := t.writer.Error(); err != nil {
		return fmt.Errorf("audit writer error: %w", err)
	}
	if err := t.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync audit file: %w", err)
	}
	return nil
}

func (t *Trail) periodicFlush() {
	for {
		select {
		case <-t.ticker.C:
			if err := t.Flush(); err != nil {
				t.logger.Error("Periodic audit flush failed",
					zap.String("file", t.filePath), zap.Error(err))
			}
		case <-t.done:
			return
		}
	}
}

// Close stops the flusher and writes out any buffered records.
func (t *Trail) Close() error {
	close(t.done)
	t.ticker.Stop()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.writer.Flush()
	if err := t.writer.Error(); err != nil {
		return fmt.Errorf("audit writer error on close: %w", err)
	}
	if err := t.file.Close(); err != nil {
		return fmt.Errorf("failed to close audit file: %w", err)
	}

	t.logger.Info("Audit trail closed",
		zap.String("file", t.filePath),
		zap.Uint64("records", t.records))
	return nil
}
