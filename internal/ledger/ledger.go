// Package ledger is an append-only, newline-delimited JSON audit trail of
// every fill, order, signal, and position snapshot the bot produces.
package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"polymarket-arb/internal/config"
	"polymarket-arb/internal/position"
	"polymarket-arb/pkg/types"
)

const maxFileSize = 100 * 1024 * 1024 // 100MB rotation threshold

// entry is one NDJSON line in the ledger file.
type entry struct {
	EventType string          `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Ledger appends trading events to a rotating NDJSON file. Thread-safe.
type Ledger struct {
	basePath    string
	currentPath string
	cfg         config.LedgerConfig
	logger      *slog.Logger

	mu   sync.Mutex
	file *os.File
}

// Open creates (or appends to) a ledger file under cfg.DataDir.
func Open(cfg config.LedgerConfig, logger *slog.Logger) (*Ledger, error) {
	base := filepath.Join(cfg.DataDir, "trades.ndjson")
	l := &Ledger{basePath: base, currentPath: base, cfg: cfg, logger: logger.With("component", "ledger")}
	if err := l.openFile(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Ledger) openFile() error {
	if err := os.MkdirAll(filepath.Dir(l.currentPath), 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	f, err := os.OpenFile(l.currentPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger file: %w", err)
	}
	l.file = f
	l.logger.Info("trade ledger opened", "path", l.currentPath)
	return nil
}

func (l *Ledger) writeLine(eventType string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		l.logger.Error("failed to marshal ledger entry", "event_type", eventType, "error", err)
		return
	}
	e := entry{EventType: eventType, Timestamp: time.Now(), Data: payload}
	line, err := json.Marshal(e)
	if err != nil {
		l.logger.Error("failed to marshal ledger line", "event_type", eventType, "error", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		l.logger.Error("failed to write ledger line", "event_type", eventType, "error", err)
	}
}

// RecordFill appends a fill event.
func (l *Ledger) RecordFill(fill types.Fill) { l.writeLine("fill", fill) }

// RecordSignal appends a strategy signal event.
func (l *Ledger) RecordSignal(signal types.Signal) { l.writeLine("signal", signal) }

// RecordPositionSnapshot appends a position snapshot event.
func (l *Ledger) RecordPositionSnapshot(pos position.Position) {
	l.writeLine("position_snapshot", pos)
}

// RecordEvent appends an arbitrary typed event, for anything that doesn't
// fit the named helpers above.
func (l *Ledger) RecordEvent(eventType string, data any) { l.writeLine(eventType, data) }

// Flush syncs buffered writes to disk.
func (l *Ledger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	return l.file.Sync()
}

// Close flushes and closes the underlying file.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// FileSize returns the current ledger file's size in bytes.
func (l *Ledger) FileSize() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return 0
	}
	info, err := l.file.Stat()
	if err != nil {
		return 0
	}
	return info.Size()
}

// RotateIfNeeded rotates to a timestamped file once the current one
// exceeds the configured (or default 100MB) size threshold.
func (l *Ledger) RotateIfNeeded() error {
	limit := int64(maxFileSize)
	if l.cfg.MaxFileSizeMB > 0 {
		limit = int64(l.cfg.MaxFileSizeMB) * 1024 * 1024
	}
	if l.FileSize() < limit {
		return nil
	}
	return l.Rotate()
}

// Rotate closes the current file and opens a new timestamped one,
// keeping the base path free for the next rotation cycle.
func (l *Ledger) Rotate() error {
	l.mu.Lock()
	size := int64(0)
	if l.file != nil {
		if info, err := l.file.Stat(); err == nil {
			size = info.Size()
		}
		l.file.Close()
		l.file = nil
	}
	l.currentPath = fmt.Sprintf("%s.%s", l.basePath, time.Now().Format("20060102_150405"))
	l.mu.Unlock()

	l.logger.Info("rotating trade ledger", "previous_size", humanize.Bytes(uint64(size)))
	return l.openFile()
}

// DailySummary aggregates fills for a single day.
type DailySummary struct {
	Date           time.Time
	Trades         int
	Volume         float64
	Fees           float64
	WinningTrades  int
	LosingTrades   int
}

// Fills reads every fill event from the current ledger file within
// [start, end).
func (l *Ledger) Fills(start, end time.Time) ([]types.Fill, error) {
	var fills []types.Fill
	err := l.scan(func(e entry) error {
		if e.EventType != "fill" {
			return nil
		}
		if e.Timestamp.Before(start) || !e.Timestamp.Before(end) {
			return nil
		}
		var f types.Fill
		if err := json.Unmarshal(e.Data, &f); err != nil {
			return nil // skip malformed lines, best-effort scan
		}
		fills = append(fills, f)
		return nil
	})
	return fills, err
}

// DailySummaryFor computes trade/volume/fee totals for the 24 hours
// starting at date.
func (l *Ledger) DailySummaryFor(date time.Time) (DailySummary, error) {
	summary := DailySummary{Date: date}
	fills, err := l.Fills(date, date.Add(24*time.Hour))
	if err != nil {
		return summary, err
	}
	for _, f := range fills {
		summary.Trades++
		summary.Volume += f.Price * f.Size
		summary.Fees += f.Fee
	}
	return summary, nil
}

func (l *Ledger) scan(fn func(entry) error) error {
	l.mu.Lock()
	path := l.currentPath
	l.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open ledger for read: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return scanner.Err()
}
