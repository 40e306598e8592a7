// Package journal appends engine events to date-organized JSONL files.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgnsrekt/navguard/internal/engine"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	ErrClosed     = errors.New("journal is closed")
	ErrBufferFull = errors.New("journal buffer full")
)

// Writer handles async writing of JSON lines to <baseDir>/<date>/<name>.jsonl.
type Writer struct {
	baseDir     string
	name        string
	maxSizeMB   int
	writeCh     chan any
	done        chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
	currentDate string
	logger      *lumberjack.Logger
	mu          sync.Mutex

	now func() time.Time
}

// NewWriter starts the write loop. An empty name uses the start timestamp.
func NewWriter(baseDir, name string, bufferSize, maxSizeMB int) *Writer {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 50
	}
	w := &Writer{
		baseDir:   baseDir,
		name:      name,
		maxSizeMB: maxSizeMB,
		writeCh:   make(chan any, bufferSize),
		done:      make(chan struct{}),
		now:       time.Now,
	}
	if w.name == "" {
		w.name = fmt.Sprintf("%d", w.now().Unix())
	}

	w.wg.Add(1)
	go w.writeLoop()
	return w
}

// Write queues a record without blocking.
func (w *Writer) Write(record any) error {
	select {
	case <-w.done:
		return ErrClosed
	default:
	}
	select {
	case w.writeCh <- record:
		return nil
	default:
		slog.Warn("journal buffer full, dropping record", "dir", w.baseDir)
		return ErrBufferFull
	}
}

// Observe records an engine event.
func (w *Writer) Observe(ev engine.Event) {
	if err := w.Write(ev); err != nil && !errors.Is(err, ErrBufferFull) {
		slog.Debug("journal write skipped", "kind", ev.Kind, "error", err)
	}
}

// Close flushes pending records and closes the current file.
func (w *Writer) Close() error {
	w.closeOnce.Do(func() { close(w.done) })
	w.wg.Wait()

	// Drain anything queued after the loop exited.
	for drained := false; !drained; {
		select {
		case record := <-w.writeCh:
			w.writeRecord(record)
		default:
			drained = true
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.logger != nil {
		err := w.logger.Close()
		w.logger = nil
		return err
	}
	return nil
}

func (w *Writer) writeLoop() {
	defer w.wg.Done()
	for {
		select {
		case record := <-w.writeCh:
			w.writeRecord(record)
		case <-w.done:
			return
		}
	}
}

func (w *Writer) writeRecord(record any) {
	data, err := json.Marshal(record)
	if err != nil {
		slog.Error("journal marshal failed", "error", err)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	date := w.now().UTC().Format("2006-01-02")
	if date != w.currentDate || w.logger == nil {
		if err := w.rotateForDate(date); err != nil {
			slog.Error("journal rotate failed", "error", err, "date", date)
			return
		}
	}

	if _, err := w.logger.Write(append(data, '\n')); err != nil {
		slog.Error("journal write failed", "error", err, "file", w.logger.Filename)
	}
}

func (w *Writer) rotateForDate(date string) error {
	if w.logger != nil {
		if err := w.logger.Close(); err != nil {
			slog.Debug("journal close failed", "error", err)
		}
		w.logger = nil
	}

	dir := filepath.Join(w.baseDir, date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create journal dir: %w", err)
	}

	filename := filepath.Join(dir, w.name+".jsonl")
	w.logger = &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    w.maxSizeMB,
		MaxBackups: 100,
		MaxAge:     30,
		LocalTime:  false,
	}
	w.currentDate = date
	slog.Info("opened journal file", "file", filename)
	return nil
}
