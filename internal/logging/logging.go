// Package logging builds the process slog.Logger from configuration.
package logging

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/weeargh/kiwi/internal/config"
)

const (
	// A log file is trimmed to its newest keepFileBytes once it grows past
	// maxFileBytes.
	maxFileBytes  = 6 * 1024 * 1024
	keepFileBytes = 5 * 1024 * 1024
)

// New returns a logger writing to console and, when cfg.Path is set, to a
// size-capped file. The returned closer releases the file.
func New(cfg config.LogConfig, console io.Writer) (*slog.Logger, io.Closer, error) {
	w := console
	var closer io.Closer = nopCloser{}
	if cfg.Path != "" {
		fw, err := OpenFile(cfg.Path, maxFileBytes, keepFileBytes)
		if err != nil {
			return nil, nil, err
		}
		w = io.MultiWriter(console, fw)
		closer = fw
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h), closer, nil
}

// ParseLevel maps debug, warn and error to their slog levels and anything
// else to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// FileWriter appends to a file and drops its oldest lines once it exceeds
// max bytes, keeping roughly the newest keep bytes.
type FileWriter struct {
	mu   sync.Mutex
	file *os.File
	max  int64
	keep int64
}

// OpenFile opens path for appending, creating parent directories.
func OpenFile(path string, max, keep int64) (*FileWriter, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	w := &FileWriter{file: file, max: max, keep: keep}
	if err := w.trim(); err != nil {
		_ = file.Close()
		return nil, err
	}
	return w, nil
}

func (w *FileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, err := w.file.Write(p)
	if err != nil {
		return n, err
	}
	return n, w.trim()
}

func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// trim rewrites the file with its tail, starting at a line boundary.
func (w *FileWriter) trim() error {
	info, err := w.file.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	if size <= w.max {
		return nil
	}

	tail := make([]byte, w.keep)
	n, err := w.file.ReadAt(tail, size-w.keep)
	if err != nil && err != io.EOF {
		return err
	}
	tail = tail[:n]
	if i := bytes.IndexByte(tail, '\n'); i >= 0 {
		tail = tail[i+1:]
	}

	if err := w.file.Truncate(0); err != nil {
		return err
	}
	_, err = w.file.Write(tail)
	return err
}
