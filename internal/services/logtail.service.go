package services

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"pideck/internal/cmdexec"
	"pideck/internal/logging"
	"pideck/internal/models"
)

const (
	DefaultTailLines          = 500
	DefaultTailMaxLines       = 5000
	DefaultTailWindowBytes    = 1 << 20
	DefaultLargeFileScanLines = 50000
	DefaultTailTimeout        = 10 * time.Second

	maxLineBytes = 1 << 20
)

type LogTailConfig struct {
	WindowBytes        int64
	MaxLines           int
	LargeFileScanLines int
	Timeout            time.Duration
}

// TailRequest asks for the last Lines lines of a log, optionally filtered.
type TailRequest struct {
	ID    string
	Lines int
	Grep  string
}

// LogTailer serves snapshot-mode reads. Files up to the catalog's size
// limit are read from a trailing byte window; bigger ones go through the
// external tail command.
type LogTailer struct {
	catalog *LogCatalog
	runner  cmdexec.Runner
	cfg     LogTailConfig
	logger  *slog.Logger
}

func NewLogTailer(cfg LogTailConfig, catalog *LogCatalog, runner cmdexec.Runner, logger *slog.Logger) *LogTailer {
	if cfg.WindowBytes <= 0 {
		cfg.WindowBytes = DefaultTailWindowBytes
	}
	if cfg.MaxLines <= 0 {
		cfg.MaxLines = DefaultTailMaxLines
	}
	if cfg.LargeFileScanLines <= 0 {
		cfg.LargeFileScanLines = DefaultLargeFileScanLines
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTailTimeout
	}
	return &LogTailer{catalog: catalog, runner: runner, cfg: cfg, logger: logging.OrDiscard(logger)}
}

// ClampLines bounds a requested line count to [1, max].
func ClampLines(n, max int) int {
	if n < 1 {
		return 1
	}
	if n > max {
		return max
	}
	return n
}

func (t *LogTailer) Tail(ctx context.Context, req TailRequest) (models.TailResult, error) {
	entry, err := t.catalog.Lookup(req.ID)
	if err != nil {
		return models.TailResult{Entry: entry}, err
	}

	n := ClampLines(req.Lines, t.cfg.MaxLines)
	grep := NewGrep(req.Grep)

	var lines []string
	if entry.TooLarge {
		lines, err = t.tailExternal(ctx, entry, n, grep)
	} else {
		lines, err = t.tailWindow(entry, n, grep)
	}
	if err != nil {
		return models.TailResult{Entry: entry}, err
	}

	return models.TailResult{
		Entry:   entry,
		Content: strings.Join(lines, "\n"),
		Lines:   len(lines),
	}, nil
}

// tailWindow reads at most WindowBytes from the end of the file.
func (t *LogTailer) tailWindow(entry models.LogCatalogEntry, n int, grep *Grep) ([]string, error) {
	f, err := os.Open(entry.AbsolutePath)
	if err != nil {
		return nil, openError(entry.ID, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, openError(entry.ID, err)
	}

	size := info.Size()
	window := min(size, t.cfg.WindowBytes)
	offset := size - window

	buf := make([]byte, window)
	read, err := f.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %s: %w", ErrLogUnavailable, entry.ID, err)
	}
	text := string(buf[:read])

	// The window may start in the middle of a line.
	if offset > 0 {
		if idx := strings.IndexByte(text, '\n'); idx >= 0 {
			text = text[idx+1:]
		}
	}

	return lastMatching(splitLines(text), n, grep), nil
}

// tailExternal streams `tail -n K` and keeps the last n matching lines.
// When filtering, K is widened so matches further back can be found.
func (t *LogTailer) tailExternal(ctx context.Context, entry models.LogCatalogEntry, n int, grep *Grep) ([]string, error) {
	k := n
	if grep != nil {
		k = max(n, t.cfg.LargeFileScanLines)
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	proc, err := t.runner.Stream(ctx, "tail", "-n", strconv.Itoa(k), "--", entry.AbsolutePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLogUnavailable, entry.ID, err)
	}
	defer proc.Stop()

	ring := make([]string, 0, n)
	sc := bufio.NewScanner(proc.Stdout)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := strings.TrimSuffix(sc.Text(), "\r")
		if !grep.Match(line) {
			continue
		}
		ring = append(ring, line)
		if len(ring) > 2*n {
			ring = append(ring[:0:0], ring[len(ring)-n:]...)
		}
	}
	scanErr := sc.Err()
	waitErr := proc.Wait()

	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %s: tail timed out", ErrLogUnavailable, entry.ID)
	}
	if scanErr != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLogUnavailable, entry.ID, scanErr)
	}
	if waitErr != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLogUnavailable, entry.ID, waitErr)
	}

	t.logger.Debug("large log tailed externally", "id", entry.ID, "size", entry.SizeBytes, "lines", len(ring))
	return lastN(ring, n), nil
}

func openError(id string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %s", ErrLogNotFound, id)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %s", ErrLogNotAccessible, id)
	default:
		return fmt.Errorf("%w: %s: %w", ErrLogUnavailable, id, err)
	}
}

// splitLines splits on newlines, drops the empty tail after a final newline
// and strips carriage returns.
func splitLines(text string) []string {
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

func lastMatching(lines []string, n int, grep *Grep) []string {
	if grep != nil {
		kept := lines[:0]
		for _, l := range lines {
			if grep.Match(l) {
				kept = append(kept, l)
			}
		}
		lines = kept
	}
	return lastN(lines, n)
}

func lastN(lines []string, n int) []string {
	if len(lines) > n {
		return lines[len(lines)-n:]
	}
	return lines
}
