package services

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"pideck/internal/config"
	"pideck/internal/logging"
	"pideck/internal/models"
)

// DefaultLogMaxFileSize is the size above which a file is tailed by an
// external process instead of being read directly.
const DefaultLogMaxFileSize = 20 << 20

var (
	ErrLogNotFound      = errors.New("log not found")
	ErrLogForbidden     = errors.New("log path outside permitted roots")
	ErrLogNotAccessible = errors.New("log not accessible")
	ErrLogUnavailable   = errors.New("log temporarily unavailable")
)

// LogOrder selects the catalog sort order.
type LogOrder string

const (
	OrderModTime LogOrder = "mtime"
	OrderName    LogOrder = "name"
)

var (
	rotatedLogPattern = regexp.MustCompile(`\.log\.[0-9]+$`)
	archiveExtensions = map[string]bool{".gz": true, ".zip": true, ".xz": true, ".bz2": true, ".zst": true}
)

type LogCatalogConfig struct {
	Sources     []config.LogSource
	LogsDir     string
	Roots       []string
	MaxFileSize int64
}

// LogCatalog enumerates the allow-listed files and the log directory. It
// re-reads the filesystem on every call.
type LogCatalog struct {
	sources []config.LogSource
	logsDir string
	roots   []string
	maxSize int64
	logger  *slog.Logger
}

func NewLogCatalog(cfg LogCatalogConfig, logger *slog.Logger) *LogCatalog {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultLogMaxFileSize
	}

	roots := make([]string, 0, len(cfg.Roots)+1)
	seen := make(map[string]bool)
	for _, root := range append([]string{cfg.LogsDir}, cfg.Roots...) {
		if root == "" {
			continue
		}
		resolved := resolveRoot(root)
		if !seen[resolved] {
			seen[resolved] = true
			roots = append(roots, resolved)
		}
	}

	return &LogCatalog{
		sources: cfg.Sources,
		logsDir: cfg.LogsDir,
		roots:   roots,
		maxSize: cfg.MaxFileSize,
		logger:  logging.OrDiscard(logger),
	}
}

func resolveRoot(root string) string {
	abs, err := filepath.Abs(root)
	if err != nil {
		return filepath.Clean(root)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		return real
	}
	return abs
}

// MaxFileSize is the threshold behind the TooLarge flag.
func (c *LogCatalog) MaxFileSize() int64 {
	return c.maxSize
}

// List returns allow-listed entries (missing ones included) and scanned
// files, de-duplicated by resolved path. Anything that resolves outside the
// permitted roots is left out.
func (c *LogCatalog) List(order LogOrder) []models.LogCatalogEntry {
	entries := make([]models.LogCatalogEntry, 0, len(c.sources))
	seenPaths := make(map[string]bool)
	allowIDs := make(map[string]bool, len(c.sources))

	for _, src := range c.sources {
		allowIDs[src.ID] = true
		entry, err := c.allowListEntry(src)
		if errors.Is(err, ErrLogForbidden) {
			c.logger.Warn("allow-listed log escapes permitted roots, excluded", "id", src.ID, "path", src.Path)
			continue
		}
		if entry.Exists {
			if seenPaths[entry.AbsolutePath] {
				continue
			}
			seenPaths[entry.AbsolutePath] = true
		}
		entries = append(entries, entry)
	}

	for _, entry := range c.scanDir() {
		if allowIDs[entry.ID] || seenPaths[entry.AbsolutePath] {
			continue
		}
		seenPaths[entry.AbsolutePath] = true
		entries = append(entries, entry)
	}

	sortEntries(entries, order)
	return entries
}

// Lookup resolves an id to an existing, permitted file.
func (c *LogCatalog) Lookup(id string) (models.LogCatalogEntry, error) {
	for _, src := range c.sources {
		if src.ID != id {
			continue
		}
		entry, err := c.allowListEntry(src)
		if err != nil {
			return entry, err
		}
		if !entry.Exists {
			return entry, fmt.Errorf("%w: %s", ErrLogNotFound, id)
		}
		return entry, nil
	}

	if !isPlainName(id) || !isLogFileName(id) || c.logsDir == "" {
		return models.LogCatalogEntry{}, fmt.Errorf("%w: %s", ErrLogNotFound, id)
	}
	return c.directoryEntry(id)
}

func (c *LogCatalog) allowListEntry(src config.LogSource) (models.LogCatalogEntry, error) {
	name := src.Name
	if name == "" {
		name = src.ID
	}
	abs, err := filepath.Abs(src.Path)
	if err != nil {
		abs = filepath.Clean(src.Path)
	}
	entry := models.LogCatalogEntry{
		ID:           src.ID,
		DisplayName:  name,
		AbsolutePath: abs,
		Source:       models.LogSourceAllowList,
	}

	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if !c.permitted(abs) {
			return entry, fmt.Errorf("%w: %s", ErrLogForbidden, src.ID)
		}
		if errors.Is(err, fs.ErrPermission) {
			return entry, fmt.Errorf("%w: %s", ErrLogNotAccessible, src.ID)
		}
		return entry, nil
	}
	if !c.permitted(real) {
		return entry, fmt.Errorf("%w: %s", ErrLogForbidden, src.ID)
	}

	entry.AbsolutePath = real
	return c.stat(entry)
}

func (c *LogCatalog) directoryEntry(name string) (models.LogCatalogEntry, error) {
	path := filepath.Join(c.logsDir, name)
	entry := models.LogCatalogEntry{
		ID:           name,
		DisplayName:  name,
		AbsolutePath: path,
		Source:       models.LogSourceDirectory,
	}

	real, err := filepath.EvalSymlinks(path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return entry, fmt.Errorf("%w: %s", ErrLogNotAccessible, name)
		}
		return entry, fmt.Errorf("%w: %s", ErrLogNotFound, name)
	}
	if !c.permitted(real) {
		return entry, fmt.Errorf("%w: %s", ErrLogForbidden, name)
	}

	entry.AbsolutePath = real
	entry, err = c.stat(entry)
	if err != nil {
		return entry, err
	}
	// Extensionless names only count as logs once they have content.
	if !entry.Exists || (filepath.Ext(name) == "" && entry.SizeBytes == 0) {
		return entry, fmt.Errorf("%w: %s", ErrLogNotFound, name)
	}
	return entry, nil
}

// stat fills size and mtime. Directories and other non-regular files are
// reported as missing.
func (c *LogCatalog) stat(entry models.LogCatalogEntry) (models.LogCatalogEntry, error) {
	info, err := os.Stat(entry.AbsolutePath)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return entry, fmt.Errorf("%w: %s", ErrLogNotAccessible, entry.ID)
		}
		return entry, nil
	}
	if !info.Mode().IsRegular() {
		return entry, nil
	}

	entry.Exists = true
	entry.SizeBytes = info.Size()
	entry.ModTime = info.ModTime()
	entry.TooLarge = info.Size() > c.maxSize
	return entry, nil
}

func (c *LogCatalog) scanDir() []models.LogCatalogEntry {
	if c.logsDir == "" {
		return nil
	}
	dirents, err := os.ReadDir(c.logsDir)
	if err != nil {
		c.logger.Debug("log directory not readable", "dir", c.logsDir, "error", err)
		return nil
	}

	var entries []models.LogCatalogEntry
	for _, d := range dirents {
		name := d.Name()
		if d.IsDir() || !isLogFileName(name) {
			continue
		}
		entry, err := c.directoryEntry(name)
		if err != nil {
			if errors.Is(err, ErrLogForbidden) {
				c.logger.Warn("log file escapes permitted roots, excluded", "name", name)
			}
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}

// permitted reports whether path lies strictly inside one of the roots.
func (c *LogCatalog) permitted(path string) bool {
	for _, root := range c.roots {
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." || rel == ".." {
			continue
		}
		if !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

var logExtensions = map[string]bool{"": true, ".log": true, ".txt": true, ".journal": true}

// isLogFileName accepts *.log, *.txt, *.journal, rotated *.log.N and
// extensionless names.
func isLogFileName(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") {
		return false
	}
	ext := filepath.Ext(name)
	if archiveExtensions[ext] {
		return false
	}
	return logExtensions[ext] || rotatedLogPattern.MatchString(name)
}

func isPlainName(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`) && filepath.Base(id) == id
}

func sortEntries(entries []models.LogCatalogEntry, order LogOrder) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if order == OrderName {
			an, bn := strings.ToLower(a.DisplayName), strings.ToLower(b.DisplayName)
			if an != bn {
				return an < bn
			}
			return a.ID < b.ID
		}
		if !a.ModTime.Equal(b.ModTime) {
			return a.ModTime.After(b.ModTime)
		}
		return a.ID < b.ID
	})
}
