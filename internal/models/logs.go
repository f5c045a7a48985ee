package models

import "time"

// LogSource tells where a catalog entry came from.
type LogSource string

const (
	LogSourceAllowList LogSource = "allowlist"
	LogSourceDirectory LogSource = "directory"
)

// LogCatalogEntry describes one viewable log file. Entries for configured but
// missing files are kept with Exists set to false.
type LogCatalogEntry struct {
	ID           string    `json:"id"`
	DisplayName  string    `json:"displayName"`
	AbsolutePath string    `json:"absolutePath"`
	SizeBytes    int64     `json:"sizeBytes"`
	ModTime      time.Time `json:"mtime"`
	Exists       bool      `json:"exists"`
	TooLarge     bool      `json:"tooLarge"`
	Source       LogSource `json:"source"`
}

// TailResult is the answer to a snapshot-mode tail request.
type TailResult struct {
	Entry   LogCatalogEntry `json:"entry"`
	Content string          `json:"content"`
	Lines   int             `json:"lines"`
}

// FollowEvent is a single message on a follow stream. A non-empty Error marks
// the last event of the stream.
type FollowEvent struct {
	Line  string `json:"line"`
	Error string `json:"error,omitempty"`
}
