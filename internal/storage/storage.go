package storage

import (
	"fmt"

	"pideck/internal/services"
	"pideck/internal/storage/badger"
	"pideck/internal/storage/sqlite"
)

const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// NewHistoryStore opens the history backend named by backend. path is a
// file for sqlite and a directory for badger; memory ignores it.
func NewHistoryStore(backend, path string) (services.HistoryStore, error) {
	switch backend {
	case BackendSQLite:
		db, err := sqlite.NewDatabase(path)
		if err != nil {
			return nil, err
		}
		return sqlite.NewHistoryStore(db), nil
	case BackendBadger:
		db, err := badger.NewDatabase(path)
		if err != nil {
			return nil, err
		}
		return badger.NewHistoryStore(db), nil
	case BackendMemory:
		return services.NewMemoryHistoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported history backend: %s", backend)
	}
}
