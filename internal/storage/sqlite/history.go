package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pideck/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	migrate "github.com/rubenv/sql-migrate"
)

var (
	ErrDBConnection = errors.New("database connection error")
	ErrDBMigrate    = errors.New("database migration error")
	ErrDBQuery      = errors.New("database query error")
	ErrCreate       = errors.New("create error")
	ErrDelete       = errors.New("delete error")
)

type Database struct {
	*sqlx.DB
}

// NewDatabase opens (creating if needed) the history database at path and
// applies pending migrations.
func NewDatabase(path string) (*Database, error) {
	db, err := sqlx.Connect("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBConnection, err)
	}

	// One writer at a time; sqlite serialises writes anyway.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	database := &Database{DB: db}
	if err := database.Migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return database, nil
}

func (db *Database) Migrate() error {
	migrations := &migrate.MemoryMigrationSource{
		Migrations: []*migrate.Migration{
			{
				Id: "1_create_historical_metrics",
				Up: []string{
					`CREATE TABLE IF NOT EXISTS historical_metrics (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						timestamp INTEGER NOT NULL,
						cpu_usage INTEGER NOT NULL,
						memory_usage INTEGER NOT NULL,
						temperature INTEGER NOT NULL,
						disk_read_speed INTEGER NOT NULL,
						disk_write_speed INTEGER NOT NULL,
						network_rx INTEGER NOT NULL,
						network_tx INTEGER NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS idx_historical_metrics_timestamp ON historical_metrics(timestamp)`,
				},
				Down: []string{
					`DROP INDEX IF EXISTS idx_historical_metrics_timestamp`,
					`DROP TABLE IF EXISTS historical_metrics`,
				},
			},
		},
	}

	if _, err := migrate.Exec(db.DB.DB, "sqlite3", migrations, migrate.Up); err != nil {
		return fmt.Errorf("%w: %w", ErrDBMigrate, err)
	}

	return nil
}

type dbHistoryRecord struct {
	ID             int64 `db:"id"`
	Timestamp      int64 `db:"timestamp"`
	CPUUsage       int64 `db:"cpu_usage"`
	MemoryUsage    int64 `db:"memory_usage"`
	Temperature    int64 `db:"temperature"`
	DiskReadSpeed  int64 `db:"disk_read_speed"`
	DiskWriteSpeed int64 `db:"disk_write_speed"`
	NetworkRx      int64 `db:"network_rx"`
	NetworkTx      int64 `db:"network_tx"`
}

func toDB(r models.HistoricalMetricRecord) dbHistoryRecord {
	return dbHistoryRecord{
		ID:             r.ID,
		Timestamp:      r.Timestamp.UnixMilli(),
		CPUUsage:       r.CPUUsage,
		MemoryUsage:    r.MemoryUsage,
		Temperature:    r.Temperature,
		DiskReadSpeed:  r.DiskReadSpeed,
		DiskWriteSpeed: r.DiskWriteSpeed,
		NetworkRx:      r.NetworkRx,
		NetworkTx:      r.NetworkTx,
	}
}

func fromDB(r dbHistoryRecord) models.HistoricalMetricRecord {
	return models.HistoricalMetricRecord{
		ID:             r.ID,
		Timestamp:      time.UnixMilli(r.Timestamp).UTC(),
		CPUUsage:       r.CPUUsage,
		MemoryUsage:    r.MemoryUsage,
		Temperature:    r.Temperature,
		DiskReadSpeed:  r.DiskReadSpeed,
		DiskWriteSpeed: r.DiskWriteSpeed,
		NetworkRx:      r.NetworkRx,
		NetworkTx:      r.NetworkTx,
	}
}

// HistoryStore keeps historical metric records in the historical_metrics
// table.
type HistoryStore struct {
	db *Database
}

func NewHistoryStore(db *Database) *HistoryStore {
	return &HistoryStore{db: db}
}

// Append inserts rec and deletes everything older than cutoff in the same
// transaction.
func (s *HistoryStore) Append(ctx context.Context, rec models.HistoricalMetricRecord, cutoff time.Time) (models.HistoricalMetricRecord, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return rec, fmt.Errorf("%w: %w", ErrCreate, err)
	}
	defer tx.Rollback()

	query := `INSERT INTO historical_metrics
		(timestamp, cpu_usage, memory_usage, temperature, disk_read_speed, disk_write_speed, network_rx, network_tx)
		VALUES (:timestamp, :cpu_usage, :memory_usage, :temperature, :disk_read_speed, :disk_write_speed, :network_rx, :network_tx)`

	res, err := tx.NamedExecContext(ctx, query, toDB(rec))
	if err != nil {
		return rec, fmt.Errorf("%w: %w", ErrCreate, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return rec, fmt.Errorf("%w: %w", ErrCreate, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM historical_metrics WHERE timestamp < ?`, cutoff.UnixMilli()); err != nil {
		return rec, fmt.Errorf("%w: %w", ErrDelete, err)
	}

	if err := tx.Commit(); err != nil {
		return rec, fmt.Errorf("%w: %w", ErrCreate, err)
	}

	rec.ID = id
	return rec, nil
}

// Since returns records with timestamp >= since, oldest first.
func (s *HistoryStore) Since(ctx context.Context, since time.Time) ([]models.HistoricalMetricRecord, error) {
	var rows []dbHistoryRecord
	query := `SELECT * FROM historical_metrics WHERE timestamp >= ? ORDER BY timestamp ASC, id ASC`
	if err := s.db.SelectContext(ctx, &rows, query, since.UnixMilli()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	records := make([]models.HistoricalMetricRecord, len(rows))
	for i, r := range rows {
		records[i] = fromDB(r)
	}
	return records, nil
}

func (s *HistoryStore) Close() error {
	return s.db.Close()
}
