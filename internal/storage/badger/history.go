package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pideck/internal/models"

	"github.com/dgraph-io/badger/v4"
)

var (
	ErrDBConnection = errors.New("badger database connection error")
	ErrDBQuery      = errors.New("database query error")
	ErrCreate       = errors.New("create error")
	ErrDelete       = errors.New("delete error")
)

var (
	historyPrefix = []byte("hm:")
	sequenceKey   = []byte("seq:hm")
)

const sequenceBandwidth = 100

type Database struct {
	db  *badger.DB
	seq *badger.Sequence
}

func NewDatabase(path string) (*Database, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	return open(opts)
}

// NewInMemoryDatabase opens a database that lives only as long as the
// process.
func NewInMemoryDatabase() (*Database, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return open(opts)
}

func open(opts badger.Options) (*Database, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBConnection, err)
	}

	seq, err := db.GetSequence(sequenceKey, sequenceBandwidth)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", ErrDBConnection, err)
	}

	return &Database{db: db, seq: seq}, nil
}

func (d *Database) Close() error {
	return errors.Join(d.seq.Release(), d.db.Close())
}

// historyKey sorts by timestamp, then id.
func historyKey(ts time.Time, id uint64) []byte {
	key := make([]byte, 0, len(historyPrefix)+16)
	key = append(key, historyPrefix...)
	key = binary.BigEndian.AppendUint64(key, uint64(ts.UnixMilli()))
	key = binary.BigEndian.AppendUint64(key, id)
	return key
}

func timeKey(ts time.Time) []byte {
	key := make([]byte, 0, len(historyPrefix)+8)
	key = append(key, historyPrefix...)
	return binary.BigEndian.AppendUint64(key, uint64(ts.UnixMilli()))
}

const defaultPruneBatch = 1000

// HistoryStore keeps records as JSON values under time-ordered keys.
type HistoryStore struct {
	db         *Database
	pruneBatch int
}

type Option func(*HistoryStore)

// WithPruneBatch caps how many expired keys one transaction deletes.
func WithPruneBatch(n int) Option {
	return func(s *HistoryStore) {
		if n > 0 {
			s.pruneBatch = n
		}
	}
}

func NewHistoryStore(db *Database, opts ...Option) *HistoryStore {
	s := &HistoryStore{db: db, pruneBatch: defaultPruneBatch}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append stores rec and drops records older than cutoff. The first prune
// batch shares the insert's transaction; a backlog left by a long downtime
// is worked off in further transactions so none of them grows too big.
func (s *HistoryStore) Append(_ context.Context, rec models.HistoricalMetricRecord, cutoff time.Time) (models.HistoricalMetricRecord, error) {
	// Sequences start at 0; ids start at 1 like the sqlite store.
	next, err := s.db.seq.Next()
	if err != nil {
		return rec, fmt.Errorf("%w: %w", ErrCreate, err)
	}
	rec.ID = int64(next) + 1

	val, err := json.Marshal(rec)
	if err != nil {
		return rec, fmt.Errorf("marshal error: %w", err)
	}

	var pruned int
	err = s.db.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(historyKey(rec.Timestamp, uint64(rec.ID)), val); err != nil {
			return fmt.Errorf("%w: %w", ErrCreate, err)
		}
		pruned, err = prune(txn, cutoff, s.pruneBatch)
		return err
	})
	if err != nil {
		return rec, err
	}

	for pruned == s.pruneBatch {
		err = s.db.db.Update(func(txn *badger.Txn) error {
			pruned, err = prune(txn, cutoff, s.pruneBatch)
			return err
		})
		if err != nil {
			return rec, err
		}
	}

	return rec, nil
}

// prune deletes up to limit keys older than cutoff and reports how many it
// deleted. Timestamps before the epoch are not expected.
func prune(txn *badger.Txn, cutoff time.Time, limit int) (int, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)

	end := timeKey(cutoff)
	var stale [][]byte
	for it.Seek(historyPrefix); it.ValidForPrefix(historyPrefix) && len(stale) < limit; it.Next() {
		key := it.Item().KeyCopy(nil)
		if string(key) >= string(end) {
			break
		}
		stale = append(stale, key)
	}
	it.Close()

	for _, key := range stale {
		if err := txn.Delete(key); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrDelete, err)
		}
	}
	return len(stale), nil
}

func (s *HistoryStore) Since(_ context.Context, since time.Time) ([]models.HistoricalMetricRecord, error) {
	var records []models.HistoricalMetricRecord
	err := s.db.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(timeKey(since)); it.ValidForPrefix(historyPrefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var rec models.HistoricalMetricRecord
			if err := json.Unmarshal(val, &rec); err != nil {
				return fmt.Errorf("unmarshal error: %w", err)
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return records, nil
}

func (s *HistoryStore) Close() error {
	return s.db.Close()
}
