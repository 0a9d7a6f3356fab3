package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // SQLite driver
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Storage represents SQLite storage implementation
type Storage struct {
	db    *sql.DB
	clock func() time.Time
	stamp *stamper
}

// Option configures Storage
type Option func(*Storage)

// WithClock overrides the time source used for server stamps (tests)
func WithClock(clock func() time.Time) Option {
	return func(s *Storage) {
		s.clock = clock
	}
}

// New creates a new SQLite storage instance
// dbPath is the path to the SQLite database file
// Use ":memory:" for in-memory database (useful for testing)
func New(ctx context.Context, dbPath string, opts ...Option) (*Storage, error) {
	// Открываем соединение с БД
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Проверяем соединение
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Одно соединение: транзакции операций изолированы и сериализуются,
	// а чтение дельты видит согласованный снимок
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	storage := &Storage{
		db:    db,
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(storage)
	}

	// Запускаем миграции
	if err := storage.runMigrations(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	last, err := storage.lastStamp(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to restore stamp: %w", err)
	}
	storage.stamp = &stamper{clock: storage.clock, last: last}

	return storage, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

// Ping checks database availability
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// runMigrations выполняет миграции из embedded FS
func (s *Storage) runMigrations(ctx context.Context) error {
	migrations, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, migrations)
	if err != nil {
		return fmt.Errorf("failed to create goose provider: %w", err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("goose up failed: %w", err)
	}

	return nil
}

// lastStamp returns the newest server stamp already persisted or handed out
// as a watermark, so stamps stay monotonic across restarts even if the wall clock moved back
func (s *Storage) lastStamp(ctx context.Context) (int64, error) {
	query := `
		SELECT MAX(
			COALESCE((SELECT MAX(updated_at) FROM entities), 0),
			COALESCE((SELECT MAX(deleted_at) FROM tombstones), 0),
			COALESCE((SELECT last FROM stamps WHERE id = 1), 0)
		)
	`

	var last int64
	if err := s.db.QueryRowContext(ctx, query).Scan(&last); err != nil {
		return 0, err
	}

	return last, nil
}

// DB returns the underlying database connection for testing purposes
func (s *Storage) DB() *sql.DB {
	return s.db
}

// stamper выдает строго возрастающие серверные метки времени.
// Все записи и захват watermark проходят через него, поэтому любая запись,
// сделанная после захвата watermark, получает метку строго больше него.
type stamper struct {
	clock func() time.Time
	last  int64
	mu    sync.Mutex
}

func (st *stamper) next() time.Time {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := st.clock().UnixNano()
	if now <= st.last {
		now = st.last + 1
	}
	st.last = now

	return unixNanoToTime(now)
}

// saveStamp запоминает выданную метку: удаление tombstone'ов не должно опускать ее
func saveStamp(ctx context.Context, q queryer, stamp time.Time) error {
	_, err := q.ExecContext(ctx,
		`UPDATE stamps SET last = MAX(last, ?) WHERE id = 1`,
		timeToUnixNano(stamp),
	)
	if err != nil {
		return fmt.Errorf("failed to save stamp: %w", err)
	}
	return nil
}

func unixNanoToTime(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

func timeToUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
