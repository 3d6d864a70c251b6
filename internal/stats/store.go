package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const dayLayout = "2006-01-02"

const schema = `
CREATE TABLE IF NOT EXISTS agent_daily_stats (
	date       TEXT    NOT NULL,
	extension  TEXT    NOT NULL,
	calls_made INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (date, extension)
);
`

type Config struct {
	// Path of the SQLite file, created when missing.
	Path string

	// RetentionDays of history kept; older rows are purged on open.
	RetentionDays int

	// Location that decides where a day starts. Defaults to UTC.
	Location *time.Location

	Now    func() time.Time
	Logger zerolog.Logger
}

// Store is the per-day outbound call counter keyed by (date, extension).
type Store struct {
	pool   *sqlitex.Pool
	loc    *time.Location
	now    func() time.Time
	logger zerolog.Logger
}

// Open creates the schema if needed and purges rows outside the
// retention window.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("stats: path is required")
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    2,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, fmt.Errorf("stats: open %s: %w", cfg.Path, err)
	}

	s := &Store{
		pool:   pool,
		loc:    cfg.Location,
		now:    cfg.Now,
		logger: cfg.Logger,
	}

	if err := s.init(ctx, cfg.RetentionDays); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func prepareConn(conn *sqlite.Conn) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) init(ctx context.Context, retentionDays int) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("stats: take: %w", err)
	}
	defer s.pool.Put(conn)

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("stats: schema: %w", err)
	}

	cutoff := s.now().In(s.loc).AddDate(0, 0, -retentionDays).Format(dayLayout)
	err = sqlitex.Execute(conn, `DELETE FROM agent_daily_stats WHERE date < ?`, &sqlitex.ExecOptions{
		Args: []any{cutoff},
	})
	if err != nil {
		return fmt.Errorf("stats: purge: %w", err)
	}

	s.logger.Info().
		Str("cutoff", cutoff).
		Int("purged", conn.Changes()).
		Msg("stats table initialized")
	return nil
}

// Today is the current day key.
func (s *Store) Today() string {
	return s.now().In(s.loc).Format(dayLayout)
}

// Increment adds one outbound call for ext today.
func (s *Store) Increment(ctx context.Context, ext string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("stats: take: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO agent_daily_stats (date, extension, calls_made)
		VALUES (?, ?, 1)
		ON CONFLICT(date, extension) DO UPDATE SET calls_made = calls_made + 1
	`, &sqlitex.ExecOptions{
		Args: []any{s.Today(), ext},
	})
	if err != nil {
		return fmt.Errorf("stats: increment %s: %w", ext, err)
	}
	return nil
}

// ReadToday returns today's counts per extension.
func (s *Store) ReadToday(ctx context.Context) (map[string]int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("stats: take: %w", err)
	}
	defer s.pool.Put(conn)

	out := make(map[string]int)
	err = sqlitex.Execute(conn, `SELECT extension, calls_made FROM agent_daily_stats WHERE date = ?`, &sqlitex.ExecOptions{
		Args: []any{s.Today()},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			out[stmt.ColumnText(0)] = stmt.ColumnInt(1)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("stats: read today: %w", err)
	}
	return out, nil
}

// Count returns the stored value for one (day, extension) pair.
func (s *Store) Count(ctx context.Context, day, ext string) (int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("stats: take: %w", err)
	}
	defer s.pool.Put(conn)

	var n int
	err = sqlitex.Execute(conn, `SELECT calls_made FROM agent_daily_stats WHERE date = ? AND extension = ?`, &sqlitex.ExecOptions{
		Args: []any{day, ext},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			n = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("stats: count: %w", err)
	}
	return n, nil
}

func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("stats: close: %w", err)
	}
	return nil
}
