package db

import (
	"context"
	"database/sql"
	"pastebin/pkg/domain"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

var (
	ErrCircuitOpen = errors.New("database circuit breaker open")
	ErrNotFound    = errors.New("record not found")
)

const (
	circuitClosed   = 0
	circuitOpen     = 1
	circuitHalfOpen = 2
	maxFailures     = 5
	cooldownSeconds = 30
)

const (
	defaultMaxOpenConns = 25
	defaultMaxIdleConns = 10
	defaultQueryTimeout = 5 * time.Second
	bulkDeleteBatch     = 500
)

type SQLite struct {
	db            *sql.DB
	failures      int32
	circuitState  int32
	circuitOpened int64
	queryTimeout  time.Duration
}

func (s *SQLite) DB() *sql.DB {
	return s.db
}
func NewSQLite(path string) (*SQLite, error) {
	return NewSQLiteWithConfig(path, defaultMaxOpenConns, defaultMaxIdleConns, defaultQueryTimeout)
}

func NewSQLiteWithConfig(path string, maxOpenConns, maxIdleConns int, queryTimeout time.Duration) (*SQLite, error) {
	db, err := sql.Open("sqlite3", buildDSN(path))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open db")
	}
	if maxOpenConns <= 0 {
		maxOpenConns = defaultMaxOpenConns
	}
	if maxIdleConns <= 0 {
		maxIdleConns = defaultMaxIdleConns
	}
	if queryTimeout <= 0 {
		queryTimeout = defaultQueryTimeout
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping db")
	}
	s := &SQLite{
		db:           db,
		queryTimeout: queryTimeout,
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migration failed")
	}
	return s, nil
}

// buildDSN applies per-connection pragmas through the driver's DSN options so
// every pooled connection gets them, not only the first one.
func buildDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_busy_timeout=5000&_journal_mode=WAL&_synchronous=FULL&_txlock=immediate"
}
func (s *SQLite) checkCircuit() error {
	state := atomic.LoadInt32(&s.circuitState)
	switch state {
	case circuitClosed:
		return nil
	case circuitOpen:
		opened := atomic.LoadInt64(&s.circuitOpened)
		if time.Now().Unix()-opened >= cooldownSeconds {
			if atomic.CompareAndSwapInt32(&s.circuitState, circuitOpen, circuitHalfOpen) {
				return nil
			}
		}
		return ErrCircuitOpen
	case circuitHalfOpen:
		return nil
	default:
		return nil
	}
}
func (s *SQLite) recordError(err error) {
	if err == nil {
		atomic.StoreInt32(&s.failures, 0)
		atomic.StoreInt32(&s.circuitState, circuitClosed)
		return
	}
	if errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return
	}
	failures := atomic.AddInt32(&s.failures, 1)
	if atomic.LoadInt32(&s.circuitState) == circuitHalfOpen {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
		atomic.StoreInt32(&s.failures, 0)
		return
	}
	if failures >= maxFailures && atomic.LoadInt32(&s.circuitState) == circuitClosed {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
	}
}
func (s *SQLite) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS pastes (
		id TEXT PRIMARY KEY,
		token TEXT NOT NULL UNIQUE,
		content_size_bytes INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		view_count INTEGER NOT NULL DEFAULT 0,
		title TEXT,
		language TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_pastes_expiry ON pastes(expires_at, id);
	CREATE TABLE IF NOT EXISTS pool_tokens (
		sequence_id INTEGER PRIMARY KEY,
		token TEXT NOT NULL UNIQUE,
		created_at INTEGER NOT NULL,
		used_at INTEGER,
		is_used INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_pool_tokens_is_used ON pool_tokens(is_used);
	CREATE TABLE IF NOT EXISTS sequences (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(query)
	return err
}

const pasteColumns = `id, token, content_size_bytes, created_at, expires_at, view_count, COALESCE(title, ''), COALESCE(language, '')`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPaste(row rowScanner) (*domain.Paste, error) {
	var p domain.Paste
	var created, expires int64
	if err := row.Scan(&p.ID, &p.Token, &p.ContentSizeBytes, &created, &expires, &p.ViewCount, &p.Title, &p.Language); err != nil {
		return nil, err
	}
	p.CreatedAt = fromNanos(created)
	p.ExpiresAt = fromNanos(expires)
	return &p, nil
}
func toNanos(t time.Time) int64 { return t.UTC().UnixNano() }
func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *SQLite) InsertPaste(ctx context.Context, p *domain.Paste) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	INSERT INTO pastes (id, token, content_size_bytes, created_at, expires_at, view_count, title, language)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(queryCtx, q,
		p.ID, p.Token, p.ContentSizeBytes, toNanos(p.CreatedAt), toNanos(p.ExpiresAt), p.ViewCount,
		nullString(p.Title), nullString(p.Language),
	)
	s.recordError(err)
	return errors.Wrap(err, "insert paste")
}
func (s *SQLite) FindByToken(ctx context.Context, token string) (*domain.Paste, error) {
	return s.findOne(ctx, `SELECT `+pasteColumns+` FROM pastes WHERE token = ?`, token)
}
func (s *SQLite) FindByID(ctx context.Context, id string) (*domain.Paste, error) {
	return s.findOne(ctx, `SELECT `+pasteColumns+` FROM pastes WHERE id = ?`, id)
}
func (s *SQLite) findOne(ctx context.Context, q string, arg string) (*domain.Paste, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	p, err := scanPaste(s.db.QueryRowContext(queryCtx, q, arg))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db get")
	}
	return p, nil
}
func (s *SQLite) Exists(ctx context.Context, token string) (bool, error) {
	if err := s.checkCircuit(); err != nil {
		return false, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var exists int
	err := s.db.QueryRowContext(queryCtx, `SELECT 1 FROM pastes WHERE token = ? LIMIT 1`, token).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	s.recordError(err)
	if err != nil {
		return false, errors.Wrap(err, "exists check failed")
	}
	return exists == 1, nil
}

// UpdateFields writes the non-nil fields of u to the paste with the given id.
func (s *SQLite) UpdateFields(ctx context.Context, id string, u domain.PasteUpdate) error {
	if u.Empty() {
		return nil
	}
	if err := s.checkCircuit(); err != nil {
		return err
	}
	var sets []string
	var args []any
	if u.ViewCount != nil {
		sets = append(sets, "view_count = ?")
		args = append(args, *u.ViewCount)
	}
	if u.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, nullString(*u.Title))
	}
	if u.Language != nil {
		sets = append(sets, "language = ?")
		args = append(args, nullString(*u.Language))
	}
	args = append(args, id)
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	res, err := s.db.ExecContext(queryCtx, `UPDATE pastes SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	s.recordError(err)
	if err != nil {
		return errors.Wrap(err, "update paste")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementViews bumps view_count in place and returns the new value.
func (s *SQLite) IncrementViews(ctx context.Context, id string) (int64, error) {
	if err := s.checkCircuit(); err != nil {
		return 0, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var views int64
	err := s.db.QueryRowContext(queryCtx,
		`UPDATE pastes SET view_count = view_count + 1 WHERE id = ? RETURNING view_count`, id,
	).Scan(&views)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	s.recordError(err)
	if err != nil {
		return 0, errors.Wrap(err, "incr views")
	}
	return views, nil
}

// FindExpired returns up to limit pastes with expires_at <= before, oldest first.
func (s *SQLite) FindExpired(ctx context.Context, before time.Time, limit int) ([]*domain.Paste, error) {
	return s.FindExpiredAfter(ctx, before, domain.ExpiryCursor{}, limit)
}

// FindExpiredAfter pages expired pastes in (expires_at, id) order, starting
// strictly after the cursor.
func (s *SQLite) FindExpiredAfter(ctx context.Context, before time.Time, after domain.ExpiryCursor, limit int) ([]*domain.Paste, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	query := `SELECT ` + pasteColumns + ` FROM pastes WHERE expires_at <= ?`
	args := []interface{}{toNanos(before)}
	if !after.IsZero() {
		at := toNanos(after.ExpiresAt)
		query += ` AND (expires_at > ? OR (expires_at = ? AND id > ?))`
		args = append(args, at, at, after.ID)
	}
	query += ` ORDER BY expires_at ASC, id ASC LIMIT ?`
	args = append(args, limit)
	rows, err := s.db.QueryContext(queryCtx, query, args...)
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "find expired")
	}
	defer rows.Close()
	var out []*domain.Paste
	for rows.Next() {
		p, err := scanPaste(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan expired")
		}
		out = append(out, p)
	}
	return out, errors.Wrap(rows.Err(), "iterate expired")
}

// DeleteByID removes a paste. Deleting an absent row is not an error; the
// returned bool reports whether this call removed it.
func (s *SQLite) DeleteByID(ctx context.Context, id string) (bool, error) {
	if err := s.checkCircuit(); err != nil {
		return false, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	res, err := s.db.ExecContext(queryCtx, `DELETE FROM pastes WHERE id = ?`, id)
	s.recordError(err)
	if err != nil {
		return false, errors.Wrap(err, "delete paste")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeleteExpired bulk-deletes every paste with expires_at <= before. It only
// touches the metadata store; callers that also own cache or content entries
// should use FindExpired and delete per record.
func (s *SQLite) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	if err := s.checkCircuit(); err != nil {
		return 0, err
	}
	totalDeleted := 0
	for {
		select {
		case <-ctx.Done():
			return totalDeleted, ctx.Err()
		default:
		}
		queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
		result, err := s.db.ExecContext(queryCtx, `
			DELETE FROM pastes
			WHERE id IN (
				SELECT id FROM pastes
				WHERE expires_at <= ?
				LIMIT ?
			)
		`, toNanos(before), bulkDeleteBatch)
		cancel()
		s.recordError(err)
		if err != nil {
			return totalDeleted, errors.Wrap(err, "bulk delete batch failed")
		}
		deleted, _ := result.RowsAffected()
		totalDeleted += int(deleted)
		if deleted < bulkDeleteBatch {
			return totalDeleted, nil
		}
	}
}

// NextSequence atomically reserves n consecutive values of the named counter
// and returns the last one. Reserved values are never handed out again even if
// the caller fails to use them.
func (s *SQLite) NextSequence(ctx context.Context, name string, n int) (int64, error) {
	if n <= 0 {
		return 0, errors.New("sequence reservation must be positive")
	}
	if err := s.checkCircuit(); err != nil {
		return 0, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var last int64
	err := s.db.QueryRowContext(queryCtx, `
		INSERT INTO sequences (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = value + excluded.value
		RETURNING value
	`, name, n).Scan(&last)
	s.recordError(err)
	if err != nil {
		return 0, errors.Wrap(err, "next sequence")
	}
	return last, nil
}

// InsertPoolTokens persists a batch of ledger entries in one transaction.
func (s *SQLite) InsertPoolTokens(ctx context.Context, tokens []domain.PoolToken) error {
	if len(tokens) == 0 {
		return nil
	}
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	err := s.withTx(queryCtx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(queryCtx,
			`INSERT INTO pool_tokens (sequence_id, token, created_at, is_used) VALUES (?, ?, ?, 0)`)
		if err != nil {
			return errors.Wrap(err, "prepare pool insert")
		}
		defer stmt.Close()
		for _, t := range tokens {
			if _, err := stmt.ExecContext(queryCtx, t.SequenceID, t.Token, toNanos(t.CreatedAt)); err != nil {
				return errors.Wrapf(err, "insert pool token %d", t.SequenceID)
			}
		}
		return nil
	})
	s.recordError(err)
	return err
}

// MarkPoolTokenUsed flags a ledger entry as consumed. Informational only.
func (s *SQLite) MarkPoolTokenUsed(ctx context.Context, token string, at time.Time) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	res, err := s.db.ExecContext(queryCtx,
		`UPDATE pool_tokens SET is_used = 1, used_at = ? WHERE token = ? AND is_used = 0`, toNanos(at), token)
	s.recordError(err)
	if err != nil {
		return errors.Wrap(err, "mark pool token used")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
func (s *SQLite) GetUnusedPoolToken(ctx context.Context, token string) (*domain.PoolToken, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var t domain.PoolToken
	var created int64
	err := s.db.QueryRowContext(queryCtx,
		`SELECT sequence_id, token, created_at FROM pool_tokens WHERE token = ? AND is_used = 0`, token,
	).Scan(&t.SequenceID, &t.Token, &created)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "get pool token")
	}
	t.CreatedAt = fromNanos(created)
	return &t, nil
}
func (s *SQLite) UnusedPoolCount(ctx context.Context) (int, error) {
	if err := s.checkCircuit(); err != nil {
		return 0, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var n int
	err := s.db.QueryRowContext(queryCtx, `SELECT COUNT(*) FROM pool_tokens WHERE is_used = 0`).Scan(&n)
	s.recordError(err)
	return n, errors.Wrap(err, "count unused pool tokens")
}

func (s *SQLite) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "commit tx")
}
func (s *SQLite) Close() error {
	return s.db.Close()
}
