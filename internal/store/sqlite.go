package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"SweepSentinel/internal/model"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists swings, sweeps and sequences to a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	mu  sync.Mutex
	log zerolog.Logger
}

// NewSQLiteStore opens (or creates) the SQLite database and runs migrations.
func NewSQLiteStore(dbPath string, log zerolog.Logger) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps transactions and plain reads from contending
	// for the write lock.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, log: log.With().Str("component", "store").Logger()}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s.log.Info().Str("path", dbPath).Msg("sqlite store opened")
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS swing_levels (
			id         TEXT PRIMARY KEY,
			resolution TEXT NOT NULL,
			direction  TEXT NOT NULL,
			price      TEXT NOT NULL,
			bar_time   INTEGER NOT NULL,
			active     INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_swing_active
			ON swing_levels(resolution, direction) WHERE active = 1`,

		`CREATE TABLE IF NOT EXISTS sweep_events (
			id          TEXT PRIMARY KEY,
			direction   TEXT NOT NULL,
			price       TEXT NOT NULL,
			bias        TEXT NOT NULL,
			swing_id    TEXT NOT NULL,
			swing_price TEXT NOT NULL,
			active      INTEGER NOT NULL DEFAULT 1,
			timestamp   INTEGER NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_sweep_active ON sweep_events(active) WHERE active = 1`,
		`CREATE INDEX IF NOT EXISTS idx_sweep_swing ON sweep_events(swing_id)`,

		`CREATE TABLE IF NOT EXISTS confirmation_sequences (
			id             TEXT PRIMARY KEY,
			sweep_id       TEXT NOT NULL,
			bias           TEXT NOT NULL,
			stage          TEXT NOT NULL,
			change_price   TEXT,
			change_time    INTEGER,
			gap_low        TEXT,
			gap_high       TEXT,
			gap_formed_at  INTEGER,
			fill_price     TEXT,
			fill_time      INTEGER,
			break_price    TEXT,
			break_time     INTEGER,
			expired_reason TEXT NOT NULL DEFAULT '',
			created_at     INTEGER NOT NULL,
			updated_at     INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sequence_stage ON confirmation_sequences(stage)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

type rowScanner interface {
	Scan(dest ...any) error
}

const swingColumns = `id, resolution, direction, price, bar_time, active, created_at`

func scanSwing(r rowScanner) (*model.SwingLevel, error) {
	var (
		lvl             model.SwingLevel
		barTime, created int64
		active          bool
		resolution, dir string
	)
	if err := r.Scan(&lvl.ID, &resolution, &dir, &lvl.Price, &barTime, &active, &created); err != nil {
		return nil, err
	}
	lvl.Resolution = model.Resolution(resolution)
	lvl.Direction = model.Direction(dir)
	lvl.Time = fromMillis(barTime)
	lvl.Active = active
	lvl.CreatedAt = fromMillis(created)
	return &lvl, nil
}

func (s *SQLiteStore) ActiveSwing(ctx context.Context, res model.Resolution, dir model.Direction) (*model.SwingLevel, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+swingColumns+` FROM swing_levels
		WHERE resolution = ? AND direction = ? AND active = 1`, string(res), string(dir))
	lvl, err := scanSwing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active swing %s/%s: %w", res, dir, err)
	}
	return lvl, nil
}

func (s *SQLiteStore) SwingByID(ctx context.Context, id string) (*model.SwingLevel, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+swingColumns+` FROM swing_levels WHERE id = ?`, id)
	lvl, err := scanSwing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("swing %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("swing %s: %w", id, err)
	}
	return lvl, nil
}

func (s *SQLiteStore) ReplaceSwing(ctx context.Context, lvl *model.SwingLevel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace swing: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE swing_levels SET active = 0
		WHERE resolution = ? AND direction = ? AND active = 1`,
		string(lvl.Resolution), string(lvl.Direction)); err != nil {
		return fmt.Errorf("deactivate swing: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO swing_levels
		(id, resolution, direction, price, bar_time, active, created_at)
		VALUES (?,?,?,?,?,1,?)`,
		lvl.ID, string(lvl.Resolution), string(lvl.Direction), lvl.Price,
		toMillis(lvl.Time), toMillis(lvl.CreatedAt),
	); err != nil {
		return fmt.Errorf("insert swing: %w", err)
	}
	return tx.Commit()
}

const sweepColumns = `id, direction, price, bias, swing_id, swing_price, active, timestamp`

func scanSweep(r rowScanner) (*model.SweepEvent, error) {
	var (
		sw        model.SweepEvent
		dir, bias string
		active    bool
		ts        int64
	)
	if err := r.Scan(&sw.ID, &dir, &sw.Price, &bias, &sw.SwingID, &sw.SwingPrice, &active, &ts); err != nil {
		return nil, err
	}
	sw.Direction = model.Direction(dir)
	sw.Bias = model.Bias(bias)
	sw.Active = active
	sw.Time = fromMillis(ts)
	return &sw, nil
}

func (s *SQLiteStore) ActiveSweep(ctx context.Context) (*model.SweepEvent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sweepColumns+` FROM sweep_events WHERE active = 1`)
	sw, err := scanSweep(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active sweep: %w", err)
	}
	return sw, nil
}

func (s *SQLiteStore) SweepByID(ctx context.Context, id string) (*model.SweepEvent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sweepColumns+` FROM sweep_events WHERE id = ?`, id)
	sw, err := scanSweep(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sweep %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sweep %s: %w", id, err)
	}
	return sw, nil
}

func (s *SQLiteStore) LevelSwept(ctx context.Context, swingID string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM sweep_events WHERE swing_id = ?`, swingID).Scan(&n); err != nil {
		return false, fmt.Errorf("level swept %s: %w", swingID, err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) OpenSweep(ctx context.Context, sw *model.SweepEvent, seq *model.Sequence) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin open sweep: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE sweep_events SET active = 0 WHERE active = 1`); err != nil {
		return fmt.Errorf("deactivate sweeps: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO sweep_events
		(id, direction, price, bias, swing_id, swing_price, active, timestamp)
		VALUES (?,?,?,?,?,?,1,?)`,
		sw.ID, string(sw.Direction), sw.Price, string(sw.Bias),
		sw.SwingID, sw.SwingPrice, toMillis(sw.Time),
	); err != nil {
		return fmt.Errorf("insert sweep: %w", err)
	}
	if err := insertSequence(ctx, tx, seq); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) DeactivateSweep(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE sweep_events SET active = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deactivate sweep %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sweep %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) ExpireSweeps(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE sweep_events SET active = 0 WHERE active = 1 AND timestamp < ?`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("expire sweeps: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire sweeps: %w", err)
	}
	return int(n), nil
}

const sequenceColumns = `id, sweep_id, bias, stage,
	change_price, change_time, gap_low, gap_high, gap_formed_at,
	fill_price, fill_time, break_price, break_time,
	expired_reason, created_at, updated_at`

type sequenceRow struct {
	changePrice, gapLow, gapHigh, fillPrice, breakPrice decimal.NullDecimal
	changeTime, gapFormedAt, fillTime, breakTime        sql.NullInt64
}

func markFrom(p decimal.NullDecimal, t sql.NullInt64) *model.Mark {
	if !p.Valid || !t.Valid {
		return nil
	}
	return &model.Mark{Price: p.Decimal, Time: fromMillis(t.Int64)}
}

func scanSequence(r rowScanner) (*model.Sequence, error) {
	var (
		seq              model.Sequence
		row              sequenceRow
		bias, stage      string
		created, updated int64
	)
	if err := r.Scan(&seq.ID, &seq.SweepID, &bias, &stage,
		&row.changePrice, &row.changeTime, &row.gapLow, &row.gapHigh, &row.gapFormedAt,
		&row.fillPrice, &row.fillTime, &row.breakPrice, &row.breakTime,
		&seq.ExpiredReason, &created, &updated); err != nil {
		return nil, err
	}
	seq.Bias = model.Bias(bias)
	seq.Stage = model.Stage(stage)
	seq.CreatedAt = fromMillis(created)
	seq.UpdatedAt = fromMillis(updated)
	seq.Change = markFrom(row.changePrice, row.changeTime)
	seq.Fill = markFrom(row.fillPrice, row.fillTime)
	seq.Break = markFrom(row.breakPrice, row.breakTime)
	// A partially written zone is left nil so validation rejects the record.
	if row.gapLow.Valid && row.gapHigh.Valid && row.gapFormedAt.Valid {
		seq.Gap = &model.GapZone{
			Low:      row.gapLow.Decimal,
			High:     row.gapHigh.Decimal,
			FormedAt: fromMillis(row.gapFormedAt.Int64),
		}
	}
	return &seq, nil
}

// sequenceArgs flattens the payload pointers into nullable column values,
// in sequenceColumns order after id.
func sequenceArgs(seq *model.Sequence) []any {
	var (
		changePrice, gapLow, gapHigh, fillPrice, breakPrice *decimal.Decimal
		changeTime, gapFormedAt, fillTime, breakTime        *time.Time
	)
	if seq.Change != nil {
		changePrice, changeTime = &seq.Change.Price, &seq.Change.Time
	}
	if seq.Gap != nil {
		gapLow, gapHigh, gapFormedAt = &seq.Gap.Low, &seq.Gap.High, &seq.Gap.FormedAt
	}
	if seq.Fill != nil {
		fillPrice, fillTime = &seq.Fill.Price, &seq.Fill.Time
	}
	if seq.Break != nil {
		breakPrice, breakTime = &seq.Break.Price, &seq.Break.Time
	}
	return []any{
		seq.SweepID, string(seq.Bias), string(seq.Stage),
		nullDecimal(changePrice), nullMillis(changeTime),
		nullDecimal(gapLow), nullDecimal(gapHigh), nullMillis(gapFormedAt),
		nullDecimal(fillPrice), nullMillis(fillTime),
		nullDecimal(breakPrice), nullMillis(breakTime),
		seq.ExpiredReason, toMillis(seq.CreatedAt), toMillis(seq.UpdatedAt),
	}
}

func insertSequence(ctx context.Context, tx *sql.Tx, seq *model.Sequence) error {
	args := append([]any{seq.ID}, sequenceArgs(seq)...)
	if _, err := tx.ExecContext(ctx, `INSERT INTO confirmation_sequences
		(`+sequenceColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`, args...); err != nil {
		return fmt.Errorf("insert sequence: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SequenceByID(ctx context.Context, id string) (*model.Sequence, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sequenceColumns+` FROM confirmation_sequences WHERE id = ?`, id)
	seq, err := scanSequence(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sequence %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sequence %s: %w", id, err)
	}
	return seq, nil
}

func (s *SQLiteStore) ActiveSequences(ctx context.Context) ([]*model.Sequence, error) {
	return s.querySequences(ctx, `SELECT `+sequenceColumns+` FROM confirmation_sequences
		WHERE stage NOT IN (?, ?) ORDER BY created_at, id`,
		string(model.StageComplete), string(model.StageExpired))
}

func (s *SQLiteStore) CompletedSince(ctx context.Context, since time.Time) ([]*model.Sequence, error) {
	return s.querySequences(ctx, `SELECT `+sequenceColumns+` FROM confirmation_sequences
		WHERE stage = ? AND updated_at >= ? ORDER BY created_at, id`,
		string(model.StageComplete), toMillis(since))
}

func (s *SQLiteStore) querySequences(ctx context.Context, query string, args ...any) ([]*model.Sequence, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sequences: %w", err)
	}
	defer rows.Close()

	var out []*model.Sequence
	for rows.Next() {
		seq, err := scanSequence(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sequence: %w", err)
		}
		out = append(out, seq)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateSequence(ctx context.Context, seq *model.Sequence) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	args := append(sequenceArgs(seq), seq.ID)
	res, err := s.db.ExecContext(ctx, `UPDATE confirmation_sequences SET
		sweep_id = ?, bias = ?, stage = ?,
		change_price = ?, change_time = ?, gap_low = ?, gap_high = ?, gap_formed_at = ?,
		fill_price = ?, fill_time = ?, break_price = ?, break_time = ?,
		expired_reason = ?, created_at = ?, updated_at = ?
		WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update sequence %s: %w", seq.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sequence %s: %w", seq.ID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	s.log.Info().Msg("closing sqlite store")
	return s.db.Close()
}
