// Package ledger is the durable, append-only record of every glyph and every
// lifecycle action taken against it.
//
// Backing store is SQLite: a glyphs table keyed by glyph id and an
// insert-only audit_log table referencing it. RecordGlyph writes the summary
// row and its CREATED audit entry in one transaction, so a glyph can never
// exist without its creation record.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"xdao.co/glyphvault/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS glyphs (
	glyph_id   TEXT PRIMARY KEY,
	data_hash  TEXT NOT NULL,
	source     TEXT NOT NULL,
	timestamp  INTEGER NOT NULL,
	signer     TEXT NOT NULL,
	signature  TEXT NOT NULL,
	verified   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS audit_log (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	glyph_id  TEXT NOT NULL REFERENCES glyphs(glyph_id),
	action    TEXT NOT NULL,
	actor     TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	metadata  TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_glyphs_source ON glyphs(source);
CREATE INDEX IF NOT EXISTS idx_audit_glyph ON audit_log(glyph_id);
`

// Ledger wraps one SQLite database. Each vault owns its own Ledger; nothing
// here is shared ambient state.
type Ledger struct {
	db  *sql.DB
	now func() int64
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the audit timestamp source. Intended for tests.
func WithClock(now func() int64) Option {
	return func(l *Ledger) { l.now = now }
}

// Open creates or opens the ledger database at path.
func Open(path string, opts ...Option) (*Ledger, error) {
	if path == "" {
		return nil, model.NewError(model.KindConfiguration, "GV-LEDGER-001", "ledger path is required")
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, model.WrapError(model.KindLedger, "GV-LEDGER-002", "open ledger database", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, model.WrapError(model.KindLedger, "GV-LEDGER-003", "initialize ledger schema", err)
	}
	l := &Ledger{
		db:  db,
		now: func() int64 { return time.Now().Unix() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error { return l.db.Close() }

// RecordGlyph inserts the glyph summary and its CREATED audit entry as a
// single transaction. Recording an id that already exists is an error; the
// vault serializes same-id creations and checks existence first.
func (l *Ledger) RecordGlyph(ctx context.Context, g *model.Glyph, actor string) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return model.WrapError(model.KindLedger, "GV-LEDGER-010", "begin transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO glyphs (glyph_id, data_hash, source, timestamp, signer, signature, verified)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.DataHash, g.Source, g.Timestamp, g.Signer, g.Signature, boolToInt(g.Verified),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.WrapError(model.KindLedger, "GV-LEDGER-011", "glyph already recorded", err)
		}
		return model.WrapError(model.KindLedger, "GV-LEDGER-012", "insert glyph", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO audit_log (glyph_id, action, actor, timestamp, metadata) VALUES (?, ?, ?, ?, ?)`,
		g.ID, model.ActionCreated, actor, l.now(), "",
	)
	if err != nil {
		return model.WrapError(model.KindLedger, "GV-LEDGER-013", "insert creation audit entry", err)
	}

	if err := tx.Commit(); err != nil {
		return model.WrapError(model.KindLedger, "GV-LEDGER-014", "commit glyph record", err)
	}
	return nil
}

// LogAction appends one audit entry for an existing glyph.
func (l *Ledger) LogAction(ctx context.Context, glyphID, action, actor, metadata string) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO audit_log (glyph_id, action, actor, timestamp, metadata) VALUES (?, ?, ?, ?, ?)`,
		glyphID, action, actor, l.now(), metadata,
	)
	if err != nil {
		if isFKViolation(err) {
			return model.NewError(model.KindNotFound, "GV-LEDGER-020", "unknown glyph id")
		}
		return model.WrapError(model.KindLedger, "GV-LEDGER-021", "insert audit entry", err)
	}
	return nil
}

// GetGlyph returns the payload-free summary for id.
func (l *Ledger) GetGlyph(ctx context.Context, id string) (*model.GlyphSummary, error) {
	var s model.GlyphSummary
	var verified int
	err := l.db.QueryRowContext(ctx,
		`SELECT glyph_id, data_hash, source, timestamp, signer, signature, verified
		 FROM glyphs WHERE glyph_id = ?`, id,
	).Scan(&s.ID, &s.DataHash, &s.Source, &s.Timestamp, &s.Signer, &s.Signature, &verified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NewError(model.KindNotFound, "GV-LEDGER-030", "unknown glyph id")
	}
	if err != nil {
		return nil, model.WrapError(model.KindLedger, "GV-LEDGER-031", "select glyph", err)
	}
	s.Verified = verified == 1
	return &s, nil
}

// Has reports whether id exists in the ledger.
func (l *Ledger) Has(ctx context.Context, id string) (bool, error) {
	var one int
	err := l.db.QueryRowContext(ctx, `SELECT 1 FROM glyphs WHERE glyph_id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, model.WrapError(model.KindLedger, "GV-LEDGER-032", "select glyph", err)
	}
	return true, nil
}

// AuditTrail returns every audit entry for id in append order.
func (l *Ledger) AuditTrail(ctx context.Context, id string) ([]model.AuditEntry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT glyph_id, action, actor, timestamp, metadata
		 FROM audit_log WHERE glyph_id = ? ORDER BY id ASC`, id,
	)
	if err != nil {
		return nil, model.WrapError(model.KindLedger, "GV-LEDGER-040", "select audit trail", err)
	}
	defer rows.Close()

	var trail []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		if err := rows.Scan(&e.GlyphID, &e.Action, &e.Actor, &e.Timestamp, &e.Metadata); err != nil {
			return nil, model.WrapError(model.KindLedger, "GV-LEDGER-041", "scan audit entry", err)
		}
		trail = append(trail, e)
	}
	if err := rows.Err(); err != nil {
		return nil, model.WrapError(model.KindLedger, "GV-LEDGER-042", "iterate audit trail", err)
	}
	return trail, nil
}

// List returns up to limit glyph summaries, newest first, optionally
// filtered by exact source.
func (l *Ledger) List(ctx context.Context, sourceFilter string, limit int) ([]model.GlyphSummary, error) {
	if limit <= 0 {
		return nil, model.NewError(model.KindConfiguration, "GV-LEDGER-050", "limit must be positive")
	}
	q := `SELECT glyph_id, data_hash, source, timestamp, signer, signature, verified FROM glyphs`
	args := []any{}
	if sourceFilter != "" {
		q += ` WHERE source = ?`
		args = append(args, sourceFilter)
	}
	q += ` ORDER BY timestamp DESC, glyph_id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, model.WrapError(model.KindLedger, "GV-LEDGER-051", "select glyphs", err)
	}
	defer rows.Close()

	var out []model.GlyphSummary
	for rows.Next() {
		var s model.GlyphSummary
		var verified int
		if err := rows.Scan(&s.ID, &s.DataHash, &s.Source, &s.Timestamp, &s.Signer, &s.Signature, &verified); err != nil {
			return nil, model.WrapError(model.KindLedger, "GV-LEDGER-052", "scan glyph", err)
		}
		s.Verified = verified == 1
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, model.WrapError(model.KindLedger, "GV-LEDGER-053", "iterate glyphs", err)
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			serr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isFKViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
