// Package audit keeps a durable log of transaction outcomes (committed,
// elided, aborted, race-lost) in a goose-migrated SQLite database. It is
// an observability convenience layered on top of internal/txn, not part of
// the transactional core itself; the core's only durable state is the
// object/ref store. goose and modernc.org/sqlite are both present in the
// teacher's dependency tree (goose unused by the teacher's own code); this
// package is their home in this module.
package audit

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/jisqyv/pygitfs/internal/gitproto"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Outcome is the disposition of one transaction attempt.
type Outcome string

const (
	OutcomeCommitted Outcome = "committed"
	OutcomeElided    Outcome = "elided"
	OutcomeAborted   Outcome = "aborted"
	OutcomeRaceLost  Outcome = "race_lost"
)

// Log records transaction outcomes in a SQLite database at dbPath.
type Log struct {
	db *sql.DB
}

// Open opens (creating if necessary) the audit database at dbPath and
// applies any pending migrations.
func Open(dbPath string) (*Log, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("audit: opening %s: %w", dbPath, err)
	}

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: setting dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: applying migrations: %w", err)
	}
	return &Log{db: db}, nil
}

// Close releases the underlying database handle.
func (l *Log) Close() error { return l.db.Close() }

// Record inserts one transaction-outcome row. err, if non-nil, is recorded
// in detail and used to infer OutcomeRaceLost when it wraps
// gitproto.ErrRaceLost and outcome was left as OutcomeAborted by the
// caller.
func (l *Log) Record(ctx context.Context, repoDir, ref string, outcome Outcome, commitID gitproto.Hash, err error) error {
	detail := ""
	if err != nil {
		detail = err.Error()
		if outcome == OutcomeAborted && errors.Is(err, gitproto.ErrRaceLost) {
			outcome = OutcomeRaceLost
		}
	}
	_, execErr := l.db.ExecContext(ctx,
		`INSERT INTO transaction_outcomes (repo_dir, ref, outcome, commit_id, detail, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		repoDir, ref, string(outcome), string(commitID), detail, time.Now().UTC(),
	)
	if execErr != nil {
		return fmt.Errorf("audit: recording outcome: %w", execErr)
	}
	return nil
}

// Recent returns the most recent n outcomes recorded for repoDir, newest
// first.
func (l *Log) Recent(ctx context.Context, repoDir string, n int) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT ref, outcome, commit_id, detail, occurred_at
		 FROM transaction_outcomes WHERE repo_dir = ?
		 ORDER BY id DESC LIMIT ?`, repoDir, n)
	if err != nil {
		return nil, fmt.Errorf("audit: querying recent outcomes: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var commitID string
		if err := rows.Scan(&e.Ref, &e.Outcome, &commitID, &e.Detail, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("audit: scanning outcome row: %w", err)
		}
		e.CommitID = gitproto.Hash(commitID)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Entry is one recorded transaction outcome.
type Entry struct {
	Ref        string
	Outcome    Outcome
	CommitID   gitproto.Hash
	Detail     string
	OccurredAt time.Time
}
