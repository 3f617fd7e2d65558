package report

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"cgan-forge/internal/gan"
)

const schema = `CREATE TABLE IF NOT EXISTS losses(
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	recorded_at TEXT NOT NULL,
	epoch INTEGER NOT NULL,
	step INTEGER NOT NULL,
	global_step INTEGER NOT NULL,
	disc_loss REAL NOT NULL,
	gen_loss REAL NOT NULL,
	images_per_sec REAL NOT NULL
)`

// SQLite appends every report to a losses table so runs can be compared
// after the fact.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open report db %s", path)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "report db pragma")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "report db schema")
	}
	return &SQLite{db: db}, nil
}

// Report implements gan.Reporter.
func (s *SQLite) Report(r gan.Report) error {
	_, err := s.db.Exec(`INSERT INTO losses(run_id, recorded_at, epoch, step, global_step, disc_loss, gen_loss, images_per_sec)
		VALUES(?,?,?,?,?,?,?,?)`,
		r.RunID, time.Now().UTC().Format(time.RFC3339Nano), r.Epoch, r.Step, r.GlobalStep,
		r.DiscLoss, r.GenLoss, r.Stats.ImagesPerSec)
	return errors.Wrap(err, "insert loss row")
}

// Losses returns the recorded reports of runID in insertion order.
func (s *SQLite) Losses(ctx context.Context, runID string) ([]gan.Report, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT epoch, step, global_step, disc_loss, gen_loss, images_per_sec FROM losses WHERE run_id = ? ORDER BY id ASC",
		runID)
	if err != nil {
		return nil, errors.Wrap(err, "query losses")
	}
	defer rows.Close()

	var out []gan.Report
	for rows.Next() {
		r := gan.Report{RunID: runID}
		if err := rows.Scan(&r.Epoch, &r.Step, &r.GlobalStep, &r.DiscLoss, &r.GenLoss, &r.Stats.ImagesPerSec); err != nil {
			return nil, errors.Wrap(err, "scan loss row")
		}
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "iterate losses")
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
