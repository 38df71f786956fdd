package journal

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "modernc.org/sqlite"
)

type RunInfo struct {
	ID       string
	BatchID  string
	Source   string
	Root     string
	Started  time.Time
	Finished time.Time // zero if the run never finished
	Created  int
	Existed  int
	Failed   int
	Error    string
}

type OutcomeRow struct {
	Line   int
	Depth  int
	Kind   string
	Path   string
	Status string
	Error  string
}

func openDB(dbPath string) (*sql.DB, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("journal %s: %w", dbPath, err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	return db, nil
}

// Runs lists every run in the journal, oldest first.
func Runs(dbPath string) ([]RunInfo, error) {
	db, err := openDB(dbPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }() // safe to ignore

	rows, err := db.Query(`
		SELECT id, batch_id, source, root, started, finished, created, existed, failed, error
		FROM runs ORDER BY started, id
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	var runs []RunInfo
	for rows.Next() {
		var (
			r             RunInfo
			root, errText sql.NullString
			started       int64
			finished      sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.BatchID, &r.Source, &root, &started, &finished,
			&r.Created, &r.Existed, &r.Failed, &errText); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Root = root.String
		r.Error = errText.String
		r.Started = time.Unix(0, started)
		if finished.Valid {
			r.Finished = time.Unix(0, finished.Int64)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// Outcomes returns the recorded outcomes of one run in processing order.
func Outcomes(dbPath, runID string) ([]OutcomeRow, error) {
	db, err := openDB(dbPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }() // safe to ignore

	rows, err := db.Query(`
		SELECT line, depth, kind, path, status, error
		FROM outcomes WHERE run_id = ? ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	var out []OutcomeRow
	for rows.Next() {
		var (
			o       OutcomeRow
			errText sql.NullString
		)
		if err := rows.Scan(&o.Line, &o.Depth, &o.Kind, &o.Path, &o.Status, &errText); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.Error = errText.String
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcomes: %w", err)
	}
	return out, nil
}
