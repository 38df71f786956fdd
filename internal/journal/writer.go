// Package journal persists materialization outcomes to a SQLite database so
// runs can be inspected after the fact.
package journal

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/agentic-research/structra/api"
	"github.com/agentic-research/structra/internal/materialize"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	batch_id TEXT NOT NULL,
	source TEXT NOT NULL,
	root TEXT,
	started INTEGER NOT NULL,
	finished INTEGER,
	created INTEGER DEFAULT 0,
	existed INTEGER DEFAULT 0,
	failed INTEGER DEFAULT 0,
	error TEXT
);
CREATE TABLE IF NOT EXISTS outcomes (
	run_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	line INTEGER NOT NULL,
	depth INTEGER NOT NULL,
	kind TEXT NOT NULL,
	path TEXT NOT NULL,
	status TEXT NOT NULL,
	error TEXT,
	PRIMARY KEY (run_id, seq)
) WITHOUT ROWID;
`

// Writer appends runs and their outcomes to a journal database.
type Writer struct {
	db          *sql.DB
	tx          *sql.Tx
	stmtOutcome *sql.Stmt
	batchSize   int
	count       int
	mu          sync.Mutex
}

// Open creates (or reuses) the journal at dbPath.
func Open(dbPath string) (*Writer, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	w := &Writer{db: db, batchSize: 1000}
	if err := w.beginTx(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) beginTx() error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`
		INSERT INTO outcomes (run_id, seq, line, depth, kind, path, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	w.tx, w.stmtOutcome = tx, stmt
	return nil
}

// ensureTx reopens the transaction after a failed flush. Caller holds mu.
func (w *Writer) ensureTx() error {
	if w.tx != nil && w.stmtOutcome != nil {
		return nil
	}
	return w.beginTx()
}

func (w *Writer) commitTx() error {
	if w.stmtOutcome != nil {
		_ = w.stmtOutcome.Close()
		w.stmtOutcome = nil
	}
	if w.tx == nil {
		return nil
	}
	tx := w.tx
	w.tx = nil
	return tx.Commit()
}

// flush commits pending rows and opens a fresh transaction. Caller holds mu.
func (w *Writer) flush() error {
	if err := w.commitTx(); err != nil {
		return err
	}
	w.count = 0
	return w.beginTx()
}

// StartRun registers one input file of a batch and returns its sink.
func (w *Writer) StartRun(batchID, source string) (*Run, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensureTx(); err != nil {
		return nil, fmt.Errorf("journal transaction: %w", err)
	}
	id := uuid.NewString()
	_, err := w.tx.Exec(
		`INSERT INTO runs (id, batch_id, source, started) VALUES (?, ?, ?, ?)`,
		id, batchID, source, time.Now().UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return &Run{w: w, ID: id}, nil
}

// Close commits everything still pending and closes the database.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.commitTx(); err != nil {
		_ = w.db.Close()
		return err
	}
	return w.db.Close()
}

// Run is the journal sink for one input file.
type Run struct {
	w   *Writer
	ID  string
	seq int
}

// Record implements materialize.Sink. Insert errors are logged, never
// propagated; the journal must not affect materialization.
func (r *Run) Record(o api.Outcome) {
	w := r.w
	w.mu.Lock()
	defer w.mu.Unlock()

	r.seq++
	if err := w.ensureTx(); err != nil {
		log.Printf("journal: dropping outcome for %s: %v", o.Path, err)
		return
	}
	var errText *string
	if o.Err != nil {
		s := o.Err.Error()
		errText = &s
	}
	_, err := w.stmtOutcome.Exec(r.ID, r.seq, o.Line, o.Depth, o.Kind.String(), o.Path, o.Status.String(), errText)
	if err != nil {
		log.Printf("journal: insert failed for %s: %v", o.Path, err)
	}

	w.count++
	if w.count >= w.batchSize {
		if err := w.flush(); err != nil {
			log.Printf("journal: commit failed: %v", err)
		}
	}
}

// Finish stores the run summary and commits. res may be nil when the
// input could not be read at all.
func (r *Run) Finish(res *materialize.Result, runErr error) error {
	w := r.w
	w.mu.Lock()
	defer w.mu.Unlock()

	var root *string
	var created, existed, failed int
	if res != nil {
		root = &res.Root
		created, existed, failed = res.Created, res.Existed, res.Failed
	}
	var errText *string
	if runErr != nil {
		s := runErr.Error()
		errText = &s
	}

	if err := w.ensureTx(); err != nil {
		return fmt.Errorf("journal transaction: %w", err)
	}
	_, err := w.tx.Exec(
		`UPDATE runs SET root = ?, finished = ?, created = ?, existed = ?, failed = ?, error = ? WHERE id = ?`,
		root, time.Now().UnixNano(), created, existed, failed, errText, r.ID,
	)
	if err != nil {
		return fmt.Errorf("update run %s: %w", r.ID, err)
	}
	return w.flush()
}

var _ materialize.Sink = (*Run)(nil)
