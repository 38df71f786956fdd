// Package report renders a batch summary as a JSON document.
package report

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ohler55/ojg"
	"github.com/ohler55/ojg/oj"

	"github.com/agentic-research/structra/internal/batch"
)

var jsonOptions = ojg.Options{Indent: 2, Sort: true}

// Build converts s into generic JSON data.
func Build(s *batch.Summary) map[string]any {
	created, existed, failed := s.Totals()

	files := make([]any, 0, len(s.Files))
	for _, f := range s.Files {
		files = append(files, fileDoc(f))
	}

	return map[string]any{
		"batch_id": s.BatchID,
		"base":     s.Base,
		"dry_run":  s.DryRun,
		"started":  s.Started.UTC().Format(time.RFC3339Nano),
		"finished": s.Finished.UTC().Format(time.RFC3339Nano),
		"totals": map[string]any{
			"files":       int64(len(s.Files)),
			"file_errors": int64(s.FileErrors()),
			"created":     int64(created),
			"existed":     int64(existed),
			"failed":      int64(failed),
		},
		"files": files,
	}
}

func fileDoc(f batch.FileResult) map[string]any {
	doc := map[string]any{
		"source":  f.Source,
		"skipped": f.Skipped,
	}
	if f.RunID != "" {
		doc["run_id"] = f.RunID
	}
	if f.Err != nil {
		doc["error"] = f.Err.Error()
	}
	if r := f.Result; r != nil {
		doc["root"] = r.Root
		doc["created"] = int64(r.Created)
		doc["existed"] = int64(r.Existed)
		doc["failed"] = int64(r.Failed)

		lines := make([]any, 0, r.FailedLines.GetCardinality())
		for _, l := range r.FailedLines.ToArray() {
			lines = append(lines, int64(l))
		}
		doc["failed_lines"] = lines
	}
	if len(f.Failures) > 0 {
		failures := make([]any, 0, len(f.Failures))
		for _, o := range f.Failures {
			failures = append(failures, map[string]any{
				"line":  int64(o.Line),
				"kind":  o.Kind.String(),
				"path":  o.Path,
				"error": fmt.Sprint(o.Err),
			})
		}
		doc["failures"] = failures
	}
	return doc
}

// Write encodes the report for s to w.
func Write(w io.Writer, s *batch.Summary) error {
	_, err := io.WriteString(w, oj.JSON(Build(s), &jsonOptions)+"\n")
	return err
}

// WriteFile writes the report to path; "-" means stdout.
func WriteFile(path string, s *batch.Summary) error {
	if path == "-" {
		return Write(os.Stdout, s)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := Write(f, s); err != nil {
		_ = f.Close()
		return fmt.Errorf("write report: %w", err)
	}
	return f.Close()
}
