// Package materialize creates the directories and files described by a
// sequence of classified entries.
package materialize

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/RoaringBitmap/roaring"
	billy "github.com/go-git/go-billy/v5"

	"github.com/agentic-research/structra/api"
	"github.com/agentic-research/structra/internal/structure"
)

var (
	// ErrInvalidRoot is returned when the root name is empty, absolute, or
	// resolves outside the base directory.
	ErrInvalidRoot = errors.New("invalid root name")
	// ErrEscapesRoot marks an entry whose path leaves the structure root.
	ErrEscapesRoot = errors.New("path escapes structure root")
	// ErrConflict marks an entry whose path already exists with the other kind.
	ErrConflict = errors.New("path exists with a different kind")
)

const (
	DefaultDirMode  os.FileMode = 0o755
	DefaultFileMode os.FileMode = 0o644
)

// Source yields classified entries in input order.
type Source interface {
	Next() (api.Entry, bool)
	Err() error
}

type Option func(*Materializer)

func WithSink(s Sink) Option {
	return func(m *Materializer) { m.sink = Sinks(s) }
}

func WithDirMode(mode os.FileMode) Option {
	return func(m *Materializer) { m.dirMode = mode }
}

func WithFileMode(mode os.FileMode) Option {
	return func(m *Materializer) { m.fileMode = mode }
}

// Materializer performs idempotent creation of a structure inside fs. The
// filesystem root is the base directory the structure root is created in.
type Materializer struct {
	fs       billy.Filesystem
	sink     Sink
	dirMode  os.FileMode
	fileMode os.FileMode
}

func New(fs billy.Filesystem, opts ...Option) *Materializer {
	m := &Materializer{
		fs:       fs,
		sink:     nopSink{},
		dirMode:  DefaultDirMode,
		fileMode: DefaultFileMode,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Result summarizes one pass. The root counts as an entry.
type Result struct {
	Root        string // absolute path of the structure root
	Created     int
	Existed     int
	Failed      int
	FailedLines *roaring.Bitmap
}

func (r *Result) Total() int {
	return r.Created + r.Existed + r.Failed
}

// Materialize reads a whole structure description from r and creates it.
func (m *Materializer) Materialize(r io.Reader) (*Result, error) {
	sr := structure.NewReader(r)
	root, err := sr.Root()
	if err != nil {
		return nil, err
	}
	return m.Run(root, sr)
}

// Run creates the root directory rootName and then every entry from src,
// in order. Per-entry failures are recorded and counted; only a root that
// cannot be created, or a read error from src, is returned as an error.
func (m *Materializer) Run(rootName string, src Source) (*Result, error) {
	res := &Result{FailedLines: roaring.New()}

	root, err := cleanRoot(rootName)
	if err != nil {
		return nil, err
	}
	res.Root = m.abs(root)

	status, err := m.ensureDir(root)
	m.record(res, api.Outcome{Line: 0, Depth: -1, Kind: api.Directory, Path: res.Root, Status: status, Err: err})
	if err != nil {
		return res, fmt.Errorf("create root %s: %w", res.Root, err)
	}

	stack := newPathStack(root)
	for {
		e, ok := src.Next()
		if !ok {
			break
		}

		parent := stack.parentFor(e.Depth)
		p := m.fs.Join(parent, e.Name)
		o := api.Outcome{Line: e.Line, Depth: e.Depth, Kind: e.Kind, Path: m.abs(p)}

		if stack.escaped() || !within(root, p) {
			o.Status, o.Err = api.Failed, fmt.Errorf("%w: %q", ErrEscapesRoot, e.Name)
			if e.Kind == api.Directory {
				stack.pushEscaped(e.Depth, p)
			}
			m.record(res, o)
			continue
		}

		if e.Kind == api.Directory {
			o.Status, o.Err = m.ensureDir(p)
			// Pushed even on failure so descendants fail at their own
			// paths instead of landing in the wrong parent.
			stack.push(e.Depth, p)
		} else {
			o.Status, o.Err = m.ensureFile(p)
		}
		m.record(res, o)
	}

	if err := src.Err(); err != nil {
		return res, fmt.Errorf("read structure: %w", err)
	}
	return res, nil
}

func (m *Materializer) ensureDir(p string) (api.Status, error) {
	if p == "." {
		// the filesystem root is the base directory
		return api.Existed, nil
	}
	info, err := m.fs.Stat(p)
	switch {
	case err == nil && info.IsDir():
		return api.Existed, nil
	case err == nil:
		return api.Failed, fmt.Errorf("%w: %s is a file", ErrConflict, p)
	case !errors.Is(err, os.ErrNotExist):
		return api.Failed, fmt.Errorf("stat %s: %w", p, err)
	}

	if err := m.fs.MkdirAll(p, m.dirMode); err != nil {
		return api.Failed, fmt.Errorf("mkdir %s: %w", p, err)
	}
	return api.Created, nil
}

func (m *Materializer) ensureFile(p string) (api.Status, error) {
	if _, err := m.ensureDir(filepath.Dir(p)); err != nil {
		return api.Failed, err
	}

	info, err := m.fs.Stat(p)
	switch {
	case err == nil && info.IsDir():
		return api.Failed, fmt.Errorf("%w: %s is a directory", ErrConflict, p)
	case err == nil:
		return api.Existed, nil
	case !errors.Is(err, os.ErrNotExist):
		return api.Failed, fmt.Errorf("stat %s: %w", p, err)
	}

	// O_EXCL keeps an existing file untouched even if it appeared after Stat.
	f, err := m.fs.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, m.fileMode)
	if errors.Is(err, os.ErrExist) {
		return api.Existed, nil
	}
	if err != nil {
		return api.Failed, fmt.Errorf("create %s: %w", p, err)
	}
	if err := f.Close(); err != nil {
		return api.Failed, fmt.Errorf("close %s: %w", p, err)
	}
	return api.Created, nil
}

func (m *Materializer) record(res *Result, o api.Outcome) {
	switch o.Status {
	case api.Created:
		res.Created++
	case api.Existed:
		res.Existed++
	case api.Failed:
		res.Failed++
		if o.Line > 0 {
			res.FailedLines.Add(uint32(o.Line))
		}
	}
	m.sink.Record(o)
}

func (m *Materializer) abs(p string) string {
	return filepath.Join(m.fs.Root(), p)
}

func cleanRoot(name string) (string, error) {
	if name == "" || filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRoot, name)
	}
	root := filepath.Clean(name)
	if root == ".." || strings.HasPrefix(root, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRoot, name)
	}
	return root, nil
}

// within reports whether p is root or lies below it.
func within(root, p string) bool {
	rel, err := filepath.Rel(root, filepath.Clean(p))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
