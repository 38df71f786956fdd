package structure

import (
	"bufio"
	"errors"
	"io"
	"strings"

	"github.com/agentic-research/structra/api"
)

// ErrNoRoot is returned when the input has no non-blank line.
var ErrNoRoot = errors.New("structure: no root line")

const maxLineSize = 1024 * 1024

// Reader yields the root name and then one Entry per non-blank line.
// Entries are produced lazily as the underlying reader is consumed.
type Reader struct {
	sc     *bufio.Scanner
	lineNo int
	root   string
	rooted bool
	err    error
}

func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLineSize)
	return &Reader{sc: sc}
}

// Root reads up to the first line carrying a name and returns it with the
// trailing separator stripped. It is idempotent.
func (r *Reader) Root() (string, error) {
	if r.rooted {
		return r.root, nil
	}
	for r.scan() {
		line := r.sc.Text()
		if r.lineNo == 1 {
			line = strings.TrimPrefix(line, "\ufeff")
		}
		if name := RootName(line); name != "" {
			r.root = name
			r.rooted = true
			return name, nil
		}
	}
	if r.err != nil {
		return "", r.err
	}
	return "", ErrNoRoot
}

// Next returns the next classified entry. It reads the root first if Root
// has not been called.
func (r *Reader) Next() (api.Entry, bool) {
	if !r.rooted {
		if _, err := r.Root(); err != nil {
			return api.Entry{}, false
		}
	}
	for r.scan() {
		if e, ok := Classify(r.sc.Text(), r.lineNo); ok {
			return e, true
		}
	}
	return api.Entry{}, false
}

// Err returns the first read error, if any. ErrNoRoot is not reported here.
func (r *Reader) Err() error {
	return r.err
}

func (r *Reader) scan() bool {
	if r.err != nil {
		return false
	}
	if !r.sc.Scan() {
		r.err = r.sc.Err()
		return false
	}
	r.lineNo++
	return true
}
