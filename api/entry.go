package api

import "fmt"

// Kind distinguishes directories from files in a structure description.
type Kind int

const (
	File Kind = iota
	Directory
)

func (k Kind) String() string {
	switch k {
	case Directory:
		return "dir"
	case File:
		return "file"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Entry is one classified line of a structure description.
type Entry struct {
	// Line is the 1-based line number in the source text.
	Line int
	// RawIndent is the number of leading indent columns.
	RawIndent int
	// Depth is RawIndent divided by the indent width. It only orders
	// entries against each other; it is not an absolute level.
	Depth int
	// Name is the cleaned entry name, without glyphs or trailing separator.
	// It may contain inner separators ("pkg/util").
	Name string
	Kind Kind
}

// Status is the result of materializing one entry.
type Status int

const (
	Created Status = iota
	Existed
	Failed
)

func (s Status) String() string {
	switch s {
	case Created:
		return "created"
	case Existed:
		return "existed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome records what happened to one entry (or the root, which has Line 0
// and Depth -1).
type Outcome struct {
	Line   int
	Depth  int
	Kind   Kind
	Path   string // absolute path
	Status Status
	Err    error // set when Status == Failed
}

func (o Outcome) String() string {
	if o.Err != nil {
		return fmt.Sprintf("%s %s %s: %v", o.Status, o.Kind, o.Path, o.Err)
	}
	return fmt.Sprintf("%s %s %s", o.Status, o.Kind, o.Path)
}
