// Package structure turns the lines of a tree-style structure description
// into classified entries.
package structure

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agentic-research/structra/api"
)

// IndentWidth is the number of leading columns that make up one depth level.
const IndentWidth = 4

// branchMarkers are stripped once, right after the indent. Longer markers
// come first so "├──" wins over "├─".
var branchMarkers = []struct {
	prefix    string
	needSpace bool
}{
	{"├──", false},
	{"└──", false},
	{"├─", false},
	{"└─", false},
	{"|--", true},
	{"`--", true},
	{"+--", true},
	{"--", true}, // "|--" after the bar was counted as indent
}

// treeSummary matches the footer printed by tree(1).
var treeSummary = regexp.MustCompile(`^\d+ director(?:y|ies)(?:, \d+ files?)?$`)

// Classify converts one raw line into an Entry. It returns false when the
// line carries no entry: blank, glyph-only, or a tree(1) summary footer.
func Classify(line string, lineNo int) (api.Entry, bool) {
	line = strings.TrimRightFunc(line, unicode.IsSpace)
	if line == "" {
		return api.Entry{}, false
	}

	indent, rest := splitIndent(line)
	name := cleanName(rest)
	if name == "" || treeSummary.MatchString(name) {
		return api.Entry{}, false
	}

	kind := api.File
	if hasTrailingSeparator(name) {
		kind = api.Directory
		name = trimSeparators(name)
		if name == "" {
			return api.Entry{}, false
		}
	}

	return api.Entry{
		Line:      lineNo,
		RawIndent: indent,
		Depth:     indent / IndentWidth,
		Name:      name,
		Kind:      kind,
	}, true
}

// splitIndent counts the leading indent columns and returns the remainder.
func splitIndent(line string) (int, string) {
	cols := 0
	for i, r := range line {
		switch r {
		case ' ', '\u00a0', '│', '|':
			cols++
		case '\t':
			cols += IndentWidth
		default:
			return cols, line[i:]
		}
	}
	return cols, ""
}

// cleanName strips the branch marker and any remaining tree glyphs.
func cleanName(s string) string {
	for _, m := range branchMarkers {
		if !strings.HasPrefix(s, m.prefix) {
			continue
		}
		after := s[len(m.prefix):]
		if m.needSpace {
			r, _ := utf8.DecodeRuneInString(after)
			if after != "" && !unicode.IsSpace(r) {
				continue
			}
		}
		s = strings.TrimLeft(after, "─")
		break
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case '├', '└', '│':
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

func hasTrailingSeparator(name string) bool {
	return strings.HasSuffix(name, "/") || strings.HasSuffix(name, string(filepath.Separator))
}

func trimSeparators(name string) string {
	return strings.TrimSpace(strings.TrimRight(name, "/"+string(filepath.Separator)))
}

// RootName cleans the first non-blank line of a description into the root
// directory name. An empty result means the line carries no name.
func RootName(line string) string {
	line = strings.TrimRightFunc(line, unicode.IsSpace)
	_, rest := splitIndent(line)
	return trimSeparators(cleanName(rest))
}
