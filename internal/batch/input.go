// Package batch drives the interpreter over a set of structure files:
// input discovery and validation, base directory resolution, and per-file
// isolation of failures.
package batch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sys/unix"
)

var ErrInvalidInput = errors.New("invalid input")

// InputError describes one rejected input path.
type InputError struct {
	Path   string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

func (e *InputError) Unwrap() error { return ErrInvalidInput }

// Discover expands args into structure files. Directories are walked for
// files with extension ext; other arguments are passed through unchanged so
// Validate can report them.
func Discover(args []string, ext string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil || !info.IsDir() {
			files = append(files, arg)
			continue
		}

		var found []string
		err = filepath.WalkDir(arg, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && hasExt(p, ext) {
				found = append(found, p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", arg, err)
		}
		if len(found) == 0 {
			return nil, &InputError{Path: arg, Reason: fmt.Sprintf("no %s files found", ext)}
		}
		sort.Strings(found)
		files = append(files, found...)
	}
	return files, nil
}

// Validate checks every path before anything is created. All problems are
// reported together; any problem rejects the whole batch.
func Validate(files []string, ext string) error {
	if len(files) == 0 {
		return fmt.Errorf("%w: no structure files given", ErrInvalidInput)
	}

	var errs []error
	for _, f := range files {
		info, err := os.Stat(f)
		switch {
		case err != nil:
			errs = append(errs, &InputError{Path: f, Reason: "does not exist"})
		case info.IsDir():
			errs = append(errs, &InputError{Path: f, Reason: "is a directory"})
		case !hasExt(f, ext):
			errs = append(errs, &InputError{Path: f, Reason: fmt.Sprintf("invalid file type, expected %s", ext)})
		}
	}
	return errors.Join(errs...)
}

// ResolveBase returns the absolute base directory structures are created
// in, creating it if needed. An empty dir means the working directory.
func ResolveBase(dir string) (string, error) {
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve output directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("output %s is not a directory", abs)
	}
	if err := unix.Access(abs, unix.W_OK); err != nil {
		return "", fmt.Errorf("output directory %s is not writable: %w", abs, err)
	}
	return abs, nil
}

func hasExt(p, ext string) bool {
	if ext == "" {
		return true
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return strings.EqualFold(filepath.Ext(p), ext)
}
