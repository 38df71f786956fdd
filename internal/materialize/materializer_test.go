package materialize

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/structra/api"
)

const specExample = `project/
├── src/
│   ├── main.py
│   └── utils/
│       └── helper.py
├── README.md
`

// listTree returns every path under root, directories with a trailing slash.
func listTree(t *testing.T, fs billy.Filesystem, root string) []string {
	t.Helper()
	var out []string
	err := util.Walk(fs, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		p = filepath.ToSlash(p)
		if info.IsDir() {
			p += "/"
		}
		out = append(out, p)
		return nil
	})
	require.NoError(t, err)
	sort.Strings(out)
	return out
}

type collector struct {
	outcomes []api.Outcome
}

func (c *collector) Record(o api.Outcome) { c.outcomes = append(c.outcomes, o) }

func (c *collector) failed() []api.Outcome {
	var out []api.Outcome
	for _, o := range c.outcomes {
		if o.Status == api.Failed {
			out = append(out, o)
		}
	}
	return out
}

// faultyFS fails MkdirAll/OpenFile for chosen paths.
type faultyFS struct {
	billy.Filesystem
	fail map[string]error
}

func (f *faultyFS) MkdirAll(p string, perm os.FileMode) error {
	if err, ok := f.fail[p]; ok {
		return err
	}
	return f.Filesystem.MkdirAll(p, perm)
}

func (f *faultyFS) OpenFile(p string, flag int, perm os.FileMode) (billy.File, error) {
	if err, ok := f.fail[p]; ok {
		return nil, err
	}
	return f.Filesystem.OpenFile(p, flag, perm)
}

func TestMaterialize_SpecExample(t *testing.T) {
	fs := memfs.New()
	res, err := New(fs).Materialize(strings.NewReader(specExample))
	require.NoError(t, err)

	assert.Equal(t, 6, res.Created)
	assert.Equal(t, 0, res.Existed)
	assert.Equal(t, 0, res.Failed)
	assert.True(t, res.FailedLines.IsEmpty())

	assert.Equal(t, []string{
		"project/",
		"project/README.md",
		"project/src/",
		"project/src/main.py",
		"project/src/utils/",
		"project/src/utils/helper.py",
	}, listTree(t, fs, "project"))
}

func TestMaterialize_OnDisk(t *testing.T) {
	base := t.TempDir()
	sink := &collector{}

	res, err := New(osfs.New(base), WithSink(sink)).Materialize(strings.NewReader(specExample))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "project"), res.Root)
	assert.Equal(t, 6, res.Created)

	want := map[string]api.Kind{
		"project":                     api.Directory,
		"project/src":                 api.Directory,
		"project/src/main.py":         api.File,
		"project/src/utils":           api.Directory,
		"project/src/utils/helper.py": api.File,
		"project/README.md":           api.File,
	}
	for rel, kind := range want {
		info, err := os.Stat(filepath.Join(base, rel))
		require.NoError(t, err, rel)
		if kind == api.Directory {
			assert.True(t, info.IsDir(), rel)
		} else {
			assert.True(t, info.Mode().IsRegular(), rel)
			assert.Zero(t, info.Size(), rel)
		}
	}

	// One outcome per path, in input order, with absolute paths.
	require.Len(t, sink.outcomes, 6)
	assert.Equal(t, filepath.Join(base, "project"), sink.outcomes[0].Path)
	assert.Equal(t, -1, sink.outcomes[0].Depth)
	assert.Equal(t, filepath.Join(base, "project", "src", "utils", "helper.py"), sink.outcomes[4].Path)
	assert.Equal(t, 5, sink.outcomes[4].Line)
	for _, o := range sink.outcomes {
		assert.Equal(t, api.Created, o.Status, o.Path)
	}
}

func TestMaterialize_Idempotent(t *testing.T) {
	base := t.TempDir()
	fs := osfs.New(base)

	first, err := New(fs).Materialize(strings.NewReader(specExample))
	require.NoError(t, err)
	before := listTree(t, fs, "project")

	second, err := New(fs).Materialize(strings.NewReader(specExample))
	require.NoError(t, err)

	assert.Equal(t, 6, first.Created)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 6, second.Existed)
	assert.Equal(t, 0, second.Failed)
	assert.Equal(t, before, listTree(t, fs, "project"))
}

func TestMaterialize_PreservesExistingFiles(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "project", "src"), 0o755))
	content := []byte("print('keep me')\n")
	target := filepath.Join(base, "project", "src", "main.py")
	require.NoError(t, os.WriteFile(target, content, 0o644))

	sink := &collector{}
	res, err := New(osfs.New(base), WithSink(sink)).Materialize(strings.NewReader(specExample))
	require.NoError(t, err)

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.Equal(t, 3, res.Existed) // project, src, main.py
	assert.Equal(t, 3, res.Created)
	assert.Equal(t, api.Existed, sink.outcomes[2].Status)
}

func TestMaterialize_DepthJumps(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name: "spaces with first level indented",
			input: `root/
    src/
        main.go
    docs/
        guide.md
    LICENSE
`,
			want: []string{
				"root/", "root/LICENSE", "root/docs/", "root/docs/guide.md",
				"root/src/", "root/src/main.go",
			},
		},
		{
			name: "forward jump then shallower",
			input: `root/
a/
            c/
                deep.txt
        x.txt
b.txt
`,
			want: []string{
				"root/", "root/a/", "root/a/c/", "root/a/c/deep.txt",
				"root/a/x.txt", "root/b.txt",
			},
		},
		{
			name: "repeated depth",
			input: `root/
├── one/
├── two/
│   └── inner.txt
└── three.txt
`,
			want: []string{
				"root/", "root/one/", "root/three.txt", "root/two/", "root/two/inner.txt",
			},
		},
		{
			name: "siblings after a forward jump share the shallower parent",
			input: `root/
a/
        b/
        c.txt
`,
			want: []string{
				"root/", "root/a/", "root/a/b/", "root/a/c.txt",
			},
		},
		{
			name: "drop to much shallower depth",
			input: `root/
a/
    b/
        c/
            d/
                e.txt
f/
`,
			want: []string{
				"root/", "root/a/", "root/a/b/", "root/a/b/c/", "root/a/b/c/d/",
				"root/a/b/c/d/e.txt", "root/f/",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := memfs.New()
			res, err := New(fs).Materialize(strings.NewReader(tt.input))
			require.NoError(t, err)
			assert.Equal(t, 0, res.Failed)
			assert.Equal(t, tt.want, listTree(t, fs, "root"))
		})
	}
}

func TestMaterialize_KindDisambiguation(t *testing.T) {
	fs := memfs.New()
	input := `root/
├── archive.tar/
│   └── notes
├── Makefile
├── LICENSE
└── v1.2/
`
	res, err := New(fs).Materialize(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, []string{
		"root/",
		"root/LICENSE",
		"root/Makefile",
		"root/archive.tar/",
		"root/archive.tar/notes",
		"root/v1.2/",
	}, listTree(t, fs, "root"))
}

func TestMaterialize_FailureIsolation(t *testing.T) {
	boom := errors.New("permission denied")
	fs := &faultyFS{
		Filesystem: memfs.New(),
		fail: map[string]error{
			filepath.Join("root", "bad"):         boom,
			filepath.Join("root", "ok", "b.txt"): boom,
		},
	}
	input := `root/
├── bad/
│   └── child.txt
├── ok/
│   ├── a.txt
│   ├── b.txt
│   └── c.txt
└── last.md
`
	sink := &collector{}
	res, err := New(fs, WithSink(sink)).Materialize(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, 3, res.Failed)
	assert.Equal(t, []uint32{2, 3, 6}, res.FailedLines.ToArray())

	failed := sink.failed()
	require.Len(t, failed, 3)
	for _, o := range failed {
		assert.ErrorIs(t, o.Err, boom)
	}
	assert.Equal(t, filepath.Join("/", "root", "bad", "child.txt"), failed[1].Path)

	assert.Equal(t, []string{
		"root/",
		"root/last.md",
		"root/ok/",
		"root/ok/a.txt",
		"root/ok/c.txt",
	}, listTree(t, fs, "root"))
}

func TestMaterialize_KindConflict(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "root"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "root", "src"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(base, "root", "data.json"), 0o755))

	input := `root/
├── src/
│   └── main.go
├── data.json
└── ok.txt
`
	sink := &collector{}
	res, err := New(osfs.New(base), WithSink(sink)).Materialize(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, 3, res.Failed)
	failed := sink.failed()
	require.Len(t, failed, 3)
	assert.ErrorIs(t, failed[0].Err, ErrConflict)
	assert.ErrorIs(t, failed[2].Err, ErrConflict)

	_, err = os.Stat(filepath.Join(base, "root", "ok.txt"))
	assert.NoError(t, err)
}

func TestMaterialize_EscapingEntry(t *testing.T) {
	fs := memfs.New()
	input := `root/
├── ../evil.txt
├── sub/
│   └── ../../also-evil/
└── fine.txt
`
	sink := &collector{}
	res, err := New(fs, WithSink(sink)).Materialize(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, 2, res.Failed)
	for _, o := range sink.failed() {
		assert.ErrorIs(t, o.Err, ErrEscapesRoot)
	}
	_, err = fs.Stat("evil.txt")
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, err = fs.Stat("also-evil")
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, err = fs.Stat(filepath.Join("root", "fine.txt"))
	assert.NoError(t, err)
}

func TestMaterialize_EscapingDirectoryFailsItsChildren(t *testing.T) {
	fs := memfs.New()
	input := `root/
├── ../evil/
│   ├── payload.txt
│   └── nested/
│       └── more.txt
└── ok.txt
`
	sink := &collector{}
	res, err := New(fs, WithSink(sink)).Materialize(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, 2, res.Created, "root and ok.txt")
	assert.Equal(t, 4, res.Failed)
	assert.Equal(t, []uint32{2, 3, 4, 5}, res.FailedLines.ToArray())
	for _, o := range sink.failed() {
		assert.ErrorIs(t, o.Err, ErrEscapesRoot)
	}
	assert.Equal(t, []string{"root/", "root/ok.txt"}, listTree(t, fs, "root"))
	_, err = fs.Stat("evil")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestMaterialize_InnerSeparators(t *testing.T) {
	fs := memfs.New()
	input := `root/
    pkg/util/
        strings.go
    cmd/tool/main.go
`
	res, err := New(fs).Materialize(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Failed)
	assert.Contains(t, listTree(t, fs, "root"), "root/pkg/util/strings.go")
	assert.Contains(t, listTree(t, fs, "root"), "root/cmd/tool/main.go")
}

func TestMaterialize_DotRootUsesBase(t *testing.T) {
	base := t.TempDir()
	fs := osfs.New(base)
	input := ".\n├── src/\n│   └── main.go\n└── README.md\n\n1 directory, 2 files\n"

	sink := &collector{}
	res, err := New(fs, WithSink(sink)).Materialize(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, base, res.Root)
	assert.Equal(t, 1, res.Existed, "the base itself")
	assert.Equal(t, 3, res.Created)
	assert.Zero(t, res.Failed)
	assert.FileExists(t, filepath.Join(base, "src", "main.go"))
	assert.FileExists(t, filepath.Join(base, "README.md"))

	res, err = New(memfs.New()).Run("./", &sliceSource{entries: []api.Entry{{Line: 2, Name: "a.txt", Kind: api.File}}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
}

func TestRun_InvalidRoot(t *testing.T) {
	for _, name := range []string{"", "..", "../up", "/abs"} {
		t.Run(name, func(t *testing.T) {
			_, err := New(memfs.New()).Run(name, &sliceSource{})
			assert.ErrorIs(t, err, ErrInvalidRoot)
		})
	}
}

func TestRun_RootFailureIsFatal(t *testing.T) {
	boom := errors.New("read-only file system")
	fs := &faultyFS{Filesystem: memfs.New(), fail: map[string]error{"root": boom}}
	src := &sliceSource{entries: []api.Entry{{Line: 2, Name: "a.txt", Kind: api.File}}}
	sink := &collector{}

	res, err := New(fs, WithSink(sink)).Run("root", src)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 0, src.pos, "entries must not be consumed after a root failure")
	require.Len(t, sink.outcomes, 1)
	assert.Equal(t, api.Failed, sink.outcomes[0].Status)
}

func TestRun_SourceErrorReturnsPartialResult(t *testing.T) {
	readErr := errors.New("unexpected EOF")
	src := &sliceSource{
		entries: []api.Entry{{Line: 2, Name: "a.txt", Kind: api.File}},
		err:     readErr,
	}
	res, err := New(memfs.New()).Run("root", src)
	assert.ErrorIs(t, err, readErr)
	require.NotNil(t, res)
	assert.Equal(t, 2, res.Created)
}

func TestRun_Modes(t *testing.T) {
	base := t.TempDir()
	src := &sliceSource{entries: []api.Entry{
		{Line: 2, Name: "secret.db", Kind: api.File},
		{Line: 3, Name: "private", Kind: api.Directory},
	}}
	_, err := New(osfs.New(base), WithFileMode(0o600), WithDirMode(0o700)).Run("root", src)
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(base, "root", "secret.db"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	info, err = os.Stat(filepath.Join(base, "root", "private"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())
}

func TestSinks(t *testing.T) {
	a, b := &collector{}, &collector{}
	s := Sinks(nil, a, nil, b)
	s.Record(api.Outcome{Path: "/x"})
	assert.Len(t, a.outcomes, 1)
	assert.Len(t, b.outcomes, 1)

	assert.Equal(t, nopSink{}, Sinks())
	assert.Equal(t, Sink(a), Sinks(a, nil))

	var seen []string
	SinkFunc(func(o api.Outcome) { seen = append(seen, o.Path) }).Record(api.Outcome{Path: "/y"})
	assert.Equal(t, []string{"/y"}, seen)
}

type sliceSource struct {
	entries []api.Entry
	pos     int
	err     error
}

func (s *sliceSource) Next() (api.Entry, bool) {
	if s.pos >= len(s.entries) {
		return api.Entry{}, false
	}
	e := s.entries[s.pos]
	s.pos++
	return e, true
}

func (s *sliceSource) Err() error { return s.err }
