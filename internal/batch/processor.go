package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/helper/chroot"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/google/uuid"

	"github.com/agentic-research/structra/api"
	"github.com/agentic-research/structra/internal/journal"
	"github.com/agentic-research/structra/internal/logging"
	"github.com/agentic-research/structra/internal/materialize"
	"github.com/agentic-research/structra/internal/structure"
)

// Processor materializes structure files one at a time. The zero value
// writes to disk with default modes and logs nothing.
type Processor struct {
	Logger  *logging.Logger
	Journal *journal.Writer
	// DryRun materializes into an in-memory filesystem instead of the base.
	DryRun bool
	// BesideInput creates each structure in its input file's directory
	// instead of the base.
	BesideInput bool
	DirMode     os.FileMode
	FileMode    os.FileMode
}

// FileResult is the outcome of one input file.
type FileResult struct {
	Source string
	RunID  string // empty without a journal
	Result *materialize.Result
	// Failures holds the failed outcomes, in input order.
	Failures []api.Outcome
	// Skipped is set for empty inputs, which are not errors.
	Skipped bool
	Err     error
}

type Summary struct {
	BatchID  string
	Base     string
	DryRun   bool
	Started  time.Time
	Finished time.Time
	Files    []FileResult
	// FS is the filesystem the batch wrote to; for dry runs it holds the
	// would-be result.
	FS billy.Filesystem
}

// FileErrors counts files that could not be processed at all.
func (s *Summary) FileErrors() int {
	n := 0
	for _, f := range s.Files {
		if f.Err != nil {
			n++
		}
	}
	return n
}

// Totals sums entry outcomes over all files.
func (s *Summary) Totals() (created, existed, failed int) {
	for _, f := range s.Files {
		if f.Result == nil {
			continue
		}
		created += f.Result.Created
		existed += f.Result.Existed
		failed += f.Result.Failed
	}
	return created, existed, failed
}

// Process materializes files beneath base, or into memory for a dry run.
// A dry run keeps base as the filesystem root so reported paths match the
// ones a real run would produce. With BesideInput base is ignored.
func (p *Processor) Process(ctx context.Context, base string, files []string) (*Summary, error) {
	if p.BesideInput {
		return p.processBeside(ctx, files)
	}
	var fs billy.Filesystem
	if p.DryRun {
		fs = chroot.New(memfs.New(), base)
	} else {
		fs = osfs.New(base)
	}
	return p.ProcessFS(ctx, fs, files)
}

// ProcessFS materializes files into fs. Each file is independent: a file
// that cannot be read or whose root cannot be created is recorded and the
// next file is processed. ctx is only checked between files.
func (p *Processor) ProcessFS(ctx context.Context, fs billy.Filesystem, files []string) (*Summary, error) {
	s := p.newSummary(fs, fs.Root())
	return s, p.run(ctx, s, files, func(string) (billy.Filesystem, error) { return fs, nil })
}

func (p *Processor) processBeside(ctx context.Context, files []string) (*Summary, error) {
	// Dry runs share one memory filesystem, chrooted per input directory.
	mem := memfs.New()
	s := p.newSummary(mem, "")
	return s, p.run(ctx, s, files, func(src string) (billy.Filesystem, error) {
		dir, err := filepath.Abs(filepath.Dir(src))
		if err != nil {
			return nil, err
		}
		if p.DryRun {
			return chroot.New(mem, dir), nil
		}
		if dir, err = ResolveBase(dir); err != nil {
			return nil, err
		}
		return osfs.New(dir), nil
	})
}

func (p *Processor) newSummary(fs billy.Filesystem, base string) *Summary {
	return &Summary{
		BatchID: uuid.NewString(),
		Base:    base,
		DryRun:  p.DryRun,
		Started: time.Now(),
		FS:      fs,
	}
}

func (p *Processor) run(ctx context.Context, s *Summary, files []string, fsFor func(src string) (billy.Filesystem, error)) error {
	log := p.Logger.Named("batch")
	if p.DryRun {
		log.Info("dry run: nothing is written to disk")
	}
	if s.Base != "" {
		log.Info("output directory set to: %s", s.Base)
	} else {
		log.Info("output directory set to: beside each input file")
	}

	var err error
	for _, f := range files {
		if err = ctx.Err(); err != nil {
			log.Warn("stopping before %s: %v", f, err)
			break
		}
		fs, ferr := fsFor(f)
		if ferr != nil {
			fr := FileResult{Source: f, Err: fmt.Errorf("output for %s: %w", f, ferr)}
			log.Error("%v", fr.Err)
			s.Files = append(s.Files, fr)
			continue
		}
		s.Files = append(s.Files, p.processFile(fs, s.BatchID, f))
	}
	s.Finished = time.Now()
	return err
}

func (p *Processor) processFile(fs billy.Filesystem, batchID, src string) FileResult {
	fr := FileResult{Source: src}
	log := p.Logger.Named("batch")
	log.Info("reading structure file: %s", src)

	f, err := os.Open(src)
	if err != nil {
		fr.Err = fmt.Errorf("open %s: %w", src, err)
		log.Error("%v", fr.Err)
		return fr
	}
	defer func() { _ = f.Close() }()

	sr := structure.NewReader(f)
	root, err := sr.Root()
	if errors.Is(err, structure.ErrNoRoot) {
		fr.Skipped = true
		log.Warn("file %s is empty", src)
		return fr
	}
	if err != nil {
		fr.Err = fmt.Errorf("read %s: %w", src, err)
		log.Error("%v", fr.Err)
		return fr
	}
	log.Info("processing project: %s", root)

	sinks := []materialize.Sink{
		p.Logger.Named("materialize"),
		materialize.SinkFunc(func(o api.Outcome) {
			if o.Status == api.Failed {
				fr.Failures = append(fr.Failures, o)
			}
		}),
	}
	var run *journal.Run
	if p.Journal != nil {
		if run, err = p.Journal.StartRun(batchID, src); err != nil {
			log.Warn("journal disabled for %s: %v", src, err)
			run = nil
		} else {
			fr.RunID = run.ID
			sinks = append(sinks, run)
		}
	}

	m := materialize.New(fs,
		materialize.WithSink(materialize.Sinks(sinks...)),
		materialize.WithDirMode(p.dirMode()),
		materialize.WithFileMode(p.fileMode()),
	)
	fr.Result, fr.Err = m.Run(root, sr)
	if run != nil {
		if err := run.Finish(fr.Result, fr.Err); err != nil {
			log.Warn("journal: %v", err)
		}
	}

	if fr.Err != nil {
		log.Error("%s: %v", src, fr.Err)
	}
	if fr.Result != nil {
		log.Info("%s: %d created, %d existed, %d failed",
			src, fr.Result.Created, fr.Result.Existed, fr.Result.Failed)
	}
	return fr
}

func (p *Processor) dirMode() os.FileMode {
	if p.DirMode == 0 {
		return materialize.DefaultDirMode
	}
	return p.DirMode
}

func (p *Processor) fileMode() os.FileMode {
	if p.FileMode == 0 {
		return materialize.DefaultFileMode
	}
	return p.FileMode
}
