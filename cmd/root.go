package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentic-research/structra/internal/batch"
	"github.com/agentic-research/structra/internal/config"
	"github.com/agentic-research/structra/internal/journal"
	"github.com/agentic-research/structra/internal/logging"
	"github.com/agentic-research/structra/internal/report"
)

const logFilePrefix = "structra_log"

// commonFlags are shared by every command that reads configuration.
type commonFlags struct {
	configPath string
	output     string
	ext        string
	logToFile  bool
	logFile    string
	logLevel   string
	journal    string
	dirMode    string
	fileMode   string
	quiet      bool
}

func (f *commonFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVarP(&f.configPath, "config", "c", "", "Path to HCL config file (default ./structra.hcl if present)")
	fl.StringVarP(&f.output, "output", "o", "", "Base directory structures are created in (default: current directory)")
	fl.StringVar(&f.ext, "ext", "", "Structure file extension (default .txt)")
	fl.BoolVar(&f.logToFile, "logging", false, "Also log to a timestamped file in the current directory")
	fl.StringVar(&f.logFile, "log-file", "", "Log to this file (rotated)")
	fl.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fl.StringVar(&f.journal, "journal", "", "Record outcomes in this SQLite journal")
	fl.StringVar(&f.dirMode, "dir-mode", "", "Permission for created directories (octal)")
	fl.StringVar(&f.fileMode, "file-mode", "", "Permission for created files (octal)")
	fl.BoolVarP(&f.quiet, "quiet", "q", false, "Only log errors")
}

// load resolves configuration and applies the flags that were set.
func (f *commonFlags) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	set := func(name string, dst *string, v string) {
		if cmd.Flags().Changed(name) {
			*dst = v
		}
	}
	set("output", &cfg.Output, f.output)
	set("ext", &cfg.Extension, f.ext)
	set("log-file", &cfg.Log.File, f.logFile)
	set("log-level", &cfg.Log.Level, f.logLevel)
	set("journal", &cfg.Journal, f.journal)
	set("dir-mode", &cfg.DirMode, f.dirMode)
	set("file-mode", &cfg.FileMode, f.fileMode)

	if f.logToFile && cfg.Log.File == "" {
		cfg.Log.File = logging.TimestampedFile(".", logFilePrefix, time.Now())
	}
	if _, err := cfg.DirPerm(); err != nil {
		return nil, err
	}
	if _, err := cfg.FilePerm(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (f *commonFlags) logger(cfg *config.Config, console io.Writer) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	if f.quiet {
		level = logging.Error
	}
	return logging.New(logging.Options{
		Name:    "structra",
		Level:   level,
		Console: console,
		File:    cfg.Log.File,
		JSON:    cfg.Log.JSON,
		Rotation: logging.Rotation{
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		},
	}), nil
}

func openJournal(cfg *config.Config) (*journal.Writer, error) {
	if cfg.Journal == "" {
		return nil, nil
	}
	return journal.Open(cfg.Journal)
}

func newRootCmd() *cobra.Command {
	var (
		flags      commonFlags
		dryRun     bool
		strict     bool
		beside     bool
		reportPath string
	)

	rootCmd := &cobra.Command{
		Use:   "structra [flags] FILE|DIR...",
		Short: "Structra: create directory structures from tree text",
		Long: `Structra reads plain-text descriptions of a directory hierarchy, written
with indentation or tree(1) glyphs, and creates the directories and empty
files they describe. The first non-blank line names the root directory.
Existing files are never modified.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			// A report on stdout owns it; logs move to stderr.
			console := cmd.OutOrStdout()
			if reportPath == "-" {
				console = cmd.ErrOrStderr()
			}
			log, err := flags.logger(cfg, console)
			if err != nil {
				return err
			}
			defer func() { _ = log.Close() }()
			log.Info("structra started")

			files, err := batch.Discover(args, cfg.Extension)
			if err == nil {
				err = batch.Validate(files, cfg.Extension)
			}
			if err != nil {
				log.Error("file validation failed: %v", err)
				return err
			}

			besideInput := beside || cfg.BesideInput()
			var base string
			switch {
			case besideInput:
				// each input file's directory is resolved by the processor
			case dryRun:
				base, err = filepath.Abs(orDot(cfg.Output))
			default:
				base, err = batch.ResolveBase(cfg.Output)
			}
			if err != nil {
				log.Error("%v", err)
				return err
			}

			j, err := openJournal(cfg)
			if err != nil {
				log.Error("journal: %v", err)
				return err
			}
			if j != nil {
				defer func() {
					if err := j.Close(); err != nil {
						log.Warn("journal close: %v", err)
					}
				}()
			}

			dirMode, _ := cfg.DirPerm()
			fileMode, _ := cfg.FilePerm()
			p := &batch.Processor{
				Logger:      log,
				Journal:     j,
				DryRun:      dryRun,
				BesideInput: besideInput,
				DirMode:     dirMode,
				FileMode:    fileMode,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, runErr := p.Process(ctx, base, files)
			switch reportPath {
			case "":
			case "-":
				if err := report.Write(cmd.OutOrStdout(), s); err != nil {
					log.Error("write report: %v", err)
				}
			default:
				if err := report.WriteFile(reportPath, s); err != nil {
					log.Error("%v", err)
				}
			}

			created, existed, failed := s.Totals()
			log.Info("structra completed: %d files, %d created, %d existed, %d failed",
				len(s.Files), created, existed, failed)

			switch {
			case runErr != nil:
				return runErr
			case s.FileErrors() > 0:
				return fmt.Errorf("%d of %d files could not be processed", s.FileErrors(), len(s.Files))
			case strict && failed > 0:
				return fmt.Errorf("%d entries failed", failed)
			}
			return nil
		},
	}

	flags.register(rootCmd)
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Materialize into memory only and report what would be created")
	rootCmd.Flags().BoolVar(&strict, "strict", false, "Exit non-zero if any entry failed")
	rootCmd.Flags().BoolVar(&beside, "beside-input", false, `Create each structure in its input file's directory (same as output = "`+config.BesideSource+`")`)
	rootCmd.Flags().StringVar(&reportPath, "report", "", "Write a JSON run report to this file (- for stdout)")

	rootCmd.AddCommand(newPreviewCmd(), newHistoryCmd(), newMCPCmd(), newVersionCmd())
	return rootCmd
}

func orDot(dir string) string {
	if dir == "" {
		return "."
	}
	return dir
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
