package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/spf13/cobra"

	"github.com/agentic-research/structra/internal/batch"
	"github.com/agentic-research/structra/internal/nfsmount"
)

func newPreviewCmd() *cobra.Command {
	var (
		flags commonFlags
		addr  string
		mount string
	)

	cmd := &cobra.Command{
		Use:   "preview FILE",
		Short: "Materialize a structure in memory and serve it over NFS for inspection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			log, err := flags.logger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = log.Close() }()

			if err := batch.Validate(args, cfg.Extension); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p := &batch.Processor{Logger: log, DryRun: true}
			s, err := p.ProcessFS(ctx, memfs.New(), args)
			if err != nil {
				return err
			}
			if s.FileErrors() > 0 {
				return s.Files[0].Err
			}

			srv, err := nfsmount.NewServer(s.FS, addr)
			if err != nil {
				return err
			}
			defer func() { _ = srv.Close() }()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Serving preview of %s on %s (NFSv3)\n", args[0], srv.Addr())

			if mount != "" {
				if err := nfsmount.Mount(srv.Port(), mount); err != nil {
					return err
				}
				fmt.Fprintf(out, "Mounted at %s (read-only). Press Ctrl-C to stop.\n", mount)
				defer func() {
					if err := nfsmount.Unmount(mount); err != nil {
						log.Error("%v", err)
					}
				}()
			} else if mc, err := nfsmount.MountCommand(srv.Port(), "<dir>"); err == nil {
				fmt.Fprintf(out, "Mount with: %s\n", strings.Join(mc.Args, " "))
			}

			<-ctx.Done()
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:0", "NFS listen address")
	cmd.Flags().StringVar(&mount, "mount", "", "Mount the preview at this directory (requires sudo)")
	return cmd
}
