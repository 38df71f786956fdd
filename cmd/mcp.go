package cmd

import (
	"github.com/spf13/cobra"

	"github.com/agentic-research/structra/internal/batch"
	"github.com/agentic-research/structra/internal/mcpserver"
)

func newMCPCmd() *cobra.Command {
	var flags commonFlags

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve structra as MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			// stdout carries the protocol
			log, err := flags.logger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = log.Close() }()

			base, err := batch.ResolveBase(cfg.Output)
			if err != nil {
				return err
			}
			j, err := openJournal(cfg)
			if err != nil {
				return err
			}
			if j != nil {
				defer func() { _ = j.Close() }()
			}

			dirMode, _ := cfg.DirPerm()
			fileMode, _ := cfg.FilePerm()
			h := &mcpserver.Handler{
				Base:     base,
				Logger:   log,
				Journal:  j,
				DirMode:  dirMode,
				FileMode: fileMode,
			}
			log.Info("serving MCP on stdio, base %s", base)
			return mcpserver.Serve(mcpserver.New(version, h))
		},
	}

	flags.register(cmd)
	return cmd
}
