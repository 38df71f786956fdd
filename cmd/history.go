package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentic-research/structra/internal/journal"
)

func newHistoryCmd() *cobra.Command {
	var failedOnly bool

	cmd := &cobra.Command{
		Use:   "history JOURNAL [RUN_ID]",
		Short: "List journaled runs, or the outcomes of one run",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer func() { _ = tw.Flush() }()

			if len(args) == 1 {
				runs, err := journal.Runs(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(tw, "RUN\tSTARTED\tSOURCE\tROOT\tCREATED\tEXISTED\tFAILED\tERROR")
				for _, r := range runs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
						r.ID, r.Started.Format(time.DateTime), r.Source, r.Root,
						r.Created, r.Existed, r.Failed, r.Error)
				}
				return nil
			}

			outcomes, err := journal.Outcomes(args[0], args[1])
			if err != nil {
				return err
			}
			if len(outcomes) == 0 {
				return fmt.Errorf("no outcomes recorded for run %s", args[1])
			}
			fmt.Fprintln(tw, "LINE\tSTATUS\tKIND\tPATH\tERROR")
			for _, o := range outcomes {
				if failedOnly && o.Status != "failed" {
					continue
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", o.Line, o.Status, o.Kind, o.Path, o.Error)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&failedOnly, "failed", false, "Only show failed outcomes")
	return cmd
}
