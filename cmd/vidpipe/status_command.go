package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"vidpipe/internal/preflight"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asTable bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Run preflight checks against ffmpeg, the classifier, storage, and scratch space",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openForCommand(cmd, ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			results := preflight.RunAll(cmd.Context(), p.cfg, preflight.Targets{
				Records:    p.records,
				Classifier: p.classifier,
			})
			out := cmd.OutOrStdout()
			if asTable {
				fmt.Fprintln(out, renderTable([]string{"Check", "OK", "Detail"}, preflightRows(results), nil))
			} else {
				colorize := shouldColorize(out)
				for _, r := range results {
					kind := statusOK
					if !r.Passed {
						kind = statusError
					}
					fmt.Fprintln(out, renderStatusLine(r.Name, kind, r.Detail, colorize))
				}
			}
			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d of %d checks failed", len(failed), len(results))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asTable, "table", false, "Render results as a table")
	return cmd
}

func preflightRows(results []preflight.Result) [][]string {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{r.Name, yesNo(r.Passed), r.Detail})
	}
	return rows
}
