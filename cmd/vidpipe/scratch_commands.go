package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"vidpipe/internal/preflight"
)

func newScratchCommand(ctx *commandContext) *cobra.Command {
	scratchCmd := &cobra.Command{
		Use:   "scratch",
		Short: "Inspect and clean worker scratch directories",
	}
	scratchCmd.AddCommand(newScratchListCommand(ctx))
	scratchCmd.AddCommand(newScratchCleanCommand(ctx))
	return scratchCmd
}

func newScratchListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scratch directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openForCommand(cmd, ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			dirs, err := p.scratch.List()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(dirs) == 0 {
				fmt.Fprintf(out, "No scratch directories under %s\n", p.scratch.Root())
				return nil
			}
			rows := make([][]string, 0, len(dirs))
			for _, d := range dirs {
				rows = append(rows, []string{
					d.Name,
					preflight.FormatBytes(uint64(max(d.Size, 0))),
					time.Since(d.ModTime).Truncate(time.Second).String(),
					yesNo(d.InUse),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Directory", "Size", "Age", "In use"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}
}

func newScratchCleanCommand(ctx *commandContext) *cobra.Command {
	var maxAge time.Duration
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove stale scratch directories that no worker holds",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openForCommand(cmd, ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			age := maxAge
			if age <= 0 {
				age = p.cfg.ScratchMaxAge()
			}
			result := p.scratch.CleanStale(cmd.Context(), age)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Removed %d, skipped %d (in use), errors %d\n",
				len(result.Removed), len(result.Skipped), len(result.Errors))
			for _, e := range result.Errors {
				fmt.Fprintf(out, "  %s: %v\n", e.Path, e.Error)
			}
			if len(result.Errors) > 0 {
				return fmt.Errorf("%d scratch directories could not be removed", len(result.Errors))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "Minimum age to remove (default workers.scratch_max_age_hours)")
	return cmd
}
