package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"vidpipe/internal/api"
	"vidpipe/internal/blob"
	"vidpipe/internal/poller"
	"vidpipe/internal/video"
)

const (
	defaultWatchInterval = 5 * time.Second
	defaultWatchAttempts = 120
)

func newVideoCommand(ctx *commandContext) *cobra.Command {
	videoCmd := &cobra.Command{
		Use:   "video",
		Short: "Create and inspect video records",
	}
	videoCmd.AddCommand(newVideoCreateCommand(ctx))
	videoCmd.AddCommand(newVideoShowCommand(ctx))
	videoCmd.AddCommand(newVideoListCommand(ctx))
	videoCmd.AddCommand(newVideoWatchCommand(ctx))
	return videoCmd
}

func newVideoCreateCommand(ctx *commandContext) *cobra.Command {
	var id string
	var file string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an uploading record and optionally upload its raw file",
		RunE: func(cmd *cobra.Command, args []string) error {
			id = strings.TrimSpace(id)
			if id == "" {
				id = uuid.NewString()
			}
			if err := video.ValidateID(id); err != nil {
				return err
			}
			p, err := openForCommand(cmd, ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			rec, err := p.records.Create(cmd.Context(), id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created video %s (%s)\n", rec.ID, statusLabel(rec.Status))

			if file = strings.TrimSpace(file); file != "" {
				key := video.RawObjectKey(id)
				if err := p.blobs.Upload(cmd.Context(), file, key, blob.Metadata{ContentType: "video/mp4"}); err != nil {
					return fmt.Errorf("upload raw file: %w", err)
				}
				fmt.Fprintf(out, "Uploaded %s\n", key)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Video ID (default: random UUID)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Local video file uploaded as the raw object")
	return cmd
}

func newVideoShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one video record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openForCommand(cmd, ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			rec, err := p.records.Get(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, api.FromRecord(rec))
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			printRecord(out, rec, colorize)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newVideoListCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent video records",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openForCommand(cmd, ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			recs, err := p.records.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, api.VideoListResponse{Items: api.FromRecords(recs)})
			}
			out := cmd.OutOrStdout()
			if len(recs) == 0 {
				fmt.Fprintln(out, "No videos")
				return nil
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Status", "Score", "Qualities", "Updated"},
				videoRows(recs),
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum records to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newVideoWatchCommand(ctx *commandContext) *cobra.Command {
	var interval time.Duration
	var attempts int
	cmd := &cobra.Command{
		Use:   "watch <id>",
		Short: "Poll a video record until it reaches a terminal state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openForCommand(cmd, ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			id := strings.TrimSpace(args[0])
			rec, err := poller.Watch(cmd.Context(), p.records, id, poller.Options{
				Interval: interval,
				Attempts: attempts,
			}, func(r video.Record) {
				fmt.Fprintf(out, "%s  %s\n", time.Now().Format(time.TimeOnly), colorStatus(r.Status, colorize))
			})
			if errors.Is(err, poller.ErrGaveUp) {
				return err
			}
			if err != nil {
				return fmt.Errorf("watch %s: %w", id, err)
			}
			printRecord(out, rec, colorize)
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", defaultWatchInterval, "Delay between reads")
	cmd.Flags().IntVar(&attempts, "attempts", defaultWatchAttempts, "Reads before giving up")
	return cmd
}

func printRecord(out io.Writer, rec *video.Record, colorize bool) {
	lines := [][2]string{
		{"ID", rec.ID},
		{"Status", colorStatus(rec.Status, colorize)},
		{"Phase", rec.Status.ClientPhase()},
		{"Score", formatScore(rec.ModerationScore)},
	}
	if rec.HLSURL != "" {
		lines = append(lines, [2]string{"HLS", rec.HLSURL})
	}
	if len(rec.Qualities) > 0 {
		lines = append(lines, [2]string{"Qualities", strings.Join(rec.Qualities, ", ")})
	}
	if rec.Error != "" {
		lines = append(lines, [2]string{"Error", rec.Error})
	}
	if !rec.UpdatedAt.IsZero() {
		lines = append(lines, [2]string{"Updated", rec.UpdatedAt.Local().Format(time.DateTime)})
	}
	for _, l := range lines {
		fmt.Fprintf(out, "%-10s %s\n", l[0]+":", l[1])
	}
}

func videoRows(recs []video.Record) [][]string {
	rows := make([][]string, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, []string{
			r.ID,
			statusLabel(r.Status),
			formatScore(r.ModerationScore),
			strings.Join(r.Qualities, ","),
			r.UpdatedAt.Local().Format(time.DateTime),
		})
	}
	return rows
}

func formatScore(score *float64) string {
	if score == nil {
		return "-"
	}
	return strconv.FormatFloat(*score, 'f', 2, 64)
}
