package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"vidpipe/internal/moderation"
	"vidpipe/internal/services"
	"vidpipe/internal/video"
)

func newModerateCommand(ctx *commandContext) *cobra.Command {
	var id string
	var retryFailed bool
	cmd := &cobra.Command{
		Use:   "moderate",
		Short: "Run the moderation worker once for a video record",
		RunE: func(cmd *cobra.Command, args []string) error {
			id = strings.TrimSpace(id)
			if id == "" {
				return errors.New("--id is required")
			}
			return withPipeline(cmd, ctx, func(runCtx context.Context, p *pipeline) error {
				var result *moderation.Result
				var err error
				if retryFailed {
					result, err = p.moderation.Retry(runCtx, id)
				} else {
					result, err = p.moderation.Moderate(runCtx, video.RecordCreated{ID: id, Status: video.StatusUploading})
				}
				out := cmd.OutOrStdout()
				if result == nil && err == nil {
					fmt.Fprintf(out, "Video %s is not awaiting moderation; nothing to do\n", id)
					if !retryFailed {
						fmt.Fprintln(out, "Use --retry to moderate a video whose previous run failed")
					}
					return nil
				}
				if result != nil {
					fmt.Fprintf(out, "Video %s: %s (max score %.2f, %d/%d frames scored)\n",
						id, statusLabel(result.Status), result.MaxScore, result.FramesScored, result.FramesTotal)
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Video record ID")
	cmd.Flags().BoolVar(&retryFailed, "retry", false, "Also moderate a record whose previous moderation failed")
	return cmd
}

func newTranscodeCommand(ctx *commandContext) *cobra.Command {
	var object string
	var contentType string
	cmd := &cobra.Command{
		Use:   "transcode",
		Short: "Run the transcode worker once for a raw upload",
		RunE: func(cmd *cobra.Command, args []string) error {
			object = strings.TrimSpace(object)
			if object == "" {
				return errors.New("--object is required")
			}
			return withPipeline(cmd, ctx, func(runCtx context.Context, p *pipeline) error {
				result, err := p.transcode.Transcode(runCtx, video.ObjectFinalized{Name: object, ContentType: contentType})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if result == nil {
					fmt.Fprintf(out, "Object %s needs no transcode; nothing to do\n", object)
					return nil
				}
				fmt.Fprintf(out, "Published %s (%s, %d objects)\n",
					result.MasterURL, strings.Join(result.Qualities, ", "), len(result.Uploaded))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&object, "object", "", "Raw object name, e.g. videos/<id>.mp4")
	cmd.Flags().StringVar(&contentType, "content-type", "video/mp4", "Content type reported for the object")
	return cmd
}

// withPipeline opens the process collaborators and runs fn under the worker
// deadline, tagged with a fresh request ID.
func withPipeline(cmd *cobra.Command, ctx *commandContext, fn func(context.Context, *pipeline) error) error {
	p, err := openForCommand(cmd, ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	runCtx, cancel := context.WithTimeout(services.WithRequestID(cmd.Context(), uuid.NewString()), p.cfg.WorkerTimeout())
	defer cancel()
	return fn(runCtx, p)
}

func openForCommand(cmd *cobra.Command, ctx *commandContext) (*pipeline, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := ctx.cliLogger(cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	return openPipeline(cmd.Context(), cfg, logger)
}
