package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"vidpipe/internal/broker"
	"vidpipe/internal/trigger"
	"vidpipe/internal/video"
)

func newPublishCommand(ctx *commandContext) *cobra.Command {
	publishCmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a trigger event onto the broker",
	}

	var id string
	recordCmd := &cobra.Command{
		Use:   "record-created",
		Short: "Publish a record-created event",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := video.ValidateID(strings.TrimSpace(id)); err != nil {
				return err
			}
			ev := video.RecordCreated{ID: strings.TrimSpace(id), Status: video.StatusUploading}
			return publishEvent(cmd, ctx, trigger.KindRecordCreated, ev)
		},
	}
	recordCmd.Flags().StringVar(&id, "id", "", "Video record ID")

	var object, contentType, bucket string
	objectCmd := &cobra.Command{
		Use:   "object-finalized",
		Short: "Publish an object-finalized event",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(object) == "" {
				return errors.New("--object is required")
			}
			ev := video.ObjectFinalized{Name: strings.TrimSpace(object), ContentType: contentType, Bucket: bucket}
			return publishEvent(cmd, ctx, trigger.KindObjectFinalized, ev)
		},
	}
	objectCmd.Flags().StringVar(&object, "object", "", "Object name, e.g. videos/<id>.mp4")
	objectCmd.Flags().StringVar(&contentType, "content-type", "video/mp4", "Object content type")
	objectCmd.Flags().StringVar(&bucket, "bucket", "", "Bucket name carried in the event")

	publishCmd.AddCommand(recordCmd, objectCmd)
	return publishCmd
}

func publishEvent(cmd *cobra.Command, ctx *commandContext, kind trigger.Kind, event any) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	if !cfg.Broker.Enabled {
		return errors.New("broker is disabled; set [broker] enabled = true")
	}
	logger, err := ctx.cliLogger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	client, err := broker.Dial(cmd.Context(), brokerOptions(cfg), logger)
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer client.Close()
	if err := client.Publish(cmd.Context(), kind, event); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Published %s\n", kind)
	return nil
}
