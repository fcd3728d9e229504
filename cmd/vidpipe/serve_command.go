package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"vidpipe/internal/api"
	"vidpipe/internal/broker"
	"vidpipe/internal/config"
	"vidpipe/internal/logging"
	"vidpipe/internal/preflight"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var bind string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the trigger API, queue consumers, and scratch janitor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), ctx, bind)
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "Listen address (overrides api.bind)")
	return cmd
}

func runServe(cmdCtx context.Context, ctx *commandContext, bind string) error {
	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	p, err := openPipeline(signalCtx, cfg, logger)
	if err != nil {
		logger.Error("open pipeline", logging.Error(err))
		return err
	}
	defer p.Close()

	checks := preflight.RunAll(signalCtx, cfg, preflight.Targets{Records: p.records, Classifier: p.classifier})
	for _, r := range preflight.Failed(checks) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldImpact, "workers depending on this check will fail"),
			logging.String(logging.FieldErrorHint, "run `vidpipe status` for details"),
		)
	}

	dispatcher := p.dispatcher()
	defer dispatcher.Close()

	opts := api.Options{
		Bind:       cfg.API.Bind,
		JWTSecret:  cfg.API.JWTSecret,
		Dispatcher: dispatcher,
		Records:    p.records,
		Metrics:    p.metrics,
	}
	if b := strings.TrimSpace(bind); b != "" {
		opts.Bind = b
	}
	if cfg.Storage.Backend == config.StorageLocal {
		opts.MediaRoot = cfg.Storage.Root
	}
	server := api.NewServer(signalCtx, opts, logger)

	var consumer *broker.Client
	if cfg.Broker.Enabled {
		consumer, err = broker.Dial(signalCtx, brokerOptions(cfg), logger)
		if err != nil {
			return fmt.Errorf("connect broker: %w", err)
		}
		defer consumer.Close()
	}

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	spawn := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
				errs <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	spawn("api", func() error { return server.Run(signalCtx) })
	if consumer != nil {
		spawn("broker", func() error { return consumer.Consume(signalCtx, dispatcher) })
	}
	spawn("janitor", func() error {
		runJanitor(signalCtx, p.scratch, cfg.ScratchMaxAge(), janitorInterval(cfg.ScratchMaxAge()), logger)
		return nil
	})

	logger.Info("vidpipe serving",
		logging.String("bind", opts.Bind),
		logging.Bool("broker", consumer != nil),
		logging.String("records", cfg.Records.Backend),
		logging.String("storage", cfg.Storage.Backend),
		logging.Int("max_concurrent", cfg.Workers.MaxConcurrent),
	)

	var runErr error
	select {
	case <-signalCtx.Done():
	case runErr = <-errs:
		logger.Error("component stopped", logging.Error(runErr))
		cancel()
	}
	wg.Wait()
	logger.Info("vidpipe shutting down", logging.Int("in_flight", dispatcher.InFlight()))
	return runErr
}

func brokerOptions(cfg *config.Config) broker.Options {
	return broker.Options{
		URL: cfg.Broker.URL,
		Queues: broker.Queues{
			RecordCreated:   cfg.Broker.RecordCreatedQueue,
			ObjectFinalized: cfg.Broker.ObjectFinalizedQueue,
		},
		Prefetch: cfg.Broker.Prefetch,
	}
}
