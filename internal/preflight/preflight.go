package preflight

import (
	"context"

	"vidpipe/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// Pinger is satisfied by the record store and the classifier client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Targets holds the live collaborators RunAll probes. Nil fields are skipped.
type Targets struct {
	Records    Pinger
	Classifier Pinger
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config, targets Targets) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results, CheckDirectoryAccess("Scratch directory", cfg.Paths.ScratchDir))
	results = append(results, CheckFreeSpace("Scratch free space", cfg.Paths.ScratchDir, MinScratchBytes))

	if cfg.Storage.Backend == config.StorageLocal {
		results = append(results, CheckDirectoryAccess("Local storage", cfg.Storage.Root))
	}

	results = append(results, CheckFFmpeg(ctx, cfg.FFmpegBinary()))

	if targets.Records != nil {
		results = append(results, CheckPing(ctx, "Record store ("+cfg.Records.Backend+")", targets.Records))
	}
	if targets.Classifier != nil {
		results = append(results, CheckPing(ctx, "Classifier", targets.Classifier))
	}

	return results
}

// Failed returns the subset of results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
