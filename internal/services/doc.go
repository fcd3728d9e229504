// Package services defines shared utilities consumed by the pipeline workers
// and their external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp video IDs, worker names, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that keep failure messages
//     uniform before they are persisted on the video record.
//
// Use these helpers when wiring new worker logic so operational behaviour
// (error handling, observability) stays uniform across the pipeline.
package services
