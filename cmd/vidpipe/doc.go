// Package main hosts the vidpipe CLI entrypoint and command graph.
//
// "vidpipe serve" is the long-running process: it wires one blob store, one
// record store, the classifier client, the ffmpeg driver, and the scratch
// manager into the moderation and transcode workers, then feeds them from the
// HTTP trigger API and, when enabled, the AMQP queues. The remaining commands
// run a single trigger by hand, publish events, inspect records, and report
// preflight status.
package main
