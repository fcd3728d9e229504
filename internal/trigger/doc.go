// Package trigger dispatches pipeline events to the workers.
//
// Every event runs as an independent invocation with its own deadline. A
// semaphore bounds how many invocations run at once across both workers.
// Events arrive from the HTTP API, the AMQP consumers, or the CLI, and all of
// them go through the same Dispatcher.
package trigger
