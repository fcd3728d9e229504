// Package api is the HTTP surface of vidpipe. It accepts trigger events from
// the storage and database notification hooks, serves the client polling
// endpoint, and exposes health and metrics.
//
// # Routes
//
// POST /v1/triggers/record-created and POST /v1/triggers/object-finalized
// accept the event JSON, require a bearer JWT signed with api.jwt_secret, and
// answer 202 once the invocation is scheduled on the dispatcher.
//
// GET /v1/videos/:id returns the record a client polls until it reaches a
// terminal state. GET /v1/videos lists recent records.
//
// GET /healthz, GET /readyz and GET /metrics are unauthenticated.
//
// GET /media/*path serves the local blob store so HLS output can be played
// without a CDN during development.
//
// # Wire format
//
// DTOs use camelCase JSON tags and RFC3339 timestamps with milliseconds.
// Statuses are the lowercase record status strings; Phase adds the coarse
// client-facing state.
package api
