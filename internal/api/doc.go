// Package api contains the HTTP handlers for the task engine: submission,
// status reads, listing, cancellation, and the WebSocket status streams.
// Handlers depend on small service interfaces so tests can substitute mocks.
package api
