// Package server exposes a pipeline executor over HTTP using Gin with h2c,
// so HTTP/2 clients can hold many blocking item reads on one connection.
//
// The server follows the component pattern with lifecycle management,
// operational endpoints, and a net/http middleware stack applied around the
// root mux.
//
// # Middleware
//
// Built-in middleware (server/middleware):
//
//   - Recovery: panic recovery with structured logging
//   - RequestID: X-Request-Id generation and propagation into log context
//   - CORS: cross-origin resource sharing configuration
//   - BodySizeLimit: request body cap, which bounds parameter uploads
//   - RequestLogger: request logging with duration tracking
//
// # Pipeline API
//
// RegisterPipeline mounts the pipeline routes under /v1:
//
//	GET    /v1/pipeline            routing table and queue statistics
//	GET    /v1/inputs/:name        stage and port an external input feeds
//	GET    /v1/params/:group       stage a parameter group loads into
//	PUT    /v1/params/:group/:key  load the raw request body as parameters
//	POST   /v1/items               push an item (JSON object of inputs)
//	GET    /v1/items/next          oldest uncollected result
//	GET    /v1/items/:id           one item's result
//	DELETE /v1/items/:id           discard an item
//
// Reads accept ?wait= with a duration ("5s") or a boolean ("1") to block
// until the item resolves instead of answering 202 while it is pending.
//
// # Endpoints
//
// Operational endpoints (server/endpoint): /health, /alive, /ready, /info.
package server
