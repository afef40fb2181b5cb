// Package gateway runs the entropy-chat HTTP server.
//
// # Overview
//
// The Gateway owns every long-lived component: the SQLite store, the
// credential vault, the stream manager, the event broadcaster and the
// idempotency cache. New wires them from config; Run serves until the context
// is cancelled and then shuts down in order (HTTP, streams, broadcaster,
// store).
//
// # HTTP API
//
//   - GET /health, GET /health/ready
//   - GET|POST /api/spaces, GET|PATCH /api/spaces/{id}, PUT /api/spaces/order
//   - PUT /api/spaces/{id}/pinned-order
//   - GET|POST /api/conversations, GET /api/conversations/{id}
//   - POST /api/conversations/{id}/pin, POST /api/conversations/{id}/move
//   - GET|POST /api/conversations/{id}/messages
//   - GET /api/conversations/{id}/events (SSE)
//   - GET /api/conversations/{id}/transcript (HTML)
//   - POST /api/streams, GET|DELETE /api/streams/{id}
//   - GET|PUT /api/settings/{key}
//   - GET|PUT /api/credentials
//
// Errors are JSON {"error": "...", "code": "..."}: validation failures are
// 400, missing records 404, anything else 500 without detail.
//
// # Idempotency
//
// Mutating routes accept an Idempotency-Key header. The first response for a
// key is recorded and replayed, with Idempotent-Replayed: true, to retries
// within api.idempotency_ttl. A retry racing the original gets 409. Server
// errors are not recorded, so they can be retried.
//
// # SSE Streaming
//
// Stream events use the event kind as the SSE event name:
//
//	event: delta
//	data: {"requestId":"...","conversationId":"...","delta":"Hel"}
//
//	event: done
//	data: {"requestId":"...","conversationId":"...","messageId":"...","cancelled":false}
//
//	event: error
//	data: {"requestId":"...","conversationId":"...","error":"..."}
//
// POST /api/streams with Accept: text/event-stream streams the request's own
// events after a "started" event. Without it the reply is 202 and events are
// only visible on /api/conversations/{id}/events.
package gateway
