// ABOUTME: Package documentation for the HTTP and WebSocket server
// ABOUTME: Describes the endpoint surface and component wiring

// Package server assembles the orchestrator and exposes it over HTTP.
//
// # Endpoints
//
//	GET  /health                                     liveness
//	GET  /health/ready                               store + stage + generator probes
//	GET  /ws?conversation_id=...                     websocket upgrade, one session per socket
//	POST /api/conversations                          create
//	GET  /api/conversations                          list for the authenticated user
//	GET  /api/conversations/{id}                     fetch one
//	GET  /api/conversations/{id}/messages            history in sequence order
//	GET  /api/conversations/{id}/packets/{messageID} retained analysis packet
//	GET  /api/conversations/{id}/summary             current memory summary
//
// When auth.jwt_secret is configured, the socket and API endpoints
// require a bearer token (header or ?token= for websocket clients) and
// conversation reads are limited to participants; non-participants get
// 404. Without a secret the server runs open, for development.
//
// The server can listen on plain TCP or join a tailnet via tsnet,
// optionally with TLS or a public Funnel.
package server
