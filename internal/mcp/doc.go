// Package mcp implements the Streamable HTTP transport for the gateway's
// tool catalog.
//
// # Protocol
//
// The server speaks JSON-RPC 2.0 over a single /mcp endpoint:
//
//   - POST /mcp - JSON-RPC requests and notifications (initialize,
//     tools/list, tools/call, notifications/initialized)
//   - GET /mcp - per-connection SSE event stream
//   - DELETE /mcp - explicit connection teardown
//
// # Admission
//
// Every connection opens with an initialize request carrying tenant
// headers:
//
//	Organization-Id: acme
//	Environment-Id: production
//	Suborganization-Id: widgets      (optional)
//	Tool-Scopes: ["diagnostics"]     (optional)
//
// Admission validates the headers, parses the scope declaration, persists
// a session record, and returns the connection's id in the Mcp-Session-Id
// response header. Subsequent requests present that header; the server
// resolves the connection from its live table and installs the tenant
// identity into the request context, so tool handlers read identity
// ambiently rather than from parameters.
//
// # Tool visibility
//
// tools/list returns only the catalog subset matching the connection's
// declared scopes. tools/call refuses, with a machine-readable error kind,
// any tool outside that subset.
//
// # Components
//
//   - Server: the HTTP handler
//   - Manager: live connection table and state machine
//   - Broadcaster: per-session notification fan-out for the SSE stream
package mcp
