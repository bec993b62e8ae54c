// ABOUTME: Package documentation for the gateway orchestrator
// ABOUTME: Describes component wiring, listeners, and shutdown ordering

/*
Package gateway wires the grimoire-gateway components together and runs
them behind a single HTTP listener.

Startup order matters: the session store and audit database open first,
then the tool catalog is built once from the built-in packs plus any
webhook packs declared in the packs file, and finally the MCP server and
operator console mount onto the shared mux. The catalog is immutable
after Build, so everything downstream reads it without locks.

The listener is either plain TCP (server.http_addr) or a Tailscale tsnet
node (tailscale.enabled), optionally with a public funnel or
operator-provided TLS certs. All surfaces share the one listener:

	/mcp           MCP Streamable HTTP (POST, GET/SSE, DELETE)
	/health        liveness probe
	/health/ready  readiness probe (session store reachability)
	/ops/...       operator console, when ops.enabled

Shutdown drains HTTP first, then tears down every live connection so
each session record and event stream is released before the stores
close.
*/
package gateway
