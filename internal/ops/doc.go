// ABOUTME: Package documentation for the operator console
// ABOUTME: Describes authentication, HTML pages, and the JSON API surface

/*
Package ops implements the operator console for grimoire-gateway.

The console is mounted under /ops and is entirely separate from the MCP
surface: it never reads tenant headers and its requests carry no ambient
identity. Every route requires a bearer token:

	Authorization: Bearer <token>

The token is verified against a bcrypt hash from configuration
(ops.token_hash); the plaintext token is never stored. Comparison uses a
dummy hash when no hash is configured so both rejection paths take the
same time.

HTML pages:

	GET /ops/          gateway overview (pack, tool, session counters)
	GET /ops/catalog   full tool catalog grouped by pack
	GET /ops/sessions  live session records from the session store

JSON API:

	GET    /ops/api/catalog        packs and tools
	GET    /ops/api/sessions       live session records
	DELETE /ops/api/sessions/{id}  force-close a session
	GET    /ops/api/audit          audit log query (org, env, session, action, since, until, limit)
	GET    /ops/api/usage          usage stats and recent calls (org, env, tool, since, until)

Session revocation goes through the connection manager so the live
connection, the store record, and the event stream are all released, and
the teardown is audited like any other close.
*/
package ops
