// Package builtins provides the gateway's built-in tool packs.
//
// Three packs ship with the gateway:
//
//   - core: unscoped liveness and server info tools, visible to every
//     admitted connection regardless of its scope declaration
//   - diag: identity inspection tools, owned by the "diagnostics" scope
//   - admin: session listing and revocation, owned by the "admin" scope
//
// Handlers never accept tenant parameters; they read the calling
// connection's identity ambiently via tenant.FromContext. A handler that
// needs identity and finds none fails with tenant.ErrNoIdentity rather
// than proceeding with defaults.
package builtins
