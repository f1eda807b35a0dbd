// Package protocol owns the DCC++ wire contract shared by every peer.
//
// Ownership boundary:
// - packet model and typed variants (packet)
// - `<T P1 P2>` framing primitives (frame)
// - type-char registry resolving raw packets into variants (schema)
package protocol
