// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime control plane for the gate. Part of the hioload-gate core.
//
// Provides concurrent-safe introspection and mutation primitives:
//   - Snapshot config reads with ordered update listeners
//   - Debug hooks and probe registration with state export
//   - Prometheus export of permit pool statistics
//
// Nothing here is required to use a pool or dispatcher directly; the
// facade wires these pieces up for deployments that want them.
package control
