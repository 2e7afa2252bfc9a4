// Package permit
// Author: momentics <momentics@gmail.com>
//
// Dynamic-capacity permit gating for hioload-gate.
// Implements the resizable counting pool at the heart of the library: permits
// bound how many callers proceed concurrently, capacity can be raised or
// lowered at runtime without evicting holders or losing permits, and scoped
// guards bind release to a handle for exception-safe regions.
// See pool.go for the resize algorithm and guard.go for scoped acquisition.
package permit
