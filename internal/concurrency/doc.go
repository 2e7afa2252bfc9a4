// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Concurrency primitives backing the gate's detached execution lane.
// The executor keeps a small set of resident workers for the common case
// and spawns ad-hoc goroutines under burst, so the permit pool remains
// the only concurrency bound in the system.
package concurrency
