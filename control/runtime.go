// control/runtime.go
// Author: momentics <momentics@gmail.com>
//
// Process-level debug probes. Goroutine counts matter when diagnosing
// acquirers stuck in line.

package control

import "runtime"

// RegisterRuntimeProbes adds standard process probes to a registry.
func RegisterRuntimeProbes(dp *DebugProbes) {
	dp.RegisterProbe("runtime.cpus", func() any {
		return runtime.NumCPU()
	})
	dp.RegisterProbe("runtime.gomaxprocs", func() any {
		return runtime.GOMAXPROCS(0)
	})
	dp.RegisterProbe("runtime.goroutines", func() any {
		return runtime.NumGoroutine()
	})
}
