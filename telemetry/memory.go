// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package telemetry

import (
	"log/slog"
	"runtime"
	"runtime/debug"
)

const bytesPerMB = 1024 * 1024

// MemoryStats is a snapshot of the Go runtime's memory accounting.
type MemoryStats struct {
	// HeapInUseMB is memory held by live and not-yet-swept heap spans.
	HeapInUseMB float64
	// ResidentMB approximates the process footprint: memory obtained from the
	// OS minus heap pages already returned to it.
	ResidentMB float64
	// NumGC is the number of completed collection cycles.
	NumGC uint32
}

// ReadMemory samples the runtime memory statistics.
func ReadMemory() MemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemoryStats{
		HeapInUseMB: float64(m.HeapInuse) / bytesPerMB,
		ResidentMB:  float64(m.Sys-m.HeapReleased) / bytesPerMB,
		NumGC:       m.NumGC,
	}
}

// Reclaim forces a collection and returns freed memory to the OS.
// Call it between batches after dropping references to per-document data.
func Reclaim() {
	debug.FreeOSMemory()
}

// LogMemory emits one structured memory telemetry line.
func LogMemory(logger *slog.Logger, msg string, args ...any) {
	stats := ReadMemory()
	args = append(args,
		"heap_mb", roundMB(stats.HeapInUseMB),
		"resident_mb", roundMB(stats.ResidentMB),
		"gc_cycles", stats.NumGC,
	)
	logger.Info(msg, args...)
}

func roundMB(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}
