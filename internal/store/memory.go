package store

import (
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/arclabs561/decksage-sub002/internal/logger"
)

// logChunk reports progress through a chunked load or save together with
// host memory pressure.
func logChunk(msg string, rows int, args ...any) {
	args = append(args, "rows", rows)
	if vm, err := mem.VirtualMemory(); err == nil {
		args = append(args, "mem_used_pct", int(vm.UsedPercent), "mem_available_mb", vm.Available/1024/1024)
	}
	logger.Debug(msg, args...)
}
