package logger

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// StartRuntimeReport periodically logs process/host resource usage at
// info level under the "runtime_report" component. extra is invoked on
// the same tick, after logging, so callers can hang additional
// periodic work (e.g. metrics export) off the same ticker rather than
// running their own.
func StartRuntimeReport(ctx context.Context, log *Log, interval time.Duration, extra ...func()) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logRuntimeReport(log)
				for _, fn := range extra {
					fn()
				}
			}
		}
	}()
}

func logRuntimeReport(log *Log) {
	entry := log.WithComponent("runtime_report")

	cpuPercent, err := cpu.Percent(0, false)
	pct := 0.0
	if err == nil && len(cpuPercent) > 0 {
		pct = cpuPercent[0]
	}

	memUsedMB := int64(0)
	if vm, err := mem.VirtualMemory(); err == nil {
		memUsedMB = int64(vm.Used) / 1024 / 1024
	}

	entry.WithFields(Fields{
		"goroutines": runtime.NumGoroutine(),
		"cpu_percent": pct,
		"memory_mb":   memUsedMB,
	}).Info("runtime report")
}
