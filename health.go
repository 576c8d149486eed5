package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// selfStats are this process's own resource figures for /api/health.
// A figure that could not be read is left out rather than reported as 0.
type selfStats struct {
	PID      int32    `json:"pid"`
	CPU      *float64 `json:"cpu,omitempty"`
	MemoryMB *float64 `json:"memory_mb,omitempty"`
	Threads  *int32   `json:"threads,omitempty"`
}

// readSelfStats returns whatever figures it could read, plus the joined
// errors of those it could not.
func readSelfStats() (selfStats, error) {
	pid := int32(os.Getpid())
	st := selfStats{PID: pid}
	p, err := process.NewProcess(pid)
	if err != nil {
		return st, err
	}

	var errs []error
	if cpu, err := p.CPUPercent(); err != nil {
		errs = append(errs, fmt.Errorf("cpu: %w", err))
	} else {
		st.CPU = &cpu
	}
	if mem, err := p.MemoryInfo(); err != nil {
		errs = append(errs, fmt.Errorf("memory: %w", err))
	} else if mem != nil {
		mb := float64(mem.RSS) / 1024 / 1024
		st.MemoryMB = &mb
	}
	if n, err := p.NumThreads(); err != nil {
		errs = append(errs, fmt.Errorf("threads: %w", err))
	} else {
		st.Threads = &n
	}
	return st, errors.Join(errs...)
}
