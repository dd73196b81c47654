package sysmon

import (
	"context"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/disk"
	"github.com/shirou/gopsutil/mem"
)

// Alert thresholds; crossings are logged, never fatal.
const (
	highCPUPercent    = 90.0
	highMemoryPercent = 90.0
)

// Sample is one point-in-time resource reading.
type Sample struct {
	Timestamp     time.Time
	CPUPercent    float64
	MemoryPercent float64
	DiskReadBps   float64
	DiskWriteBps  float64
}

// Sink receives samples, typically for database storage.
type Sink func(Sample)

// Monitor periodically samples system resource usage while transfers run.
type Monitor struct {
	interval time.Duration
	sink     Sink
	logger   *slog.Logger

	lastRead  uint64
	lastWrite uint64
	lastAt    time.Time
}

// New creates a Monitor sampling at the given interval.
func New(interval time.Duration, sink Sink, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Monitor{
		interval: interval,
		sink:     sink,
		logger:   logger.With("component", "sysmon"),
	}
}

// Run samples until the context is canceled. Intended to be launched in
// its own goroutine.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.prime()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s, ok := m.sample(); ok {
				if m.sink != nil {
					m.sink(s)
				}
				m.alert(s)
			}
		}
	}
}

// prime records the IO counter baseline so the first sample has a delta.
func (m *Monitor) prime() {
	if counters, err := disk.IOCounters(); err == nil {
		for _, c := range counters {
			m.lastRead += c.ReadBytes
			m.lastWrite += c.WriteBytes
		}
	}
	m.lastAt = time.Now()
}

func (m *Monitor) sample() (Sample, bool) {
	now := time.Now()
	s := Sample{Timestamp: now}

	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		s.CPUPercent = pcts[0]
	} else if err != nil {
		m.logger.Debug("cpu sample failed", "error", err)
		return Sample{}, false
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		s.MemoryPercent = vm.UsedPercent
	}

	if counters, err := disk.IOCounters(); err == nil {
		var read, write uint64
		for _, c := range counters {
			read += c.ReadBytes
			write += c.WriteBytes
		}
		if dt := now.Sub(m.lastAt).Seconds(); dt > 0 {
			s.DiskReadBps = float64(read-m.lastRead) / dt
			s.DiskWriteBps = float64(write-m.lastWrite) / dt
		}
		m.lastRead, m.lastWrite = read, write
	}
	m.lastAt = now

	return s, true
}

func (m *Monitor) alert(s Sample) {
	if s.CPUPercent > highCPUPercent {
		m.logger.Warn("high CPU usage during transfer", "cpu_percent", s.CPUPercent)
	}
	if s.MemoryPercent > highMemoryPercent {
		m.logger.Warn("high memory usage during transfer", "memory_percent", s.MemoryPercent)
	}
}
