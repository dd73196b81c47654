package gate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
)

// Gate is a pre-condition checked before the transfer engine is invoked.
// Gates only decide whether a run may proceed; they never reach into the
// engine.
type Gate interface {
	Name() string
	// Check returns ok=false with a human-readable reason when the run
	// should not proceed.
	Check(ctx context.Context) (ok bool, reason string, err error)
}

// CheckAll evaluates gates in order and returns the first refusal.
func CheckAll(ctx context.Context, logger *slog.Logger, gates ...Gate) (bool, string, error) {
	for _, g := range gates {
		ok, reason, err := g.Check(ctx)
		if err != nil {
			return false, "", fmt.Errorf("gate %s: %w", g.Name(), err)
		}
		if !ok {
			logger.Info("gate refused run", "gate", g.Name(), "reason", reason)
			return false, reason, nil
		}
	}
	return true, "", nil
}

// ResourceGate refuses to start while the system is under load.
type ResourceGate struct {
	MaxCPUPercent    float64
	MaxMemoryPercent float64
}

func (g *ResourceGate) Name() string { return "resource" }

func (g *ResourceGate) Check(_ context.Context) (bool, string, error) {
	if g.MaxCPUPercent > 0 {
		pcts, err := cpu.Percent(time.Second, false)
		if err != nil {
			return false, "", err
		}
		if len(pcts) > 0 && pcts[0] > g.MaxCPUPercent {
			return false, fmt.Sprintf("CPU at %.1f%%, above limit %.1f%%", pcts[0], g.MaxCPUPercent), nil
		}
	}
	if g.MaxMemoryPercent > 0 {
		vm, err := mem.VirtualMemory()
		if err != nil {
			return false, "", err
		}
		if vm.UsedPercent > g.MaxMemoryPercent {
			return false, fmt.Sprintf("memory at %.1f%%, above limit %.1f%%", vm.UsedPercent, g.MaxMemoryPercent), nil
		}
	}
	return true, "", nil
}

// WindowGate only allows runs inside a daily maintenance window. A window
// may wrap midnight (e.g. 22:00-06:00). Start == End disables the gate.
type WindowGate struct {
	StartHour int
	EndHour   int
	Now       func() time.Time // overridable for tests; nil means time.Now
}

func (g *WindowGate) Name() string { return "window" }

func (g *WindowGate) Check(_ context.Context) (bool, string, error) {
	if g.StartHour == g.EndHour {
		return true, "", nil
	}
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	h := now().Hour()

	inside := false
	if g.StartHour < g.EndHour {
		inside = h >= g.StartHour && h < g.EndHour
	} else {
		inside = h >= g.StartHour || h < g.EndHour
	}
	if !inside {
		return false, fmt.Sprintf("outside maintenance window %02d:00-%02d:00", g.StartHour, g.EndHour), nil
	}
	return true, "", nil
}
