package planner

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/elee1766/gorebal/pkg/array"
	"github.com/elee1766/gorebal/pkg/config"
)

// PlanningError wraps a fatal planning failure, e.g. contradictory options.
type PlanningError struct {
	Err error
}

func (e *PlanningError) Error() string { return fmt.Sprintf("planning failed: %v", e.Err) }
func (e *PlanningError) Unwrap() error { return e.Err }

// Move relocates one allocation unit between two disks. SizeBytes is a copy
// of the unit size at plan time.
type Move struct {
	Share     string `json:"share"`
	RelPath   string `json:"rel_path"`
	SrcDisk   string `json:"src_disk"`
	DestDisk  string `json:"dest_disk"`
	SizeBytes int64  `json:"size"`
}

// Unit reconstructs the allocation unit the move refers to.
func (m *Move) Unit() *array.Unit {
	return &array.Unit{Share: m.Share, RelPath: m.RelPath, SizeBytes: m.SizeBytes, SrcDisk: m.SrcDisk}
}

// Options is the snapshot of planning knobs recorded in a plan.
type Options struct {
	TargetPercent   float64         `json:"target_percent"`
	HeadroomPercent float64         `json:"headroom_percent"`
	Strategy        config.Strategy `json:"strategy"`
	Profile         string          `json:"profile"`
}

// Diagnostics describe why a plan is empty or partial.
type Diagnostics struct {
	// Balanced is set when no disk exceeded its cap.
	Balanced bool `json:"balanced,omitempty"`
	// UnderServed maps a source disk to the bytes it still exceeds its cap
	// by after all placeable units were assigned.
	UnderServed map[string]int64 `json:"under_served,omitempty"`
	// NoFit lists unit identities that no destination could hold.
	NoFit []string `json:"no_fit,omitempty"`
}

// Planner computes a capacity-constrained redistribution plan.
type Planner struct {
	reserve int64
	logger  *slog.Logger
}

// New creates a Planner with the given per-destination reserve.
func New(reserve int64, logger *slog.Logger) *Planner {
	return &Planner{reserve: reserve, logger: logger.With("component", "planner")}
}

// diskState carries the in-memory accounting for one disk during placement.
type diskState struct {
	disk *array.Disk
	used int64
	cap  int64
	// shedTo is the fill level a source tries to reach. Sources are
	// classified against cap but shed toward the uniform ideal so low
	// disks are raised, never past what destinations can accept.
	shedTo int64
}

func (s *diskState) free() int64 { return s.disk.SizeBytes - s.used }

// accept returns how many more bytes the disk can take as a destination.
func (s *diskState) accept(reserve int64) int64 {
	return s.cap - s.used - reserve
}

// Build computes the move list that brings every disk at or below its cap.
// The plan is feasible by construction: destination capacity is reserved as
// moves are appended, so replaying against the same snapshot cannot exceed
// any cap.
func (p *Planner) Build(disks []*array.Disk, units []*array.Unit, opts Options) (*Plan, error) {
	if len(disks) == 0 {
		return nil, &PlanningError{Err: errors.New("no disks to plan over")}
	}

	var totalSize, totalUsed int64
	for _, d := range disks {
		totalSize += d.SizeBytes
		totalUsed += d.UsedBytes
	}
	ideal := float64(totalUsed) / float64(totalSize)

	states := make(map[string]*diskState, len(disks))
	for _, d := range disks {
		st := &diskState{disk: d, used: d.UsedBytes}
		if opts.TargetPercent >= 0 {
			st.cap = int64(float64(d.SizeBytes) * opts.TargetPercent / 100)
		} else {
			c := int64(float64(d.SizeBytes) * (ideal + opts.HeadroomPercent/100))
			st.cap = clamp(c, 0, d.SizeBytes-p.reserve)
		}
		st.shedTo = min64(st.cap, int64(ideal*float64(d.SizeBytes)))
		states[d.Name] = st
	}

	var sources []*diskState
	for _, d := range disks {
		st := states[d.Name]
		if st.used > st.cap {
			sources = append(sources, st)
		}
	}

	plan := NewPlan(disks, opts)
	if len(sources) == 0 {
		plan.Diagnostics.Balanced = true
		p.logger.Info("array already balanced")
		return plan, nil
	}

	switch opts.Strategy {
	case config.StrategyLowSpaceFirst:
		sort.Slice(sources, func(i, j int) bool {
			a, b := sources[i], sources[j]
			if a.free() != b.free() {
				return a.free() < b.free()
			}
			return a.disk.Name < b.disk.Name
		})
	case config.StrategySize, "":
		sort.Slice(sources, func(i, j int) bool {
			return sources[i].disk.Name < sources[j].disk.Name
		})
	default:
		return nil, &PlanningError{Err: fmt.Errorf("unknown strategy %q", opts.Strategy)}
	}

	unitsByDisk := make(map[string][]*array.Unit)
	for _, u := range units {
		unitsByDisk[u.SrcDisk] = append(unitsByDisk[u.SrcDisk], u)
	}

	for _, src := range sources {
		cand := append([]*array.Unit(nil), unitsByDisk[src.disk.Name]...)
		// Largest first; equal sizes ordered by identity for reproducibility.
		sort.Slice(cand, func(i, j int) bool {
			if cand[i].SizeBytes != cand[j].SizeBytes {
				return cand[i].SizeBytes > cand[j].SizeBytes
			}
			if cand[i].Share != cand[j].Share {
				return cand[i].Share < cand[j].Share
			}
			return cand[i].RelPath < cand[j].RelPath
		})

		for _, u := range cand {
			if src.used <= src.shedTo {
				break
			}
			dst := p.place(states, src, u)
			if dst == nil {
				p.logger.Info("no destination fits unit", "unit", u.ID(), "size", u.SizeBytes)
				plan.Diagnostics.NoFit = append(plan.Diagnostics.NoFit, u.ID())
				continue
			}
			plan.Moves = append(plan.Moves, &Move{
				Share:     u.Share,
				RelPath:   u.RelPath,
				SrcDisk:   u.SrcDisk,
				DestDisk:  dst.disk.Name,
				SizeBytes: u.SizeBytes,
			})
			src.used -= u.SizeBytes
			dst.used += u.SizeBytes
		}

		if src.used > src.cap {
			if plan.Diagnostics.UnderServed == nil {
				plan.Diagnostics.UnderServed = make(map[string]int64)
			}
			plan.Diagnostics.UnderServed[src.disk.Name] = src.used - src.cap
			p.logger.Warn("source remains over cap",
				"disk", src.disk.Name, "excess", src.used-src.cap)
		}
	}

	return plan, nil
}

// place scans destinations in descending remaining-capacity order and
// returns the first that can hold the unit, or nil.
func (p *Planner) place(states map[string]*diskState, src *diskState, u *array.Unit) *diskState {
	var dests []*diskState
	for _, st := range states {
		if st == src {
			continue
		}
		if st.used < st.cap-p.reserve {
			dests = append(dests, st)
		}
	}
	sort.Slice(dests, func(i, j int) bool {
		a, b := dests[i], dests[j]
		if a.accept(p.reserve) != b.accept(p.reserve) {
			return a.accept(p.reserve) > b.accept(p.reserve)
		}
		return a.disk.Name < b.disk.Name
	})
	for _, d := range dests {
		if u.SizeBytes <= d.accept(p.reserve) {
			return d
		}
	}
	return nil
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
