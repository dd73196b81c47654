package planner

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/elee1766/gorebal/pkg/array"
)

// SchemaVersion is the current plan file schema. Readers accept any version
// at or below it.
const SchemaVersion = 2

// DiskSnapshot records a disk's state at plan time.
type DiskSnapshot struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Used int64  `json:"used"`
}

// Plan is an ordered sequence of moves plus the disk snapshot it was
// computed against. Unknown fields found in a plan file are retained and
// written back on re-serialize.
type Plan struct {
	SchemaVersion int            `json:"schema_version"`
	CreatedAt     time.Time      `json:"created_at"`
	Disks         []DiskSnapshot `json:"disks"`
	Moves         []*Move        `json:"moves"`
	Options       Options        `json:"options"`
	Diagnostics   Diagnostics    `json:"diagnostics,omitempty"`

	extra map[string]json.RawMessage
}

// NewPlan creates an empty plan over a disk snapshot.
func NewPlan(disks []*array.Disk, opts Options) *Plan {
	p := &Plan{
		SchemaVersion: SchemaVersion,
		CreatedAt:     time.Now().UTC(),
		Options:       opts,
	}
	for _, d := range disks {
		p.Disks = append(p.Disks, DiskSnapshot{Name: d.Name, Size: d.SizeBytes, Used: d.UsedBytes})
	}
	return p
}

// TotalBytes returns the byte volume of all planned moves.
func (p *Plan) TotalBytes() int64 {
	var total int64
	for _, m := range p.Moves {
		total += m.SizeBytes
	}
	return total
}

var knownPlanKeys = map[string]bool{
	"schema_version": true,
	"created_at":     true,
	"disks":          true,
	"moves":          true,
	"options":        true,
	"diagnostics":    true,
}

// MarshalJSON writes the stable plan form, appending any unknown fields
// carried over from a loaded file.
func (p *Plan) MarshalJSON() ([]byte, error) {
	type alias Plan
	base, err := json.Marshal((*alias)(p))
	if err != nil {
		return nil, err
	}
	if len(p.extra) == 0 {
		return base, nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(base, &m); err != nil {
		return nil, err
	}
	for k, v := range p.extra {
		if !knownPlanKeys[k] {
			m[k] = v
		}
	}
	return json.Marshal(m)
}

// UnmarshalJSON reads the stable plan form, keeping unknown fields aside
// for forward compatibility.
func (p *Plan) UnmarshalJSON(data []byte) error {
	type alias Plan
	if err := json.Unmarshal(data, (*alias)(p)); err != nil {
		return err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	for k := range m {
		if knownPlanKeys[k] {
			delete(m, k)
		}
	}
	if len(m) > 0 {
		p.extra = m
	}
	return nil
}

// Save writes the plan to path as indented JSON.
func (p *Plan) Save(path string) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write plan: %w", err)
	}
	return nil
}

// Load reads a plan file written by Save.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	p := &Plan{}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	if p.SchemaVersion > SchemaVersion {
		return nil, fmt.Errorf("plan schema version %d is newer than supported %d", p.SchemaVersion, SchemaVersion)
	}
	return p, nil
}
