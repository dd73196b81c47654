package planner

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/elee1766/gorebal/pkg/array"
	"github.com/elee1766/gorebal/pkg/config"
)

func samplePlan() *Plan {
	disks := []*array.Disk{
		disk("disk1", 1000*gib, 900*gib),
		disk("disk2", 1000*gib, 100*gib),
	}
	p := NewPlan(disks, Options{
		TargetPercent:   80,
		HeadroomPercent: 5,
		Strategy:        config.StrategySize,
		Profile:         "balanced",
	})
	p.Moves = []*Move{
		{Share: "Movies", RelPath: "Alien (1979)", SrcDisk: "disk1", DestDisk: "disk2", SizeBytes: 300 * gib},
		{Share: "TV", RelPath: "Archive/Season 1", SrcDisk: "disk1", DestDisk: "disk2", SizeBytes: 200 * gib},
	}
	return p
}

func TestRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "plan.json")

	orig := samplePlan()
	if err := orig.Save(path); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if loaded.SchemaVersion != orig.SchemaVersion {
		t.Errorf("schema version mismatch: got %d, want %d", loaded.SchemaVersion, orig.SchemaVersion)
	}
	if !loaded.CreatedAt.Equal(orig.CreatedAt) {
		t.Errorf("created_at mismatch: got %v, want %v", loaded.CreatedAt, orig.CreatedAt)
	}
	if len(loaded.Disks) != len(orig.Disks) {
		t.Fatalf("disk count mismatch: got %d, want %d", len(loaded.Disks), len(orig.Disks))
	}
	for i := range orig.Disks {
		if loaded.Disks[i] != orig.Disks[i] {
			t.Errorf("disk %d mismatch: got %+v, want %+v", i, loaded.Disks[i], orig.Disks[i])
		}
	}
	if len(loaded.Moves) != len(orig.Moves) {
		t.Fatalf("move count mismatch: got %d, want %d", len(loaded.Moves), len(orig.Moves))
	}
	for i := range orig.Moves {
		if *loaded.Moves[i] != *orig.Moves[i] {
			t.Errorf("move %d mismatch: got %+v, want %+v", i, loaded.Moves[i], orig.Moves[i])
		}
	}
	if loaded.Options != orig.Options {
		t.Errorf("options mismatch: got %+v, want %+v", loaded.Options, orig.Options)
	}
}

func TestUnknownFieldsPreserved(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "plan.json")

	orig := samplePlan()
	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	// Simulate a newer writer that added fields we do not know about.
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	m["future_field"] = json.RawMessage(`{"nested": [1, 2, 3]}`)
	m["annotation"] = json.RawMessage(`"keep me"`)
	data, err = json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	out, err := json.Marshal(loaded)
	if err != nil {
		t.Fatalf("re-marshal failed: %v", err)
	}

	var roundTripped map[string]json.RawMessage
	if err := json.Unmarshal(out, &roundTripped); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if string(roundTripped["future_field"]) != `{"nested":[1,2,3]}` &&
		string(roundTripped["future_field"]) != `{"nested": [1, 2, 3]}` {
		t.Errorf("future_field not preserved: %s", roundTripped["future_field"])
	}
	if string(roundTripped["annotation"]) != `"keep me"` {
		t.Errorf("annotation not preserved: %s", roundTripped["annotation"])
	}
	if len(loaded.Moves) != 2 {
		t.Errorf("moves lost during round-trip: %d", len(loaded.Moves))
	}
}

func TestLoadRejectsNewerSchema(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "plan.json")

	content := `{"schema_version": 999, "created_at": "2025-01-01T00:00:00Z", "disks": [], "moves": [], "options": {}}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for newer schema version")
	}
}
