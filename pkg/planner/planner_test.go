package planner

import (
	"log/slog"
	"testing"

	"github.com/elee1766/gorebal/pkg/array"
	"github.com/elee1766/gorebal/pkg/config"
)

const (
	gib     = int64(1) << 30
	reserve = 1 * gib
)

func testLogger() *slog.Logger {
	return slog.Default()
}

func disk(name string, size, used int64) *array.Disk {
	return &array.Disk{
		Name:      name,
		Path:      "/mnt/" + name,
		SizeBytes: size,
		UsedBytes: used,
		FreeBytes: size - used,
	}
}

func unit(disk, share, rel string, size int64) *array.Unit {
	return &array.Unit{Share: share, RelPath: rel, SizeBytes: size, SrcDisk: disk}
}

func sizeOpts(target float64) Options {
	return Options{TargetPercent: target, HeadroomPercent: 5, Strategy: config.StrategySize, Profile: "fast"}
}

func TestAlreadyBalanced(t *testing.T) {
	disks := []*array.Disk{
		disk("disk1", 1000*gib, 500*gib),
		disk("disk2", 1000*gib, 500*gib),
	}

	p := New(reserve, testLogger())
	plan, err := p.Build(disks, nil, sizeOpts(80))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if len(plan.Moves) != 0 {
		t.Errorf("expected empty plan, got %d moves", len(plan.Moves))
	}
	if !plan.Diagnostics.Balanced {
		t.Error("expected balanced diagnostic")
	}
}

func TestSimpleShed(t *testing.T) {
	disks := []*array.Disk{
		disk("diskA", 1000*gib, 900*gib),
		disk("diskB", 1000*gib, 100*gib),
	}
	units := []*array.Unit{
		unit("diskA", "Movies", "u1", 300*gib),
		unit("diskA", "Movies", "u2", 200*gib),
		unit("diskA", "Movies", "u3", 50*gib),
	}

	p := New(reserve, testLogger())
	plan, err := p.Build(disks, units, sizeOpts(80))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if len(plan.Moves) != 2 {
		t.Fatalf("expected 2 moves, got %d", len(plan.Moves))
	}
	if plan.Moves[0].RelPath != "u1" || plan.Moves[0].DestDisk != "diskB" {
		t.Errorf("first move should be u1 -> diskB, got %s -> %s", plan.Moves[0].RelPath, plan.Moves[0].DestDisk)
	}
	if plan.Moves[1].RelPath != "u2" || plan.Moves[1].DestDisk != "diskB" {
		t.Errorf("second move should be u2 -> diskB, got %s -> %s", plan.Moves[1].RelPath, plan.Moves[1].DestDisk)
	}
	if plan.Diagnostics.Balanced {
		t.Error("plan should not report balanced")
	}
	checkCaps(t, disks, plan, 80)
}

func TestNoFitSpill(t *testing.T) {
	disks := []*array.Disk{
		disk("diskA", 100*gib, 95*gib),
		disk("diskB", 100*gib, 90*gib),
		disk("diskC", 100*gib, 90*gib),
	}
	units := []*array.Unit{
		unit("diskA", "Backups", "big", 90*gib),
	}

	p := New(reserve, testLogger())
	plan, err := p.Build(disks, units, sizeOpts(80))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if len(plan.Moves) != 0 {
		t.Errorf("expected empty plan, got %d moves", len(plan.Moves))
	}
	if _, ok := plan.Diagnostics.UnderServed["diskA"]; !ok {
		t.Error("expected diskA to be reported under-served")
	}
}

func TestPrioritizeLowSpace(t *testing.T) {
	disks := []*array.Disk{
		disk("diskA", 1000*gib, 820*gib),
		disk("diskB", 1000*gib, 500*gib),
		disk("diskC", 1000*gib, 950*gib),
	}
	units := []*array.Unit{
		unit("diskA", "Movies", "a1", 30*gib),
		unit("diskC", "Movies", "c1", 100*gib),
		unit("diskC", "Movies", "c2", 100*gib),
	}

	opts := Options{TargetPercent: 80, HeadroomPercent: 5, Strategy: config.StrategyLowSpaceFirst, Profile: "fast"}
	p := New(reserve, testLogger())
	plan, err := p.Build(disks, units, opts)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if len(plan.Moves) == 0 {
		t.Fatal("expected moves")
	}
	if plan.Moves[0].SrcDisk != "diskC" {
		t.Errorf("low_space_first must shed from diskC first, got %s", plan.Moves[0].SrcDisk)
	}
}

func TestAutoTarget(t *testing.T) {
	disks := []*array.Disk{
		disk("disk1", 1000*gib, 900*gib),
		disk("disk2", 1000*gib, 100*gib),
	}
	units := []*array.Unit{
		unit("disk1", "Media", "m1", 200*gib),
		unit("disk1", "Media", "m2", 150*gib),
	}

	p := New(reserve, testLogger())
	plan, err := p.Build(disks, units, sizeOpts(-1))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(plan.Moves) == 0 {
		t.Fatal("expected auto-even to produce moves")
	}
	// Ideal fill is 50%; caps include 5% headroom.
	checkCaps(t, disks, plan, 55)
}

func TestPlanInvariants(t *testing.T) {
	disks := []*array.Disk{
		disk("disk1", 2000*gib, 1900*gib),
		disk("disk2", 1000*gib, 850*gib),
		disk("disk3", 3000*gib, 500*gib),
		disk("disk4", 1000*gib, 200*gib),
	}
	units := []*array.Unit{
		unit("disk1", "Movies", "a", 400*gib),
		unit("disk1", "Movies", "b", 300*gib),
		unit("disk1", "TV", "c", 200*gib),
		unit("disk1", "TV", "d", 150*gib),
		unit("disk2", "Movies", "e", 120*gib),
		unit("disk2", "Backups", "f", 90*gib),
		unit("disk3", "Movies", "g", 100*gib),
	}

	p := New(reserve, testLogger())
	plan, err := p.Build(disks, units, sizeOpts(80))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	emitted := make(map[string]bool)
	for _, u := range units {
		emitted[u.SrcDisk+":"+u.ID()] = true
	}
	moved := make(map[string]bool)
	for _, m := range plan.Moves {
		if m.SrcDisk == m.DestDisk {
			t.Errorf("move %s has identical source and destination %s", m.RelPath, m.SrcDisk)
		}
		key := m.SrcDisk + ":" + m.Unit().ID()
		if !emitted[key] {
			t.Errorf("move references unknown unit %s", key)
		}
		if moved[key] {
			t.Errorf("unit %s moved twice", key)
		}
		moved[key] = true
	}
	checkCaps(t, disks, plan, 80)
}

func TestReproduciblePlans(t *testing.T) {
	disks := []*array.Disk{
		disk("disk1", 1000*gib, 950*gib),
		disk("disk2", 1000*gib, 100*gib),
		disk("disk3", 1000*gib, 100*gib),
	}
	units := []*array.Unit{
		unit("disk1", "Movies", "x", 100*gib),
		unit("disk1", "Movies", "y", 100*gib),
		unit("disk1", "Movies", "z", 100*gib),
	}

	p := New(reserve, testLogger())
	first, err := p.Build(disks, units, sizeOpts(80))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := p.Build(disks, units, sizeOpts(80))
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		if len(again.Moves) != len(first.Moves) {
			t.Fatalf("move count changed between runs: %d vs %d", len(again.Moves), len(first.Moves))
		}
		for j := range first.Moves {
			if *first.Moves[j] != *again.Moves[j] {
				t.Fatalf("move %d differs between runs: %+v vs %+v", j, first.Moves[j], again.Moves[j])
			}
		}
	}
	// Equal-size units must come out in identity order.
	if first.Moves[0].RelPath != "x" {
		t.Errorf("expected unit x first, got %s", first.Moves[0].RelPath)
	}
}

func TestUnknownStrategy(t *testing.T) {
	disks := []*array.Disk{disk("disk1", 1000*gib, 900*gib)}
	p := New(reserve, testLogger())
	_, err := p.Build(disks, nil, Options{TargetPercent: 80, Strategy: "weird"})
	if err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

// checkCaps verifies the §8 invariant: replaying the plan against the
// snapshot leaves every disk at or below its cap.
func checkCaps(t *testing.T, disks []*array.Disk, plan *Plan, targetPercent float64) {
	t.Helper()
	used := make(map[string]int64)
	size := make(map[string]int64)
	for _, d := range disks {
		used[d.Name] = d.UsedBytes
		size[d.Name] = d.SizeBytes
	}
	for _, m := range plan.Moves {
		used[m.SrcDisk] -= m.SizeBytes
		used[m.DestDisk] += m.SizeBytes
	}
	for name, u := range used {
		cap := int64(float64(size[name]) * targetPercent / 100)
		if u > cap {
			t.Errorf("disk %s ends at %d bytes, above cap %d", name, u, cap)
		}
		if u < 0 {
			t.Errorf("disk %s ends below zero", name)
		}
	}
}
