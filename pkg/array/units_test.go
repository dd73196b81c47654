package array

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

// writeFile creates a file of the given size under dir, creating parents.
func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, make([]byte, size), 0644); err != nil {
		t.Fatal(err)
	}
}

// testArray lays out two disks with a couple of shares:
//
//	disk1/Movies/Alien/{a.mkv 1000, b.srt 10}
//	disk1/Movies/Blade/{c.mkv 500}
//	disk1/appdata/db/{d.bin 2000}
//	disk2/Movies/Coma/{e.mkv 300}
//	disk2/TV/Archive/Show/{f.mkv 700}
func testArray(t *testing.T) (string, []*Disk) {
	t.Helper()
	prefix := t.TempDir()

	writeFile(t, filepath.Join(prefix, "disk1/Movies/Alien/a.mkv"), 1000)
	writeFile(t, filepath.Join(prefix, "disk1/Movies/Alien/b.srt"), 10)
	writeFile(t, filepath.Join(prefix, "disk1/Movies/Blade/c.mkv"), 500)
	writeFile(t, filepath.Join(prefix, "disk1/appdata/db/d.bin"), 2000)
	writeFile(t, filepath.Join(prefix, "disk2/Movies/Coma/e.mkv"), 300)
	writeFile(t, filepath.Join(prefix, "disk2/TV/Archive/Show/f.mkv"), 700)

	disks := []*Disk{
		{Name: "disk1", Path: filepath.Join(prefix, "disk1")},
		{Name: "disk2", Path: filepath.Join(prefix, "disk2")},
	}
	return prefix, disks
}

func buildUnits(t *testing.T, disks []*Disk, opts BuilderOptions) []*Unit {
	t.Helper()
	b := NewBuilder("", opts, slog.Default())
	units, err := b.Build(disks)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return units
}

func unitIDs(units []*Unit) []string {
	var ids []string
	for _, u := range units {
		ids = append(ids, u.SrcDisk+":"+u.ID())
	}
	return ids
}

func TestBuildDepthOne(t *testing.T) {
	_, disks := testArray(t)

	units := buildUnits(t, disks, BuilderOptions{UnitDepth: 1})

	want := []string{
		"disk1:Movies/Alien",
		"disk1:Movies/Blade",
		"disk1:appdata/db",
		"disk2:Movies/Coma",
		"disk2:TV/Archive",
	}
	got := unitIDs(units)
	if len(got) != len(want) {
		t.Fatalf("unit list mismatch:\n got %v\nwant %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("unit %d = %s, want %s", i, got[i], want[i])
		}
	}

	sizes := map[string]int64{}
	for _, u := range units {
		sizes[u.SrcDisk+":"+u.ID()] = u.SizeBytes
	}
	if sizes["disk1:Movies/Alien"] != 1010 {
		t.Errorf("Alien size = %d, want 1010", sizes["disk1:Movies/Alien"])
	}
	if sizes["disk2:TV/Archive"] != 700 {
		t.Errorf("Archive size = %d, want 700", sizes["disk2:TV/Archive"])
	}
}

func TestBuildDepthZeroTreatsShareAsUnit(t *testing.T) {
	_, disks := testArray(t)

	units := buildUnits(t, disks, BuilderOptions{UnitDepth: 0})

	for _, u := range units {
		if u.RelPath != "" {
			t.Errorf("depth 0 unit should have empty rel_path, got %q", u.RelPath)
		}
	}
	sizes := map[string]int64{}
	for _, u := range units {
		sizes[u.SrcDisk+":"+u.Share] = u.SizeBytes
	}
	if sizes["disk1:Movies"] != 1510 {
		t.Errorf("disk1 Movies share size = %d, want 1510", sizes["disk1:Movies"])
	}
}

func TestBuildDepthTwo(t *testing.T) {
	_, disks := testArray(t)

	units := buildUnits(t, disks, BuilderOptions{UnitDepth: 2, IncludeShares: []string{"TV"}})

	if len(units) != 1 {
		t.Fatalf("expected 1 unit, got %v", unitIDs(units))
	}
	if units[0].RelPath != "Archive/Show" {
		t.Errorf("rel_path = %q, want Archive/Show", units[0].RelPath)
	}
}

func TestBuildFilesAtDepthAreUnits(t *testing.T) {
	prefix := t.TempDir()
	writeFile(t, filepath.Join(prefix, "disk1/Backups/dump.img"), 5000)
	disks := []*Disk{{Name: "disk1", Path: filepath.Join(prefix, "disk1")}}

	units := buildUnits(t, disks, BuilderOptions{UnitDepth: 1})
	if len(units) != 1 {
		t.Fatalf("expected the loose file to be a unit, got %v", unitIDs(units))
	}
	if units[0].RelPath != "dump.img" || units[0].SizeBytes != 5000 {
		t.Errorf("got %+v", units[0])
	}
}

func TestBuildShareFilters(t *testing.T) {
	_, disks := testArray(t)

	units := buildUnits(t, disks, BuilderOptions{UnitDepth: 1, ExcludeShares: []string{"appdata"}})
	for _, u := range units {
		if u.Share == "appdata" {
			t.Error("excluded share leaked into units")
		}
	}

	units = buildUnits(t, disks, BuilderOptions{UnitDepth: 1, IncludeShares: []string{"Movies"}})
	for _, u := range units {
		if u.Share != "Movies" {
			t.Errorf("include filter leaked share %s", u.Share)
		}
	}
}

func TestBuildExcludeGlobs(t *testing.T) {
	_, disks := testArray(t)

	units := buildUnits(t, disks, BuilderOptions{
		UnitDepth:    1,
		ExcludeGlobs: []string{"appdata/*", "Movies/B*"},
	})

	got := unitIDs(units)
	for _, id := range got {
		if id == "disk1:appdata/db" || id == "disk1:Movies/Blade" {
			t.Errorf("glob-excluded unit %s leaked", id)
		}
	}
	found := false
	for _, id := range got {
		if id == "disk1:Movies/Alien" {
			found = true
		}
	}
	if !found {
		t.Error("non-excluded unit missing")
	}
}

func TestBuildMinUnitSize(t *testing.T) {
	_, disks := testArray(t)

	units := buildUnits(t, disks, BuilderOptions{UnitDepth: 1, MinUnitSize: 600})

	for _, u := range units {
		if u.SizeBytes < 600 {
			t.Errorf("unit %s below minimum: %d", u.ID(), u.SizeBytes)
		}
	}
	got := unitIDs(units)
	want := []string{"disk1:Movies/Alien", "disk1:appdata/db", "disk2:TV/Archive"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestBuildSymlinksNotCounted(t *testing.T) {
	prefix := t.TempDir()
	writeFile(t, filepath.Join(prefix, "disk1/Media/unit/real.bin"), 100)
	writeFile(t, filepath.Join(prefix, "outside/huge.bin"), 100000)
	if err := os.Symlink(
		filepath.Join(prefix, "outside/huge.bin"),
		filepath.Join(prefix, "disk1/Media/unit/link.bin"),
	); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	// A broken symlink is ignored with a log entry.
	if err := os.Symlink(
		filepath.Join(prefix, "gone"),
		filepath.Join(prefix, "disk1/Media/unit/broken.bin"),
	); err != nil {
		t.Fatal(err)
	}

	disks := []*Disk{{Name: "disk1", Path: filepath.Join(prefix, "disk1")}}
	units := buildUnits(t, disks, BuilderOptions{UnitDepth: 1})

	if len(units) != 1 {
		t.Fatalf("expected 1 unit, got %v", unitIDs(units))
	}
	if units[0].SizeBytes != 100 {
		t.Errorf("symlink target bytes counted: size = %d, want 100", units[0].SizeBytes)
	}
}

func TestBuildDeterminism(t *testing.T) {
	_, disks := testArray(t)

	first := buildUnits(t, disks, BuilderOptions{UnitDepth: 1})
	for i := 0; i < 5; i++ {
		again := buildUnits(t, disks, BuilderOptions{UnitDepth: 1})
		if len(again) != len(first) {
			t.Fatalf("unit count changed: %d vs %d", len(again), len(first))
		}
		for j := range first {
			if *again[j] != *first[j] {
				t.Fatalf("unit %d differs across runs: %+v vs %+v", j, again[j], first[j])
			}
		}
	}
}

func TestUnitPaths(t *testing.T) {
	u := &Unit{Share: "Movies", RelPath: "Alien (1979)", SizeBytes: 1, SrcDisk: "disk1"}
	if got := u.SrcAbs("/mnt"); got != "/mnt/disk1/Movies/Alien (1979)" {
		t.Errorf("SrcAbs = %q", got)
	}
	if got := u.DestAbs("/mnt", "disk2"); got != "/mnt/disk2/Movies/Alien (1979)" {
		t.Errorf("DestAbs = %q", got)
	}

	whole := &Unit{Share: "Movies", RelPath: "", SrcDisk: "disk1"}
	if got := whole.SrcAbs("/mnt"); got != "/mnt/disk1/Movies" {
		t.Errorf("whole-share SrcAbs = %q", got)
	}
	if whole.ID() != "Movies" {
		t.Errorf("whole-share ID = %q", whole.ID())
	}
}
