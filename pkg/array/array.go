package array

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"golang.org/x/sys/unix"
)

// ErrNoDisks is returned when discovery finds no data disks under the
// mount prefix.
var ErrNoDisks = errors.New("no data disks found under mount prefix")

// DiscoveryError wraps a fatal discovery failure (no disks, or a disk that
// was explicitly requested but is missing or unreadable).
type DiscoveryError struct {
	Disk string
	Err  error
}

func (e *DiscoveryError) Error() string {
	if e.Disk != "" {
		return fmt.Sprintf("discovery failed for %s: %v", e.Disk, e.Err)
	}
	return fmt.Sprintf("discovery failed: %v", e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// Disk is a snapshot of one data disk taken at discovery time. It is never
// refreshed during planning; the engine keeps its own in-memory accounting.
type Disk struct {
	Name      string `json:"name"`
	Path      string `json:"-"`
	SizeBytes int64  `json:"size"`
	UsedBytes int64  `json:"used"`
	FreeBytes int64  `json:"free"`
}

// UsedPercent returns the fill level of the disk.
func (d *Disk) UsedPercent() float64 {
	if d.SizeBytes == 0 {
		return 0
	}
	return float64(d.UsedBytes) / float64(d.SizeBytes) * 100
}

// Scanner enumerates data disks under a mount prefix.
type Scanner struct {
	prefix  string
	pattern string
	logger  *slog.Logger
}

// NewScanner creates a Scanner for disks matching pattern under prefix.
func NewScanner(prefix, pattern string, logger *slog.Logger) *Scanner {
	return &Scanner{
		prefix:  prefix,
		pattern: pattern,
		logger:  logger.With("component", "scanner"),
	}
}

// Scan discovers mounted data disks, applying the include/exclude name
// filters. An include entry naming a disk that does not exist is a fatal
// discovery error; so is finding no disks at all.
func (s *Scanner) Scan(include, exclude []string) ([]*Disk, error) {
	entries, err := os.ReadDir(s.prefix)
	if err != nil {
		return nil, &DiscoveryError{Err: fmt.Errorf("read mount prefix %s: %w", s.prefix, err)}
	}

	found := make(map[string]bool)
	var disks []*Disk
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if ok, _ := filepath.Match(s.pattern, name); !ok {
			continue
		}
		found[name] = true
		if len(include) > 0 && !slices.Contains(include, name) {
			continue
		}
		if slices.Contains(exclude, name) {
			continue
		}

		mount := filepath.Join(s.prefix, name)
		var st unix.Statfs_t
		if err := unix.Statfs(mount, &st); err != nil {
			s.logger.Warn("skipping unmounted disk", "disk", name, "error", err)
			continue
		}

		size := int64(st.Frsize) * int64(st.Blocks)
		free := int64(st.Frsize) * int64(st.Bavail)
		disks = append(disks, &Disk{
			Name:      name,
			Path:      mount,
			SizeBytes: size,
			UsedBytes: size - free,
			FreeBytes: free,
		})
	}

	for _, name := range include {
		if !found[name] {
			return nil, &DiscoveryError{Disk: name, Err: errors.New("requested disk not present")}
		}
	}
	if len(disks) == 0 {
		return nil, &DiscoveryError{Err: ErrNoDisks}
	}

	sort.Slice(disks, func(i, j int) bool { return disks[i].Name < disks[j].Name })

	s.logger.Info("discovered disks", "count", len(disks))
	return disks, nil
}
