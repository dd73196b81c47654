package array

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Unit is the smallest subtree treated as indivisible during
// redistribution. RelPath is measured from the share root and has exactly
// the configured depth of components, or is empty when the whole share on a
// disk is one unit.
type Unit struct {
	Share     string `json:"share"`
	RelPath   string `json:"rel_path"`
	SizeBytes int64  `json:"size"`
	SrcDisk   string `json:"src_disk"`
}

// ID returns the unit identity as share/rel_path.
func (u *Unit) ID() string {
	if u.RelPath == "" {
		return u.Share
	}
	return u.Share + "/" + u.RelPath
}

// SrcAbs returns the absolute source path under the mount prefix.
func (u *Unit) SrcAbs(prefix string) string {
	return filepath.Join(prefix, u.SrcDisk, u.Share, u.RelPath)
}

// DestAbs returns the absolute destination path on disk under the prefix.
func (u *Unit) DestAbs(prefix, disk string) string {
	return filepath.Join(prefix, disk, u.Share, u.RelPath)
}

// BuilderOptions control share walking and unit emission.
type BuilderOptions struct {
	UnitDepth     int
	IncludeShares []string
	ExcludeShares []string
	ExcludeGlobs  []string
	MinUnitSize   int64
}

// Builder walks each disk's shares to the configured depth and emits sized
// allocation units.
type Builder struct {
	prefix string
	opts   BuilderOptions
	logger *slog.Logger
}

// NewBuilder creates a Builder rooted at the mount prefix.
func NewBuilder(prefix string, opts BuilderOptions, logger *slog.Logger) *Builder {
	return &Builder{
		prefix: prefix,
		opts:   opts,
		logger: logger.With("component", "units"),
	}
}

// Build emits the allocation units for every disk. Disks are walked
// concurrently since sizing is I/O bound; the result is sorted by
// (disk, share, rel_path) so identical inputs produce identical output.
func (b *Builder) Build(disks []*Disk) ([]*Unit, error) {
	var (
		mu    sync.Mutex
		units []*Unit
	)
	erg := new(errgroup.Group)
	for _, d := range disks {
		erg.Go(func() error {
			du, err := b.buildDisk(d)
			if err != nil {
				return err
			}
			mu.Lock()
			units = append(units, du...)
			mu.Unlock()
			return nil
		})
	}
	if err := erg.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(units, func(i, j int) bool {
		a, c := units[i], units[j]
		if a.SrcDisk != c.SrcDisk {
			return a.SrcDisk < c.SrcDisk
		}
		if a.Share != c.Share {
			return a.Share < c.Share
		}
		return a.RelPath < c.RelPath
	})
	return units, nil
}

func (b *Builder) buildDisk(d *Disk) ([]*Unit, error) {
	entries, err := os.ReadDir(d.Path)
	if err != nil {
		return nil, &DiscoveryError{Disk: d.Name, Err: fmt.Errorf("read disk root: %w", err)}
	}

	var units []*Unit
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		share := e.Name()
		if len(b.opts.IncludeShares) > 0 && !contains(b.opts.IncludeShares, share) {
			continue
		}
		if contains(b.opts.ExcludeShares, share) {
			continue
		}

		shareRoot := filepath.Join(d.Path, share)
		if b.opts.UnitDepth == 0 {
			if b.excluded(share) {
				continue
			}
			size := b.sizeOf(shareRoot)
			if size >= b.opts.MinUnitSize {
				units = append(units, &Unit{Share: share, RelPath: "", SizeBytes: size, SrcDisk: d.Name})
			}
			continue
		}

		b.descend(shareRoot, share, "", b.opts.UnitDepth, d.Name, &units)
	}
	return units, nil
}

// descend walks below a share root until depth components have been
// consumed. Files reached at the final level count as units of their own.
func (b *Builder) descend(dir, share, rel string, depth int, disk string, out *[]*Unit) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		b.logger.Warn("skipping unreadable directory", "path", dir, "error", err)
		return
	}
	for _, e := range entries {
		childRel := path.Join(rel, e.Name())
		childAbs := filepath.Join(dir, e.Name())
		switch {
		case e.IsDir() && depth > 1:
			b.descend(childAbs, share, childRel, depth-1, disk, out)
		case e.IsDir() || depth == 1 && e.Type().IsRegular():
			if b.excluded(path.Join(share, childRel)) {
				continue
			}
			size := b.sizeOf(childAbs)
			if size >= b.opts.MinUnitSize {
				*out = append(*out, &Unit{Share: share, RelPath: childRel, SizeBytes: size, SrcDisk: disk})
			}
		}
	}
}

// excluded reports whether a share-relative path matches any exclude glob.
// Globs are matched against the full share/rel_path string and against each
// of its path components.
func (b *Builder) excluded(rel string) bool {
	for _, g := range b.opts.ExcludeGlobs {
		if ok, _ := path.Match(g, rel); ok {
			return true
		}
		for _, comp := range strings.Split(rel, "/") {
			if ok, _ := path.Match(g, comp); ok {
				return true
			}
		}
	}
	return false
}

// sizeOf sums regular file sizes in a subtree. Symlinks are not followed
// and their targets are not counted. Per-entry errors are logged and the
// entry skipped.
func (b *Builder) sizeOf(p string) int64 {
	info, err := os.Lstat(p)
	if err != nil {
		b.logger.Warn("stat failed", "path", p, "error", err)
		return 0
	}
	if info.Mode().IsRegular() {
		return info.Size()
	}
	if !info.IsDir() {
		return 0
	}

	var total int64
	filepath.WalkDir(p, func(fp string, entry fs.DirEntry, err error) error {
		if err != nil {
			b.logger.Warn("walk error", "path", fp, "error", err)
			return nil
		}
		if entry.Type()&fs.ModeSymlink != 0 {
			if _, err := os.Stat(fp); err != nil {
				b.logger.Debug("broken symlink", "path", fp)
			}
			return nil
		}
		if entry.Type().IsRegular() {
			fi, err := entry.Info()
			if err != nil {
				b.logger.Warn("stat failed", "path", fp, "error", err)
				return nil
			}
			total += fi.Size()
		}
		return nil
	})
	return total
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
