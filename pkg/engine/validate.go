package engine

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/elee1766/gorebal/pkg/planner"
)

// workingBufferFactor is the free-space margin required on a destination
// beyond the raw unit size, covering in-flight partials and metadata.
const workingBufferFactor = 1.10

// PreValidationError means a move cannot start. The move is failed and the
// run continues.
type PreValidationError struct {
	Move   *planner.Move
	Reason string
}

func (e *PreValidationError) Error() string {
	return fmt.Sprintf("pre-validation failed for %s/%s: %s", e.Move.Share, e.Move.RelPath, e.Reason)
}

// PostValidationError means a move finished but its invariants do not hold.
// Terminal for the move; the run continues and reports a non-zero exit.
type PostValidationError struct {
	Move   *planner.Move
	Reason string
}

func (e *PostValidationError) Error() string {
	return fmt.Sprintf("post-validation failed for %s/%s: %s", e.Move.Share, e.Move.RelPath, e.Reason)
}

// Validator checks a move's preconditions before the tool is spawned and
// verifies atomic-move semantics afterwards.
type Validator struct {
	prefix    string
	table     *DiskTable
	checkTool func() error
	logger    *slog.Logger
}

// NewValidator creates a Validator confined to the mount prefix.
func NewValidator(prefix string, table *DiskTable, checkTool func() error, logger *slog.Logger) *Validator {
	return &Validator{
		prefix:    prefix,
		table:     table,
		checkTool: checkTool,
		logger:    logger.With("component", "validator"),
	}
}

// Pre runs every pre-transfer check. All must pass or the move fails.
func (v *Validator) Pre(m *planner.Move) error {
	src := m.Unit().SrcAbs(v.prefix)
	dst := m.Unit().DestAbs(v.prefix, m.DestDisk)

	if m.SrcDisk == m.DestDisk {
		return &PreValidationError{Move: m, Reason: "source and destination disk are the same"}
	}
	if !v.underPrefix(src) || !v.underPrefix(dst) {
		return &PreValidationError{Move: m, Reason: "path escapes the mount prefix"}
	}

	info, err := os.Lstat(src)
	if err != nil {
		return &PreValidationError{Move: m, Reason: fmt.Sprintf("source not accessible: %v", err)}
	}
	if !info.IsDir() && !info.Mode().IsRegular() {
		return &PreValidationError{Move: m, Reason: "source is neither a directory nor a regular file"}
	}

	destMount := filepath.Join(v.prefix, m.DestDisk)
	if fi, err := os.Stat(destMount); err != nil || !fi.IsDir() {
		return &PreValidationError{Move: m, Reason: fmt.Sprintf("destination disk %s not mounted", m.DestDisk)}
	}

	free, err := v.table.FreeBytes(m.DestDisk)
	if err != nil {
		return &PreValidationError{Move: m, Reason: err.Error()}
	}
	required := int64(float64(m.SizeBytes) * workingBufferFactor)
	if free < required {
		return &PreValidationError{Move: m, Reason: fmt.Sprintf(
			"destination %s has %d bytes free, need %d; free space or lower the target",
			m.DestDisk, free, required)}
	}

	if v.checkTool != nil {
		if err := v.checkTool(); err != nil {
			return &PreValidationError{Move: m, Reason: fmt.Sprintf("copy tool not resolvable: %v", err)}
		}
	}
	return nil
}

// EnsureDestParent creates the destination's parent directory tree.
func (v *Validator) EnsureDestParent(m *planner.Move) error {
	dst := m.Unit().DestAbs(v.prefix, m.DestDisk)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return &PreValidationError{Move: m, Reason: fmt.Sprintf("cannot create destination parent: %v", err)}
	}
	return nil
}

// DestExists reports whether the destination path already exists, which
// blocks the move unless merging is allowed.
func (v *Validator) DestExists(m *planner.Move) bool {
	dst := m.Unit().DestAbs(v.prefix, m.DestDisk)
	_, err := os.Lstat(dst)
	return err == nil
}

// Post verifies atomic-move semantics after the tool reports success: the
// destination exists, the source bytes are gone, and (when sizes are
// checked) the destination holds the planned byte count.
func (v *Validator) Post(m *planner.Move, checkSize bool) error {
	src := m.Unit().SrcAbs(v.prefix)
	dst := m.Unit().DestAbs(v.prefix, m.DestDisk)

	info, err := os.Lstat(dst)
	if err != nil {
		return &PostValidationError{Move: m, Reason: fmt.Sprintf("destination missing: %v", err)}
	}
	if !info.IsDir() && !info.Mode().IsRegular() {
		return &PostValidationError{Move: m, Reason: "destination is neither a directory nor a regular file"}
	}

	if n, err := countSourceFiles(src); err == nil && n > 0 {
		return &PostValidationError{Move: m, Reason: fmt.Sprintf("%d source files remain", n)}
	}

	if checkSize {
		got := treeSize(dst)
		if got != m.SizeBytes {
			return &PostValidationError{Move: m, Reason: fmt.Sprintf(
				"destination size %d does not match planned %d", got, m.SizeBytes)}
		}
	}
	return nil
}

// CleanupSource removes the now-empty source directory skeleton left after
// the tool deleted the transferred files.
func (v *Validator) CleanupSource(m *planner.Move) {
	src := m.Unit().SrcAbs(v.prefix)
	info, err := os.Lstat(src)
	if err != nil || !info.IsDir() {
		return
	}
	// Deepest first so each rmdir sees an already-emptied child.
	var dirs []string
	filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() {
			dirs = append(dirs, p)
		}
		return nil
	})
	for i := len(dirs) - 1; i >= 0; i-- {
		if err := os.Remove(dirs[i]); err != nil {
			v.logger.Debug("source dir not removed", "path", dirs[i], "error", err)
		}
	}
}

func (v *Validator) underPrefix(p string) bool {
	abs, err := filepath.Abs(p)
	if err != nil {
		return false
	}
	prefix := filepath.Clean(v.prefix) + string(filepath.Separator)
	return strings.HasPrefix(abs, prefix)
}

// countSourceFiles counts regular files still present under a path.
func countSourceFiles(p string) (int, error) {
	info, err := os.Lstat(p)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if info.Mode().IsRegular() {
		return 1, nil
	}
	count := 0
	filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
		if err == nil && d.Type().IsRegular() {
			count++
		}
		return nil
	})
	return count, nil
}

// treeSize sums regular file sizes under a path.
func treeSize(p string) int64 {
	info, err := os.Lstat(p)
	if err != nil {
		return 0
	}
	if info.Mode().IsRegular() {
		return info.Size()
	}
	var total int64
	filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() {
			return nil
		}
		if fi, err := d.Info(); err == nil {
			total += fi.Size()
		}
		return nil
	})
	return total
}
