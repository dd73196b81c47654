package schedule

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"

	"github.com/elee1766/gorebal/pkg/db"
	"github.com/elee1766/gorebal/pkg/db/queries"
)

// markerPrefix tags crontab lines owned by this tool.
const markerPrefix = "# gorebal schedule:"

// idPattern constrains user-supplied schedule identifiers. The id is
// explicit and collisions are rejected at creation, so two schedules can
// never silently share a crontab entry.
var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,63}$`)

var (
	ErrInvalidID = errors.New("schedule id must be lowercase alphanumeric with dashes")
	ErrIDExists  = errors.New("schedule id already exists")
	ErrNotFound  = errors.New("schedule not found")
)

// Manager persists schedules and mirrors the enabled ones into the user's
// crontab.
type Manager struct {
	db      *db.DB
	binPath string // absolute path of the executable to run
	logger  *slog.Logger
}

// NewManager creates a Manager installing entries that invoke binPath.
func NewManager(database *db.DB, binPath string, logger *slog.Logger) *Manager {
	return &Manager{
		db:      database,
		binPath: binPath,
		logger:  logger.With("component", "schedule"),
	}
}

// Create validates, stores and installs a new schedule.
func (m *Manager) Create(s *queries.Schedule) error {
	if !idPattern.MatchString(s.ScheduleID) {
		return fmt.Errorf("%w: %q", ErrInvalidID, s.ScheduleID)
	}
	if err := ValidateCron(s.CronExpression); err != nil {
		return err
	}
	if _, err := queries.GetSchedule(m.db.Conn(), s.ScheduleID); err == nil {
		return fmt.Errorf("%w: %q", ErrIDExists, s.ScheduleID)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if err := queries.InsertSchedule(m.db.Conn(), s); err != nil {
		return err
	}
	m.logger.Info("schedule created", "id", s.ScheduleID, "cron", s.CronExpression)
	return m.Sync()
}

// Delete removes a schedule and its crontab entry.
func (m *Manager) Delete(scheduleID string) error {
	if err := queries.DeleteSchedule(m.db.Conn(), scheduleID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %q", ErrNotFound, scheduleID)
		}
		return err
	}
	m.logger.Info("schedule deleted", "id", scheduleID)
	return m.Sync()
}

// SetEnabled toggles a schedule and resyncs the crontab.
func (m *Manager) SetEnabled(scheduleID string, enabled bool) error {
	if err := queries.SetScheduleEnabled(m.db.Conn(), scheduleID, enabled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %q", ErrNotFound, scheduleID)
		}
		return err
	}
	return m.Sync()
}

// List returns all stored schedules.
func (m *Manager) List() ([]*queries.Schedule, error) {
	return queries.ListSchedules(m.db.Conn())
}

// Sync rewrites this tool's crontab block to match the enabled schedules.
// Foreign crontab lines are preserved untouched.
func (m *Manager) Sync() error {
	current, err := readCrontab()
	if err != nil {
		return err
	}

	var kept []string
	skipNext := false
	for _, line := range current {
		if skipNext {
			skipNext = false
			continue
		}
		if strings.HasPrefix(line, markerPrefix) {
			skipNext = true
			continue
		}
		kept = append(kept, line)
	}

	schedules, err := m.List()
	if err != nil {
		return err
	}
	for _, s := range schedules {
		if !s.Enabled {
			continue
		}
		kept = append(kept,
			fmt.Sprintf("%s %s", markerPrefix, s.ScheduleID),
			fmt.Sprintf("%s %s", s.CronExpression, m.command(s)),
		)
	}

	if err := writeCrontab(kept); err != nil {
		return err
	}
	m.logger.Info("crontab synchronized", "schedules", len(schedules))
	return nil
}

// command renders the balance invocation for one schedule.
func (m *Manager) command(s *queries.Schedule) string {
	args := []string{
		m.binPath, "balance",
		"--execute",
		fmt.Sprintf("--target-percent=%g", s.TargetPercent),
		fmt.Sprintf("--headroom-percent=%g", s.HeadroomPercent),
		fmt.Sprintf("--rsync-mode=%s", s.Profile),
	}
	if s.Strategy == "low_space_first" {
		args = append(args, "--prioritize-low-space")
	}
	return strings.Join(args, " ")
}

func readCrontab() ([]string, error) {
	cmd := exec.Command("crontab", "-l")
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf
	if err := cmd.Run(); err != nil {
		// An empty crontab exits non-zero with "no crontab for ...".
		if strings.Contains(errBuf.String(), "no crontab") {
			return nil, nil
		}
		return nil, fmt.Errorf("read crontab: %w: %s", err, errBuf.String())
	}
	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil, nil
	}
	return lines, nil
}

func writeCrontab(lines []string) error {
	input := strings.Join(lines, "\n")
	if input != "" {
		input += "\n"
	}
	cmd := exec.Command("crontab", "-")
	cmd.Stdin = strings.NewReader(input)
	var errBuf bytes.Buffer
	cmd.Stderr = &errBuf
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("write crontab: %w: %s", err, errBuf.String())
	}
	return nil
}
