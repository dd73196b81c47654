package config

import (
	"os"
	"path/filepath"
	"time"
)

const (
	// AppName is the application name used in paths
	AppName = "gorebal"

	// DefaultReserveBytes is the per-destination safety floor kept free
	// beyond the computed cap.
	DefaultReserveBytes = 1 << 30 // 1 GiB

	// DefaultMoveTimeout is the soft per-move timeout.
	DefaultMoveTimeout = 6 * time.Hour
)

// Strategy selects the unit prioritization order during planning.
type Strategy string

const (
	StrategySize          Strategy = "size"
	StrategyLowSpaceFirst Strategy = "low_space_first"
)

// Config holds all application configuration. Every component takes the
// fields it needs from this record; nothing reads process-wide state.
type Config struct {
	// Array layout
	MountPrefix string // e.g. /mnt
	DiskPattern string // glob for data disk names, e.g. disk*

	// Discovery filters
	IncludeDisks  []string
	ExcludeDisks  []string
	IncludeShares []string
	ExcludeShares []string
	ExcludeGlobs  []string

	// Unit building
	UnitDepth   int
	MinUnitSize int64

	// Planning
	TargetPercent   float64 // < 0 means auto-even with headroom
	HeadroomPercent float64
	Strategy        Strategy
	ReserveBytes    int64

	// Transfer
	Profile     string // fast, balanced, integrity
	RsyncExtra  []string
	AllowMerge  bool
	MoveTimeout time.Duration

	// Paths
	DataDir  string // base data directory (XDG_DATA_HOME/gorebal)
	StateDir string // transfer journal directory
	DBPath   string // metrics database path

	// Metrics
	SampleInterval time.Duration
	RetentionDays  int

	// Logging
	LogLevel string
}

// New creates a Config with values from environment or defaults.
func New() *Config {
	cfg := &Config{
		MountPrefix:     envOrDefault("GOREBAL_MOUNT_PREFIX", "/mnt"),
		DiskPattern:     envOrDefault("GOREBAL_DISK_PATTERN", "disk*"),
		UnitDepth:       1,
		MinUnitSize:     1 << 30,
		TargetPercent:   80.0,
		HeadroomPercent: 5.0,
		Strategy:        StrategySize,
		ReserveBytes:    DefaultReserveBytes,
		Profile:         "fast",
		MoveTimeout:     DefaultMoveTimeout,
		SampleInterval:  5 * time.Second,
		RetentionDays:   90,
		LogLevel:        envOrDefault("GOREBAL_LOG_LEVEL", "info"),
	}

	cfg.DataDir = getDataDir()
	os.MkdirAll(cfg.DataDir, 0755)

	cfg.StateDir = envOrDefault("GOREBAL_STATE_DIR", filepath.Join(cfg.DataDir, "state"))
	cfg.DBPath = envOrDefault("GOREBAL_DB_PATH", filepath.Join(cfg.DataDir, "gorebal.db"))

	return cfg
}

// getDataDir returns the data directory following XDG spec.
// $XDG_DATA_HOME/gorebal or ~/.local/share/gorebal
func getDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, AppName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", AppName, "data")
	}
	return filepath.Join(home, ".local", "share", AppName)
}

// envOrDefault returns the environment variable value or the default.
func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// TransferDir returns the directory holding per-move journal records.
func (c *Config) TransferDir() string {
	return filepath.Join(c.StateDir, "transfers")
}
