package main

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/elee1766/gorebal/pkg/config"
	"github.com/elee1766/gorebal/pkg/db"
	"github.com/elee1766/gorebal/pkg/db/queries"
	"github.com/elee1766/gorebal/pkg/schedule"
)

// ScheduleCmd manages recurring rebalance schedules.
type ScheduleCmd struct {
	Add     ScheduleAddCmd     `cmd:"" help:"Create a schedule and install it into crontab"`
	List    ScheduleListCmd    `cmd:"" help:"List configured schedules"`
	Remove  ScheduleRemoveCmd  `cmd:"" help:"Remove a schedule"`
	Enable  ScheduleEnableCmd  `cmd:"" help:"Enable a schedule"`
	Disable ScheduleDisableCmd `cmd:"" help:"Disable a schedule"`
	Sync    ScheduleSyncCmd    `cmd:"" help:"Resynchronize crontab with stored schedules"`
}

func openScheduleManager(cli *CLI) (*schedule.Manager, *db.DB, error) {
	logger := makeLogger(cli.LogLevel)
	cfg := config.New()

	database, err := db.Open(cfg.DBPath, logger)
	if err != nil {
		return nil, nil, err
	}
	bin, err := os.Executable()
	if err != nil {
		database.Close()
		return nil, nil, err
	}
	return schedule.NewManager(database, bin, logger), database, nil
}

// ScheduleAddCmd creates a schedule. The id is explicit and must be unique;
// creation fails on collision.
type ScheduleAddCmd struct {
	ID   string `arg:"" help:"Unique schedule id (lowercase alphanumeric and dashes)"`
	Name string `help:"Human-readable schedule name (defaults to the id)"`

	Cron    string `help:"Cron expression, e.g. '0 2 * * *'"`
	Daily   int    `default:"-1" help:"Run daily at this hour (0-23)"`
	Weekly  []int  `help:"Run weekly: day (0=Sunday) and hour"`
	Monthly []int  `help:"Run monthly: day of month and hour"`

	TargetPercent      float64 `default:"80" help:"Target fill percent for scheduled runs"`
	HeadroomPercent    float64 `default:"5" help:"Headroom percent for auto-evening"`
	RsyncMode          string  `default:"fast" enum:"fast,balanced,integrity" help:"Rsync profile for scheduled runs"`
	PrioritizeLowSpace bool    `help:"Use the low-space-first strategy"`
	MaxRuntime         int     `default:"6" help:"Maximum runtime in hours, stored with the schedule (not passed to the scheduled command)"`
}

func (c *ScheduleAddCmd) Run(cli *CLI) error {
	mgr, database, err := openScheduleManager(cli)
	if err != nil {
		return err
	}
	defer database.Close()

	expr := c.Cron
	switch {
	case expr != "":
	case c.Daily >= 0:
		if c.Daily > 23 {
			return fmt.Errorf("daily hour must be 0-23, got %d", c.Daily)
		}
		expr = schedule.Daily(c.Daily)
	case len(c.Weekly) == 2:
		day, hour := c.Weekly[0], c.Weekly[1]
		if day < 0 || day > 6 || hour < 0 || hour > 23 {
			return fmt.Errorf("weekly wants day 0-6 and hour 0-23")
		}
		expr = schedule.Weekly(day, hour)
	case len(c.Monthly) == 2:
		day, hour := c.Monthly[0], c.Monthly[1]
		if day < 1 || day > 31 || hour < 0 || hour > 23 {
			return fmt.Errorf("monthly wants day 1-31 and hour 0-23")
		}
		expr = schedule.Monthly(day, hour)
	default:
		return fmt.Errorf("no timing given; use --cron, --daily, --weekly or --monthly")
	}

	name := c.Name
	if name == "" {
		name = c.ID
	}
	strategy := "size"
	if c.PrioritizeLowSpace {
		strategy = "low_space_first"
	}

	s := &queries.Schedule{
		ScheduleID:      c.ID,
		Name:            name,
		CronExpression:  expr,
		TargetPercent:   c.TargetPercent,
		HeadroomPercent: c.HeadroomPercent,
		Profile:         c.RsyncMode,
		Strategy:        strategy,
		MaxRuntimeHours: int64(c.MaxRuntime),
		Enabled:         true,
	}
	if err := mgr.Create(s); err != nil {
		return err
	}
	fmt.Printf("Schedule %q created (%s).\n", c.ID, expr)
	return nil
}

type ScheduleListCmd struct{}

func (c *ScheduleListCmd) Run(cli *CLI) error {
	mgr, database, err := openScheduleManager(cli)
	if err != nil {
		return err
	}
	defer database.Close()

	schedules, err := mgr.List()
	if err != nil {
		return err
	}
	if len(schedules) == 0 {
		fmt.Println("No schedules configured.")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"ID", "Name", "Cron", "Target", "Profile", "Enabled"})
	for _, s := range schedules {
		t.AppendRow(table.Row{
			s.ScheduleID, s.Name, s.CronExpression,
			fmt.Sprintf("%.0f%%", s.TargetPercent), s.Profile, s.Enabled,
		})
	}
	t.Render()
	return nil
}

type ScheduleRemoveCmd struct {
	ID string `arg:"" help:"Schedule id to remove"`
}

func (c *ScheduleRemoveCmd) Run(cli *CLI) error {
	mgr, database, err := openScheduleManager(cli)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := mgr.Delete(c.ID); err != nil {
		return err
	}
	fmt.Printf("Schedule %q removed.\n", c.ID)
	return nil
}

type ScheduleEnableCmd struct {
	ID string `arg:"" help:"Schedule id to enable"`
}

func (c *ScheduleEnableCmd) Run(cli *CLI) error {
	mgr, database, err := openScheduleManager(cli)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := mgr.SetEnabled(c.ID, true); err != nil {
		return err
	}
	fmt.Printf("Schedule %q enabled.\n", c.ID)
	return nil
}

type ScheduleDisableCmd struct {
	ID string `arg:"" help:"Schedule id to disable"`
}

func (c *ScheduleDisableCmd) Run(cli *CLI) error {
	mgr, database, err := openScheduleManager(cli)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := mgr.SetEnabled(c.ID, false); err != nil {
		return err
	}
	fmt.Printf("Schedule %q disabled.\n", c.ID)
	return nil
}

type ScheduleSyncCmd struct{}

func (c *ScheduleSyncCmd) Run(cli *CLI) error {
	mgr, database, err := openScheduleManager(cli)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := mgr.Sync(); err != nil {
		return err
	}
	fmt.Println("Crontab synchronized.")
	return nil
}
