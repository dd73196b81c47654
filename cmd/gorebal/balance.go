package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/elee1766/gorebal/pkg/array"
	"github.com/elee1766/gorebal/pkg/config"
	"github.com/elee1766/gorebal/pkg/db"
	"github.com/elee1766/gorebal/pkg/db/queries"
	"github.com/elee1766/gorebal/pkg/engine"
	"github.com/elee1766/gorebal/pkg/gate"
	"github.com/elee1766/gorebal/pkg/journal"
	"github.com/elee1766/gorebal/pkg/planner"
	"github.com/elee1766/gorebal/pkg/rsync"
	"github.com/elee1766/gorebal/pkg/sysmon"
)

// BalanceCmd plans a redistribution and optionally executes it. Without
// --execute the command is a dry run that only prints the plan.
type BalanceCmd struct {
	TargetPercent   float64 `default:"80" help:"Target maximum fill percent per disk; -1 auto-evens with headroom"`
	HeadroomPercent float64 `default:"5" help:"Headroom percent when auto-evening"`
	Execute         bool    `help:"Perform the moves (default is a dry run)"`

	IncludeDisks  []string `help:"Disk names to include (e.g. disk1,disk2)"`
	ExcludeDisks  []string `help:"Disk names to exclude"`
	IncludeShares []string `help:"Shares to include (default all)"`
	ExcludeShares []string `help:"Shares to exclude (e.g. appdata,System)"`
	ExcludeGlobs  []string `help:"Globs matched against share/rel_path to skip"`

	UnitDepth   int    `default:"1" help:"Allocation unit depth under each share (0 = whole share per disk)"`
	MinUnitSize string `default:"1GiB" help:"Only move units at least this large (accepts K/M/G/KiB/MiB/GiB suffixes)"`

	SavePlan string `type:"path" help:"Write the plan to this file"`
	LoadPlan string `type:"path" help:"Load a plan instead of planning"`

	RsyncMode          string   `default:"fast" enum:"fast,balanced,integrity" help:"Rsync performance profile"`
	RsyncExtra         []string `help:"Extra rsync flags appended verbatim"`
	PrioritizeLowSpace bool     `help:"Shed from the most pressured disks first"`
	AllowMerge         bool     `help:"Allow merging into existing destination directories"`
	VerifySize         bool     `help:"Verify destination size equals the planned unit size"`

	MoveTimeout  time.Duration `default:"6h" help:"Soft timeout per move"`
	ShowProgress bool          `help:"Print transfer progress while moving"`
	Metrics      bool          `help:"Record operation metrics to the history database"`

	MaxCPUPercent    float64 `default:"0" help:"Refuse to start above this CPU load (0 disables)"`
	MaxMemoryPercent float64 `default:"0" help:"Refuse to start above this memory usage (0 disables)"`
	WindowStart      int     `default:"0" help:"Maintenance window start hour"`
	WindowEnd        int     `default:"0" help:"Maintenance window end hour (equal to start disables)"`
}

func (c *BalanceCmd) buildConfig() (*config.Config, error) {
	if c.UnitDepth < 0 {
		return nil, fmt.Errorf("%w: --unit-depth must be >= 0", errInvalidArgs)
	}
	cfg := config.New()
	cfg.TargetPercent = c.TargetPercent
	cfg.HeadroomPercent = c.HeadroomPercent
	cfg.IncludeDisks = c.IncludeDisks
	cfg.ExcludeDisks = c.ExcludeDisks
	cfg.IncludeShares = c.IncludeShares
	cfg.ExcludeShares = c.ExcludeShares
	cfg.ExcludeGlobs = c.ExcludeGlobs
	cfg.UnitDepth = c.UnitDepth
	cfg.Profile = c.RsyncMode
	cfg.RsyncExtra = c.RsyncExtra
	cfg.AllowMerge = c.AllowMerge
	cfg.MoveTimeout = c.MoveTimeout
	if c.PrioritizeLowSpace {
		cfg.Strategy = config.StrategyLowSpaceFirst
	}

	size, err := humanize.ParseBytes(c.MinUnitSize)
	if err != nil {
		return nil, fmt.Errorf("%w: --min-unit-size %q: %v", errInvalidArgs, c.MinUnitSize, err)
	}
	cfg.MinUnitSize = int64(size)
	return cfg, nil
}

func (c *BalanceCmd) Run(cli *CLI) error {
	logger := makeLogger(cli.LogLevel)
	cfg, err := c.buildConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scanner := array.NewScanner(cfg.MountPrefix, cfg.DiskPattern, logger)
	disks, err := scanner.Scan(cfg.IncludeDisks, cfg.ExcludeDisks)
	if err != nil {
		return err
	}
	printDisks(disks)

	var plan *planner.Plan
	if c.LoadPlan != "" {
		plan, err = planner.Load(c.LoadPlan)
		if err != nil {
			return err
		}
		fmt.Printf("Loaded plan: %d moves, %s\n", len(plan.Moves), humanize.IBytes(uint64(plan.TotalBytes())))
	} else {
		builder := array.NewBuilder(cfg.MountPrefix, array.BuilderOptions{
			UnitDepth:     cfg.UnitDepth,
			IncludeShares: cfg.IncludeShares,
			ExcludeShares: cfg.ExcludeShares,
			ExcludeGlobs:  cfg.ExcludeGlobs,
			MinUnitSize:   cfg.MinUnitSize,
		}, logger)
		units, err := builder.Build(disks)
		if err != nil {
			return err
		}
		var unitBytes int64
		for _, u := range units {
			unitBytes += u.SizeBytes
		}
		fmt.Printf("Found %d allocation units totaling %s\n", len(units), humanize.IBytes(uint64(unitBytes)))

		p := planner.New(cfg.ReserveBytes, logger)
		plan, err = p.Build(disks, units, planner.Options{
			TargetPercent:   cfg.TargetPercent,
			HeadroomPercent: cfg.HeadroomPercent,
			Strategy:        cfg.Strategy,
			Profile:         cfg.Profile,
		})
		if err != nil {
			return err
		}
	}

	printPlan(plan)
	if c.SavePlan != "" {
		if err := plan.Save(c.SavePlan); err != nil {
			return err
		}
		fmt.Printf("Saved plan to %s\n", c.SavePlan)
	}

	if !c.Execute {
		fmt.Println("\nDry run; use --execute to perform the moves.")
		return nil
	}
	if len(plan.Moves) == 0 && !c.hasRecoverableState(cfg, logger) {
		return nil
	}

	gates := []gate.Gate{
		&gate.ResourceGate{MaxCPUPercent: c.MaxCPUPercent, MaxMemoryPercent: c.MaxMemoryPercent},
		&gate.WindowGate{StartHour: c.WindowStart, EndHour: c.WindowEnd},
	}
	ok, reason, err := gate.CheckAll(ctx, logger, gates...)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("refusing to start: %s", reason)
	}

	return c.execute(ctx, cfg, disks, plan, logger)
}

// hasRecoverableState reports whether a previous run left journal records
// worth recovering even though the new plan is empty.
func (c *BalanceCmd) hasRecoverableState(cfg *config.Config, logger *slog.Logger) bool {
	store, err := journal.NewStore(cfg.TransferDir(), logger)
	if err != nil {
		return false
	}
	orphans, err := store.Orphans()
	return err == nil && len(orphans) > 0
}

func (c *BalanceCmd) execute(ctx context.Context, cfg *config.Config, disks []*array.Disk,
	plan *planner.Plan, logger *slog.Logger) error {

	store, err := journal.NewStore(cfg.TransferDir(), logger)
	if err != nil {
		return err
	}
	if _, err := store.Purge(time.Duration(cfg.RetentionDays) * 24 * time.Hour); err != nil {
		logger.Warn("journal purge failed", "error", err)
	}

	diskTable := engine.NewDiskTable(disks)
	invoker := rsync.NewInvoker(rsync.DefaultTool, logger)
	validator := engine.NewValidator(cfg.MountPrefix, diskTable, invoker.LookPath, logger)

	operationID := "rebalance-" + uuid.New().String()

	var recorder engine.Recorder
	var database *db.DB
	if c.Metrics {
		database, err = db.Open(cfg.DBPath, logger)
		if err != nil {
			return err
		}
		defer database.Close()

		op := &queries.Operation{
			OperationID:   operationID,
			StartedAt:     time.Now(),
			TotalMoves:    int64(len(plan.Moves)),
			TotalBytes:    plan.TotalBytes(),
			Profile:       cfg.Profile,
			Strategy:      string(cfg.Strategy),
			TargetPercent: cfg.TargetPercent,
		}
		if err := queries.InsertOperation(database.Conn(), op); err != nil {
			return fmt.Errorf("record operation: %w", err)
		}
		recorder = database.NewTransferRecorder(operationID)

		monitor := sysmon.New(cfg.SampleInterval, func(s sysmon.Sample) {
			err := queries.InsertSystemMetric(database.Conn(), operationID, s.Timestamp,
				s.CPUPercent, s.MemoryPercent, s.DiskReadBps, s.DiskWriteBps)
			if err != nil {
				logger.Debug("system metric insert failed", "error", err)
			}
		}, logger)
		monCtx, cancelMon := context.WithCancel(ctx)
		defer cancelMon()
		go monitor.Run(monCtx)
	}

	events := make(chan engine.Event, 256)
	doneDisplay := make(chan struct{})
	go func() {
		defer close(doneDisplay)
		c.displayEvents(events)
	}()

	eng, err := engine.New(engine.Options{
		MountPrefix: cfg.MountPrefix,
		Profile:     cfg.Profile,
		RsyncExtra:  cfg.RsyncExtra,
		AllowMerge:  cfg.AllowMerge,
		MoveTimeout: cfg.MoveTimeout,
		VerifySize:  c.VerifySize,
	}, diskTable, store, invoker, validator, recorder, events, logger)
	if err != nil {
		return err
	}

	recoveryFailures, err := eng.Resume(ctx)
	if err != nil {
		return err
	}

	snap, err := eng.Execute(ctx, plan)
	close(events)
	<-doneDisplay
	if err != nil {
		return err
	}
	failures := snap.Failed + recoveryFailures

	if c.Metrics && database != nil {
		op := &queries.Operation{
			OperationID:      operationID,
			FinishedAt:       sql.NullTime{Time: time.Now(), Valid: true},
			CompletedMoves:   int64(snap.Completed),
			FailedMoves:      int64(failures),
			TransferredBytes: snap.BytesMoved,
		}
		if err := queries.UpdateOperation(database.Conn(), op); err != nil {
			logger.Warn("operation update failed", "error", err)
		}
	}

	if failures > 0 {
		fmt.Printf("\nCompleted with %d failed move(s).\n", failures)
		return errMovesFailed
	}
	fmt.Println("\nCompleted successfully.")
	return nil
}

// displayEvents renders engine events to the console until the channel is
// closed.
func (c *BalanceCmd) displayEvents(events <-chan engine.Event) {
	for ev := range events {
		switch ev.Kind {
		case engine.EventMoveStarted:
			fmt.Printf("Moving %s/%s: %s -> %s (%s)\n",
				ev.Move.Share, ev.Move.RelPath, ev.Move.SrcDisk, ev.Move.DestDisk,
				humanize.IBytes(uint64(ev.Move.SizeBytes)))
		case engine.EventProgress:
			if c.ShowProgress && ev.Progress.RateBytesPerSec > 0 {
				fmt.Printf("\r  %s  %d%%  %s/s   ",
					humanize.IBytes(uint64(ev.Progress.BytesDone)),
					ev.Progress.Percent,
					humanize.IBytes(uint64(ev.Progress.RateBytesPerSec)))
			}
		case engine.EventMoveDone:
			if c.ShowProgress {
				fmt.Println()
			}
			if ev.Err != nil {
				fmt.Printf("  FAILED %s/%s: %v\n", ev.Move.Share, ev.Move.RelPath, ev.Err)
			}
		case engine.EventSnapshot:
			s := ev.Snapshot
			eta := ""
			if s.ETA > 0 {
				eta = fmt.Sprintf(", ETA %s", s.ETA.Round(time.Second))
			}
			fmt.Printf("[%d/%d] %s moved, %d failed, elapsed %s%s\n",
				s.Completed+s.Failed, s.Total,
				humanize.IBytes(uint64(s.BytesMoved)), s.Failed,
				s.Elapsed.Round(time.Second), eta)
		}
	}
}

func printDisks(disks []*array.Disk) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Disk", "Size", "Used", "Free", "Fill"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})
	for _, d := range disks {
		t.AppendRow(table.Row{
			d.Name,
			humanize.IBytes(uint64(d.SizeBytes)),
			humanize.IBytes(uint64(d.UsedBytes)),
			humanize.IBytes(uint64(d.FreeBytes)),
			fmt.Sprintf("%.1f%%", d.UsedPercent()),
		})
	}
	t.Render()
}

func printPlan(plan *planner.Plan) {
	if plan.Diagnostics.Balanced {
		fmt.Println("\nArray is already balanced; nothing to move.")
		return
	}

	fmt.Printf("\nPlan: %d moves, %s to redistribute\n",
		len(plan.Moves), humanize.IBytes(uint64(plan.TotalBytes())))

	if len(plan.Moves) > 0 {
		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetStyle(table.StyleRounded)
		t.AppendHeader(table.Row{"#", "Unit", "Size", "From", "To"})
		t.SetColumnConfigs([]table.ColumnConfig{
			{Number: 1, Align: text.AlignRight},
			{Number: 3, Align: text.AlignRight},
		})
		const previewMax = 20
		for i, m := range plan.Moves {
			if i >= previewMax {
				break
			}
			t.AppendRow(table.Row{
				i + 1,
				m.Share + "/" + m.RelPath,
				humanize.IBytes(uint64(m.SizeBytes)),
				m.SrcDisk,
				m.DestDisk,
			})
		}
		t.Render()
		if len(plan.Moves) > previewMax {
			fmt.Printf("  ... and %d more\n", len(plan.Moves)-previewMax)
		}
	}

	for disk, excess := range plan.Diagnostics.UnderServed {
		fmt.Printf("Warning: %s remains %s over its cap (under-served)\n",
			disk, humanize.IBytes(uint64(excess)))
	}
	for _, id := range plan.Diagnostics.NoFit {
		fmt.Printf("Warning: no destination fits %s\n", id)
	}
}

// ModesCmd lists the rsync performance profiles.
type ModesCmd struct{}

func (c *ModesCmd) Run(cli *CLI) error {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Profile", "Description", "Flags"})
	for _, name := range rsync.ProfileNames() {
		p, err := rsync.GetProfile(name)
		if err != nil {
			return err
		}
		t.AppendRow(table.Row{p.Name, p.Description, fmt.Sprintf("%v", p.Flags)})
	}
	t.Render()
	return nil
}
