package main

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/elee1766/gorebal/pkg/config"
	"github.com/elee1766/gorebal/pkg/db"
	"github.com/elee1766/gorebal/pkg/db/queries"
)

// HistoryCmd lists recent rebalance operations.
type HistoryCmd struct {
	Limit int `short:"n" default:"20" help:"Show at most this many operations"`
}

func (c *HistoryCmd) Run(cli *CLI) error {
	logger := makeLogger(cli.LogLevel)
	cfg := config.New()

	database, err := db.Open(cfg.DBPath, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	ops, err := queries.ListOperations(database.Conn(), c.Limit)
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		fmt.Println("No operations recorded.")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Operation", "Started", "Duration", "Moves", "Failed", "Moved", "Profile"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
	})
	for _, op := range ops {
		duration := ""
		if op.FinishedAt.Valid {
			duration = op.FinishedAt.Time.Sub(op.StartedAt).Round(time.Second).String()
		}
		t.AppendRow(table.Row{
			op.OperationID,
			op.StartedAt.Format("2006-01-02 15:04:05"),
			duration,
			fmt.Sprintf("%d/%d", op.CompletedMoves, op.TotalMoves),
			op.FailedMoves,
			humanize.IBytes(uint64(op.TransferredBytes)),
			op.Profile,
		})
	}
	t.Render()
	return nil
}

// ReportCmd shows one operation in detail, including per-disk rates.
type ReportCmd struct {
	Operation string `arg:"" help:"Operation id to report on"`
	Days      int    `default:"30" help:"Window for the per-disk rate comparison"`
}

func (c *ReportCmd) Run(cli *CLI) error {
	logger := makeLogger(cli.LogLevel)
	cfg := config.New()

	database, err := db.Open(cfg.DBPath, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	op, err := queries.GetOperation(database.Conn(), c.Operation)
	if err != nil {
		return fmt.Errorf("operation %s: %w", c.Operation, err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Operation " + op.OperationID)
	t.AppendRow(table.Row{"Started", op.StartedAt.Format("2006-01-02 15:04:05")})
	if op.FinishedAt.Valid {
		t.AppendRow(table.Row{"Finished", op.FinishedAt.Time.Format("2006-01-02 15:04:05")})
		t.AppendRow(table.Row{"Duration", op.FinishedAt.Time.Sub(op.StartedAt).Round(time.Second)})
	}
	t.AppendRow(table.Row{"Moves", fmt.Sprintf("%d/%d completed, %d failed", op.CompletedMoves, op.TotalMoves, op.FailedMoves)})
	t.AppendRow(table.Row{"Transferred", humanize.IBytes(uint64(op.TransferredBytes))})
	t.AppendRow(table.Row{"Profile", op.Profile})
	t.AppendRow(table.Row{"Strategy", op.Strategy})
	t.AppendRow(table.Row{"Target", fmt.Sprintf("%.1f%%", op.TargetPercent)})
	t.Render()

	transfers, err := queries.ListTransfers(database.Conn(), c.Operation)
	if err != nil {
		return err
	}
	if len(transfers) > 0 {
		fmt.Println()
		tt := table.NewWriter()
		tt.SetOutputMirror(os.Stdout)
		tt.SetStyle(table.StyleRounded)
		tt.AppendHeader(table.Row{"Unit", "From", "To", "Size", "Rate", "Result"})
		tt.SetColumnConfigs([]table.ColumnConfig{
			{Number: 4, Align: text.AlignRight},
			{Number: 5, Align: text.AlignRight},
		})
		for _, tr := range transfers {
			rate := ""
			if tr.RateBps.Valid {
				rate = humanize.IBytes(uint64(tr.RateBps.Float64)) + "/s"
			}
			result := "ok"
			if !tr.Success {
				result = "failed"
				if tr.ErrorMessage.Valid {
					result = "failed: " + tr.ErrorMessage.String
				}
			}
			tt.AppendRow(table.Row{
				tr.UnitPath, tr.SrcDisk, tr.DestDisk,
				humanize.IBytes(uint64(tr.SizeBytes)), rate, result,
			})
		}
		tt.Render()
	}

	since := time.Now().AddDate(0, 0, -c.Days)
	srcRates, err := queries.SourceDiskRates(database.Conn(), since)
	if err != nil {
		return err
	}
	if len(srcRates) > 0 {
		fmt.Println()
		rt := table.NewWriter()
		rt.SetOutputMirror(os.Stdout)
		rt.SetStyle(table.StyleRounded)
		rt.SetTitle(fmt.Sprintf("Source disk rates (last %d days)", c.Days))
		rt.AppendHeader(table.Row{"Disk", "Avg rate", "Transfers", "Succeeded"})
		for _, r := range srcRates {
			rt.AppendRow(table.Row{
				r.Disk, humanize.IBytes(uint64(r.AvgRate)) + "/s", r.Transfers, r.Succeeded,
			})
		}
		rt.Render()
	}
	return nil
}

// DBCmd groups metrics database maintenance.
type DBCmd struct {
	Stats     DBStatsCmd     `cmd:"" help:"Show database statistics"`
	Cleanup   DBCleanupCmd   `cmd:"" help:"Vacuum and analyze the database"`
	Retention DBRetentionCmd `cmd:"" help:"Delete operations older than the retention window"`
}

type DBStatsCmd struct{}

func (c *DBStatsCmd) Run(cli *CLI) error {
	logger := makeLogger(cli.LogLevel)
	cfg := config.New()

	database, err := db.Open(cfg.DBPath, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	stats, err := database.Stats(cfg.DBPath)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Database statistics")
	for _, key := range []string{"operations_count", "transfers_count", "system_metrics_count", "operation_errors_count", "schedules_count"} {
		t.AppendRow(table.Row{key, stats[key]})
	}
	if size, ok := stats["file_bytes"]; ok {
		t.AppendRow(table.Row{"file size", humanize.IBytes(uint64(size))})
	}
	t.Render()
	return nil
}

type DBCleanupCmd struct{}

func (c *DBCleanupCmd) Run(cli *CLI) error {
	logger := makeLogger(cli.LogLevel)
	cfg := config.New()

	database, err := db.Open(cfg.DBPath, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.Vacuum(); err != nil {
		return err
	}
	fmt.Println("Database maintenance complete.")
	return nil
}

type DBRetentionCmd struct {
	Days int `default:"90" help:"Keep operations newer than this many days"`
}

func (c *DBRetentionCmd) Run(cli *CLI) error {
	logger := makeLogger(cli.LogLevel)
	cfg := config.New()

	database, err := db.Open(cfg.DBPath, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	cutoff := time.Now().AddDate(0, 0, -c.Days)
	n, err := queries.DeleteOperationsBefore(database.Conn(), cutoff)
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d operation(s) older than %d days.\n", n, c.Days)
	return nil
}
