package queries

import (
	"database/sql"
	"time"
)

// Transfer is one per-move history row.
type Transfer struct {
	OperationID  string
	UnitPath     string
	SrcDisk      string
	DestDisk     string
	SizeBytes    int64
	StartedAt    time.Time
	FinishedAt   sql.NullTime
	Success      bool
	ErrorMessage sql.NullString
	RateBps      sql.NullFloat64
}

func InsertTransfer(db *sql.DB, t *Transfer) error {
	var finishedAt interface{}
	if t.FinishedAt.Valid {
		finishedAt = t.FinishedAt.Time.Unix()
	}
	_, err := db.Exec(`
		INSERT INTO transfers (
			operation_id, unit_path, src_disk, dest_disk, size_bytes,
			started_at, finished_at, success, error_message, rate_bps
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.OperationID, t.UnitPath, t.SrcDisk, t.DestDisk, t.SizeBytes,
		t.StartedAt.Unix(), finishedAt, t.Success, t.ErrorMessage, t.RateBps)
	return err
}

func ListTransfers(db *sql.DB, operationID string) ([]*Transfer, error) {
	rows, err := db.Query(`
		SELECT operation_id, unit_path, src_disk, dest_disk, size_bytes,
		       started_at, finished_at, success, error_message, rate_bps
		FROM transfers
		WHERE operation_id = ?
		ORDER BY started_at
	`, operationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transfers []*Transfer
	for rows.Next() {
		var t Transfer
		var startedAt int64
		var finishedAt sql.NullInt64
		if err := rows.Scan(
			&t.OperationID, &t.UnitPath, &t.SrcDisk, &t.DestDisk, &t.SizeBytes,
			&startedAt, &finishedAt, &t.Success, &t.ErrorMessage, &t.RateBps,
		); err != nil {
			return nil, err
		}
		t.StartedAt = time.Unix(startedAt, 0)
		if finishedAt.Valid {
			t.FinishedAt = sql.NullTime{Time: time.Unix(finishedAt.Int64, 0), Valid: true}
		}
		transfers = append(transfers, &t)
	}
	return transfers, rows.Err()
}

// DiskRate is the aggregated transfer performance of one disk.
type DiskRate struct {
	Disk      string
	AvgRate   float64
	Transfers int64
	Succeeded int64
}

// SourceDiskRates aggregates per-source-disk performance since the cutoff.
func SourceDiskRates(db *sql.DB, since time.Time) ([]*DiskRate, error) {
	return diskRates(db, "src_disk", since)
}

// DestDiskRates aggregates per-destination-disk performance since the cutoff.
func DestDiskRates(db *sql.DB, since time.Time) ([]*DiskRate, error) {
	return diskRates(db, "dest_disk", since)
}

func diskRates(db *sql.DB, col string, since time.Time) ([]*DiskRate, error) {
	rows, err := db.Query(`
		SELECT `+col+`, COALESCE(AVG(rate_bps), 0), COUNT(*), SUM(success)
		FROM transfers
		WHERE started_at >= ?
		GROUP BY `+col+`
		ORDER BY `+col, since.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rates []*DiskRate
	for rows.Next() {
		var r DiskRate
		if err := rows.Scan(&r.Disk, &r.AvgRate, &r.Transfers, &r.Succeeded); err != nil {
			return nil, err
		}
		rates = append(rates, &r)
	}
	return rates, rows.Err()
}

// InsertSystemMetric stores one resource usage sample.
func InsertSystemMetric(db *sql.DB, operationID string, sampledAt time.Time,
	cpuPercent, memPercent, readBps, writeBps float64) error {
	_, err := db.Exec(`
		INSERT INTO system_metrics (operation_id, sampled_at, cpu_percent, memory_percent, disk_read_bps, disk_write_bps)
		VALUES (?, ?, ?, ?, ?, ?)
	`, operationID, sampledAt.Unix(), cpuPercent, memPercent, readBps, writeBps)
	return err
}
