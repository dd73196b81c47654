package queries

import (
	"database/sql"
	"time"
)

// Operation is one rebalancing run's summary row.
type Operation struct {
	OperationID      string
	StartedAt        time.Time
	FinishedAt       sql.NullTime
	TotalMoves       int64
	CompletedMoves   int64
	FailedMoves      int64
	TotalBytes       int64
	TransferredBytes int64
	Profile          string
	Strategy         string
	TargetPercent    float64
}

func InsertOperation(db *sql.DB, op *Operation) error {
	_, err := db.Exec(`
		INSERT INTO operations (
			operation_id, started_at, total_moves, total_bytes,
			profile, strategy, target_percent
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`, op.OperationID, op.StartedAt.Unix(), op.TotalMoves, op.TotalBytes,
		op.Profile, op.Strategy, op.TargetPercent)
	return err
}

func UpdateOperation(db *sql.DB, op *Operation) error {
	var finishedAt interface{}
	if op.FinishedAt.Valid {
		finishedAt = op.FinishedAt.Time.Unix()
	}
	_, err := db.Exec(`
		UPDATE operations
		SET finished_at = ?, completed_moves = ?, failed_moves = ?, transferred_bytes = ?
		WHERE operation_id = ?
	`, finishedAt, op.CompletedMoves, op.FailedMoves, op.TransferredBytes, op.OperationID)
	return err
}

func GetOperation(db *sql.DB, operationID string) (*Operation, error) {
	var op Operation
	var startedAt int64
	var finishedAt sql.NullInt64

	err := db.QueryRow(`
		SELECT operation_id, started_at, finished_at, total_moves, completed_moves,
		       failed_moves, total_bytes, transferred_bytes, profile, strategy, target_percent
		FROM operations
		WHERE operation_id = ?
	`, operationID).Scan(
		&op.OperationID, &startedAt, &finishedAt, &op.TotalMoves, &op.CompletedMoves,
		&op.FailedMoves, &op.TotalBytes, &op.TransferredBytes, &op.Profile, &op.Strategy,
		&op.TargetPercent,
	)
	if err != nil {
		return nil, err
	}

	op.StartedAt = time.Unix(startedAt, 0)
	if finishedAt.Valid {
		op.FinishedAt = sql.NullTime{Time: time.Unix(finishedAt.Int64, 0), Valid: true}
	}
	return &op, nil
}

func ListOperations(db *sql.DB, limit int) ([]*Operation, error) {
	rows, err := db.Query(`
		SELECT operation_id, started_at, finished_at, total_moves, completed_moves,
		       failed_moves, total_bytes, transferred_bytes, profile, strategy, target_percent
		FROM operations
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []*Operation
	for rows.Next() {
		var op Operation
		var startedAt int64
		var finishedAt sql.NullInt64
		if err := rows.Scan(
			&op.OperationID, &startedAt, &finishedAt, &op.TotalMoves, &op.CompletedMoves,
			&op.FailedMoves, &op.TotalBytes, &op.TransferredBytes, &op.Profile, &op.Strategy,
			&op.TargetPercent,
		); err != nil {
			return nil, err
		}
		op.StartedAt = time.Unix(startedAt, 0)
		if finishedAt.Valid {
			op.FinishedAt = sql.NullTime{Time: time.Unix(finishedAt.Int64, 0), Valid: true}
		}
		ops = append(ops, &op)
	}
	return ops, rows.Err()
}

// DeleteOperationsBefore removes operations (and their child rows) older
// than the cutoff. Returns how many operations were deleted.
func DeleteOperationsBefore(db *sql.DB, cutoff time.Time) (int64, error) {
	for _, q := range []string{
		`DELETE FROM transfers WHERE operation_id IN (SELECT operation_id FROM operations WHERE started_at < ?)`,
		`DELETE FROM system_metrics WHERE operation_id IN (SELECT operation_id FROM operations WHERE started_at < ?)`,
		`DELETE FROM operation_errors WHERE operation_id IN (SELECT operation_id FROM operations WHERE started_at < ?)`,
	} {
		if _, err := db.Exec(q, cutoff.Unix()); err != nil {
			return 0, err
		}
	}
	res, err := db.Exec(`DELETE FROM operations WHERE started_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func InsertError(db *sql.DB, operationID, message string) error {
	_, err := db.Exec(`
		INSERT INTO operation_errors (operation_id, error_message, occurred_at)
		VALUES (?, ?, strftime('%s', 'now'))
	`, operationID, message)
	return err
}
