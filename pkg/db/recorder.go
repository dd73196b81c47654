package db

import (
	"database/sql"
	"time"

	"github.com/elee1766/gorebal/pkg/db/queries"
	"github.com/elee1766/gorebal/pkg/planner"
)

// TransferRecorder persists per-move outcomes for one operation. It
// satisfies the engine's Recorder interface.
type TransferRecorder struct {
	db          *DB
	operationID string
}

// NewTransferRecorder creates a recorder bound to an operation id.
func (db *DB) NewTransferRecorder(operationID string) *TransferRecorder {
	return &TransferRecorder{db: db, operationID: operationID}
}

// RecordTransfer stores one finished move.
func (r *TransferRecorder) RecordTransfer(opID string, m *planner.Move, start, end time.Time, success bool, errMsg string) {
	t := &queries.Transfer{
		OperationID: r.operationID,
		UnitPath:    m.Share + "/" + m.RelPath,
		SrcDisk:     m.SrcDisk,
		DestDisk:    m.DestDisk,
		SizeBytes:   m.SizeBytes,
		StartedAt:   start,
		FinishedAt:  sql.NullTime{Time: end, Valid: true},
		Success:     success,
	}
	if errMsg != "" {
		t.ErrorMessage = sql.NullString{String: errMsg, Valid: true}
	}
	if dur := end.Sub(start).Seconds(); success && dur > 0 {
		t.RateBps = sql.NullFloat64{Float64: float64(m.SizeBytes) / dur, Valid: true}
	}
	if err := queries.InsertTransfer(r.db.conn, t); err != nil {
		r.db.logger.Error("failed to record transfer", "unit", t.UnitPath, "error", err)
	}
	if errMsg != "" {
		if err := queries.InsertError(r.db.conn, r.operationID, t.UnitPath+": "+errMsg); err != nil {
			r.db.logger.Error("failed to record error", "error", err)
		}
	}
}
