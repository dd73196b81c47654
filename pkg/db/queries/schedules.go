package queries

import (
	"database/sql"
	"time"
)

// Schedule is one configured recurring rebalance.
type Schedule struct {
	ScheduleID      string
	Name            string
	CronExpression  string
	TargetPercent   float64
	HeadroomPercent float64
	Profile         string
	Strategy        string
	MaxRuntimeHours int64
	Enabled         bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func InsertSchedule(db *sql.DB, s *Schedule) error {
	_, err := db.Exec(`
		INSERT INTO schedules (
			schedule_id, name, cron_expression, target_percent, headroom_percent,
			profile, strategy, max_runtime_hours, enabled
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ScheduleID, s.Name, s.CronExpression, s.TargetPercent, s.HeadroomPercent,
		s.Profile, s.Strategy, s.MaxRuntimeHours, s.Enabled)
	return err
}

func GetSchedule(db *sql.DB, scheduleID string) (*Schedule, error) {
	row := db.QueryRow(`
		SELECT schedule_id, name, cron_expression, target_percent, headroom_percent,
		       profile, strategy, max_runtime_hours, enabled, created_at, updated_at
		FROM schedules
		WHERE schedule_id = ?
	`, scheduleID)
	return scanSchedule(row)
}

func ListSchedules(db *sql.DB) ([]*Schedule, error) {
	rows, err := db.Query(`
		SELECT schedule_id, name, cron_expression, target_percent, headroom_percent,
		       profile, strategy, max_runtime_hours, enabled, created_at, updated_at
		FROM schedules
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []*Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

func SetScheduleEnabled(db *sql.DB, scheduleID string, enabled bool) error {
	res, err := db.Exec(`
		UPDATE schedules
		SET enabled = ?, updated_at = strftime('%s', 'now')
		WHERE schedule_id = ?
	`, enabled, scheduleID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func DeleteSchedule(db *sql.DB, scheduleID string) error {
	res, err := db.Exec(`DELETE FROM schedules WHERE schedule_id = ?`, scheduleID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSchedule(row rowScanner) (*Schedule, error) {
	var s Schedule
	var createdAt, updatedAt int64
	err := row.Scan(
		&s.ScheduleID, &s.Name, &s.CronExpression, &s.TargetPercent, &s.HeadroomPercent,
		&s.Profile, &s.Strategy, &s.MaxRuntimeHours, &s.Enabled, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.CreatedAt = time.Unix(createdAt, 0)
	s.UpdatedAt = time.Unix(updatedAt, 0)
	return &s, nil
}
