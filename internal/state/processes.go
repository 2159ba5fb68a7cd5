package state

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ShayCichocki/shepherd/pkg/models"
)

const processColumns = `
	p.id, p.type, p.status, p.pid, p.owner_pid, p.task_id,
	p.started_at, p.updated_at, p.ended_at, p.error, p.log_path,
	h.at, h.status, h.next_action`

const processFrom = `
	FROM processes p
	LEFT JOIN heartbeats h ON h.process_id = p.id AND h.current = 1`

// aliveStatuses is the SQL list of statuses that claim a live OS process.
const aliveStatuses = `('starting', 'running', 'needs-input')`

// ProcessFilter narrows ListProcesses. Zero values match everything.
type ProcessFilter struct {
	Statuses []models.ProcessStatus
	Type     models.ProcessType
	TaskID   string
	Limit    int
}

// CreateProcess inserts a new process record.
func (db *DB) CreateProcess(p *models.Process) error {
	_, err := db.Exec(`
		INSERT INTO processes (id, type, status, pid, owner_pid, task_id, started_at, updated_at, error, log_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, string(p.Type), string(p.Status), p.PID, p.OwnerPID, p.TaskID,
		formatTime(p.StartedAt), formatTime(p.UpdatedAt), p.Error, p.LogPath)
	if err != nil {
		return fmt.Errorf("create process: %w", err)
	}
	return nil
}

// GetProcess retrieves a process with its current heartbeat.
func (db *DB) GetProcess(id string) (*models.Process, error) {
	row := db.QueryRow(`SELECT `+processColumns+processFrom+` WHERE p.id = ?`, id)
	p, err := scanProcess(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NotFoundf("process %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get process: %w", err)
	}
	return p, nil
}

// ListProcesses lists processes newest first.
func (db *DB) ListProcesses(f ProcessFilter) ([]*models.Process, error) {
	var where []string
	var args []any
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			marks[i] = "?"
			args = append(args, string(s))
		}
		where = append(where, "p.status IN ("+strings.Join(marks, ", ")+")")
	}
	if f.Type != "" {
		where = append(where, "p.type = ?")
		args = append(args, string(f.Type))
	}
	if f.TaskID != "" {
		where = append(where, "p.task_id = ?")
		args = append(args, f.TaskID)
	}

	query := `SELECT ` + processColumns + processFrom
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY p.started_at DESC, p.id"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	defer rows.Close()

	var out []*models.Process
	for rows.Next() {
		p, err := scanProcess(rows)
		if err != nil {
			return nil, fmt.Errorf("scan process: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// AttachProcess records the worker PID and marks the process running.
func (db *DB) AttachProcess(id string, pid int, now time.Time) error {
	res, err := db.Exec(`
		UPDATE processes SET pid = ?, status = 'running', updated_at = ?
		WHERE id = ? AND status IN `+aliveStatuses,
		pid, formatTime(now), id)
	if err != nil {
		return fmt.Errorf("attach process: %w", err)
	}
	return db.expectOne(res, id)
}

// SetProcessStatus changes the status of a live process.
func (db *DB) SetProcessStatus(id string, status models.ProcessStatus, now time.Time) error {
	res, err := db.Exec(`
		UPDATE processes SET status = ?, updated_at = ?
		WHERE id = ? AND status IN `+aliveStatuses,
		string(status), formatTime(now), id)
	if err != nil {
		return fmt.Errorf("set process status: %w", err)
	}
	return db.expectOne(res, id)
}

// StopProcess moves a live process to stopped and reports whether this call
// made the change. Concurrent callers race on the conditional update, so only
// one of them sees true.
func (db *DB) StopProcess(id, errMsg string, now time.Time) (bool, error) {
	ts := formatTime(now)
	res, err := db.Exec(`
		UPDATE processes SET status = 'stopped', error = ?, ended_at = ?, updated_at = ?
		WHERE id = ? AND status IN `+aliveStatuses,
		errMsg, ts, ts, id)
	if err != nil {
		return false, fmt.Errorf("stop process: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return n == 1, nil
}

// RecordHeartbeat replaces the current heartbeat of a live process in one
// transaction. Stopped processes reject heartbeats.
func (db *DB) RecordHeartbeat(id string, hb models.Heartbeat) error {
	return db.Transaction(func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRow("SELECT status FROM processes WHERE id = ?", id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return models.NotFoundf("process %s", id)
		}
		if err != nil {
			return fmt.Errorf("read process status: %w", err)
		}
		if !models.ProcessStatus(status).Alive() {
			return models.InvalidTransitionf("process %s is %s", id, status)
		}

		if _, err := tx.Exec("UPDATE heartbeats SET current = 0 WHERE process_id = ? AND current = 1", id); err != nil {
			return fmt.Errorf("retire heartbeat: %w", err)
		}
		ts := formatTime(hb.At)
		if _, err := tx.Exec(`
			INSERT INTO heartbeats (process_id, at, status, next_action, current)
			VALUES (?, ?, ?, ?, 1)
		`, id, ts, hb.Status, hb.NextAction); err != nil {
			return fmt.Errorf("insert heartbeat: %w", err)
		}
		if _, err := tx.Exec("UPDATE processes SET updated_at = ? WHERE id = ?", ts, id); err != nil {
			return fmt.Errorf("touch process: %w", err)
		}
		return nil
	})
}

// HeartbeatHistory returns every heartbeat of a process, oldest first.
func (db *DB) HeartbeatHistory(id string) ([]models.Heartbeat, error) {
	rows, err := db.Query(`
		SELECT at, status, next_action FROM heartbeats WHERE process_id = ? ORDER BY id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("heartbeat history: %w", err)
	}
	defer rows.Close()

	var out []models.Heartbeat
	for rows.Next() {
		var hb models.Heartbeat
		var at string
		if err := rows.Scan(&at, &hb.Status, &hb.NextAction); err != nil {
			return nil, fmt.Errorf("scan heartbeat: %w", err)
		}
		hb.At, _ = parseTime(at)
		out = append(out, hb)
	}
	return out, rows.Err()
}

// PurgeStoppedProcesses deletes stopped processes that ended before cutoff and
// returns them so callers can remove their logs.
func (db *DB) PurgeStoppedProcesses(cutoff time.Time) ([]*models.Process, error) {
	stale, err := db.ListProcesses(ProcessFilter{Statuses: []models.ProcessStatus{models.ProcessStatusStopped}})
	if err != nil {
		return nil, err
	}
	var purged []*models.Process
	for _, p := range stale {
		if p.EndedAt == nil || !p.EndedAt.Before(cutoff) {
			continue
		}
		if _, err := db.Exec("DELETE FROM processes WHERE id = ? AND status = 'stopped'", p.ID); err != nil {
			return purged, fmt.Errorf("purge process %s: %w", p.ID, err)
		}
		purged = append(purged, p)
	}
	return purged, nil
}

// expectOne converts a zero-row update into NotFound or InvalidTransition.
func (db *DB) expectOne(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}
	p, err := db.GetProcess(id)
	if err != nil {
		return err
	}
	return models.InvalidTransitionf("process %s is %s", id, p.Status)
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanProcess(r rowScanner) (*models.Process, error) {
	var p models.Process
	var typ, status, startedAt, updatedAt string
	var endedAt, hbAt, hbStatus, hbNext sql.NullString
	err := r.Scan(&p.ID, &typ, &status, &p.PID, &p.OwnerPID, &p.TaskID,
		&startedAt, &updatedAt, &endedAt, &p.Error, &p.LogPath,
		&hbAt, &hbStatus, &hbNext)
	if err != nil {
		return nil, err
	}
	p.Type = models.ProcessType(typ)
	p.Status = models.ProcessStatus(status)
	p.StartedAt, _ = parseTime(startedAt)
	p.UpdatedAt, _ = parseTime(updatedAt)
	p.EndedAt = parseNullableTime(endedAt)
	if hbAt.Valid {
		at, _ := parseTime(hbAt.String)
		p.Heartbeat = &models.Heartbeat{At: at, Status: hbStatus.String, NextAction: hbNext.String}
	}
	return &p, nil
}
