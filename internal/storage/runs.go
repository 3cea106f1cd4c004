package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/gantry-app/gantry/internal/bridge"
)

// RecordStart inserts a new run row when the backend process spawns.
func (s *RunStore) RecordStart(id string, pid int, restartOrdinal int, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"INSERT INTO runs (id, pid, restart_ordinal, started_at) VALUES (?, ?, ?, ?)",
		id, pid, restartOrdinal, startedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecordPort stores the discovered port for a run.
func (s *RunStore) RecordPort(id string, port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("UPDATE runs SET port = ? WHERE id = ?", port, id)
	if err != nil {
		return fmt.Errorf("update run port: %w", err)
	}
	return checkRowFound(res)
}

// RecordExit stores the exit code and end time for a run.
func (s *RunStore) RecordExit(id string, exitCode int, endedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		"UPDATE runs SET exit_code = ?, ended_at = ? WHERE id = ?",
		exitCode, endedAt.UnixMilli(), id,
	)
	if err != nil {
		return fmt.Errorf("update run exit: %w", err)
	}
	return checkRowFound(res)
}

// RecentRuns returns up to limit runs, newest first.
func (s *RunStore) RecentRuns(limit int) ([]bridge.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, pid, port, restart_ordinal, started_at, ended_at, exit_code
		 FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []bridge.RunSummary
	for rows.Next() {
		var r bridge.RunSummary
		var port, endedAt, exitCode sql.NullInt64
		if err := rows.Scan(&r.ID, &r.PID, &port, &r.RestartOrdinal, &r.StartedAt, &endedAt, &exitCode); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if port.Valid {
			r.Port = int(port.Int64)
		}
		if endedAt.Valid {
			r.EndedAt = endedAt.Int64
		}
		if exitCode.Valid {
			code := int(exitCode.Int64)
			r.ExitCode = &code
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// checkRowFound converts a zero-row update into ErrRunNotFound.
func checkRowFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrRunNotFound
	}
	return nil
}

// PruneRuns deletes all but the newest keep runs. The history is a
// diagnostic aid, not an audit log, so it stays small.
func (s *RunStore) PruneRuns(keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`DELETE FROM runs WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC, id DESC LIMIT ?
		)`, keep)
	if err != nil {
		return fmt.Errorf("prune runs: %w", err)
	}
	return nil
}
