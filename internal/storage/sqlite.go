// Package storage journals simulator runs and the events they emitted.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mpataki/flowwatch/internal/models"
	"github.com/mpataki/flowwatch/internal/xjson"
)

var ErrRunNotFound = errors.New("run not found")

type Storage struct {
	db *sql.DB
}

func New(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One writer at a time; concurrent simulator runs share the handle.
	db.SetMaxOpenConns(1)

	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate %s: %w", dbPath, err)
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) migrate() error {
	schema := `
	PRAGMA foreign_keys = ON;

	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		workflow_id TEXT NOT NULL,
		execution_id TEXT NOT NULL,
		source TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		current_node TEXT,
		error TEXT
	);

	CREATE TABLE IF NOT EXISTS steps (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		execution_id TEXT NOT NULL,
		node_id TEXT NOT NULL,
		status TEXT NOT NULL,
		emitted_at TIMESTAMP NOT NULL,
		sequence_num INTEGER NOT NULL,
		data TEXT,
		UNIQUE(run_id, sequence_num)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_workflow ON runs(workflow_id);
	CREATE INDEX IF NOT EXISTS idx_steps_run ON steps(run_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *Storage) CreateRun(run *models.Run) (int64, error) {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	result, err := s.db.Exec(
		`INSERT INTO runs (created_at, workflow_id, execution_id, source, status, current_node)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.CreatedAt, run.WorkflowID, run.ExecutionID, run.Source, run.Status, run.CurrentNode,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

const runColumns = `id, created_at, completed_at, workflow_id, execution_id, source, status, current_node, error`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*models.Run, error) {
	var run models.Run
	var completedAt sql.NullTime
	var currentNode, runErr sql.NullString

	err := row.Scan(
		&run.ID, &run.CreatedAt, &completedAt, &run.WorkflowID,
		&run.ExecutionID, &run.Source, &run.Status, &currentNode, &runErr,
	)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	run.CurrentNode = currentNode.String
	run.Error = runErr.String
	return &run, nil
}

func (s *Storage) GetRun(id int64) (*models.Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrRunNotFound, id)
	}
	return run, err
}

func (s *Storage) UpdateRun(run *models.Run) error {
	result, err := s.db.Exec(
		`UPDATE runs SET completed_at = ?, status = ?, current_node = ?, execution_id = ?, error = ? WHERE id = ?`,
		run.CompletedAt, run.Status, run.CurrentNode, run.ExecutionID, run.Error, run.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", ErrRunNotFound, run.ID)
	}
	return nil
}

// ListRuns returns the newest runs first.
func (s *Storage) ListRuns(limit int) ([]*models.Run, error) {
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

func (s *Storage) CreateStep(step *models.Step) (int64, error) {
	var dataJSON *string
	if step.Data != nil {
		data, err := xjson.Marshal(step.Data)
		if err != nil {
			return 0, err
		}
		str := string(data)
		dataJSON = &str
	}

	result, err := s.db.Exec(
		`INSERT INTO steps (run_id, execution_id, node_id, status, emitted_at, sequence_num, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		step.RunID, step.ExecutionID, step.NodeID, step.Status,
		step.EmittedAt, step.SequenceNum, dataJSON,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *Storage) GetStepsForRun(runID int64) ([]*models.Step, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, execution_id, node_id, status, emitted_at, sequence_num, data
		 FROM steps WHERE run_id = ? ORDER BY sequence_num`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*models.Step
	for rows.Next() {
		var step models.Step
		var dataJSON sql.NullString

		err := rows.Scan(
			&step.ID, &step.RunID, &step.ExecutionID, &step.NodeID,
			&step.Status, &step.EmittedAt, &step.SequenceNum, &dataJSON,
		)
		if err != nil {
			return nil, err
		}

		if dataJSON.Valid {
			var data models.EventData
			if err := xjson.Unmarshal([]byte(dataJSON.String), &data); err == nil {
				step.Data = &data
			}
		}

		steps = append(steps, &step)
	}

	return steps, rows.Err()
}

func (s *Storage) DeleteRun(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM steps WHERE run_id = ?`, id); err != nil {
		return err
	}
	result, err := tx.Exec(`DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", ErrRunNotFound, id)
	}

	return tx.Commit()
}
