package mission

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// BoardStore persists missions and their tasks in sqlite so the kanban view
// survives restarts and can be queried without walking run directories.
type BoardStore struct {
	db *sql.DB
}

// OpenBoard opens (and migrates) the mission database.
func OpenBoard(dbPath string) (*BoardStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open mission db: %w", err)
	}

	s := &BoardStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close releases the database handle.
func (s *BoardStore) Close() error {
	return s.db.Close()
}

func (s *BoardStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS missions (
		id TEXT PRIMARY KEY,
		objective TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		mission_id TEXT NOT NULL REFERENCES missions(id) ON DELETE CASCADE,
		title TEXT NOT NULL,
		depends_on TEXT NOT NULL DEFAULT '',
		run_id TEXT,
		state TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_mission ON tasks(mission_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_state ON tasks(state);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveMission upserts a mission and all its tasks.
func (s *BoardStore) SaveMission(m *Mission) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO missions (id, objective, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET objective = excluded.objective`,
		m.ID, m.Objective, m.CreatedAt,
	)
	if err != nil {
		return err
	}

	for _, t := range m.Tasks {
		_, err = tx.Exec(
			`INSERT INTO tasks (id, mission_id, title, depends_on, run_id, state, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
				 title = excluded.title,
				 depends_on = excluded.depends_on,
				 run_id = excluded.run_id,
				 state = excluded.state,
				 updated_at = excluded.updated_at`,
			t.ID, m.ID, t.Title, strings.Join(t.DependsOn, ","),
			nullString(t.RunID), string(t.State), t.CreatedAt, t.UpdatedAt,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetMission loads a mission with its tasks.
func (s *BoardStore) GetMission(id string) (*Mission, error) {
	row := s.db.QueryRow(`SELECT id, objective, created_at FROM missions WHERE id = ?`, id)

	m := &Mission{}
	if err := row.Scan(&m.ID, &m.Objective, &m.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("mission not found: %s", id)
		}
		return nil, err
	}

	tasks, err := s.loadTasks(m.ID)
	if err != nil {
		return nil, err
	}
	m.Tasks = tasks
	return m, nil
}

// LatestMission returns the most recently created mission, or nil.
func (s *BoardStore) LatestMission() (*Mission, error) {
	row := s.db.QueryRow(`SELECT id FROM missions ORDER BY created_at DESC LIMIT 1`)
	var id string
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return s.GetMission(id)
}

// ListMissions returns mission summaries, newest first.
func (s *BoardStore) ListMissions(limit int) ([]*Mission, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, objective, created_at FROM missions ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Mission
	for rows.Next() {
		m := &Mission{}
		if err := rows.Scan(&m.ID, &m.Objective, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateTaskState sets one task's state and run binding.
func (s *BoardStore) UpdateTaskState(taskID string, runID string, state TaskState) error {
	res, err := s.db.Exec(
		`UPDATE tasks SET run_id = ?, state = ?, updated_at = ? WHERE id = ?`,
		nullString(runID), string(state), time.Now().UTC(), taskID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("task not found: %s", taskID)
	}
	return nil
}

func (s *BoardStore) loadTasks(missionID string) ([]*Task, error) {
	rows, err := s.db.Query(
		`SELECT id, title, depends_on, run_id, state, created_at, updated_at
		 FROM tasks WHERE mission_id = ? ORDER BY created_at`, missionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t := &Task{}
		var deps string
		var runID sql.NullString
		var state string
		if err := rows.Scan(&t.ID, &t.Title, &deps, &runID, &state, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		if deps != "" {
			t.DependsOn = strings.Split(deps, ",")
		}
		if runID.Valid {
			t.RunID = runID.String
		}
		t.State = TaskState(state)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
