// Package mission breaks a large objective into a dependency graph of
// pipeline runs and derives a kanban view over it. The mission layer is a
// consumer of the orchestration core: each task eventually becomes one run.
package mission

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mthorpe/conveyor/internal/domain"
)

// TaskState is the kanban state of one mission task.
type TaskState string

const (
	TaskBlocked      TaskState = "blocked"
	TaskReady        TaskState = "ready"
	TaskInProgress   TaskState = "in_progress"
	TaskWaitingHuman TaskState = "waiting_human"
	TaskDone         TaskState = "done"
	TaskFailed       TaskState = "failed"
)

// Task is one node in the mission graph.
type Task struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	DependsOn []string  `json:"depends_on,omitempty"`
	RunID     string    `json:"run_id,omitempty"`
	State     TaskState `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Mission groups the tasks for one objective.
type Mission struct {
	ID        string    `json:"id"`
	Objective string    `json:"objective"`
	Tasks     []*Task   `json:"tasks"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMission creates an empty mission.
func NewMission(objective string) *Mission {
	return &Mission{
		ID:        uuid.NewString(),
		Objective: objective,
		CreatedAt: time.Now().UTC(),
	}
}

// AddTask appends a task depending on the given task ids.
func (m *Mission) AddTask(title string, dependsOn ...string) (*Task, error) {
	for _, dep := range dependsOn {
		if m.task(dep) == nil {
			return nil, fmt.Errorf("unknown dependency %q", dep)
		}
	}
	now := time.Now().UTC()
	t := &Task{
		ID:        uuid.NewString(),
		Title:     title,
		DependsOn: dependsOn,
		State:     TaskBlocked,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.Tasks = append(m.Tasks, t)
	m.Recalculate()
	return t, nil
}

func (m *Mission) task(id string) *Task {
	for _, t := range m.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// Recalculate derives blocked/ready states from the graph: a task with no
// attached run is ready once every dependency is done, blocked otherwise.
// Tasks with attached runs keep their run-derived state.
func (m *Mission) Recalculate() {
	for _, t := range m.Tasks {
		if t.State == TaskDone || t.State == TaskFailed ||
			t.State == TaskInProgress || t.State == TaskWaitingHuman {
			continue
		}
		ready := true
		for _, dep := range t.DependsOn {
			if d := m.task(dep); d == nil || d.State != TaskDone {
				ready = false
				break
			}
		}
		if ready {
			t.State = TaskReady
		} else {
			t.State = TaskBlocked
		}
	}
}

// StateForPhase maps a run phase onto a task state.
func StateForPhase(p domain.Phase) TaskState {
	switch p {
	case domain.PhaseCompleted:
		return TaskDone
	case domain.PhaseFailed:
		return TaskFailed
	case domain.PhaseWaitingHuman:
		return TaskWaitingHuman
	default:
		return TaskInProgress
	}
}

// AttachRun binds a run to a task and updates the derived state.
func (m *Mission) AttachRun(taskID, runID string, p domain.Phase) error {
	t := m.task(taskID)
	if t == nil {
		return fmt.Errorf("unknown task %q", taskID)
	}
	t.RunID = runID
	t.State = StateForPhase(p)
	t.UpdatedAt = time.Now().UTC()
	m.Recalculate()
	return nil
}

// Columns is the fixed kanban column order.
var Columns = []TaskState{TaskBlocked, TaskReady, TaskInProgress, TaskWaitingHuman, TaskDone, TaskFailed}

// Board groups a mission's tasks into kanban columns.
func (m *Mission) Board() map[TaskState][]*Task {
	board := make(map[TaskState][]*Task, len(Columns))
	for _, c := range Columns {
		board[c] = []*Task{}
	}
	for _, t := range m.Tasks {
		board[t.State] = append(board[t.State], t)
	}
	return board
}

// Validate rejects dependency cycles via depth-first traversal.
func (m *Mission) Validate() error {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(m.Tasks))

	var visit func(id string, trail []string) error
	visit = func(id string, trail []string) error {
		switch color[id] {
		case grey:
			return fmt.Errorf("dependency cycle: %s", strings.Join(append(trail, id), " -> "))
		case black:
			return nil
		}
		color[id] = grey
		t := m.task(id)
		if t == nil {
			return fmt.Errorf("unknown task %q", id)
		}
		for _, dep := range t.DependsOn {
			if err := visit(dep, append(trail, id)); err != nil {
				return err
			}
		}
		color[id] = black
		return nil
	}

	for _, t := range m.Tasks {
		if err := visit(t.ID, nil); err != nil {
			return err
		}
	}
	return nil
}
