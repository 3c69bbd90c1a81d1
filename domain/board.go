package domain

import "time"

// BoardKind selects which grouping a snapshot mirrors.
type BoardKind string

const (
	// BoardSections groups a project's tasks by section.
	BoardSections BoardKind = "sections"
	// BoardSubtasks groups a project's child tasks by parent task.
	BoardSubtasks BoardKind = "subtasks"
)

// Group represents one ordered column of tasks: a section on a project
// board, or a parent task on a subtask board.
type Group struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Order     int       `json:"order"`
	CreatedAt time.Time `json:"createdAt"`
	Tasks     []Task    `json:"tasks"`
}

// Snapshot is the client's working copy of a board: an ordered list of
// groups, each carrying an ordered list of tasks. Snapshots are treated as
// immutable values; every mutation produces a new one.
type Snapshot struct {
	ProjectID string    `json:"projectId"`
	Kind      BoardKind `json:"kind"`
	Groups    []Group   `json:"groups"`
}

// Task returns the task with the given id wherever it currently sits.
func (s Snapshot) Task(id string) (Task, bool) {
	gi, ti, ok := locateTask(s, id)
	if !ok {
		return Task{}, false
	}
	return s.Groups[gi].Tasks[ti], true
}

// Group returns the group with the given id.
func (s Snapshot) Group(id string) (Group, bool) {
	gi, ok := locateGroup(s, id)
	if !ok {
		return Group{}, false
	}
	return s.Groups[gi], true
}

// TaskCount reports the number of tasks across all groups.
func (s Snapshot) TaskCount() int {
	n := 0
	for i := range s.Groups {
		n += len(s.Groups[i].Tasks)
	}
	return n
}
