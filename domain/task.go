package domain

import "time"

// Status enumerates the workflow states a task moves through.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in-progress"
	StatusDone       Status = "done"
)

// Task represents a single board item on the client mirror. Its position
// inside a group is defined by array order, not by a stored field.
type Task struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"projectId"`
	SectionID string     `json:"sectionId,omitempty"`
	ParentID  string     `json:"parentId,omitempty"`
	Title     string     `json:"title"`
	Status    Status     `json:"status"`
	Assignees []string   `json:"assignees,omitempty"`
	DueDate   *time.Time `json:"dueDate,omitempty"`
}
