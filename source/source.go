// Package source connects a board engine to the task API over HTTP and
// optionally caches fetched snapshots in Redis.
package source

import (
	"fmt"

	"boardsync/domain"
)

// sectionBoardResponse mirrors GET /api/projects/{id}/board.
type sectionBoardResponse struct {
	ProjectID string         `json:"projectId"`
	Sections  []domain.Group `json:"sections"`
}

// subtaskBoardResponse mirrors GET /api/projects/{id}/subtasks.
type subtaskBoardResponse struct {
	ProjectID string         `json:"projectId"`
	Parents   []domain.Group `json:"parents"`
}

// moveRequest is one element of the POST /api/projects/{id}/moves payload.
// The target field depends on itemType: tasks move between sections, child
// tasks between parent tasks.
type moveRequest struct {
	IdempotencyKey string `json:"idempotencyKey"`
	ItemType       string `json:"itemType"`
	TaskID         string `json:"taskId"`
	ToSectionID    string `json:"toSectionId,omitempty"`
	ToParentID     string `json:"toParentId,omitempty"`
	ToIndex        int    `json:"toIndex"`
	Timestamp      int64  `json:"timestamp"`
}

// moveResponse acknowledges persisted moves by idempotency key.
type moveResponse struct {
	IdempotencyKeys []string `json:"idempotencyKeys"`
}

// RequestError reports a non-2xx API response.
type RequestError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *RequestError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.Path, e.Status, e.Body)
}
