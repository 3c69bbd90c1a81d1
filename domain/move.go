package domain

// ItemKind discriminates what a move relocates.
type ItemKind string

const (
	ItemTask      ItemKind = "task"
	ItemChildTask ItemKind = "child-task"
)

// Move represents one relocation instruction produced by a drag gesture.
// It is transient: dispatched once, never stored. IdempotencyKey and
// Timestamp are stamped by the engine when the move is accepted.
type Move struct {
	IdempotencyKey string
	Kind           ItemKind
	TaskID         string
	ToGroupID      string
	ToIndex        int
	Timestamp      int64
}

// OverKind tells what kind of element a drag gesture ended on.
type OverKind string

const (
	// OverGroup is an empty-area drop on a group column.
	OverGroup OverKind = "group"
	// OverTask is a drop on another task.
	OverTask OverKind = "task"
)

// DragEnd describes the end of one drag gesture as reported by the drag
// interaction surface.
type DragEnd struct {
	ActiveID string
	OverID   string
	OverKind OverKind
}
