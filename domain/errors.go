package domain

import "errors"

// ErrTaskNotFound indicates a move referenced a task that is no longer
// present in the snapshot it was applied to.
var ErrTaskNotFound = errors.New("task not found")

// ErrGroupNotFound indicates a move referenced a destination group that is
// no longer present in the snapshot it was applied to.
var ErrGroupNotFound = errors.New("group not found")
