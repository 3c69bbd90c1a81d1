package domain

// Resolve translates a drag-end event into the move it implies against the
// given snapshot. The boolean reports whether the gesture has any effect:
// a missing drop target, an active item that is not a task on the board, or
// a drop landing on the starting position all resolve to false and no move.
//
// Destination semantics: a drop on a group appends to the end of that
// group's list; a drop on a task inserts directly before that task. For a
// same-group move the returned index is the post-removal insertion index,
// so applying the move lands the dragged task exactly before the target.
func Resolve(s Snapshot, ev DragEnd) (Move, bool) {
	if ev.OverID == "" {
		return Move{}, false
	}
	fromGi, fromTi, ok := locateTask(s, ev.ActiveID)
	if !ok {
		return Move{}, false
	}

	var toGi, toIndex int
	switch ev.OverKind {
	case OverGroup:
		if s.Kind == BoardSubtasks {
			// subtask boards are list-only: no empty-area drops
			return Move{}, false
		}
		gi, ok := locateGroup(s, ev.OverID)
		if !ok {
			return Move{}, false
		}
		toGi, toIndex = gi, len(s.Groups[gi].Tasks)
	case OverTask:
		gi, ti, ok := locateTask(s, ev.OverID)
		if !ok {
			return Move{}, false
		}
		toGi, toIndex = gi, ti
	default:
		return Move{}, false
	}

	if toGi == fromGi {
		eff := toIndex
		if fromTi < toIndex {
			eff = toIndex - 1
		}
		if eff == fromTi {
			return Move{}, false
		}
		toIndex = eff
	}

	return Move{
		Kind:      itemKindFor(s.Kind),
		TaskID:    ev.ActiveID,
		ToGroupID: s.Groups[toGi].ID,
		ToIndex:   toIndex,
	}, true
}

// Apply returns a new snapshot with the move applied. The input snapshot is
// never mutated, and groups the move does not touch keep their backing
// arrays, so callers can hold earlier snapshots safely.
//
// The moved task is looked up by identifier, never by a remembered index;
// a move whose task or destination group has vanished reports the matching
// sentinel error and leaves nothing half-applied.
func Apply(s Snapshot, m Move) (Snapshot, error) {
	fromGi, fromTi, ok := locateTask(s, m.TaskID)
	if !ok {
		return Snapshot{}, ErrTaskNotFound
	}
	toGi, ok := locateGroup(s, m.ToGroupID)
	if !ok {
		return Snapshot{}, ErrGroupNotFound
	}

	next := s
	next.Groups = make([]Group, len(s.Groups))
	copy(next.Groups, s.Groups)

	task := next.Groups[fromGi].Tasks[fromTi]
	if fromGi == toGi {
		tasks := removeTaskAt(next.Groups[fromGi].Tasks, fromTi)
		next.Groups[fromGi].Tasks = insertTask(tasks, task, clampIndex(m.ToIndex, len(tasks)))
		return next, nil
	}

	moved := task
	switch s.Kind {
	case BoardSubtasks:
		moved.ParentID = m.ToGroupID
	default:
		moved.SectionID = m.ToGroupID
	}
	next.Groups[fromGi].Tasks = removeTaskAt(next.Groups[fromGi].Tasks, fromTi)
	next.Groups[toGi].Tasks = insertTask(next.Groups[toGi].Tasks, moved, clampIndex(m.ToIndex, len(next.Groups[toGi].Tasks)))
	return next, nil
}

func itemKindFor(kind BoardKind) ItemKind {
	if kind == BoardSubtasks {
		return ItemChildTask
	}
	return ItemTask
}

func locateTask(s Snapshot, id string) (int, int, bool) {
	if id == "" {
		return 0, 0, false
	}
	for gi := range s.Groups {
		for ti := range s.Groups[gi].Tasks {
			if s.Groups[gi].Tasks[ti].ID == id {
				return gi, ti, true
			}
		}
	}
	return 0, 0, false
}

func locateGroup(s Snapshot, id string) (int, bool) {
	if id == "" {
		return 0, false
	}
	for gi := range s.Groups {
		if s.Groups[gi].ID == id {
			return gi, true
		}
	}
	return 0, false
}

func clampIndex(i, max int) int {
	if i < 0 {
		return 0
	}
	if i > max {
		return max
	}
	return i
}

func removeTaskAt(tasks []Task, at int) []Task {
	next := make([]Task, 0, len(tasks)-1)
	next = append(next, tasks[:at]...)
	return append(next, tasks[at+1:]...)
}

func insertTask(tasks []Task, t Task, at int) []Task {
	next := make([]Task, 0, len(tasks)+1)
	next = append(next, tasks[:at]...)
	next = append(next, t)
	return append(next, tasks[at:]...)
}
