package engine

import (
	log "github.com/sirupsen/logrus"

	"boardsync/domain"
)

// MoveFailure pairs a failed move with its error for notification consumers.
type MoveFailure struct {
	Move domain.Move
	Err  error
}

// LogNotifier reports move failures to the log only.
type LogNotifier struct {
	Logger *log.Logger
}

func (n *LogNotifier) MoveFailed(move domain.Move, err error) {
	logger := n.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	logger.WithError(err).WithFields(log.Fields{
		"task_id":     move.TaskID,
		"to_group_id": move.ToGroupID,
		"to_index":    move.ToIndex,
	}).Warn("task could not be moved")
}

// ChannelNotifier forwards failures to C. Sends never block: when the
// buffer is full the failure is dropped, so a slow consumer cannot stall
// move dispatch.
type ChannelNotifier struct {
	C chan MoveFailure
}

// NewChannelNotifier builds a notifier with the given buffer size, minimum
// one.
func NewChannelNotifier(buffer int) *ChannelNotifier {
	if buffer < 1 {
		buffer = 1
	}
	return &ChannelNotifier{C: make(chan MoveFailure, buffer)}
}

func (n *ChannelNotifier) MoveFailed(move domain.Move, err error) {
	select {
	case n.C <- MoveFailure{Move: move, Err: err}:
	default:
	}
}
