package engine

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"boardsync/domain"
)

// Source is the board data source a Board fetches from and submits to.
type Source interface {
	// Fetch returns the authoritative snapshot of the board.
	Fetch(ctx context.Context) (domain.Snapshot, error)
	// Submit persists a non-empty batch of moves. Success or failure applies
	// to the batch as a whole.
	Submit(ctx context.Context, moves []domain.Move) error
}

// Notifier receives user-facing failure notifications. Implementations must
// not block; notifications are fire-and-forget.
type Notifier interface {
	MoveFailed(move domain.Move, err error)
}

// Config carries the knobs for a Board. Zero values get defaults.
type Config struct {
	// Logger receives structured engine logs. Defaults to a fresh logrus
	// logger.
	Logger *log.Logger
	// Notifier surfaces failed moves to the user. Defaults to LogNotifier.
	Notifier Notifier
	// SubmitTimeout bounds one move-persistence call. Defaults to 30s.
	SubmitTimeout time.Duration
	// FetchTimeout bounds one snapshot fetch. Defaults to 15s.
	FetchTimeout time.Duration
	// DisableFailureResync turns off the background authoritative fetch
	// that normally follows a failed move.
	DisableFailureResync bool
}

const (
	defaultSubmitTimeout = 30 * time.Second
	defaultFetchTimeout  = 15 * time.Second
)
