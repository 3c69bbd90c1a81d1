package engine

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

const defaultPollInterval = 15 * time.Second

// Poller drives periodic background refreshes of a board so remote edits
// show up without any gesture.
type Poller struct {
	Board    *Board
	Interval time.Duration
	Logger   *log.Logger
}

// Run refreshes the board every interval until ctx is cancelled. Fetch
// errors are logged at warn; the loop keeps going.
func (p *Poller) Run(ctx context.Context) {
	interval := p.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	logger := p.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Board.Refresh(ctx); err != nil {
				logger.WithError(err).Warn("board poll failed")
			}
		}
	}
}
