package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"boardsync/domain"
)

// Board is a live client-side mirror of one board's group/task ordering.
// A drag gesture reorders the rendered snapshot synchronously and is
// persisted asynchronously, one in-flight move at a time; the server stays
// authoritative through a fresh fetch after every settled move.
//
// The rendered snapshot is always the last accepted server snapshot with
// the queued moves re-applied on top, so a background refetch can never
// erase a pending speculative edit.
type Board struct {
	src      Source
	notifier Notifier
	logger   *log.Logger

	submitTimeout time.Duration
	fetchTimeout  time.Duration
	resyncOnFail  bool

	broker *changeBroker

	ctx    context.Context
	cancel context.CancelFunc

	mu              sync.Mutex
	confirmed       domain.Snapshot
	view            domain.Snapshot
	queue           []domain.Move
	settled         []settledMove
	dispatching     bool
	dragging        string
	fetchTicket     uint64
	confirmedTicket uint64
	closed          bool
}

// settledMove is a move the server accepted whose confirming refetch has
// not landed yet. It stays applied to the view until a snapshot fetched
// after its submission is accepted.
type settledMove struct {
	move   domain.Move
	ticket uint64
}

// NewBoard wires a board against its data source. Call Load before use.
func NewBoard(src Source, cfg Config) *Board {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = &LogNotifier{Logger: logger}
	}
	submitTimeout := cfg.SubmitTimeout
	if submitTimeout <= 0 {
		submitTimeout = defaultSubmitTimeout
	}
	fetchTimeout := cfg.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = defaultFetchTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Board{
		src:           src,
		notifier:      notifier,
		logger:        logger,
		submitTimeout: submitTimeout,
		fetchTimeout:  fetchTimeout,
		resyncOnFail:  !cfg.DisableFailureResync,
		broker:        newChangeBroker(),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Load performs the initial authoritative fetch.
func (b *Board) Load(ctx context.Context) error {
	return b.refresh(ctx)
}

// Refresh fetches the authoritative snapshot and installs it unless a newer
// fetch already did. Pending speculative moves stay applied on top.
func (b *Board) Refresh(ctx context.Context) error {
	return b.refresh(ctx)
}

// Snapshot returns the currently rendered board state. The returned value
// shares backing arrays with the engine and must be treated as read-only.
func (b *Board) Snapshot() domain.Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.view
}

// Dragging returns the identifier recorded by DragStart, empty when no drag
// is active.
func (b *Board) Dragging() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dragging
}

// Pending reports how many effective gestures await settlement.
func (b *Board) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Subscribe returns a channel that receives a coalesced signal after every
// rendered-state change. Consumers read the new state via Snapshot.
func (b *Board) Subscribe() chan struct{} {
	return b.broker.subscribe()
}

// Unsubscribe releases a channel obtained from Subscribe.
func (b *Board) Unsubscribe(ch chan struct{}) {
	b.broker.unsubscribe(ch)
}

// DragStart records the lifted task for drag-preview rendering. No data
// mutation happens until the matching DragEnd.
func (b *Board) DragStart(activeID string) {
	b.mu.Lock()
	b.dragging = activeID
	b.mu.Unlock()
	b.broker.notify()
}

// DragEnd resolves one completed gesture. An effective move is applied to
// the rendered snapshot before DragEnd returns and queued for dispatch; the
// returned move reports what was queued. No-op gestures return false, issue
// no persistence call and leave the snapshot untouched.
func (b *Board) DragEnd(ev domain.DragEnd) (domain.Move, bool) {
	b.mu.Lock()
	b.dragging = ""
	if b.closed {
		b.mu.Unlock()
		return domain.Move{}, false
	}

	move, ok := domain.Resolve(b.view, ev)
	if !ok {
		b.mu.Unlock()
		b.broker.notify()
		b.logger.WithFields(log.Fields{
			"active_id": ev.ActiveID,
			"over_id":   ev.OverID,
			"over_kind": string(ev.OverKind),
		}).Debug("ignoring no-op gesture")
		return domain.Move{}, false
	}

	move.IdempotencyKey = uuid.NewString()
	move.Timestamp = nextTimestamp()

	next, err := domain.Apply(b.view, move)
	if err != nil {
		b.mu.Unlock()
		b.logger.WithError(err).WithField("task_id", move.TaskID).Warn("resolved move failed to apply")
		return domain.Move{}, false
	}
	b.view = next
	b.queue = append(b.queue, move)
	depth := len(b.queue)
	start := !b.dispatching
	if start {
		b.dispatching = true
	}
	b.mu.Unlock()

	b.broker.notify()
	b.logger.WithFields(log.Fields{
		"task_id":     move.TaskID,
		"to_group_id": move.ToGroupID,
		"to_index":    move.ToIndex,
		"queue_depth": depth,
	}).Debug("queued move")

	if start {
		go b.dispatch()
	}
	return move, true
}

// Close stops dispatching and drops moves that were never submitted.
func (b *Board) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()
	b.cancel()
}

func (b *Board) refresh(ctx context.Context) error {
	ticket := b.takeTicket()
	fctx, cancel := context.WithTimeout(ctx, b.fetchTimeout)
	defer cancel()

	snap, err := b.src.Fetch(fctx)
	if err != nil {
		return fmt.Errorf("fetch board: %w", err)
	}
	b.acceptSnapshot(snap, ticket)
	return nil
}

func (b *Board) resyncAsync(reason string) {
	if b.ctx.Err() != nil {
		return
	}
	go func() {
		if err := b.refresh(b.ctx); err != nil {
			b.logger.WithError(err).WithField("reason", reason).Warn("board resync failed")
		}
	}()
}

// takeTicket issues a fetch ticket; ticket order is fetch start order, so a
// completed fetch is installed only if no later-started fetch beat it.
func (b *Board) takeTicket() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fetchTicket++
	return b.fetchTicket
}

func (b *Board) acceptSnapshot(snap domain.Snapshot, ticket uint64) bool {
	b.mu.Lock()
	accepted := b.acceptSnapshotLocked(snap, ticket)
	b.mu.Unlock()

	if accepted {
		b.broker.notify()
	} else {
		b.logger.WithField("ticket", ticket).Debug("discarding stale snapshot")
	}
	return accepted
}

func (b *Board) acceptSnapshotLocked(snap domain.Snapshot, ticket uint64) bool {
	if ticket <= b.confirmedTicket {
		return false
	}
	b.confirmed = snap
	b.confirmedTicket = ticket
	b.pruneSettledLocked()
	b.rebuildViewLocked()
	return true
}

// pruneSettledLocked drops settled moves covered by the confirmed snapshot:
// any fetch that started after a move was accepted reflects that move.
func (b *Board) pruneSettledLocked() {
	kept := b.settled[:0]
	for _, sm := range b.settled {
		if sm.ticket > b.confirmedTicket {
			kept = append(kept, sm)
		}
	}
	b.settled = kept
}

// rebuildViewLocked derives the rendered snapshot: the confirmed snapshot
// with settled-but-unconfirmed moves and queued moves re-applied in order.
// Moves that no longer resolve against the fresh snapshot are skipped; the
// server's verdict on them arrives with their own settlement.
func (b *Board) rebuildViewLocked() {
	view := b.confirmed
	for _, sm := range b.settled {
		view = b.applyOrSkipLocked(view, sm.move)
	}
	for _, m := range b.queue {
		view = b.applyOrSkipLocked(view, m)
	}
	b.view = view
}

func (b *Board) applyOrSkipLocked(view domain.Snapshot, move domain.Move) domain.Snapshot {
	next, err := domain.Apply(view, move)
	if err != nil {
		b.logger.WithError(err).WithField("task_id", move.TaskID).Debug("pending move no longer applies")
		return view
	}
	return next
}

// dispatch drains the move queue one submission at a time. It runs on its
// own goroutine and exits once the queue is empty or the board is closed.
func (b *Board) dispatch() {
	for {
		b.mu.Lock()
		if b.closed || len(b.queue) == 0 {
			b.dispatching = false
			b.mu.Unlock()
			return
		}
		move := b.queue[0]
		depth := len(b.queue)
		projectID := b.view.ProjectID
		b.mu.Unlock()

		b.settle(move, depth, projectID)
	}
}

// settle submits one move and reconciles the outcome: a success keeps the
// arrangement and installs the authoritative refetch, a failure rolls the
// rendered snapshot back to the confirmed state and notifies once.
func (b *Board) settle(move domain.Move, depth int, projectID string) {
	metrics, ctx := newMoveMetrics(b.ctx, b.logger)
	metrics.SetMove(projectID, move)
	metrics.SetQueueDepth(depth)

	sctx, scancel := context.WithTimeout(ctx, b.submitTimeout)
	submitStart := time.Now()
	err := b.src.Submit(sctx, []domain.Move{move})
	scancel()
	metrics.ObserveSubmit(time.Since(submitStart))

	if err != nil {
		b.mu.Lock()
		b.popHeadLocked(move)
		b.rebuildViewLocked()
		b.mu.Unlock()
		b.broker.notify()

		metrics.SetErrorStage(moveStageSubmit)
		metrics.Log(moveOutcomeRolledBack, err)
		b.notifier.MoveFailed(move, err)
		if b.resyncOnFail {
			b.resyncAsync("move-failed")
		}
		return
	}

	ticket := b.takeTicket()
	fctx, fcancel := context.WithTimeout(ctx, b.fetchTimeout)
	fetchStart := time.Now()
	snap, ferr := b.src.Fetch(fctx)
	fcancel()
	metrics.ObserveRefetch(time.Since(fetchStart))

	b.mu.Lock()
	b.popHeadLocked(move)
	if ferr != nil {
		// the move persisted; keep it applied until a later fetch covers it
		b.settled = append(b.settled, settledMove{move: move, ticket: ticket})
		b.rebuildViewLocked()
	} else if !b.acceptSnapshotLocked(snap, ticket) {
		b.rebuildViewLocked()
	}
	b.mu.Unlock()
	b.broker.notify()

	if ferr != nil {
		metrics.SetErrorStage(moveStageRefetch)
		metrics.Log(moveOutcomeCommitted, ferr)
		b.resyncAsync("refetch-failed")
		return
	}
	metrics.Log(moveOutcomeCommitted, nil)
}

func (b *Board) popHeadLocked(move domain.Move) {
	if len(b.queue) > 0 && b.queue[0].IdempotencyKey == move.IdempotencyKey {
		b.queue = b.queue[1:]
	}
}
