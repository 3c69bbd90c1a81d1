package engine

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"boardsync/domain"
)

type stubSource struct {
	mu      sync.Mutex
	fetches int
	submits [][]domain.Move

	fetchFn  func(ctx context.Context) (domain.Snapshot, error)
	submitFn func(ctx context.Context, moves []domain.Move) error
}

func (s *stubSource) Fetch(ctx context.Context) (domain.Snapshot, error) {
	s.mu.Lock()
	s.fetches++
	fn := s.fetchFn
	s.mu.Unlock()
	if fn == nil {
		return domain.Snapshot{}, nil
	}
	return fn(ctx)
}

func (s *stubSource) Submit(ctx context.Context, moves []domain.Move) error {
	s.mu.Lock()
	cp := make([]domain.Move, len(moves))
	copy(cp, moves)
	s.submits = append(s.submits, cp)
	fn := s.submitFn
	s.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx, moves)
}

func (s *stubSource) fetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

func (s *stubSource) submitted() [][]domain.Move {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]domain.Move, len(s.submits))
	copy(out, s.submits)
	return out
}

func staticSource(snap domain.Snapshot) *stubSource {
	return &stubSource{
		fetchFn: func(context.Context) (domain.Snapshot, error) { return snap, nil },
	}
}

func task(id, section string) domain.Task {
	return domain.Task{ID: id, ProjectID: "p1", SectionID: section, Title: "Task " + id, Status: domain.StatusTodo}
}

func baseSnapshot() domain.Snapshot {
	return domain.Snapshot{
		ProjectID: "p1",
		Kind:      domain.BoardSections,
		Groups: []domain.Group{
			{ID: "x", Name: "Backlog", Tasks: []domain.Task{task("a", "x"), task("b", "x")}},
			{ID: "y", Name: "Doing", Tasks: []domain.Task{task("c", "y"), task("d", "y")}},
		},
	}
}

func order(s domain.Snapshot, groupID string) []string {
	g, ok := s.Group(groupID)
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(g.Tasks))
	for _, t := range g.Tasks {
		ids = append(ids, t.ID)
	}
	return ids
}

func newTestBoard(t *testing.T, src Source, cfg Config) *Board {
	t.Helper()
	if cfg.Logger == nil {
		logger, _ := test.NewNullLogger()
		cfg.Logger = logger
	}
	b := NewBoard(src, cfg)
	t.Cleanup(b.Close)
	if err := b.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	return b
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLoadInstallsSnapshot(t *testing.T) {
	snap := baseSnapshot()
	b := newTestBoard(t, staticSource(snap), Config{})

	if got := b.Snapshot(); !reflect.DeepEqual(got, snap) {
		t.Fatalf("unexpected snapshot after load: %+v", got)
	}
}

func TestNoopGestureIssuesNoCalls(t *testing.T) {
	src := staticSource(baseSnapshot())
	b := newTestBoard(t, src, Config{})
	pre := b.Snapshot()

	if _, ok := b.DragEnd(domain.DragEnd{ActiveID: "a"}); ok {
		t.Fatal("expected no move for a gesture without a drop target")
	}

	time.Sleep(50 * time.Millisecond)
	if got := len(src.submitted()); got != 0 {
		t.Fatalf("expected zero persistence calls, got %d", got)
	}
	if got := b.Snapshot(); !reflect.DeepEqual(got, pre) {
		t.Fatalf("snapshot changed on a no-op gesture: %+v", got)
	}
	if src.fetchCount() != 1 {
		t.Fatalf("expected only the initial fetch, got %d", src.fetchCount())
	}
}

func TestDragEndAppliesBeforeReturning(t *testing.T) {
	gate := make(chan struct{})
	src := staticSource(baseSnapshot())
	src.submitFn = func(context.Context, []domain.Move) error {
		<-gate
		return nil
	}
	b := newTestBoard(t, src, Config{})

	move, ok := b.DragEnd(domain.DragEnd{ActiveID: "a", OverID: "d", OverKind: domain.OverTask})
	if !ok {
		t.Fatal("expected an effective move")
	}
	if move.IdempotencyKey == "" || move.Timestamp == 0 {
		t.Fatalf("expected stamped move, got %+v", move)
	}

	// the speculative arrangement is visible while the submit is still blocked
	if got := order(b.Snapshot(), "y"); !reflect.DeepEqual(got, []string{"c", "a", "d"}) {
		t.Fatalf("speculative order not rendered: %v", got)
	}
	if got := order(b.Snapshot(), "x"); !reflect.DeepEqual(got, []string{"b"}) {
		t.Fatalf("unexpected source section: %v", got)
	}

	close(gate)
	waitFor(t, time.Second, func() bool { return b.Pending() == 0 }, "move never settled")
}

func TestCommitRefetchesAuthoritativeSnapshot(t *testing.T) {
	base := baseSnapshot()
	// the server applies the move but also reorders y on its own
	server := domain.Snapshot{
		ProjectID: "p1",
		Kind:      domain.BoardSections,
		Groups: []domain.Group{
			{ID: "x", Name: "Backlog", Tasks: []domain.Task{task("b", "x")}},
			{ID: "y", Name: "Doing", Tasks: []domain.Task{task("d", "y"), task("a", "y"), task("c", "y")}},
		},
	}

	var committed atomic.Bool
	src := &stubSource{}
	src.fetchFn = func(context.Context) (domain.Snapshot, error) {
		if committed.Load() {
			return server, nil
		}
		return base, nil
	}
	src.submitFn = func(context.Context, []domain.Move) error {
		committed.Store(true)
		return nil
	}
	b := newTestBoard(t, src, Config{})

	if _, ok := b.DragEnd(domain.DragEnd{ActiveID: "a", OverID: "d", OverKind: domain.OverTask}); !ok {
		t.Fatal("expected an effective move")
	}

	waitFor(t, time.Second, func() bool { return b.Pending() == 0 }, "move never settled")
	waitFor(t, time.Second, func() bool {
		return reflect.DeepEqual(b.Snapshot(), server)
	}, "snapshot did not converge to the server arrangement")

	if got := len(src.submitted()); got != 1 {
		t.Fatalf("expected exactly one persistence call, got %d", got)
	}
}

func TestFailureRollsBackExactly(t *testing.T) {
	src := staticSource(baseSnapshot())
	src.submitFn = func(context.Context, []domain.Move) error {
		return errors.New("persist: boom")
	}
	notifier := NewChannelNotifier(4)
	b := newTestBoard(t, src, Config{Notifier: notifier, DisableFailureResync: true})
	pre := b.Snapshot()

	move, ok := b.DragEnd(domain.DragEnd{ActiveID: "a", OverID: "d", OverKind: domain.OverTask})
	if !ok {
		t.Fatal("expected an effective move")
	}
	if got := order(b.Snapshot(), "y"); !reflect.DeepEqual(got, []string{"c", "a", "d"}) {
		t.Fatalf("speculative order not rendered: %v", got)
	}

	var failure MoveFailure
	select {
	case failure = <-notifier.C:
	case <-time.After(time.Second):
		t.Fatal("expected a failure notification")
	}
	if failure.Move.IdempotencyKey != move.IdempotencyKey {
		t.Fatalf("notification for unexpected move: %+v", failure.Move)
	}
	if failure.Err == nil {
		t.Fatal("expected notification to carry the error")
	}

	waitFor(t, time.Second, func() bool { return b.Pending() == 0 }, "failed move never drained")
	if got := b.Snapshot(); !reflect.DeepEqual(got, pre) {
		t.Fatalf("rollback did not restore the pre-drag snapshot: %+v", got)
	}

	// exactly one notification, and no retry submission
	time.Sleep(50 * time.Millisecond)
	select {
	case extra := <-notifier.C:
		t.Fatalf("unexpected second notification: %+v", extra)
	default:
	}
	if got := len(src.submitted()); got != 1 {
		t.Fatalf("expected a single submission, got %d", got)
	}
	if src.fetchCount() != 1 {
		t.Fatalf("expected no resync fetch when disabled, got %d", src.fetchCount())
	}
}

func TestFailureTriggersResyncFetch(t *testing.T) {
	src := staticSource(baseSnapshot())
	src.submitFn = func(context.Context, []domain.Move) error {
		return errors.New("persist: boom")
	}
	b := newTestBoard(t, src, Config{Notifier: NewChannelNotifier(1)})

	if _, ok := b.DragEnd(domain.DragEnd{ActiveID: "a", OverID: "d", OverKind: domain.OverTask}); !ok {
		t.Fatal("expected an effective move")
	}

	waitFor(t, time.Second, func() bool { return src.fetchCount() >= 2 }, "expected a resync fetch after failure")
}

func TestGesturesDispatchSerially(t *testing.T) {
	gate := make(chan struct{})
	src := staticSource(baseSnapshot())
	src.submitFn = func(context.Context, []domain.Move) error {
		<-gate
		return nil
	}
	b := newTestBoard(t, src, Config{})

	if _, ok := b.DragEnd(domain.DragEnd{ActiveID: "a", OverID: "d", OverKind: domain.OverTask}); !ok {
		t.Fatal("expected first move")
	}
	if _, ok := b.DragEnd(domain.DragEnd{ActiveID: "c", OverID: "x", OverKind: domain.OverGroup}); !ok {
		t.Fatal("expected second move")
	}

	// both gestures render immediately and stack on the same view
	if got := order(b.Snapshot(), "x"); !reflect.DeepEqual(got, []string{"b", "c"}) {
		t.Fatalf("stacked speculative order wrong for x: %v", got)
	}
	if got := order(b.Snapshot(), "y"); !reflect.DeepEqual(got, []string{"a", "d"}) {
		t.Fatalf("stacked speculative order wrong for y: %v", got)
	}
	if b.Pending() != 2 {
		t.Fatalf("expected 2 pending moves, got %d", b.Pending())
	}

	// only the head move is in flight while the gate is held
	time.Sleep(50 * time.Millisecond)
	if got := len(src.submitted()); got != 1 {
		t.Fatalf("expected a single in-flight submission, got %d", got)
	}

	close(gate)
	waitFor(t, time.Second, func() bool { return b.Pending() == 0 }, "queue never drained")

	submits := src.submitted()
	if len(submits) != 2 {
		t.Fatalf("expected two submissions, got %d", len(submits))
	}
	if submits[0][0].TaskID != "a" || submits[1][0].TaskID != "c" {
		t.Fatalf("submissions out of gesture order: %v then %v", submits[0][0].TaskID, submits[1][0].TaskID)
	}
	if submits[0][0].Timestamp >= submits[1][0].Timestamp {
		t.Fatal("expected strictly increasing move timestamps")
	}
}

func TestFailedMoveDoesNotBlockLaterGestures(t *testing.T) {
	base := baseSnapshot()
	// server state once only the second gesture has been persisted
	server := domain.Snapshot{
		ProjectID: "p1",
		Kind:      domain.BoardSections,
		Groups: []domain.Group{
			{ID: "x", Name: "Backlog", Tasks: []domain.Task{task("a", "x")}},
			{ID: "y", Name: "Doing", Tasks: []domain.Task{task("c", "y"), task("d", "y"), task("b", "y")}},
		},
	}

	var committed atomic.Bool
	var calls atomic.Int32
	src := &stubSource{}
	src.fetchFn = func(context.Context) (domain.Snapshot, error) {
		if committed.Load() {
			return server, nil
		}
		return base, nil
	}
	src.submitFn = func(context.Context, []domain.Move) error {
		if calls.Add(1) == 1 {
			return errors.New("persist: boom")
		}
		committed.Store(true)
		return nil
	}
	notifier := NewChannelNotifier(4)
	b := newTestBoard(t, src, Config{Notifier: notifier, DisableFailureResync: true})

	if _, ok := b.DragEnd(domain.DragEnd{ActiveID: "a", OverID: "d", OverKind: domain.OverTask}); !ok {
		t.Fatal("expected first move")
	}
	if _, ok := b.DragEnd(domain.DragEnd{ActiveID: "b", OverID: "y", OverKind: domain.OverGroup}); !ok {
		t.Fatal("expected second move")
	}

	waitFor(t, time.Second, func() bool { return b.Pending() == 0 }, "queue never drained")

	if got := len(src.submitted()); got != 2 {
		t.Fatalf("expected both moves submitted, got %d", got)
	}
	if got := len(notifier.C); got != 1 {
		t.Fatalf("expected one failure notification, got %d", got)
	}
	// the failed move rolled back, the second move survived
	waitFor(t, time.Second, func() bool {
		return reflect.DeepEqual(b.Snapshot(), server)
	}, "second gesture lost after first failed")
}

func TestStaleFetchDiscarded(t *testing.T) {
	snap := baseSnapshot()
	src := staticSource(snap)
	b := newTestBoard(t, src, Config{})

	stale := domain.Snapshot{ProjectID: "p1", Kind: domain.BoardSections}
	ticket := b.takeTicket()

	if err := b.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if accepted := b.acceptSnapshot(stale, ticket); accepted {
		t.Fatal("expected late-arriving fetch to be discarded")
	}
	if got := b.Snapshot(); !reflect.DeepEqual(got, snap) {
		t.Fatalf("stale fetch clobbered the snapshot: %+v", got)
	}
}

func TestRefetchFailureKeepsMoveApplied(t *testing.T) {
	base := baseSnapshot()
	server := domain.Snapshot{
		ProjectID: "p1",
		Kind:      domain.BoardSections,
		Groups: []domain.Group{
			{ID: "x", Name: "Backlog", Tasks: []domain.Task{task("b", "x")}},
			{ID: "y", Name: "Doing", Tasks: []domain.Task{task("c", "y"), task("a", "y"), task("d", "y")}},
		},
	}

	var committed atomic.Bool
	var failRefetch atomic.Bool
	src := &stubSource{}
	src.fetchFn = func(context.Context) (domain.Snapshot, error) {
		if failRefetch.Load() {
			return domain.Snapshot{}, errors.New("fetch: boom")
		}
		if committed.Load() {
			return server, nil
		}
		return base, nil
	}
	src.submitFn = func(context.Context, []domain.Move) error {
		committed.Store(true)
		failRefetch.Store(true)
		return nil
	}
	b := newTestBoard(t, src, Config{})

	if _, ok := b.DragEnd(domain.DragEnd{ActiveID: "a", OverID: "d", OverKind: domain.OverTask}); !ok {
		t.Fatal("expected an effective move")
	}
	waitFor(t, time.Second, func() bool { return b.Pending() == 0 }, "move never settled")

	// the persisted move stays rendered even though its refetch failed
	if got := order(b.Snapshot(), "y"); !reflect.DeepEqual(got, []string{"c", "a", "d"}) {
		t.Fatalf("persisted move lost after refetch failure: %v", got)
	}

	failRefetch.Store(false)
	if err := b.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got := b.Snapshot(); !reflect.DeepEqual(got, server) {
		t.Fatalf("snapshot did not converge after recovery: %+v", got)
	}
}

func TestPollSkipsQueuedMoveWhoseTaskVanished(t *testing.T) {
	gate := make(chan struct{})
	src := staticSource(baseSnapshot())
	src.submitFn = func(context.Context, []domain.Move) error {
		<-gate
		return nil
	}
	b := newTestBoard(t, src, Config{})

	if _, ok := b.DragEnd(domain.DragEnd{ActiveID: "a", OverID: "d", OverKind: domain.OverTask}); !ok {
		t.Fatal("expected an effective move")
	}

	// another user deleted task a; the poll result no longer contains it
	shrunk := domain.Snapshot{
		ProjectID: "p1",
		Kind:      domain.BoardSections,
		Groups: []domain.Group{
			{ID: "x", Name: "Backlog", Tasks: []domain.Task{task("b", "x")}},
			{ID: "y", Name: "Doing", Tasks: []domain.Task{task("c", "y"), task("d", "y")}},
		},
	}
	src.mu.Lock()
	src.fetchFn = func(context.Context) (domain.Snapshot, error) { return shrunk, nil }
	src.mu.Unlock()

	if err := b.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got := b.Snapshot(); !reflect.DeepEqual(got, shrunk) {
		t.Fatalf("expected view to match poll result with unappliable move skipped: %+v", got)
	}

	close(gate)
	waitFor(t, time.Second, func() bool { return b.Pending() == 0 }, "queue never drained")
}

func TestDragStartMarker(t *testing.T) {
	b := newTestBoard(t, staticSource(baseSnapshot()), Config{})

	b.DragStart("a")
	if got := b.Dragging(); got != "a" {
		t.Fatalf("expected dragging marker a, got %q", got)
	}

	b.DragEnd(domain.DragEnd{ActiveID: "a"})
	if got := b.Dragging(); got != "" {
		t.Fatalf("expected marker cleared after drag end, got %q", got)
	}
}

func TestDragEndAfterCloseIsNoop(t *testing.T) {
	src := staticSource(baseSnapshot())
	b := newTestBoard(t, src, Config{})
	b.Close()

	if _, ok := b.DragEnd(domain.DragEnd{ActiveID: "a", OverID: "d", OverKind: domain.OverTask}); ok {
		t.Fatal("expected no move on a closed board")
	}
	time.Sleep(20 * time.Millisecond)
	if got := len(src.submitted()); got != 0 {
		t.Fatalf("expected no submissions after close, got %d", got)
	}
}

func TestSubscribeSignalsOnGesture(t *testing.T) {
	b := newTestBoard(t, staticSource(baseSnapshot()), Config{})
	ch := b.Subscribe()
	t.Cleanup(func() { b.Unsubscribe(ch) })

	if _, ok := b.DragEnd(domain.DragEnd{ActiveID: "a", OverID: "d", OverKind: domain.OverTask}); !ok {
		t.Fatal("expected an effective move")
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected a change signal after the gesture")
	}
}
