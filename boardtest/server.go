// Package boardtest runs an in-memory task API for exercising board engines
// and sources over real HTTP. It speaks the production wire contract: board
// and subtask fetches plus batched move submissions acknowledged by
// idempotency key.
package boardtest

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"boardsync/domain"
)

const moveBodyMaxSize = 1 << 20

type boardKey struct {
	projectID string
	kind      domain.BoardKind
}

type sectionBoardPayload struct {
	ProjectID string         `json:"projectId"`
	Sections  []domain.Group `json:"sections"`
}

type subtaskBoardPayload struct {
	ProjectID string         `json:"projectId"`
	Parents   []domain.Group `json:"parents"`
}

type movePayload struct {
	IdempotencyKey string `json:"idempotencyKey"`
	ItemType       string `json:"itemType"`
	TaskID         string `json:"taskId"`
	ToSectionID    string `json:"toSectionId,omitempty"`
	ToParentID     string `json:"toParentId,omitempty"`
	ToIndex        int    `json:"toIndex"`
	Timestamp      int64  `json:"timestamp"`
}

type moveAckPayload struct {
	IdempotencyKeys []string `json:"idempotencyKeys"`
}

// Server is an in-memory task API backed by domain snapshots. Moves are
// applied with the same reorder semantics the real API uses, duplicate
// idempotency keys are acknowledged without reapplying.
type Server struct {
	srv *httptest.Server

	mu         sync.Mutex
	boards     map[boardKey]domain.Snapshot
	seenKeys   map[string]struct{}
	submitted  []domain.Move
	bearer     string
	rejectCode int
	rejectMsg  string
	latency    time.Duration
}

// New starts the server. Callers must Close it when done.
func New() *Server {
	s := &Server{
		boards:   make(map[boardKey]domain.Snapshot),
		seenKeys: make(map[string]struct{}),
	}

	e := echo.New()
	e.HideBanner = true
	e.GET("/api/projects/:projectId/board", s.getBoard(domain.BoardSections))
	e.GET("/api/projects/:projectId/subtasks", s.getBoard(domain.BoardSubtasks))
	e.POST("/api/projects/:projectId/moves", s.postMoves)

	s.srv = httptest.NewServer(e)
	return s
}

// URL returns the server's base URL.
func (s *Server) URL() string {
	return s.srv.URL
}

// Close shuts the server down.
func (s *Server) Close() {
	s.srv.Close()
}

// SeedSections installs the section board for a project, replacing any
// previous state.
func (s *Server) SeedSections(projectID string, groups []domain.Group) {
	s.seed(projectID, domain.BoardSections, groups)
}

// SeedParents installs the subtask board for a project, replacing any
// previous state.
func (s *Server) SeedParents(projectID string, groups []domain.Group) {
	s.seed(projectID, domain.BoardSubtasks, groups)
}

func (s *Server) seed(projectID string, kind domain.BoardKind, groups []domain.Group) {
	snap := domain.Snapshot{ProjectID: projectID, Kind: kind, Groups: cloneGroups(groups)}
	s.mu.Lock()
	s.boards[boardKey{projectID: projectID, kind: kind}] = snap
	s.mu.Unlock()
}

// Board returns the server's current state for one board.
func (s *Server) Board(projectID string, kind domain.BoardKind) (domain.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.boards[boardKey{projectID: projectID, kind: kind}]
	return snap, ok
}

// Moves returns every move applied so far, in arrival order.
func (s *Server) Moves() []domain.Move {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Move, len(s.submitted))
	copy(out, s.submitted)
	return out
}

// RequireBearer makes every endpoint demand the given bearer token.
func (s *Server) RequireBearer(token string) {
	s.mu.Lock()
	s.bearer = token
	s.mu.Unlock()
}

// RejectMoves makes move submissions fail with the given status until
// AcceptMoves is called. Fetches are unaffected.
func (s *Server) RejectMoves(status int, message string) {
	s.mu.Lock()
	s.rejectCode = status
	s.rejectMsg = message
	s.mu.Unlock()
}

// AcceptMoves clears a rejection installed by RejectMoves.
func (s *Server) AcceptMoves() {
	s.mu.Lock()
	s.rejectCode = 0
	s.rejectMsg = ""
	s.mu.Unlock()
}

// SetLatency delays every response by d.
func (s *Server) SetLatency(d time.Duration) {
	s.mu.Lock()
	s.latency = d
	s.mu.Unlock()
}

func (s *Server) getBoard(kind domain.BoardKind) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !s.authorized(c) {
			return c.String(http.StatusUnauthorized, "missing or invalid token")
		}
		s.sleepLatency()

		projectID := c.Param("projectId")
		s.mu.Lock()
		snap, ok := s.boards[boardKey{projectID: projectID, kind: kind}]
		s.mu.Unlock()
		if !ok {
			return c.String(http.StatusNotFound, "unknown project")
		}

		if kind == domain.BoardSubtasks {
			return c.JSON(http.StatusOK, subtaskBoardPayload{ProjectID: snap.ProjectID, Parents: snap.Groups})
		}
		return c.JSON(http.StatusOK, sectionBoardPayload{ProjectID: snap.ProjectID, Sections: snap.Groups})
	}
}

func (s *Server) postMoves(c echo.Context) error {
	if !s.authorized(c) {
		return c.String(http.StatusUnauthorized, "missing or invalid token")
	}
	s.sleepLatency()

	lr := io.LimitReader(c.Request().Body, moveBodyMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()

	reqs := make([]movePayload, 0, 4)
	if err := dec.Decode(&reqs); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}

	projectID := c.Param("projectId")

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rejectCode != 0 {
		return c.String(s.rejectCode, s.rejectMsg)
	}

	// stage the whole batch first so a failing move leaves nothing applied
	staged := make(map[boardKey]domain.Snapshot)
	applied := make([]domain.Move, 0, len(reqs))
	keys := make([]string, len(reqs))
	for i, r := range reqs {
		keys[i] = r.IdempotencyKey
		if _, dup := s.seenKeys[r.IdempotencyKey]; dup {
			continue
		}

		move, bkey, err := toMove(projectID, r)
		if err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}

		snap, ok := staged[bkey]
		if !ok {
			snap, ok = s.boards[bkey]
			if !ok {
				return c.String(http.StatusNotFound, "unknown project")
			}
		}
		next, err := domain.Apply(snap, move)
		if err != nil {
			return c.String(http.StatusConflict, err.Error())
		}
		staged[bkey] = next
		applied = append(applied, move)
	}

	for bkey, snap := range staged {
		s.boards[bkey] = snap
	}
	for _, m := range applied {
		s.seenKeys[m.IdempotencyKey] = struct{}{}
		s.submitted = append(s.submitted, m)
	}

	return c.JSON(http.StatusOK, moveAckPayload{IdempotencyKeys: keys})
}

func toMove(projectID string, r movePayload) (domain.Move, boardKey, error) {
	move := domain.Move{
		IdempotencyKey: r.IdempotencyKey,
		Kind:           domain.ItemKind(r.ItemType),
		TaskID:         r.TaskID,
		ToIndex:        r.ToIndex,
		Timestamp:      r.Timestamp,
	}
	switch move.Kind {
	case domain.ItemTask:
		if r.ToSectionID == "" {
			return domain.Move{}, boardKey{}, fmt.Errorf("move %s: missing toSectionId", r.IdempotencyKey)
		}
		move.ToGroupID = r.ToSectionID
		return move, boardKey{projectID: projectID, kind: domain.BoardSections}, nil
	case domain.ItemChildTask:
		if r.ToParentID == "" {
			return domain.Move{}, boardKey{}, fmt.Errorf("move %s: missing toParentId", r.IdempotencyKey)
		}
		move.ToGroupID = r.ToParentID
		return move, boardKey{projectID: projectID, kind: domain.BoardSubtasks}, nil
	default:
		return domain.Move{}, boardKey{}, fmt.Errorf("move %s: unknown itemType %q", r.IdempotencyKey, r.ItemType)
	}
}

func (s *Server) authorized(c echo.Context) bool {
	s.mu.Lock()
	bearer := s.bearer
	s.mu.Unlock()
	if bearer == "" {
		return true
	}
	return c.Request().Header.Get("Authorization") == "Bearer "+bearer
}

func (s *Server) sleepLatency() {
	s.mu.Lock()
	d := s.latency
	s.mu.Unlock()
	if d > 0 {
		time.Sleep(d)
	}
}

func cloneGroups(groups []domain.Group) []domain.Group {
	out := make([]domain.Group, len(groups))
	copy(out, groups)
	for i := range out {
		tasks := make([]domain.Task, len(out[i].Tasks))
		copy(tasks, out[i].Tasks)
		out[i].Tasks = tasks
	}
	return out
}
