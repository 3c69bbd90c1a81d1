package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/bytedance/sonic"

	"boardsync/domain"
)

const errorBodyLimit = 4 << 10

// Client is a bearer-authenticated JSON client for the task API. One Client
// serves any number of board sources.
type Client struct {
	baseURL string
	bearer  string
	http    *http.Client
}

// NewClient builds a Client for the API at baseURL. A nil httpClient falls
// back to a plain http.Client; request deadlines come from the caller's
// context.
func NewClient(baseURL, bearer string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		bearer:  bearer,
		http:    httpClient,
	}
}

// SectionBoard returns the section board source for one project.
func (c *Client) SectionBoard(projectID string) *BoardSource {
	return &BoardSource{client: c, projectID: projectID, kind: domain.BoardSections}
}

// SubtaskBoard returns the subtask board source for one project.
func (c *Client) SubtaskBoard(projectID string) *BoardSource {
	return &BoardSource{client: c, projectID: projectID, kind: domain.BoardSubtasks}
}

// BoardSource binds a Client to one project board.
type BoardSource struct {
	client    *Client
	projectID string
	kind      domain.BoardKind
}

// Fetch retrieves the authoritative snapshot for the bound board.
func (s *BoardSource) Fetch(ctx context.Context) (domain.Snapshot, error) {
	switch s.kind {
	case domain.BoardSubtasks:
		var resp subtaskBoardResponse
		if err := s.client.getJSON(ctx, s.path("subtasks"), &resp); err != nil {
			return domain.Snapshot{}, err
		}
		return domain.Snapshot{ProjectID: resp.ProjectID, Kind: s.kind, Groups: resp.Parents}, nil
	default:
		var resp sectionBoardResponse
		if err := s.client.getJSON(ctx, s.path("board"), &resp); err != nil {
			return domain.Snapshot{}, err
		}
		return domain.Snapshot{ProjectID: resp.ProjectID, Kind: s.kind, Groups: resp.Sections}, nil
	}
}

// Submit persists moves in gesture order. The API must acknowledge every
// idempotency key or the batch is reported failed.
func (s *BoardSource) Submit(ctx context.Context, moves []domain.Move) error {
	if len(moves) == 0 {
		return nil
	}

	reqs := make([]moveRequest, len(moves))
	for i, m := range moves {
		reqs[i] = moveRequest{
			IdempotencyKey: m.IdempotencyKey,
			ItemType:       string(m.Kind),
			TaskID:         m.TaskID,
			ToIndex:        m.ToIndex,
			Timestamp:      m.Timestamp,
		}
		if m.Kind == domain.ItemChildTask {
			reqs[i].ToParentID = m.ToGroupID
		} else {
			reqs[i].ToSectionID = m.ToGroupID
		}
	}

	var resp moveResponse
	if err := s.client.postJSON(ctx, s.path("moves"), reqs, &resp); err != nil {
		return err
	}

	acked := make(map[string]struct{}, len(resp.IdempotencyKeys))
	for _, key := range resp.IdempotencyKeys {
		acked[key] = struct{}{}
	}
	for _, m := range moves {
		if _, ok := acked[m.IdempotencyKey]; !ok {
			return fmt.Errorf("move %s not acknowledged", m.IdempotencyKey)
		}
	}
	return nil
}

func (s *BoardSource) path(suffix string) string {
	return "/api/projects/" + url.PathEscape(s.projectID) + "/" + suffix
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, path, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	data, err := sonic.ConfigStd.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, out)
}

func (c *Client) do(req *http.Request, path string, out any) error {
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return &RequestError{
			Method: req.Method,
			Path:   path,
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(body)),
		}
	}
	if out == nil {
		return nil
	}
	dec := sonic.ConfigStd.NewDecoder(resp.Body)
	return dec.Decode(out)
}
