package upkeepsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Upkeep HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Building represents the API building model.
type Building struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

// User represents the API user model.
type User struct {
	ID         string `json:"id"`
	BuildingID string `json:"building_id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	CreatedAt  string `json:"created_at"`
}

// Comment is one entry of a task's append-only thread.
type Comment struct {
	UserID    string `json:"user_id"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// Task represents the API task model.
type Task struct {
	ID         string    `json:"id"`
	BuildingID string    `json:"building_id"`
	Creator    string    `json:"creator"`
	Assignee   *string   `json:"assignee"`
	Status     string    `json:"status"`
	Summary    string    `json:"summary"`
	Comments   []Comment `json:"comments"`
	CreatedAt  string    `json:"created_at"`
	UpdatedAt  string    `json:"updated_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	BuildingID string         `json:"building_id"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps event listings with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// TaskFilters narrow ListTasks. Zero values are omitted.
type TaskFilters struct {
	Assignee string
	DateFrom string
	DateTo   string
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (User, error) {
	var resp User
	err := c.do(ctx, http.MethodGet, "v1/me", nil, &resp)
	return resp, err
}

// Buildings lists all buildings.
func (c *Client) Buildings(ctx context.Context) ([]Building, error) {
	var resp []Building
	err := c.do(ctx, http.MethodGet, "v1/buildings", nil, &resp)
	return resp, err
}

// Building fetches one building by id.
func (c *Client) Building(ctx context.Context, id string) (Building, error) {
	var resp Building
	err := c.do(ctx, http.MethodGet, "v1/buildings/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Users lists users, optionally filtered by building.
func (c *Client) Users(ctx context.Context, buildingID string) ([]User, error) {
	endpoint := "v1/users"
	if buildingID != "" {
		endpoint += "?building_id=" + url.QueryEscape(buildingID)
	}
	var resp []User
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Tasks lists tasks matching the filters.
func (c *Client) Tasks(ctx context.Context, f TaskFilters) ([]Task, error) {
	params := url.Values{}
	if f.Assignee != "" {
		params.Set("assignee", f.Assignee)
	}
	if f.DateFrom != "" {
		params.Set("date_from", f.DateFrom)
	}
	if f.DateTo != "" {
		params.Set("date_to", f.DateTo)
	}
	endpoint := "v1/tasks"
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp []Task
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CreateTask opens a task in a building. Assignee may be empty.
func (c *Client) CreateTask(ctx context.Context, buildingID, summary, assignee string) (Task, error) {
	body := map[string]any{
		"building_id": buildingID,
		"summary":     summary,
	}
	if assignee != "" {
		body["assignee"] = assignee
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "v1/tasks", body, &resp)
	return resp, err
}

// Task fetches one task by id.
func (c *Client) Task(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "v1/tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// SetStatus updates only the task status.
func (c *Client) SetStatus(ctx context.Context, id, status string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPatch, "v1/tasks/"+url.PathEscape(id), map[string]any{"status": status}, &resp)
	return resp, err
}

// Assign sets the task assignee. An empty userID clears it.
func (c *Client) Assign(ctx context.Context, id, userID string) (Task, error) {
	body := map[string]any{"assignee": userID}
	if userID == "" {
		body["assignee"] = nil
	}
	var resp Task
	err := c.do(ctx, http.MethodPatch, "v1/tasks/"+url.PathEscape(id), body, &resp)
	return resp, err
}

// DeleteTask removes a task.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "v1/tasks/"+url.PathEscape(id), nil, nil)
}

// AddComment appends to the task's comment thread and returns the updated task.
func (c *Client) AddComment(ctx context.Context, id, text string) (Task, error) {
	var resp Task
	endpoint := fmt.Sprintf("v1/tasks/%s/comments", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"text": text}, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := "v1/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// DevLogin exchanges an email for a dev JWT and stores it on the client.
// The server only exposes this endpoint when dev login is enabled.
func (c *Client) DevLogin(ctx context.Context, email string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "v1/auth/dev/login", map[string]any{"email": email}, &resp)
	if err != nil {
		return "", err
	}
	c.BearerToken = resp.Token
	return resp.Token, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
