package rpsdk

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

// Client is a minimal RP HTTP API client.
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

// Principal represents an account.
type Principal struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

// Report represents a filed report.
type Report struct {
	ID          string  `json:"id"`
	OwnerID     string  `json:"owner_id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Category    string  `json:"category,omitempty"`
	Status      string  `json:"status"`
	AssignedTo  *string `json:"assigned_to,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

// Transition is one step of a report's history.
type Transition struct {
	ReportID   string `json:"report_id"`
	Seq        int    `json:"seq"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	ActorID    string `json:"actor_id"`
	TS         string `json:"ts"`
}

// Notification is one inbox record.
type Notification struct {
	ID          string  `json:"id"`
	RecipientID string  `json:"recipient_id"`
	ReportID    string  `json:"report_id"`
	Payload     string  `json:"payload_json"`
	CreatedAt   string  `json:"created_at"`
	DeliveredAt *string `json:"delivered_at,omitempty"`
	ReadAt      *string `json:"read_at,omitempty"`
}

// LoginResult pairs a bearer token with its principal.
type LoginResult struct {
	Token     string    `json:"token"`
	Principal Principal `json:"principal"`
}

// TransitionResult pairs the updated report with the committed step.
type TransitionResult struct {
	Report     Report     `json:"report"`
	Transition Transition `json:"transition"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedReports wraps report listings with cursors.
type PaginatedReports struct {
	Items      []Report `json:"items"`
	NextCursor string   `json:"next_cursor"`
}

// PaginatedNotifications wraps inbox listings with cursors.
type PaginatedNotifications struct {
	Items      []Notification `json:"items"`
	NextCursor string         `json:"next_cursor"`
}

// Register creates a reporter account and stores the returned token on
// the client for subsequent calls.
func (c *Client) Register(ctx context.Context, name, email, password string) (LoginResult, error) {
	body := map[string]any{
		"name":     name,
		"email":    email,
		"password": password,
	}
	var resp LoginResult
	if err := c.do(ctx, http.MethodPost, "v0/auth/register", body, &resp); err != nil {
		return resp, err
	}
	c.BearerToken = resp.Token
	return resp, nil
}

// Login exchanges credentials for a bearer token and stores it on the
// client.
func (c *Client) Login(ctx context.Context, email, password string) (LoginResult, error) {
	body := map[string]any{
		"email":    email,
		"password": password,
	}
	var resp LoginResult
	if err := c.do(ctx, http.MethodPost, "v0/auth/login", body, &resp); err != nil {
		return resp, err
	}
	c.BearerToken = resp.Token
	return resp, nil
}

// Me returns the authenticated principal.
func (c *Client) Me(ctx context.Context) (Principal, error) {
	var resp Principal
	err := c.do(ctx, http.MethodGet, "v0/me", nil, &resp)
	return resp, err
}

// CreateReport files a report.
func (c *Client) CreateReport(ctx context.Context, title, description, category string) (Report, error) {
	body := map[string]any{
		"title":       title,
		"description": description,
	}
	if category != "" {
		body["category"] = category
	}
	var resp Report
	err := c.do(ctx, http.MethodPost, "v0/reports", body, &resp)
	return resp, err
}

// GetReport fetches one report.
func (c *Client) GetReport(ctx context.Context, id string) (Report, error) {
	var resp Report
	err := c.do(ctx, http.MethodGet, "v0/reports/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListReports pages through visible reports.
func (c *Client) ListReports(ctx context.Context, status, cursor string, limit int) (PaginatedReports, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	endpoint := "v0/reports"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedReports
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Transition advances a report to the target status.
func (c *Client) Transition(ctx context.Context, reportID, targetStatus string) (TransitionResult, error) {
	body := map[string]any{"target_status": targetStatus}
	var resp TransitionResult
	err := c.do(ctx, http.MethodPost, "v0/reports/"+url.PathEscape(reportID)+"/transition", body, &resp)
	return resp, err
}

// History returns a report's transition trail.
func (c *Client) History(ctx context.Context, reportID string) ([]Transition, error) {
	var resp struct {
		Items []Transition `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "v0/reports/"+url.PathEscape(reportID)+"/history", nil, &resp)
	return resp.Items, err
}

// ListNotifications pages through the caller's inbox.
func (c *Client) ListNotifications(ctx context.Context, unread bool, cursor string, limit int) (PaginatedNotifications, error) {
	q := url.Values{}
	if unread {
		q.Set("unread", "true")
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	endpoint := "v0/notifications"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedNotifications
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Ack marks a notification read.
func (c *Client) Ack(ctx context.Context, notificationID string) (Notification, error) {
	var resp Notification
	err := c.do(ctx, http.MethodPost, "v0/notifications/"+url.PathEscape(notificationID)+"/ack", nil, &resp)
	return resp, err
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
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
