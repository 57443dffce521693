package dispatchlinesdk

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

// Client is a minimal Dispatchline HTTP API client.
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

// ServiceRequest represents the API request model (partial).
type ServiceRequest struct {
	ID               string  `json:"id"`
	ServiceID        string  `json:"service_id"`
	ClientID         string  `json:"client_id"`
	Title            string  `json:"title"`
	Status           string  `json:"status"`
	VendorID         *string `json:"vendor_id,omitempty"`
	DesignerID       *string `json:"designer_id,omitempty"`
	AssignmentLocked bool    `json:"assignment_locked"`
	AutoAssignStatus string  `json:"auto_assign_status"`
	LastAutoNote     string  `json:"last_auto_note,omitempty"`
}

// RouteResult is the outcome of one routing run.
type RouteResult struct {
	Success    bool         `json:"success"`
	Status     string       `json:"status"`
	VendorID   *string      `json:"vendor_id,omitempty"`
	DesignerID *string      `json:"designer_id,omitempty"`
	Note       string       `json:"note,omitempty"`
	Logs       []AuditEntry `json:"logs,omitempty"`
}

// RouteRun pairs the persisted request with the run that produced it.
type RouteRun struct {
	Request ServiceRequest `json:"request"`
	Result  RouteResult    `json:"result"`
}

// AuditEntry represents one routing decision record.
type AuditEntry struct {
	ID           int64    `json:"id"`
	RequestID    string   `json:"request_id"`
	RuleID       *string  `json:"rule_id,omitempty"`
	Step         string   `json:"step"`
	Outcome      string   `json:"outcome"`
	Reason       string   `json:"reason,omitempty"`
	ChosenID     *string  `json:"chosen_id,omitempty"`
	CandidateIDs []string `json:"candidate_ids,omitempty"`
	CreatedAt    string   `json:"created_at"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedAuditEntries wraps audit listings with a cursor.
type PaginatedAuditEntries struct {
	Items      []AuditEntry `json:"items"`
	NextCursor int64        `json:"next_cursor,omitempty"`
}

// CreateRequestOptions tunes request creation.
type CreateRequestOptions struct {
	ID         string
	AutoAssign *bool
}

// CreateRequest creates a service request; by default the server routes
// it immediately.
func (c *Client) CreateRequest(ctx context.Context, serviceID, clientID, title string, opts *CreateRequestOptions) (RouteRun, error) {
	body := map[string]any{
		"service_id": serviceID,
		"client_id":  clientID,
		"title":      title,
	}
	if opts != nil {
		if opts.ID != "" {
			body["id"] = opts.ID
		}
		if opts.AutoAssign != nil {
			body["auto_assign"] = *opts.AutoAssign
		}
	}
	var resp RouteRun
	err := c.do(ctx, http.MethodPost, "v0/requests", body, &resp)
	return resp, err
}

// GetRequest fetches a request by id.
func (c *Client) GetRequest(ctx context.Context, id string) (ServiceRequest, error) {
	var resp ServiceRequest
	err := c.do(ctx, http.MethodGet, requestPath(id, ""), nil, &resp)
	return resp, err
}

// Route re-runs the routing pipeline for a request.
func (c *Client) Route(ctx context.Context, id string) (RouteRun, error) {
	var resp RouteRun
	err := c.do(ctx, http.MethodPost, requestPath(id, "route"), nil, &resp)
	return resp, err
}

// Assign manually assigns a request to a vendor and optionally a designer.
func (c *Client) Assign(ctx context.Context, id string, vendorID, designerID string) (ServiceRequest, error) {
	body := map[string]any{}
	if vendorID != "" {
		body["vendor_id"] = vendorID
	}
	if designerID != "" {
		body["designer_id"] = designerID
	}
	var resp ServiceRequest
	err := c.do(ctx, http.MethodPost, requestPath(id, "assign"), body, &resp)
	return resp, err
}

// SetLock locks or unlocks a request's assignment.
func (c *Client) SetLock(ctx context.Context, id string, locked bool) (ServiceRequest, error) {
	var resp ServiceRequest
	err := c.do(ctx, http.MethodPut, requestPath(id, "lock"), map[string]any{"locked": locked}, &resp)
	return resp, err
}

// RequestAudit returns the full audit trail for one request.
func (c *Client) RequestAudit(ctx context.Context, id string) ([]AuditEntry, error) {
	var resp []AuditEntry
	err := c.do(ctx, http.MethodGet, requestPath(id, "audit"), nil, &resp)
	return resp, err
}

// AuditPage returns a page of the global audit log starting after cursor.
func (c *Client) AuditPage(ctx context.Context, limit int, cursor int64, outcomes []string) (PaginatedAuditEntries, error) {
	endpoint := "v0/audit"
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", fmt.Sprint(limit))
	}
	if cursor > 0 {
		params.Set("after", fmt.Sprint(cursor))
	}
	if len(outcomes) > 0 {
		params.Set("outcome", strings.Join(outcomes, ","))
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp PaginatedAuditEntries
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func requestPath(id, sub string) string {
	p := fmt.Sprintf("v0/requests/%s", url.PathEscape(id))
	if sub != "" {
		p += "/" + sub
	}
	return p
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
