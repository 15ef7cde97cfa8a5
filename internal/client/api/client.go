package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/wadi-transport/invoicesync/internal/models"
)

// Client is the invoicing server API client. It is safe for concurrent
// use; the session token may be swapped at any time via SetToken.
type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string
}

// New creates a Client for the server at baseURL. httpClient may be nil
// to use a default with a 15s overall timeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{baseURL: baseURL, http: httpClient}
}

// SetToken installs the session token sent as a bearer credential on
// every subsequent request.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// do sends a JSON request and decodes a JSON response into out (when
// out is non-nil). Non-2xx responses become *Error; transport failures
// are returned wrapped and count as retryable.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) (http.Header, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&payload)
		return resp.Header, &Error{StatusCode: resp.StatusCode, Message: payload.Error}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.Header, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.Header, nil
}

// Login authenticates and installs the returned session token on the
// client. Returns the authenticated user.
func (c *Client) Login(ctx context.Context, username, password string) (*models.User, error) {
	var resp struct {
		User  *models.User `json:"user"`
		Token string       `json:"token"`
	}
	req := map[string]string{"username": username, "password": password}
	if _, err := c.do(ctx, http.MethodPost, "/api/auth/login", nil, req, &resp); err != nil {
		return nil, err
	}
	c.SetToken(resp.Token)
	return resp.User, nil
}

// Logout invalidates the server session and clears the local token.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/api/auth/logout", nil, struct{}{}, nil)
	c.SetToken("")
	return err
}

// ListInvoices fetches one page of invoices plus the total match count
// from the X-Total-Count header.
func (c *Client) ListInvoices(ctx context.Context, filter models.InvoiceFilter, page, limit int) ([]models.Invoice, int, error) {
	q := url.Values{}
	if filter.SearchTerm != "" {
		q.Set("search", filter.SearchTerm)
	}
	if !filter.StartDate.IsZero() {
		q.Set("startDate", filter.StartDate.Format("2006-01-02"))
	}
	if !filter.EndDate.IsZero() {
		q.Set("endDate", filter.EndDate.Format("2006-01-02"))
	}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var invoices []models.Invoice
	headers, err := c.do(ctx, http.MethodGet, "/api/invoices", q, nil, &invoices)
	if err != nil {
		return nil, 0, err
	}
	total, _ := strconv.Atoi(headers.Get("X-Total-Count"))
	if total == 0 {
		total = len(invoices)
	}
	return invoices, total, nil
}

// GetInvoice fetches a single invoice.
func (c *Client) GetInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	var inv models.Invoice
	if _, err := c.do(ctx, http.MethodGet, "/api/invoices/"+id, nil, nil, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// CreateInvoice sends POST /api/invoices. The response is the
// authoritative server copy (it may carry corrected fields).
func (c *Client) CreateInvoice(ctx context.Context, inv models.Invoice) (*models.Invoice, error) {
	var out models.Invoice
	if _, err := c.do(ctx, http.MethodPost, "/api/invoices", nil, inv, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateInvoice sends PUT /api/invoices/{id}.
func (c *Client) UpdateInvoice(ctx context.Context, inv models.Invoice) (*models.Invoice, error) {
	var out models.Invoice
	if _, err := c.do(ctx, http.MethodPut, "/api/invoices/"+inv.ID, nil, inv, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteInvoice sends DELETE /api/invoices/{id}.
func (c *Client) DeleteInvoice(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/invoices/"+id, nil, nil, nil)
	return err
}

// ListUsers fetches the full user list. The server is authoritative
// for this list; absence from it means deletion.
func (c *Client) ListUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if _, err := c.do(ctx, http.MethodGet, "/api/users", nil, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// CreateUser sends POST /api/users.
func (c *Client) CreateUser(ctx context.Context, u models.User) (*models.User, error) {
	var out models.User
	if _, err := c.do(ctx, http.MethodPost, "/api/users", nil, u, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateUser sends PUT /api/users/{id}.
func (c *Client) UpdateUser(ctx context.Context, u models.User) (*models.User, error) {
	var out models.User
	if _, err := c.do(ctx, http.MethodPut, "/api/users/"+u.ID, nil, u, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateUserPermissions sends PUT /api/users/{id}/permissions.
func (c *Client) UpdateUserPermissions(ctx context.Context, id string, perms []models.Permission) (*models.User, error) {
	var out models.User
	req := map[string][]models.Permission{"permissions": perms}
	if _, err := c.do(ctx, http.MethodPut, "/api/users/"+id+"/permissions", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteUser sends DELETE /api/users/{id}.
func (c *Client) DeleteUser(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/users/"+id, nil, nil, nil)
	return err
}

// GetSettings fetches the settings singleton.
func (c *Client) GetSettings(ctx context.Context) (*models.Settings, error) {
	var s models.Settings
	if _, err := c.do(ctx, http.MethodGet, "/api/settings", nil, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// UpdateSettings sends PUT /api/settings.
func (c *Client) UpdateSettings(ctx context.Context, s models.Settings) (*models.Settings, error) {
	var out models.Settings
	if _, err := c.do(ctx, http.MethodPut, "/api/settings", nil, s, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
