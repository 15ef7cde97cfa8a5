package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/wadi-transport/invoicesync/internal/models"
)

// roundTripperFunc lets a test stand in for the transport.
type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func newTestClient(rt roundTripperFunc) *Client {
	return New("http://server", &http.Client{Transport: rt})
}

func TestLogin_InstallsToken(t *testing.T) {
	var sawAuth string
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		switch r.URL.Path {
		case "/api/auth/login":
			return jsonResponse(200, `{"user":{"id":"u1","username":"ahmed"},"token":"tok-123"}`), nil
		case "/api/settings":
			sawAuth = r.Header.Get("Authorization")
			return jsonResponse(200, `{"id":"global-settings"}`), nil
		}
		t.Fatalf("unexpected path %s", r.URL.Path)
		return nil, nil
	})

	u, err := client.Login(context.Background(), "ahmed", "pw")
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	if u.ID != "u1" {
		t.Errorf("user = %+v", u)
	}

	if _, err := client.GetSettings(context.Background()); err != nil {
		t.Fatalf("GetSettings returned error: %v", err)
	}
	if sawAuth != "Bearer tok-123" {
		t.Errorf("Authorization = %q; want Bearer tok-123", sawAuth)
	}
}

func TestListInvoices_TotalFromHeader(t *testing.T) {
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		if got := r.URL.Query().Get("limit"); got != "50" {
			t.Errorf("limit = %q; want 50", got)
		}
		resp := jsonResponse(200, `[{"id":"a"},{"id":"b"}]`)
		resp.Header.Set("X-Total-Count", "77")
		return resp, nil
	})

	invoices, total, err := client.ListInvoices(context.Background(), models.InvoiceFilter{}, 1, 50)
	if err != nil {
		t.Fatalf("ListInvoices returned error: %v", err)
	}
	if len(invoices) != 2 || total != 77 {
		t.Errorf("got %d invoices total %d; want 2/77", len(invoices), total)
	}
}

func TestDo_ServerErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		terminal bool
	}{
		{"conflict", 409, true},
		{"unauthorized", 401, true},
		{"forbidden", 403, true},
		{"server error", 500, false},
		{"bad gateway", 502, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(func(r *http.Request) (*http.Response, error) {
				return jsonResponse(tt.status, `{"error":"nope"}`), nil
			})
			_, err := client.GetInvoice(context.Background(), "x")
			if err == nil {
				t.Fatal("expected an error")
			}
			var apiErr *Error
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *Error, got %T", err)
			}
			if apiErr.StatusCode != tt.status || apiErr.Message != "nope" {
				t.Errorf("error = %+v", apiErr)
			}
			if IsTerminal(err) != tt.terminal {
				t.Errorf("IsTerminal = %v; want %v", IsTerminal(err), tt.terminal)
			}
		})
	}
}

func TestDo_NetworkErrorIsRetryable(t *testing.T) {
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})
	_, err := client.GetSettings(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}
	if IsTerminal(err) || IsConflict(err) || IsUnauthorized(err) {
		t.Errorf("network failure misclassified: %v", err)
	}
}

func TestCreateInvoice_RoundTrip(t *testing.T) {
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/invoices" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var sent models.Invoice
		if err := json.NewDecoder(r.Body).Decode(&sent); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		sent.Synced = true
		raw, _ := json.Marshal(sent)
		return jsonResponse(201, string(raw)), nil
	})

	out, err := client.CreateInvoice(context.Background(), models.Invoice{ID: "inv1", DriverName: "Ali"})
	if err != nil {
		t.Fatalf("CreateInvoice returned error: %v", err)
	}
	if out.ID != "inv1" || !out.Synced {
		t.Errorf("response = %+v", out)
	}
}

func TestLogout_ClearsToken(t *testing.T) {
	var sawAuth []string
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		sawAuth = append(sawAuth, r.Header.Get("Authorization"))
		return jsonResponse(200, `{}`), nil
	})
	client.SetToken("tok")

	if err := client.Logout(context.Background()); err != nil {
		t.Fatalf("Logout returned error: %v", err)
	}
	if err := client.DeleteInvoice(context.Background(), "x"); err != nil {
		t.Fatalf("DeleteInvoice returned error: %v", err)
	}
	if len(sawAuth) != 2 || sawAuth[0] != "Bearer tok" || sawAuth[1] != "" {
		t.Errorf("auth headers = %v; token must be cleared after logout", sawAuth)
	}
}
