package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/dalemusser/askaway/internal/app/system/auth"
)

// TestUser represents a caller for HTTP handler tests.
type TestUser struct {
	ID       string
	Name     string
	TenantID string
}

// HostUser returns a TestUser that hosts sessions in tests.
func HostUser() TestUser {
	return TestUser{ID: "aad-host", Name: "Test Host", TenantID: "tenant-1"}
}

// AttendeeUser returns a TestUser that asks and votes.
func AttendeeUser() TestUser {
	return TestUser{ID: "aad-attendee", Name: "Test Attendee", TenantID: "tenant-1"}
}

// WithUser injects the user's identity, bypassing bearer-token verification.
func WithUser(r *http.Request, user TestUser) *http.Request {
	id := auth.Identity{UserID: user.ID, Name: user.Name, TenantID: user.TenantID}
	return r.WithContext(auth.WithIdentity(r.Context(), id))
}

// NewRequest creates an HTTP request for testing.
func NewRequest(method, target string) *http.Request {
	return httptest.NewRequest(method, target, nil)
}

// NewJSONRequest creates a request with body marshaled as JSON.
func NewJSONRequest(method, target string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			panic(err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// NewAuthenticatedRequest creates a JSON request with a user in context.
func NewAuthenticatedRequest(method, target string, body any, user TestUser) *http.Request {
	return WithUser(NewJSONRequest(method, target, body), user)
}

// ResponseRecorder wraps httptest.ResponseRecorder with helper methods.
type ResponseRecorder struct {
	*httptest.ResponseRecorder
}

// NewRecorder creates a new ResponseRecorder.
func NewRecorder() *ResponseRecorder {
	return &ResponseRecorder{httptest.NewRecorder()}
}

// AssertStatus checks the response status code.
func (r *ResponseRecorder) AssertStatus(t interface{ Errorf(string, ...any) }, expected int) {
	if r.Code != expected {
		t.Errorf("status code: got %d, want %d (body: %s)", r.Code, expected, r.Body.String())
	}
}

// AssertContains checks if the response body contains the expected string.
func (r *ResponseRecorder) AssertContains(t interface{ Errorf(string, ...any) }, expected string) {
	if !strings.Contains(r.Body.String(), expected) {
		t.Errorf("response body does not contain %q", expected)
	}
}

// DecodeJSON decodes the response body into v.
func (r *ResponseRecorder) DecodeJSON(t interface{ Fatalf(string, ...any) }, v any) {
	if err := json.Unmarshal(r.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response body: %v (body: %s)", err, r.Body.String())
	}
}
