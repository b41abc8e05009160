package forumapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type recordedRequest struct {
	Method      string
	EscapedPath string
	Query       map[string]string
	Auth        string
	Body        map[string]any
}

// fakeForum serves canned envelopes keyed by "METHOD escaped-path".
type fakeForum struct {
	t         *testing.T
	server    *httptest.Server
	responses map[string]fakeResponse
	requests  chan recordedRequest
}

type fakeResponse struct {
	status int
	body   any
}

func newFakeForum(t *testing.T) *fakeForum {
	t.Helper()
	forum := &fakeForum{
		t:         t,
		responses: map[string]fakeResponse{},
		requests:  make(chan recordedRequest, 32),
	}
	forum.server = httptest.NewServer(http.HandlerFunc(forum.serve))
	t.Cleanup(forum.server.Close)
	return forum
}

func (f *fakeForum) respond(method, path string, status int, body any) {
	f.responses[method+" "+path] = fakeResponse{status: status, body: body}
}

func (f *fakeForum) serve(w http.ResponseWriter, r *http.Request) {
	recorded := recordedRequest{
		Method:      r.Method,
		EscapedPath: r.URL.EscapedPath(),
		Query:       map[string]string{},
		Auth:        r.Header.Get("Authorization"),
	}
	for key := range r.URL.Query() {
		recorded.Query[key] = r.URL.Query().Get(key)
	}
	if r.Body != nil {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			recorded.Body = body
		}
	}
	f.requests <- recorded

	response, ok := f.responses[r.Method+" "+recorded.EscapedPath]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "message": "Not Found", "statusCode": 404})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(response.status)
	_ = json.NewEncoder(w).Encode(response.body)
}

func (f *fakeForum) nextRequest() recordedRequest {
	f.t.Helper()
	select {
	case request := <-f.requests:
		return request
	default:
		f.t.Fatalf("expected a recorded request")
		return recordedRequest{}
	}
}

func success(data any) map[string]any {
	return map[string]any{"success": true, "message": "ok", "data": data, "statusCode": 200}
}

func failure(status int, message string, details ...string) map[string]any {
	return map[string]any{"success": false, "message": message, "error": details, "statusCode": status}
}

func mustClient(t *testing.T, forum *fakeForum) *Client {
	t.Helper()
	client, err := NewClient(Config{BaseURL: forum.server.URL + "/api/v1/", Token: "session-token"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(Config{BaseURL: "  "}); !errors.Is(err, errMissingBaseURL) {
		t.Fatalf("expected missing base url error, got %v", err)
	}
}

func TestClientSendsBearerTokenAndHonorsSetToken(t *testing.T) {
	forum := newFakeForum(t)
	forum.respond(http.MethodGet, "/api/v1/push-notifications/public-key", http.StatusOK, success(map[string]string{"publicKey": "BKey"}))
	client := mustClient(t, forum)

	if _, err := client.PublicKey(context.Background()); err != nil {
		t.Fatalf("public key: %v", err)
	}
	if got := forum.nextRequest().Auth; got != "Bearer session-token" {
		t.Fatalf("unexpected authorization header %q", got)
	}

	client.SetToken("")
	if _, err := client.PublicKey(context.Background()); err != nil {
		t.Fatalf("public key: %v", err)
	}
	if got := forum.nextRequest().Auth; got != "" {
		t.Fatalf("expected no authorization header, got %q", got)
	}
}

func TestClientClassifiesFailures(t *testing.T) {
	testCases := []struct {
		name     string
		status   int
		expected error
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, expected: ErrUnauthorized},
		{name: "conflict", status: http.StatusConflict, expected: ErrConflict},
		{name: "forbidden", status: http.StatusForbidden, expected: ErrConflict},
		{name: "unprocessable", status: http.StatusUnprocessableEntity, expected: ErrConflict},
		{name: "throttled", status: http.StatusTooManyRequests, expected: ErrTransient},
		{name: "server", status: http.StatusBadGateway, expected: ErrTransient},
		{name: "bad request", status: http.StatusBadRequest, expected: ErrRequestFailed},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			forum := newFakeForum(t)
			forum.respond(http.MethodPost, "/api/v1/push-notifications/deactivate", testCase.status, failure(testCase.status, "rejected", "Please wait before voting again"))
			client := mustClient(t, forum)

			err := client.Deactivate(context.Background(), "endpoint")
			if !errors.Is(err, testCase.expected) {
				t.Fatalf("expected %v, got %v", testCase.expected, err)
			}
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected APIError, got %T", err)
			}
			if apiErr.Status != testCase.status {
				t.Fatalf("expected status %d, got %d", testCase.status, apiErr.Status)
			}
			if apiErr.Message != "Please wait before voting again" {
				t.Fatalf("unexpected message %q", apiErr.Message)
			}
		})
	}
}

func TestClientTransportFailureIsTransient(t *testing.T) {
	forum := newFakeForum(t)
	client := mustClient(t, forum)
	forum.server.Close()

	_, err := client.PublicKey(context.Background())
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestClientRejectsUndecodableEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>gateway</html>"))
	}))
	t.Cleanup(server.Close)
	client, err := NewClient(Config{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if _, err := client.PublicKey(context.Background()); !errors.Is(err, ErrRequestFailed) {
		t.Fatalf("expected request failure, got %v", err)
	}
}
