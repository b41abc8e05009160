package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/upnvj-forum/forum-sync/internal/auth"
	"github.com/upnvj-forum/forum-sync/internal/cache"
	"github.com/upnvj-forum/forum-sync/internal/database"
	"github.com/upnvj-forum/forum-sync/internal/forumapi"
	"github.com/upnvj-forum/forum-sync/internal/push"
	"github.com/upnvj-forum/forum-sync/internal/realtime"
	"github.com/upnvj-forum/forum-sync/internal/session"
	"github.com/upnvj-forum/forum-sync/internal/votes"
)

// fakeForum is an in-memory forum backend speaking the response envelope.
type fakeForum struct {
	mu          sync.Mutex
	discussions []int64
	votes       map[int64]*voteRecord
	rejectVotes bool
	pushCalls   []string
}

type voteRecord struct {
	up, down, viewer int
}

func newFakeForum(discussionIDs ...int64) *fakeForum {
	return &fakeForum{discussions: discussionIDs, votes: map[int64]*voteRecord{}}
}

func (f *fakeForum) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/discussions", f.listDiscussions)
	mux.HandleFunc("POST /api/discussions/{id}/votes", f.castVote)
	mux.HandleFunc("GET /api/discussions/{id}/votes", f.voteCounts)
	mux.HandleFunc("GET /api/push-notifications/public-key", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, map[string]string{"publicKey": "BTestKey"})
	})
	for _, route := range []string{"POST /api/push-notifications/subscribe", "POST /api/push-notifications/deactivate", "POST /api/push-notifications/reactivate", "DELETE /api/push-notifications/unsubscribe/{endpoint...}"} {
		mux.HandleFunc(route, f.recordPush(route))
	}
	return mux
}

func writeEnvelope(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": status < 400, "data": data, "statusCode": status})
}

func (f *fakeForum) listDiscussions(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	f.mu.Lock()
	defer f.mu.Unlock()
	start := (page - 1) * limit
	items := []map[string]any{}
	for index := start; index < start+limit && index < len(f.discussions); index++ {
		items = append(items, map[string]any{
			"id":     f.discussions[index],
			"space":  map[string]any{"id": 3},
			"author": map[string]any{"id": 100},
		})
	}
	writeEnvelope(w, http.StatusOK, map[string]any{
		"items": items,
		"meta":  map[string]any{"currentPage": page, "hasNextPage": start+limit < len(f.discussions)},
	})
}

func (f *fakeForum) castVote(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
	var body struct {
		Value int `json:"value"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejectVotes {
		writeEnvelope(w, http.StatusConflict, nil)
		return
	}
	record := f.record(id)
	switch record.viewer {
	case 1:
		record.up--
	case -1:
		record.down--
	}
	if record.viewer == body.Value {
		record.viewer = 0
		writeEnvelope(w, http.StatusCreated, nil)
		return
	}
	record.viewer = body.Value
	if body.Value == 1 {
		record.up++
	} else {
		record.down++
	}
	writeEnvelope(w, http.StatusCreated, map[string]any{"value": body.Value, "entityType": "discussion", "entityId": id})
}

func (f *fakeForum) voteCounts(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
	f.mu.Lock()
	defer f.mu.Unlock()
	record := f.record(id)
	writeEnvelope(w, http.StatusOK, map[string]int{"upvotes": record.up, "downvotes": record.down})
}

func (f *fakeForum) record(id int64) *voteRecord {
	record, ok := f.votes[id]
	if !ok {
		record = &voteRecord{}
		f.votes[id] = record
	}
	return record
}

func (f *fakeForum) recordPush(route string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.pushCalls = append(f.pushCalls, route)
		f.mu.Unlock()
		writeEnvelope(w, http.StatusOK, nil)
	}
}

func (f *fakeForum) setVote(id int64, up, down, viewer int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.votes[id] = &voteRecord{up: up, down: down, viewer: viewer}
}

func (f *fakeForum) setRejectVotes(reject bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejectVotes = reject
}

func (f *fakeForum) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.pushCalls...)
}

type idleSource struct{}

func (idleSource) Run(ctx context.Context, _ func(realtime.Event)) error {
	<-ctx.Done()
	return nil
}

type bridgeHarness struct {
	router   http.Handler
	forum    *fakeForum
	cache    *cache.Store
	session  *session.Manager
	platform *push.SQLitePlatform
}

func newBridgeHarness(t *testing.T, forum *fakeForum) *bridgeHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	upstream := httptest.NewServer(forum.handler())
	t.Cleanup(upstream.Close)
	client, err := forumapi.NewClient(forumapi.Config{BaseURL: upstream.URL + "/api", Logger: logger})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "bridge.db"), logger)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	store, err := cache.NewStore(cache.StoreConfig{Logger: logger})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	engine, err := votes.NewEngine(votes.EngineConfig{Submitter: client, Cache: store, Logger: logger})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	platform, err := push.NewSQLitePlatform(push.SQLitePlatformConfig{Database: db, EndpointBase: "device:push"})
	if err != nil {
		t.Fatalf("new platform: %v", err)
	}
	pushManager, err := push.NewManager(push.ManagerConfig{Platform: platform, Registry: client, Cache: store, Logger: logger})
	if err != nil {
		t.Fatalf("new push manager: %v", err)
	}
	connector, err := realtime.NewConnector(realtime.ConnectorConfig{
		Dispatcher: realtime.NewDispatcher(),
		NewSource: func(string) (realtime.Source, error) {
			return idleSource{}, nil
		},
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("new connector: %v", err)
	}
	sessions, err := session.NewManager(session.Config{
		Parser:   auth.NewViewerParser(auth.ViewerParserConfig{}),
		API:      client,
		Realtime: connector,
		Push:     pushManager,
		Votes:    engine,
		Cache:    store,
		Pages:    client,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("new session manager: %v", err)
	}
	t.Cleanup(func() {
		sessions.Close(context.Background())
	})

	router, err := NewHTTPHandler(Dependencies{
		Session:           sessions,
		Votes:             engine,
		Push:              pushManager,
		Permissions:       platform,
		Cache:             store,
		HeartbeatInterval: time.Hour,
		Logger:            logger,
	})
	if err != nil {
		t.Fatalf("new http handler: %v", err)
	}
	return &bridgeHarness{router: router, forum: forum, cache: store, session: sessions, platform: platform}
}

func (h *bridgeHarness) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, target, reader)
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	h.router.ServeHTTP(recorder, request)
	return recorder
}

func mustDecode[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var value T
	if err := json.Unmarshal(recorder.Body.Bytes(), &value); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
	return value
}

func expectStatus(t *testing.T, recorder *httptest.ResponseRecorder, status int) {
	t.Helper()
	if recorder.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, recorder.Code, recorder.Body.String())
	}
}

func testToken(t *testing.T, viewerID int64) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      viewerID,
		"username": fmt.Sprintf("viewer-%d", viewerID),
		"exp":      time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("backend-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
