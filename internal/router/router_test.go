package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"vinzhub-gamestate/internal/activity"
	"vinzhub-gamestate/internal/cache"
	"vinzhub-gamestate/internal/flush"
	"vinzhub-gamestate/internal/handler"
	"vinzhub-gamestate/internal/model"
	"vinzhub-gamestate/internal/repository"
	"vinzhub-gamestate/internal/session"
	"vinzhub-gamestate/internal/state"
	"vinzhub-gamestate/internal/testutil"
)

const adminKey = "s3cret"

type server struct {
	t     *testing.T
	srv   *httptest.Server
	store *repository.MemoryStore
	cache *state.Cache
	sink  *activity.MemorySink
}

func newServer(t *testing.T) *server {
	t.Helper()
	store := repository.NewMemoryStore()
	store.Seed(testutil.User(1))

	snaps := cache.NewMemorySnapshotCache(0)
	t.Cleanup(func() { snaps.Close() })

	sink := activity.NewMemorySink()
	batcher := activity.NewBatcher(sink, activity.BatcherConfig{FlushInterval: time.Hour})

	c := state.New(state.Options{})
	life := session.New(c, store, snaps, flush.NewOrchestrator(store), session.Options{
		Peers:    []session.PeerFlusher{batcher},
		Activity: batcher,
	})

	r := New(Config{
		Handler: handler.New("test", handler.Dependency{Name: "store", Pinger: store}, handler.Dependency{Name: "snapshots", Pinger: snaps}),
		AdminHandler: handler.NewAdminHandler(handler.AdminConfig{
			Cache:     c,
			Store:     store,
			Lifecycle: life,
			Activity:  sink,
			Batcher:   batcher,
			StoreType: "memory",
		}),
		AdminKey: adminKey,
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &server{t: t, srv: srv, store: store, cache: c, sink: sink}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code string `json:"code"`
	} `json:"error"`
}

func (s *server) do(method, path string, authed bool) (int, envelope) {
	s.t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, s.srv.URL+path, nil)
	if err != nil {
		s.t.Fatalf("NewRequest: %v", err)
	}
	if authed {
		req.Header.Set("X-Admin-Key", adminKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		s.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if resp.Header.Get("Content-Type") == "application/json" {
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			s.t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode, env
}

func TestProbesArePublic(t *testing.T) {
	s := newServer(t)

	if code, _ := s.do(http.MethodGet, "/api/v1/health", false); code != http.StatusOK {
		t.Errorf("health = %d", code)
	}
	code, env := s.do(http.MethodGet, "/api/v1/ready", false)
	if code != http.StatusOK {
		t.Errorf("ready = %d", code)
	}
	var ready handler.ReadyResponse
	if err := json.Unmarshal(env.Data, &ready); err != nil {
		t.Fatalf("decode ready: %v", err)
	}
	if !ready.Ready || len(ready.Checks) != 2 {
		t.Errorf("ready = %+v", ready)
	}
}

func TestAdminRequiresKey(t *testing.T) {
	s := newServer(t)

	code, env := s.do(http.MethodGet, "/api/v1/admin/stats", false)
	if code != http.StatusUnauthorized || env.Error.Code != "UNAUTHORIZED" {
		t.Errorf("stats without key = %d %q", code, env.Error.Code)
	}
	if code, _ := s.do(http.MethodGet, "/api/v1/admin/stats", true); code != http.StatusOK {
		t.Errorf("stats with key = %d", code)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	s := newServer(t)

	code, env := s.do(http.MethodGet, "/api/v1/admin/users/1", true)
	if code != http.StatusNotFound || env.Error.Code != "NOT_RESIDENT" {
		t.Fatalf("get before login = %d %q", code, env.Error.Code)
	}

	if code, _ := s.do(http.MethodPost, "/api/v1/admin/users/1/login", true); code != http.StatusOK {
		t.Fatalf("login = %d", code)
	}
	err := s.cache.Do(1, func(h *state.Handle) error {
		_, err := h.GrantInventory(model.ItemKey(1), 2)
		return err
	})
	if err != nil {
		t.Fatalf("GrantInventory: %v", err)
	}

	code, env = s.do(http.MethodGet, "/api/v1/admin/users/1", true)
	if code != http.StatusOK {
		t.Fatalf("get = %d", code)
	}
	var user handler.UserResponse
	if err := json.Unmarshal(env.Data, &user); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	if !user.Dirty || user.State.UserID != 1 {
		t.Errorf("user = %+v", user)
	}

	code, env = s.do(http.MethodPost, "/api/v1/admin/users/1/flush", true)
	if code != http.StatusOK {
		t.Fatalf("flush = %d", code)
	}
	var res flush.Result
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatalf("decode flush: %v", err)
	}
	if !res.Clean || res.Calls == 0 {
		t.Errorf("flush result = %+v", res)
	}

	if code, _ := s.do(http.MethodPost, "/api/v1/admin/users/1/logout", true); code != http.StatusOK {
		t.Fatalf("logout = %d", code)
	}
	if s.cache.HasUser(1) {
		t.Error("user still resident after logout")
	}

	code, env = s.do(http.MethodGet, "/api/v1/admin/users/1/activity", true)
	if code != http.StatusOK {
		t.Fatalf("activity = %d", code)
	}
	var logs []model.ActivityLog
	if err := json.Unmarshal(env.Data, &logs); err != nil {
		t.Fatalf("decode activity: %v", err)
	}
	if len(logs) != 2 || logs[0].Action != "logout" {
		t.Errorf("activity = %+v", logs)
	}
}

func TestErrorMapping(t *testing.T) {
	s := newServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		status int
		code   string
	}{
		{"bad user id", http.MethodGet, "/api/v1/admin/users/abc", http.StatusBadRequest, "BAD_REQUEST"},
		{"unknown user login", http.MethodPost, "/api/v1/admin/users/99/login", http.StatusNotFound, "USER_NOT_FOUND"},
		{"logout when not resident", http.MethodPost, "/api/v1/admin/users/1/logout", http.StatusNotFound, "NOT_RESIDENT"},
		{"bad activity limit", http.MethodGet, "/api/v1/admin/users/1/activity?limit=0", http.StatusBadRequest, "BAD_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := s.do(tt.method, tt.path, true)
			if code != tt.status || env.Error.Code != tt.code {
				t.Errorf("got %d %q, want %d %q", code, env.Error.Code, tt.status, tt.code)
			}
		})
	}
}

func TestStoreOutageIsServiceUnavailable(t *testing.T) {
	s := newServer(t)
	s.store.FailNext(repository.OpLoadUser, errors.New("connection refused"))

	code, env := s.do(http.MethodPost, "/api/v1/admin/users/1/login", true)
	if code != http.StatusServiceUnavailable || env.Error.Code != "STORE_UNAVAILABLE" {
		t.Errorf("login during outage = %d %q", code, env.Error.Code)
	}
}

func TestRetrySweepAndMetrics(t *testing.T) {
	s := newServer(t)

	code, env := s.do(http.MethodPost, "/api/v1/admin/sweeps/retry", true)
	if code != http.StatusOK {
		t.Fatalf("retry sweep = %d", code)
	}
	var res session.SweepResult
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatalf("decode sweep: %v", err)
	}
	if res.Scanned != 0 {
		t.Errorf("sweep over an empty cache scanned %d", res.Scanned)
	}

	if code, _ := s.do(http.MethodGet, "/metrics", false); code != http.StatusOK {
		t.Errorf("metrics = %d", code)
	}
}
