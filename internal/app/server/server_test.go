package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"shroud/internal/api/dto"
	"shroud/internal/controller"
	"shroud/internal/geo"
	"shroud/internal/identity"
	"shroud/internal/metrics"
	"shroud/internal/proxy"
	"shroud/internal/relay"
	"shroud/internal/session"
)

type stubSession struct{}

func (stubSession) SetRoute(context.Context, session.Route) error { return nil }
func (stubSession) ClearRoute(context.Context) error              { return nil }
func (stubSession) Client() *http.Client                          { return http.DefaultClient }

type stubProber struct{}

func (stubProber) Lookup(context.Context, *http.Client) (geo.Result, error) {
	return geo.Result{IP: "198.51.100.7", CountryCode: "FR", CountryName: "France", Timezone: "Europe/Paris"}, nil
}

type memoryStore struct {
	mu  sync.Mutex
	doc proxy.Document
}

func (s *memoryStore) Load(context.Context) (proxy.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone(), nil
}

func (s *memoryStore) Save(_ context.Context, doc proxy.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = doc.Clone()
	return nil
}

func newTestRouter(t *testing.T, presence *relay.Presence) http.Handler {
	t.Helper()
	manager := proxy.NewManager(stubSession{}, stubProber{}, &memoryStore{}, proxy.Options{
		Attempts:    1,
		RetryDelay:  time.Millisecond,
		NewIsolated: func() proxy.Session { return stubSession{} },
	})
	seed := uint64(7)
	ctrl := controller.New(controller.Deps{
		Manager: manager,
		Session: stubSession{},
		Prober:  stubProber{},
	}, controller.Options{Rand: identity.NewRand(&seed)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ctrl.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return NewRouter(Deps{Controller: ctrl, Metrics: metrics.New(), Presence: presence})
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndMetrics(t *testing.T) {
	h := newTestRouter(t, nil)
	if rec := do(t, h, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
	rec := do(t, h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Fatalf("metrics = %d", rec.Code)
	}
}

func TestIdentityAndPrivacyRoutes(t *testing.T) {
	h := newTestRouter(t, nil)

	rec := do(t, h, http.MethodPost, "/identity", `{"ua":"agent/2.0"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /identity = %d %s", rec.Code, rec.Body)
	}
	var profile identity.Profile
	if err := json.Unmarshal(rec.Body.Bytes(), &profile); err != nil || profile.UserAgent != "agent/2.0" {
		t.Fatalf("profile = %+v, %v", profile, err)
	}

	rec = do(t, h, http.MethodPatch, "/identity", `{"timezone":"Asia/Tokyo"}`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"timezone":"Asia/Tokyo"`) {
		t.Fatalf("PATCH /identity = %d %s", rec.Code, rec.Body)
	}

	rec = do(t, h, http.MethodPatch, "/privacy", `{"blockAds":false}`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"blockAds":false`) {
		t.Fatalf("PATCH /privacy = %d %s", rec.Code, rec.Body)
	}

	if rec := do(t, h, http.MethodPost, "/identity", `{not json`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad payload = %d", rec.Code)
	}
}

func TestProxyRoutes(t *testing.T) {
	h := newTestRouter(t, nil)

	if rec := do(t, h, http.MethodPut, "/proxy", `{"host":"10.0.0.1","port":"99999"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid proxy = %d %s", rec.Code, rec.Body)
	}
	if rec := do(t, h, http.MethodPut, "/proxy", `{"type":"socks5","host":"10.0.0.1","port":1080}`); rec.Code != http.StatusAccepted {
		t.Fatalf("PUT /proxy = %d %s", rec.Code, rec.Body)
	}

	rec := do(t, h, http.MethodPost, "/proxy/test", `{"host":"10.0.0.2","port":"8080"}`)
	var result proxy.TestResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil || !result.OK || result.Country != "France" {
		t.Fatalf("test = %+v, %v", result, err)
	}

	rec = do(t, h, http.MethodPost, "/proxy/profiles", `{"name":"office","proxy":{"host":"10.0.0.3","port":"3128"}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create profile = %d %s", rec.Code, rec.Body)
	}
	var created proxy.Profile
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil || created.ID == "" {
		t.Fatalf("created = %+v, %v", created, err)
	}
	if rec := do(t, h, http.MethodPost, "/proxy/profiles", `{"name":" ","proxy":{"host":"10.0.0.3"}}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("unnamed profile = %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/proxy/profiles", "")
	var list dto.ProxyProfileList
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || len(list.Profiles) != 1 || list.ActiveID != created.ID {
		t.Fatalf("list = %+v, %v", list, err)
	}

	if rec := do(t, h, http.MethodPost, "/proxy/profiles/"+created.ID+"/select", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("select = %d %s", rec.Code, rec.Body)
	}
	if rec := do(t, h, http.MethodPost, "/proxy/profiles/nope/select", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("select missing = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodDelete, "/proxy/profiles/"+created.ID, ""); rec.Code != http.StatusOK {
		t.Fatalf("delete = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodDelete, "/proxy/profiles/"+created.ID, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("second delete = %d", rec.Code)
	}

	rec = do(t, h, http.MethodDelete, "/proxy", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"state":"disabled"`) {
		t.Fatalf("DELETE /proxy = %d %s", rec.Code, rec.Body)
	}
}

func TestSettingsRoutes(t *testing.T) {
	h := newTestRouter(t, nil)

	rec := do(t, h, http.MethodGet, "/settings", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Header().Get("Content-Disposition"), "shroud-settings.json") {
		t.Fatalf("export = %d %v", rec.Code, rec.Header())
	}
	exported := rec.Body.String()

	if rec := do(t, h, http.MethodPost, "/settings", exported); rec.Code != http.StatusNoContent {
		t.Fatalf("import = %d %s", rec.Code, rec.Body)
	}
	if rec := do(t, h, http.MethodPost, "/settings", `{"proxy":{"type":"gopher","host":"x"}}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad import = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/settings", `[`); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed import = %d", rec.Code)
	}
}

func TestGeoStateAndClearData(t *testing.T) {
	h := newTestRouter(t, nil)

	rec := do(t, h, http.MethodPost, "/geo/refresh", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "198.51.100.7") {
		t.Fatalf("geo = %d %s", rec.Code, rec.Body)
	}

	rec = do(t, h, http.MethodGet, "/state", "")
	var st controller.State
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil || st.Geo.CountryName != "France" {
		t.Fatalf("state = %+v, %v", st.Geo, err)
	}

	if rec := do(t, h, http.MethodPost, "/data/clear", ""); rec.Code != http.StatusNotImplemented {
		t.Fatalf("clear without host = %d", rec.Code)
	}
}

func TestInstances(t *testing.T) {
	h := newTestRouter(t, nil)
	rec := do(t, h, http.MethodGet, "/instances", "")
	var list dto.InstanceList
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || list.Self.ID == "" || len(list.Peers) != 1 {
		t.Fatalf("standalone instances = %+v, %v", list, err)
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	presence := relay.NewPresence(client, relay.Instance{ID: "node-a", Listen: "127.0.0.1:8899"})
	if err := presence.Beat(context.Background()); err != nil {
		t.Fatalf("Beat: %v", err)
	}
	if err := relay.NewPresence(client, relay.Instance{ID: "node-b"}).Beat(context.Background()); err != nil {
		t.Fatalf("Beat: %v", err)
	}

	h = newTestRouter(t, presence)
	rec = do(t, h, http.MethodGet, "/instances", "")
	list = dto.InstanceList{}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || list.Self.ID != "node-a" || len(list.Peers) != 2 {
		t.Fatalf("instances = %+v, %v", list, err)
	}
}
