package server

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/edgecache/internal/cache"
	"github.com/any-hub/edgecache/internal/config"
	"github.com/any-hub/edgecache/internal/fetch"
	"github.com/any-hub/edgecache/internal/origin"
)

func TestRouterHeadReturnsBeforeFillCompletes(t *testing.T) {
	release := make(chan struct{})
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write([]byte("audio"))
	})

	resp := env.do(t, http.MethodHead, sampleName)
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 on first HEAD, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Edge-Fill") != string(fetch.FillQueued) {
		t.Fatalf("expected queued fill, got %q", resp.Header.Get("X-Edge-Fill"))
	}

	// 填充尚未完成，紧随其后的 GET 只能看到未命中。
	resp = env.do(t, http.MethodGet, sampleName)
	if resp.StatusCode != fiber.StatusNotFound || resp.Header.Get("X-Edge-Cache") != "miss" {
		t.Fatalf("expected GET miss while fill is running, got %d", resp.StatusCode)
	}

	waitFor(t, func() bool { return env.originHits.Load() == 1 })
	resp = env.do(t, http.MethodHead, sampleName)
	if got := resp.Header.Get("X-Edge-Fill"); got != string(fetch.FillInFlight) {
		t.Fatalf("expected in-flight fill on repeated HEAD, got %q", got)
	}

	close(release)
	if err := env.pool.Drain(context.Background()); err != nil {
		t.Fatalf("drain failed: %v", err)
	}

	resp = env.do(t, http.MethodGet, sampleName)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 after fill, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "audio" {
		t.Fatalf("unexpected body %q", string(body))
	}
	if resp.Header.Get("Content-Type") != "audio/mpeg" {
		t.Fatalf("unexpected content type %s", resp.Header.Get("Content-Type"))
	}
	if resp.Header.Get("X-Edge-Cache") != "hit" {
		t.Fatalf("expected hit header")
	}
	if hits := env.originHits.Load(); hits != 1 {
		t.Fatalf("expected one origin request, got %d", hits)
	}
}

func TestRouterAddsCORSHeadersToEveryResponse(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, tc := range []struct {
		method string
		path   string
		status int
	}{
		{http.MethodOptions, sampleName, fiber.StatusOK},
		{http.MethodGet, "/nope.txt", fiber.StatusNotFound},
		{http.MethodGet, "/", fiber.StatusOK},
		{http.MethodDelete, sampleName, fiber.StatusMethodNotAllowed},
	} {
		resp := env.do(t, tc.method, tc.path)
		if resp.StatusCode != tc.status {
			t.Fatalf("%s %s: expected %d, got %d", tc.method, tc.path, tc.status, resp.StatusCode)
		}
		if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
			t.Fatalf("%s %s: unexpected allow origin %q", tc.method, tc.path, got)
		}
		if got := resp.Header.Get("Access-Control-Allow-Methods"); got != "GET,HEAD,OPTIONS" {
			t.Fatalf("%s %s: unexpected allow methods %q", tc.method, tc.path, got)
		}
		if got := resp.Header.Get("Access-Control-Allow-Headers"); got != "*" {
			t.Fatalf("%s %s: unexpected allow headers %q", tc.method, tc.path, got)
		}
		if resp.Header.Get("X-Request-ID") == "" {
			t.Fatalf("%s %s: expected X-Request-ID", tc.method, tc.path)
		}
	}
	if env.originHits.Load() != 0 {
		t.Fatalf("none of these requests may reach the origin")
	}
}

func TestRouterRootListing(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodGet, "/")
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte("Total Files: 0")) || !bytes.Contains(body, []byte("Total Size: 0.0 B")) {
		t.Fatalf("unexpected listing: %s", string(body))
	}
}

func TestRouterWritesAccessLog(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodGet, sampleName+"?x=1")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	logged := env.logs.String()
	for _, want := range []string{`"msg":"request_complete"`, `"outcome":"miss"`, `"status":404`, `"action":"access"`} {
		if !bytes.Contains([]byte(logged), []byte(want)) {
			t.Fatalf("access log missing %s: %s", want, logged)
		}
	}
}

func TestNewAppRequiresDependencies(t *testing.T) {
	if _, err := NewApp(AppOptions{}); err == nil {
		t.Fatalf("expected error without logger")
	}
	if _, err := NewApp(AppOptions{Logger: logrus.New()}); err == nil {
		t.Fatalf("expected error without dispatcher")
	}
}

type testEnv struct {
	app        *fiber.App
	pool       *fetch.Pool
	logs       *bytes.Buffer
	originHits *atomic.Int32
}

func newTestEnv(t *testing.T, handler http.HandlerFunc) *testEnv {
	t.Helper()

	hits := &atomic.Int32{}
	if handler == nil {
		handler = func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("audio"))
		}
	}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(upstream.Close)

	store, err := cache.NewStore(t.TempDir(), cache.Options{SyncWrites: true})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	originURL, err := url.Parse(upstream.URL)
	if err != nil {
		t.Fatalf("failed to parse origin: %v", err)
	}

	logs := &bytes.Buffer{}
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(logs)

	scheme := cache.NewScheme(".mp3")
	coordinator, err := fetch.NewCoordinator(fetch.Options{
		Scheme:     scheme,
		Store:      store,
		Origin:     originURL,
		Fetcher:    origin.NewClient(origin.Options{Timeout: 5 * time.Second}),
		Attempts:   1,
		RetryDelay: 0,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("failed to create coordinator: %v", err)
	}
	pool := fetch.NewPool(coordinator, 2, logger, nil)
	t.Cleanup(func() { _ = pool.Drain(context.Background()) })

	dispatcher, err := NewDispatcher(DispatcherOptions{
		Scheme:      scheme,
		Store:       store,
		Fills:       pool,
		ContentType: "audio/mpeg",
		PathPolicy:  config.PathPolicyRestricted,
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("failed to create dispatcher: %v", err)
	}

	app, err := NewApp(AppOptions{
		Logger:      logger,
		Dispatcher:  dispatcher,
		AllowOrigin: "https://app.example.com",
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	return &testEnv{app: app, pool: pool, logs: logs, originHits: hits}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (e *testEnv) do(t *testing.T, method, target string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, "http://cache.local"+target, nil)
	resp, err := e.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	return resp
}
