package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/badgesmith/badgesmith/internal/config"
	"github.com/badgesmith/badgesmith/internal/hmacauth"
	"github.com/badgesmith/badgesmith/internal/noncestore"
	"github.com/badgesmith/badgesmith/internal/packages"
	"github.com/badgesmith/badgesmith/internal/results"
	"github.com/badgesmith/badgesmith/internal/secrets"
)

var testKey = []byte("test-hmac-key")

type staticKeys map[string][]byte

func (k staticKeys) RepoHmacKey(_ context.Context, repoID string) ([]byte, error) {
	key, ok := k[repoID]
	if !ok {
		return nil, secrets.ErrNotFound
	}
	return key, nil
}

type staticTokens struct{}

func (staticTokens) ProviderToken(context.Context, string, string) (string, error) {
	return "", secrets.ErrNotFound
}

// testServer wires a full dispatcher over memory stores and an httptest
// upstream that serves both registries.
func testServer(t *testing.T) (*Server, *results.MemoryStore) {
	t.Helper()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/v3-flatcontainer/newtonsoft.json/"):
			w.Write([]byte(`{"versions":["12.0.3","13.0.1","14.0.0-preview1"]}`))
		case strings.HasPrefix(r.URL.Path, "/v3-flatcontainer/"):
			w.WriteHeader(http.StatusNotFound)
		case strings.HasPrefix(r.URL.Path, "/orgs/octocat/packages/nuget/mylib/"):
			w.Write([]byte(`[{"name":"2.1.0"},{"name":"2.0.0"}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(upstream.Close)

	cfg := config.DefaultConfig()
	cfg.Tables = config.TablesConfig{Secrets: "s", Nonces: "n", TestResults: "r"}
	cfg.Upstreams.NuGet.BaseURL = upstream.URL
	cfg.Upstreams.NuGet.MaxRetries = 1
	cfg.Upstreams.GitHub.BaseURL = upstream.URL
	cfg.Upstreams.GitHub.MaxRetries = 1

	nonces := noncestore.NewMemoryStore()
	t.Cleanup(nonces.Close)

	store := results.NewMemoryStore()
	providers := packages.NewFactory()
	providers.Register(packages.ProviderNuGet, packages.NewNuGetProvider(cfg.Upstreams.NuGet))
	providers.Register(packages.ProviderGitHub, packages.NewGitHubProvider(cfg.Upstreams.GitHub, staticTokens{}))

	srv, err := New(cfg, Deps{
		Auth:      hmacauth.New(nonces, staticKeys{"octocat/hello": testKey}, 5*time.Minute, 45*time.Minute),
		Providers: providers,
		Results:   store,
	})
	if err != nil {
		t.Fatal(err)
	}
	return srv, store
}

func do(srv *Server, method, path string, body []byte, headers http.Header) *httptest.ResponseRecorder {
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	for k, vv := range headers {
		for _, v := range vv {
			r.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, r)
	return w
}

func signedIngest(t *testing.T, body []byte, nonce string) http.Header {
	t.Helper()
	h := http.Header{}
	h.Set(hmacauth.HeaderSignature, hmacauth.Sign(testKey, body))
	h.Set(hmacauth.HeaderRepoSecret, "octocat/hello")
	h.Set(hmacauth.HeaderTimestamp, time.Now().UTC().Format(time.RFC3339))
	h.Set(hmacauth.HeaderNonce, nonce)
	return h
}

func ingestBody(runID string) []byte {
	return []byte(`{"platform":"linux","passed":10,"failed":1,"skipped":2,"total":13,` +
		`"run_id":"` + runID + `","url_html":"https://ci.example.com/run/1",` +
		`"commit":"abc1234","timestamp":"2025-06-01T12:00:00Z"}`)
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)

	w := do(srv, "GET", "/health", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "Healthy" {
		t.Errorf("status = %q", body.Status)
	}
	if _, err := time.Parse(time.RFC3339, body.Timestamp); err != nil {
		t.Errorf("timestamp %q: %v", body.Timestamp, err)
	}
	if cc := w.Header().Get("Cache-Control"); cc != "no-store, no-cache, must-revalidate" {
		t.Errorf("Cache-Control = %q", cc)
	}

	// Conditional GET over the same body.
	h := http.Header{}
	h.Set("If-None-Match", "*")
	if w := do(srv, "GET", "/health", nil, h); w.Code != http.StatusNotModified {
		t.Errorf("If-None-Match *: status = %d", w.Code)
	}
}

func TestHeadBadge(t *testing.T) {
	srv, _ := testServer(t)

	w := do(srv, "HEAD", "/badges/packages/nuget/Newtonsoft.Json", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Error("HEAD must not carry a body")
	}
	if w.Header().Get("ETag") == "" {
		t.Error("HEAD must carry the ETag")
	}
}

func TestNuGetBadge(t *testing.T) {
	srv, _ := testServer(t)

	w := do(srv, "GET", "/badges/packages/nuget/Newtonsoft.Json", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var badge struct {
		SchemaVersion int    `json:"schemaVersion"`
		Label         string `json:"label"`
		Message       string `json:"message"`
		Color         string `json:"color"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &badge); err != nil {
		t.Fatal(err)
	}
	if badge.SchemaVersion != 1 || badge.Label != "nuget" || badge.Message != "13.0.1" || badge.Color != "blue" {
		t.Errorf("badge = %+v", badge)
	}
	if cc := w.Header().Get("Cache-Control"); !strings.Contains(cc, "s-maxage=10") {
		t.Errorf("Cache-Control = %q", cc)
	}

	// Conditional replay with the emitted ETag.
	etag := w.Header().Get("ETag")
	h := http.Header{}
	h.Set("If-None-Match", etag)
	w2 := do(srv, "GET", "/badges/packages/nuget/Newtonsoft.Json", nil, h)
	if w2.Code != http.StatusNotModified {
		t.Fatalf("conditional GET: status = %d", w2.Code)
	}
	if w2.Body.Len() != 0 {
		t.Error("304 must have no body")
	}
	if w2.Header().Get("ETag") != etag {
		t.Error("304 must carry the same ETag")
	}
}

func TestNuGetBadgeNotFound(t *testing.T) {
	srv, _ := testServer(t)

	w := do(srv, "GET", "/badges/packages/nuget/No.Such.Package", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; missing packages still serve a badge body", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"message":"not found"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestNuGetBadgeFilterQuery(t *testing.T) {
	srv, _ := testServer(t)

	w := do(srv, "GET", "/badges/packages/nuget/Newtonsoft.Json?prerelease=true", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"message":"14.0.0-preview1"`) {
		t.Errorf("body = %s", w.Body.String())
	}

	w = do(srv, "GET", "/badges/packages/nuget/Newtonsoft.Json?lt=not-semver", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed filter: status = %d", w.Code)
	}
}

func TestGitHubBadge(t *testing.T) {
	srv, _ := testServer(t)

	w := do(srv, "GET", "/badges/packages/github/octocat/mylib", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"message":"2.1.0"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestGitHubBadgeMissingOrg(t *testing.T) {
	srv, _ := testServer(t)

	w := do(srv, "GET", "/badges/packages/github//mylib", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "ORG_REQUIRED") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestUnknownRouteAndMethod(t *testing.T) {
	srv, _ := testServer(t)

	if w := do(srv, "GET", "/nope", nil, nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown path: status = %d", w.Code)
	}
	// Wrong method on a known path resolves to nothing as well.
	if w := do(srv, "POST", "/health", nil, nil); w.Code != http.StatusNotFound {
		t.Errorf("wrong method: status = %d", w.Code)
	}
	if w := do(srv, "GET", "/tests/results", nil, nil); w.Code != http.StatusNotFound {
		t.Errorf("GET on POST route: status = %d", w.Code)
	}
}

func TestPreflight(t *testing.T) {
	srv, _ := testServer(t)

	h := http.Header{}
	h.Set("Origin", "https://example.com")
	h.Set("Access-Control-Request-Method", "POST")
	w := do(srv, "OPTIONS", "/tests/results", nil, h)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); got != "POST" {
		t.Errorf("Allow-Methods = %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestIngestAccepted(t *testing.T) {
	srv, store := testServer(t)

	body := ingestBody("run-1")
	w := do(srv, "POST", "/tests/results?branch=main", body, signedIngest(t, body, "n-1"))
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		TestResultID string `json:"test_result_id"`
		Repository   string `json:"repository"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Repository != "octocat/hello" {
		t.Errorf("repository = %q", resp.Repository)
	}
	if resp.TestResultID == "" {
		t.Error("missing test_result_id")
	}

	rec, err := store.GetLatest(context.Background(), "octocat", "hello", "linux", "main")
	if err != nil || rec == nil {
		t.Fatalf("GetLatest: %v, %v", rec, err)
	}
	if rec.Passed != 10 || rec.Failed != 1 || rec.Skipped != 2 {
		t.Errorf("rec = %+v", rec)
	}
}

func TestIngestNonceReplay(t *testing.T) {
	srv, _ := testServer(t)

	body := ingestBody("run-1")
	h := signedIngest(t, body, "n-replay")
	if w := do(srv, "POST", "/tests/results", body, h); w.Code != http.StatusCreated {
		t.Fatalf("first: %d", w.Code)
	}

	w := do(srv, "POST", "/tests/results", body, h)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("replay: status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "NONCE_USED") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestIngestDuplicateRun(t *testing.T) {
	srv, _ := testServer(t)

	body := ingestBody("run-dup")
	if w := do(srv, "POST", "/tests/results", body, signedIngest(t, body, "n-a")); w.Code != http.StatusCreated {
		t.Fatalf("first: %d", w.Code)
	}

	// Fresh nonce, same run_id: authenticated but idempotently rejected.
	w := do(srv, "POST", "/tests/results", body, signedIngest(t, body, "n-b"))
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate run: status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestIngestTamperedBody(t *testing.T) {
	srv, _ := testServer(t)

	body := ingestBody("run-1")
	h := signedIngest(t, body, "n-tamper")
	tampered := bytes.Replace(body, []byte(`"passed":10`), []byte(`"passed":99`), 1)

	w := do(srv, "POST", "/tests/results", tampered, h)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "INVALID_SIGNATURE") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestIngestMissingHeaders(t *testing.T) {
	srv, _ := testServer(t)

	w := do(srv, "POST", "/tests/results", ingestBody("run-1"), nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "MISSING_HEADERS") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestIngestUnknownRepo(t *testing.T) {
	srv, _ := testServer(t)

	body := ingestBody("run-1")
	h := signedIngest(t, body, "n-unknown")
	h.Set(hmacauth.HeaderRepoSecret, "nobody/nothing")

	w := do(srv, "POST", "/tests/results", body, h)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "nobody") {
		t.Error("response must not echo the identity")
	}
}

func TestIngestSkewedTimestamp(t *testing.T) {
	srv, _ := testServer(t)

	body := ingestBody("run-1")
	h := signedIngest(t, body, "n-skew")
	h.Set(hmacauth.HeaderTimestamp, time.Now().UTC().Add(-10*time.Minute).Format(time.RFC3339))

	w := do(srv, "POST", "/tests/results", body, h)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "INVALID_TIMESTAMP") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestIngestInvalidPayload(t *testing.T) {
	srv, _ := testServer(t)

	body := []byte(`{"platform":"beos","passed":1,"failed":0,"skipped":0,"total":5,` +
		`"run_id":"run-x","url_html":"https://ci.example.com/1","commit":"abc",` +
		`"timestamp":"2025-06-01T12:00:00Z"}`)
	w := do(srv, "POST", "/tests/results", body, signedIngest(t, body, "n-bad"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	for _, code := range []string{"INVALID_PLATFORM", "TOTAL_MISMATCH"} {
		if !strings.Contains(w.Body.String(), code) {
			t.Errorf("body missing %s: %s", code, w.Body.String())
		}
	}
}

func TestTestBadge(t *testing.T) {
	srv, _ := testServer(t)

	body := ingestBody("run-1")
	if w := do(srv, "POST", "/tests/results", body, signedIngest(t, body, "n-1")); w.Code != http.StatusCreated {
		t.Fatalf("ingest: %d", w.Code)
	}

	w := do(srv, "GET", "/badges/tests/linux/octocat/hello/main", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"message":"10 passed, 1 failed, 2 skipped"`) {
		t.Errorf("body = %s", w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"color":"red"`) {
		t.Errorf("failures present, badge must be red: %s", w.Body.String())
	}
	if w.Header().Get("Last-Modified") == "" {
		t.Error("missing Last-Modified")
	}
}

func TestTestBadgeNoResults(t *testing.T) {
	srv, _ := testServer(t)

	w := do(srv, "GET", "/badges/tests/linux/octocat/hello/main", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"message":"no results"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestTestBadgeInvalidPlatform(t *testing.T) {
	srv, _ := testServer(t)

	w := do(srv, "GET", "/badges/tests/solaris/octocat/hello/main", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "INVALID_PLATFORM") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestRedirect(t *testing.T) {
	srv, _ := testServer(t)

	body := ingestBody("run-1")
	if w := do(srv, "POST", "/tests/results", body, signedIngest(t, body, "n-1")); w.Code != http.StatusCreated {
		t.Fatalf("ingest: %d", w.Code)
	}

	w := do(srv, "GET", "/redirect/test-results/linux/octocat/hello/main", nil, nil)
	if w.Code != http.StatusFound {
		t.Fatalf("status = %d", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "https://ci.example.com/run/1" {
		t.Errorf("Location = %q", loc)
	}

	if w := do(srv, "GET", "/redirect/test-results/linux/octocat/other/main", nil, nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown tuple: status = %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	do(srv, "GET", "/health", nil, nil)
	w := do(srv, "GET", "/metrics", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "badgesmith_requests_total") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestCORSOnBadgeResponse(t *testing.T) {
	srv, _ := testServer(t)

	h := http.Header{}
	h.Set("Origin", "https://shields.io")
	w := do(srv, "GET", "/health", nil, h)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q", got)
	}
}
