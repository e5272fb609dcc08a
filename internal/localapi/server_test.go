package localapi

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"sitecrew/cli/internal/genclient/genclienttest"
	"sitecrew/cli/internal/metrics"
	"sitecrew/cli/internal/orchestrator"
	"sitecrew/cli/internal/retry"
	"sitecrew/cli/internal/workflow"
)

type memKnowledge struct {
	mu      sync.Mutex
	entries []workflow.KnowledgeEntry
	cleared int
}

func (k *memKnowledge) List(context.Context) ([]workflow.KnowledgeEntry, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]workflow.KnowledgeEntry(nil), k.entries...), nil
}

func (k *memKnowledge) Clear(context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.entries = nil
	k.cleared++
	return nil
}

type apiFixture struct {
	srv       *Server
	ts        *httptest.Server
	projects  *workflow.Store
	orch      *orchestrator.Orchestrator
	gen       *genclienttest.Generator
	knowledge *memKnowledge
	metrics   *metrics.Collector
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	f := &apiFixture{
		projects:  workflow.NewStore(),
		gen:       genclienttest.New(),
		knowledge: &memKnowledge{},
		metrics:   metrics.NewCollector("sitecrew"),
	}
	f.orch = orchestrator.New(orchestrator.Options{
		Projects:  f.projects,
		Generator: f.gen,
		Knowledge: f.knowledge,
		Retry:     &retry.Executor{Sleep: func(context.Context, time.Duration) error { return nil }},
	})
	f.srv = NewServer(Deps{
		Projects:  f.projects,
		Workflow:  f.orch,
		Knowledge: f.knowledge,
		Metrics:   f.metrics,
	})
	f.ts = httptest.NewServer(f.srv.Handler())
	t.Cleanup(func() {
		f.ts.Close()
		f.srv.Close()
		f.orch.Close()
	})
	return f
}

type envelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (f *apiFixture) call(t *testing.T, method, path string, body any) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		switch v := body.(type) {
		case string:
			reader = strings.NewReader(v)
		default:
			raw, err := json.Marshal(v)
			if err != nil {
				t.Fatalf("marshal body failed: %v", err)
			}
			reader = bytes.NewReader(raw)
		}
	}
	req, err := http.NewRequest(method, f.ts.URL+path, reader)
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode %s %s failed: %v", method, path, err)
	}
	return resp.StatusCode, env
}

func decodeProject(t *testing.T, env envelope) workflow.Project {
	t.Helper()
	var p workflow.Project
	if err := json.Unmarshal(env.Data, &p); err != nil {
		t.Fatalf("decode project failed: %v", err)
	}
	return p
}

func (f *apiFixture) seed(t *testing.T, stage workflow.Stage, init func(*workflow.Project)) workflow.Project {
	t.Helper()
	p, err := f.projects.Create("Bakery", stage, func(p *workflow.Project) error {
		p.PRD = "# PRD: Bakery\n\nSell bread."
		if init != nil {
			init(p)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed project failed: %v", err)
	}
	return p
}

func waitUntil(t *testing.T, timeout time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestHealthz(t *testing.T) {
	f := newAPIFixture(t)
	code, env := f.call(t, http.MethodGet, "/healthz", nil)
	if code != http.StatusOK || !env.OK || !strings.Contains(string(env.Data), `"ok"`) {
		t.Fatalf("unexpected health response: %d %+v", code, env)
	}
}

func TestCreateProject_RunsKickoffTurn(t *testing.T) {
	f := newAPIFixture(t)
	f.gen.Push("coordinator", genclienttest.Text("Welcome! What are we building?"))

	code, env := f.call(t, http.MethodPost, "/api/v1/projects", nil)
	if code != http.StatusOK || !env.OK {
		t.Fatalf("create failed: %d %+v", code, env)
	}
	created := decodeProject(t, env)
	if created.Title != workflow.DefaultTitle || created.Stage != workflow.StageRequirementGathering {
		t.Fatalf("unexpected project: %+v", created)
	}

	waitUntil(t, 2*time.Second, func() bool { return f.orch.Idle(created.ID) })
	code, env = f.call(t, http.MethodGet, "/api/v1/projects/"+created.ID, nil)
	if code != http.StatusOK {
		t.Fatalf("get failed: %d %+v", code, env)
	}
	got := decodeProject(t, env)
	if len(got.Turns) != 1 || got.Turns[0].Content != "Welcome! What are we building?" {
		t.Fatalf("unexpected turns: %+v", got.Turns)
	}

	code, env = f.call(t, http.MethodGet, "/api/v1/projects", nil)
	var list []workflow.Project
	if err := json.Unmarshal(env.Data, &list); err != nil || code != http.StatusOK || len(list) != 1 {
		t.Fatalf("unexpected list: %d %s %v", code, env.Data, err)
	}
}

func TestErrorMapping(t *testing.T) {
	f := newAPIFixture(t)
	delivered := f.seed(t, workflow.StageDelivery, nil)
	gathering := f.seed(t, workflow.StageRequirementGathering, nil)
	busy := f.seed(t, workflow.StageRequirementGathering, func(p *workflow.Project) {
		workflow.BeginTurn(p, workflow.AgentManager)
	})

	cases := []struct {
		name     string
		method   string
		path     string
		body     any
		wantCode int
		wantErr  string
	}{
		{"unknown project", http.MethodGet, "/api/v1/projects/404", nil, http.StatusNotFound, "PROJECT_NOT_FOUND"},
		{"delivered", http.MethodPost, "/api/v1/projects/" + delivered.ID + "/messages", map[string]any{"content": "hi"}, http.StatusConflict, "PROJECT_DELIVERED"},
		{"busy", http.MethodPost, "/api/v1/projects/" + busy.ID + "/messages", map[string]any{"content": "hi"}, http.StatusConflict, "PROJECT_BUSY"},
		{"empty message", http.MethodPost, "/api/v1/projects/" + gathering.ID + "/messages", map[string]any{"content": "  "}, http.StatusBadRequest, "EMPTY_MESSAGE"},
		{"wrong stage", http.MethodPost, "/api/v1/projects/" + gathering.ID + "/prd/decision", map[string]any{"approved": true}, http.StatusConflict, "INVALID_STAGE"},
		{"missing decision", http.MethodPost, "/api/v1/projects/" + gathering.ID + "/prd/decision", map[string]any{}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"bad attachment", http.MethodPost, "/api/v1/projects/" + gathering.ID + "/messages", map[string]any{"content": "x", "attachment": map[string]any{"name": "a.png", "mime_type": "image/png", "data": "%%%"}}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"bad json", http.MethodPut, "/api/v1/projects/" + gathering.ID + "/prd", "{", http.StatusBadRequest, "INVALID_JSON"},
		{"unknown file", http.MethodPut, "/api/v1/projects/" + gathering.ID + "/settings", map[string]any{"active_file": "nope.html"}, http.StatusNotFound, "FILE_NOT_FOUND"},
	}
	for _, tc := range cases {
		code, env := f.call(t, tc.method, tc.path, tc.body)
		if code != tc.wantCode || env.OK || env.Error.Code != tc.wantErr {
			t.Fatalf("%s: got %d %+v, want %d %s", tc.name, code, env, tc.wantCode, tc.wantErr)
		}
	}
	if n := f.gen.CallCount("coordinator"); n != 0 {
		t.Fatalf("rejected requests must not reach the service, got %d calls", n)
	}
}

func TestPRDEditAndSettings(t *testing.T) {
	f := newAPIFixture(t)
	p := f.seed(t, workflow.StagePRDReview, func(p *workflow.Project) {
		p.PutFile(workflow.GeneratedFile{Name: "index.html", Content: "<h1>hi</h1>", Type: "html"})
	})

	code, env := f.call(t, http.MethodPut, "/api/v1/projects/"+p.ID+"/prd", map[string]any{"content": "# PRD: Bakery\n\nSell cakes."})
	if code != http.StatusOK || decodeProject(t, env).PRD != "# PRD: Bakery\n\nSell cakes." {
		t.Fatalf("prd edit failed: %d %+v", code, env)
	}

	code, env = f.call(t, http.MethodPut, "/api/v1/projects/"+p.ID+"/settings", map[string]any{"deep_thinking": true, "active_file": "index.html"})
	got := decodeProject(t, env)
	if code != http.StatusOK || !got.DeepThinking || got.ActiveFile != "index.html" {
		t.Fatalf("settings failed: %d %+v", code, got)
	}

	code, env = f.call(t, http.MethodPut, "/api/v1/projects/"+p.ID+"/settings", map[string]any{"close_file": "index.html"})
	got = decodeProject(t, env)
	if code != http.StatusOK || got.ActiveFile == "index.html" {
		t.Fatalf("close file failed: %d %+v", code, got)
	}
}

func TestStopAndDelete(t *testing.T) {
	f := newAPIFixture(t)
	p := f.seed(t, workflow.StageRequirementGathering, func(p *workflow.Project) {
		workflow.BeginTurn(p, workflow.AgentManager)
	})

	code, env := f.call(t, http.MethodPost, "/api/v1/projects/"+p.ID+"/stop", nil)
	got := decodeProject(t, env)
	if code != http.StatusOK || got.HasPlaceholder() || got.Stage != workflow.StageUserReview {
		t.Fatalf("stop failed: %d %+v", code, got)
	}

	code, _ = f.call(t, http.MethodDelete, "/api/v1/projects/"+p.ID, nil)
	if code != http.StatusOK {
		t.Fatalf("delete failed: %d", code)
	}
	code, env = f.call(t, http.MethodGet, "/api/v1/projects/"+p.ID, nil)
	if code != http.StatusNotFound || env.Error.Code != "PROJECT_NOT_FOUND" {
		t.Fatalf("expected deleted project gone, got %d %+v", code, env)
	}
}

func TestBundleDownload(t *testing.T) {
	f := newAPIFixture(t)
	p := f.seed(t, workflow.StageUserReview, func(p *workflow.Project) {
		p.Title = "Sourdough Corner"
		p.PutFile(workflow.GeneratedFile{Name: "index.html", Content: "<h1>bread</h1>", Type: "html"})
	})

	resp, err := http.Get(f.ts.URL + "/api/v1/projects/" + p.ID + "/bundle")
	if err != nil {
		t.Fatalf("bundle request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "application/zip" {
		t.Fatalf("unexpected bundle response: %d %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if !strings.Contains(resp.Header.Get("Content-Disposition"), "sourdough-corner.zip") {
		t.Fatalf("unexpected disposition: %q", resp.Header.Get("Content-Disposition"))
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read bundle failed: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		t.Fatalf("open zip failed: %v", err)
	}
	names := map[string]bool{}
	for _, zf := range zr.File {
		names[zf.Name] = true
	}
	if !names["index.html"] || !names[workflow.PRDFileName] || len(names) != 2 {
		t.Fatalf("unexpected bundle entries: %v", names)
	}
}

func TestDemoRoute(t *testing.T) {
	f := newAPIFixture(t)
	code, env := f.call(t, http.MethodPost, "/api/v1/demo", nil)
	p := decodeProject(t, env)
	if code != http.StatusOK || p.Title != workflow.DemoTitle || p.Stage != workflow.StageCodeGeneration {
		t.Fatalf("unexpected demo project: %d %+v", code, p)
	}
	waitUntil(t, 2*time.Second, func() bool { return f.orch.Idle(p.ID) })
}

func TestKnowledgeRoutes(t *testing.T) {
	f := newAPIFixture(t)
	f.knowledge.entries = []workflow.KnowledgeEntry{{ProjectID: "1", Title: "Cafe", Summary: "A cafe site."}}

	code, env := f.call(t, http.MethodGet, "/api/v1/knowledge", nil)
	var entries []workflow.KnowledgeEntry
	if err := json.Unmarshal(env.Data, &entries); err != nil || code != http.StatusOK || len(entries) != 1 || entries[0].Title != "Cafe" {
		t.Fatalf("unexpected knowledge list: %d %s %v", code, env.Data, err)
	}

	code, _ = f.call(t, http.MethodDelete, "/api/v1/knowledge", nil)
	if code != http.StatusOK || f.knowledge.cleared != 1 {
		t.Fatalf("clear failed: %d cleared=%d", code, f.knowledge.cleared)
	}
	_, env = f.call(t, http.MethodGet, "/api/v1/knowledge", nil)
	if string(env.Data) != "[]" {
		t.Fatalf("expected empty list after clear, got %s", env.Data)
	}
}

func TestAssistRoutes(t *testing.T) {
	f := newAPIFixture(t)
	f.gen.Push("enhance", genclienttest.Reply{Text: "A warm, detailed bakery brief."})
	f.gen.Push("suggestions", genclienttest.Reply{Text: `{"suggestions":["<div>","<section>","<p>","<span>"]}`})

	_, env := f.call(t, http.MethodPost, "/api/v1/assist/enhance", map[string]any{"prompt": "bakery"})
	var enhanced struct {
		Prompt string `json:"prompt"`
	}
	if err := json.Unmarshal(env.Data, &enhanced); err != nil || enhanced.Prompt != "A warm, detailed bakery brief." {
		t.Fatalf("unexpected enhance response: %s %v", env.Data, err)
	}

	_, env = f.call(t, http.MethodPost, "/api/v1/assist/suggestions", map[string]any{"file_name": "index.html", "code_before_cursor": "<body>"})
	var sugg struct {
		Suggestions []string `json:"suggestions"`
	}
	if err := json.Unmarshal(env.Data, &sugg); err != nil || len(sugg.Suggestions) != 3 {
		t.Fatalf("unexpected suggestions: %s %v", env.Data, err)
	}

	code, env := f.call(t, http.MethodPost, "/api/v1/assist/suggestions", map[string]any{"code_before_cursor": "x"})
	if code != http.StatusBadRequest || env.Error.Code != "INVALID_REQUEST" || !strings.Contains(env.Error.Message, "FileName") {
		t.Fatalf("expected validation error, got %d %+v", code, env)
	}
}

func TestMetricsRecordsRoutePatterns(t *testing.T) {
	f := newAPIFixture(t)
	f.call(t, http.MethodGet, "/api/v1/projects/missing", nil)

	resp, err := http.Get(f.ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, _ := io.ReadAll(resp.Body)
	want := `sitecrew_http_requests_total{method="GET",route="GET /api/v1/projects/{id}",status="Not Found"} 1`
	if !strings.Contains(string(raw), want) {
		t.Fatalf("expected %q in scrape:\n%s", want, raw)
	}
}

func TestVoiceRouteUnavailable(t *testing.T) {
	f := newAPIFixture(t)
	p := f.seed(t, workflow.StageRequirementGathering, nil)
	code, env := f.call(t, http.MethodGet, "/api/v1/projects/"+p.ID+"/voice", nil)
	if code != http.StatusServiceUnavailable || env.Error.Code != "VOICE_UNAVAILABLE" {
		t.Fatalf("unexpected voice response: %d %+v", code, env)
	}
}
