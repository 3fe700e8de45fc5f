package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kestrelhq/kestrel/internal/agent"
	"github.com/kestrelhq/kestrel/internal/config"
	"github.com/kestrelhq/kestrel/internal/llm"
	"github.com/kestrelhq/kestrel/internal/orchestrator"
	"github.com/kestrelhq/kestrel/internal/sessions"
	"github.com/kestrelhq/kestrel/internal/stt"
	"github.com/kestrelhq/kestrel/internal/summarizer"
)

// offlineProvider fails every LLM call so handlers exercise their
// non-LLM paths and the summarizer falls back deterministically.
type offlineProvider struct{}

func (offlineProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, errors.New("no backend")
}

func (offlineProvider) ChatWithTools(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, errors.New("no backend")
}

func (offlineProvider) SupportsToolCallMessages() bool { return true }
func (offlineProvider) DefaultModel() string           { return "offline" }

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *sessions.Manager, *http.ServeMux) {
	t.Helper()
	cfg := config.Default()
	cfg.Workspace = t.TempDir()
	if mutate != nil {
		mutate(cfg)
	}

	provider := offlineProvider{}
	sm := sessions.NewManager(cfg.WorkspacePath())
	coder := agent.NewCoder(provider, 5)
	manager := agent.NewManager(provider, coder, "", 0)
	summ := summarizer.New(provider, "")
	orch := orchestrator.New(manager, summ)
	sttClient := stt.NewClient(cfg.STT.ProxyURL, cfg.STT.APIKey, cfg.STT.TimeoutSec)

	s := NewServer(cfg, sm, orch, sttClient, summ)
	return s, sm, s.BuildMux()
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("body is not JSON: %v\n%s", err, w.Body.String())
	}
	return out
}

func TestHealth(t *testing.T) {
	_, _, mux := newTestServer(t, nil)
	w := doJSON(t, mux, "GET", "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if decodeBody(t, w)["status"] != "ok" {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestSessionEndpoints(t *testing.T) {
	s, _, mux := newTestServer(t, nil)
	cwd := filepath.Join(s.cfg.WorkspacePath(), "proj", "main")

	w := doJSON(t, mux, "POST", "/session/create", map[string]string{"cwd": cwd})
	if w.Code != http.StatusOK {
		t.Fatalf("create = %d: %s", w.Code, w.Body.String())
	}
	created := decodeBody(t, w)
	id, _ := created["session_id"].(string)
	if id == "" || created["name"] != "main" {
		t.Fatalf("created = %v", created)
	}

	w = doJSON(t, mux, "GET", "/sessions", nil)
	list := decodeBody(t, w)["sessions"].([]interface{})
	if len(list) != 1 {
		t.Fatalf("sessions = %v", list)
	}

	w = doJSON(t, mux, "POST", "/session/"+id+"/rename", map[string]string{"name": "renamed"})
	if w.Code != http.StatusOK {
		t.Fatalf("rename = %d", w.Code)
	}
	w = doJSON(t, mux, "POST", "/session/"+id+"/rename", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty rename = %d", w.Code)
	}
	w = doJSON(t, mux, "POST", "/session/ghost/rename", map[string]string{"name": "x"})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown rename = %d", w.Code)
	}

	w = doJSON(t, mux, "DELETE", "/session/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete = %d", w.Code)
	}
	w = doJSON(t, mux, "DELETE", "/session/"+id, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("double delete = %d", w.Code)
	}
}

func TestClientEventEndpoint(t *testing.T) {
	s, sm, mux := newTestServer(t, nil)
	sess, err := sm.Create(sessions.CreateOptions{
		Cwd: filepath.Join(s.cfg.WorkspacePath(), "p", "main"),
	})
	if err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, mux, "POST", "/session/nonexistent/event", map[string]string{
		"type": "user_intent", "content": "hello",
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown session = %d", w.Code)
	}

	w = doJSON(t, mux, "POST", "/session/"+sess.ID+"/event", map[string]string{
		"type": "user_intent",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing content = %d", w.Code)
	}

	w = doJSON(t, mux, "POST", "/session/"+sess.ID+"/event", map[string]interface{}{
		"type": "user_intent", "role": "user", "source": "browser_stt",
		"content": "build a parser",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("record = %d: %s", w.Code, w.Body.String())
	}

	events, err := sess.Transcript.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Content() != "build a parser" {
		t.Fatalf("events = %+v", events)
	}

	w = doJSON(t, mux, "GET", "/session/"+sess.ID+"/transcript", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("transcript = %d", w.Code)
	}
	served := decodeBody(t, w)["events"].([]interface{})
	if len(served) != 1 {
		t.Errorf("served events = %v", served)
	}
}

func TestTranscriptDownload(t *testing.T) {
	s, sm, mux := newTestServer(t, nil)
	sess, err := sm.Create(sessions.CreateOptions{
		Cwd: filepath.Join(s.cfg.WorkspacePath(), "p", "main"),
	})
	if err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, mux, "GET", "/session/nonexistent/transcript/download", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown session = %d", w.Code)
	}

	doJSON(t, mux, "POST", "/session/"+sess.ID+"/event", map[string]interface{}{
		"type": "user_intent", "role": "user", "source": "browser_stt",
		"content": "build a parser",
	})
	doJSON(t, mux, "POST", "/session/"+sess.ID+"/event", map[string]interface{}{
		"type": "assistant", "role": "coder", "source": "coder",
		"content": "parser built",
	})

	w = doJSON(t, mux, "GET", "/session/"+sess.ID+"/transcript/download", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("download = %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Errorf("disposition = %q", cd)
	}

	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d:\n%s", len(lines), w.Body.String())
	}
	if lines[0] != "[browser_stt/user] build a parser" {
		t.Errorf("line 0 = %q", lines[0])
	}
	if lines[1] != "[coder/coder] parser built" {
		t.Errorf("line 1 = %q", lines[1])
	}
	// Bodies come back decoded, not as stored base64.
	if strings.Contains(w.Body.String(), "body_b64") {
		t.Error("download leaked raw transcript encoding")
	}
}

func TestAudioWithoutSTT(t *testing.T) {
	s, sm, mux := newTestServer(t, nil)
	sess, err := sm.Create(sessions.CreateOptions{
		Cwd: filepath.Join(s.cfg.WorkspacePath(), "p", "main"),
	})
	if err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, mux, "POST", "/session/"+sess.ID+"/audio", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 when STT unconfigured", w.Code)
	}
}

func TestSummarizeEndpoint(t *testing.T) {
	_, _, mux := newTestServer(t, nil)

	w := doJSON(t, mux, "POST", "/summarize", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty text = %d", w.Code)
	}

	w = doJSON(t, mux, "POST", "/summarize", map[string]string{"text": "Patched the build."})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	summary, _ := decodeBody(t, w)["summary"].(string)
	if !strings.HasPrefix(summary, "I did") || !strings.HasSuffix(summary, "?") {
		t.Errorf("summary shape = %q", summary)
	}
}

func TestProjectEndpoints(t *testing.T) {
	s, _, mux := newTestServer(t, nil)
	os.MkdirAll(filepath.Join(s.cfg.WorkspacePath(), "alpha", "main"), 0755)

	w := doJSON(t, mux, "GET", "/projects", nil)
	projects := decodeBody(t, w)["projects"].([]interface{})
	if len(projects) != 1 || projects[0] != "alpha" {
		t.Fatalf("projects = %v", projects)
	}

	w = doJSON(t, mux, "GET", "/project/alpha/branches", nil)
	branches := decodeBody(t, w)["branches"].([]interface{})
	if len(branches) != 1 || branches[0] != "main" {
		t.Fatalf("branches = %v", branches)
	}

	w = doJSON(t, mux, "GET", "/project/ghost/branches", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing project = %d", w.Code)
	}

	w = doJSON(t, mux, "POST", "/project/alpha/merge", map[string]string{"branch": "main"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("merge main = %d, want 400", w.Code)
	}

	w = doJSON(t, mux, "POST", "/project/alpha/merge", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("merge without branch = %d", w.Code)
	}

	w = doJSON(t, mux, "DELETE", "/project/ghost", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("delete missing = %d", w.Code)
	}

	w = doJSON(t, mux, "POST", "/project/alpha/session", map[string]string{})
	if w.Code != http.StatusOK {
		t.Fatalf("project session = %d: %s", w.Code, w.Body.String())
	}
	if decodeBody(t, w)["name"] != "main" {
		t.Errorf("body = %s", w.Body.String())
	}

	w = doJSON(t, mux, "POST", "/project/alpha/session", map[string]string{"branch": "ghost"})
	if w.Code != http.StatusNotFound {
		t.Errorf("missing branch session = %d", w.Code)
	}

	w = doJSON(t, mux, "DELETE", "/project/alpha", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete project = %d", w.Code)
	}
}

func TestBearerAuth(t *testing.T) {
	_, _, mux := newTestServer(t, func(cfg *config.Config) {
		cfg.Gateway.Token = "sekrit"
	})

	req := httptest.NewRequest("GET", "/sessions", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d", w.Code)
	}

	req = httptest.NewRequest("GET", "/sessions", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d", w.Code)
	}

	req = httptest.NewRequest("GET", "/sessions", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("valid token = %d", w.Code)
	}

	// Health stays open for probes.
	req = httptest.NewRequest("GET", "/health", nil)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("health with auth enabled = %d", w.Code)
	}
}

func TestRateLimitedEndpoint(t *testing.T) {
	_, _, mux := newTestServer(t, func(cfg *config.Config) {
		cfg.Gateway.RateLimitRPM = 1
	})

	var last int
	for i := 0; i < 6; i++ {
		w := doJSON(t, mux, "GET", "/sessions", nil)
		last = w.Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("sixth request = %d, want 429", last)
	}
}

func TestWebSocketUnknownSession(t *testing.T) {
	_, _, mux := newTestServer(t, nil)
	w := doJSON(t, mux, "GET", "/ws/nonexistent", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 before upgrade", w.Code)
	}
}
