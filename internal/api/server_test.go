package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/dingyufei615/ai-goofish-monitor/internal/config"
	"github.com/dingyufei615/ai-goofish-monitor/internal/model"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()

	dir := t.TempDir()
	tasksFile := filepath.Join(dir, "config.json")
	seed := []model.Task{
		{TaskName: "seed", Enabled: true, Keyword: "macbook", MaxPages: 1},
	}
	data, err := json.Marshal(seed)
	if err != nil {
		t.Fatalf("marshal seed tasks: %v", err)
	}
	if err := os.WriteFile(tasksFile, data, 0644); err != nil {
		t.Fatalf("write seed tasks: %v", err)
	}

	cfg := &config.Config{
		Security: config.SecurityConfig{
			JWTSecret:   "test-secret",
			WebUsername: "admin",
			WebPassword: "admin123",
		},
		Paths: config.PathsConfig{
			TasksFile:  tasksFile,
			DataDir:    filepath.Join(dir, "jsonl"),
			PromptsDir: filepath.Join(dir, "prompts"),
			LogFile:    filepath.Join(dir, "scraper.log"),
			StateFile:  filepath.Join(dir, "state.json"),
		},
	}

	testLogger := slog.New(slog.NewTextHandler(io.Discard, nil))
	proc := NewProcessManager(filepath.Join(dir, "monitor"), cfg.Paths.LogFile, testLogger)
	srv, err := NewServer(cfg, testLogger, proc)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv, dir
}

func doRequest(t *testing.T, srv *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func loginToken(t *testing.T, srv *Server) string {
	t.Helper()

	w := doRequest(t, srv, http.MethodPost, "/api/login", "", map[string]string{
		"username": "admin",
		"password": "admin123",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("login returned empty token")
	}
	return resp.Token
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/healthz", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", w.Code)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/api/login", "", map[string]string{
		"username": "admin",
		"password": "wrong",
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/tasks", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d, want 401", w.Code)
	}

	w = doRequest(t, srv, http.MethodGet, "/api/tasks", "not-a-jwt", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: status = %d, want 401", w.Code)
	}
}

func TestTasksCRUD(t *testing.T) {
	srv, _ := newTestServer(t)
	token := loginToken(t, srv)

	listTasks := func() []taskWithID {
		w := doRequest(t, srv, http.MethodGet, "/api/tasks", token, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("list status = %d", w.Code)
		}
		var tasks []taskWithID
		if err := json.Unmarshal(w.Body.Bytes(), &tasks); err != nil {
			t.Fatalf("decode task list: %v", err)
		}
		return tasks
	}

	tasks := listTasks()
	if len(tasks) != 1 || tasks[0].ID != 0 || tasks[0].TaskName != "seed" {
		t.Fatalf("unexpected seed list: %+v", tasks)
	}

	w := doRequest(t, srv, http.MethodPost, "/api/tasks", token, model.Task{
		TaskName: "iphone", Keyword: "iphone 15", MaxPages: 2, Enabled: true,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}

	w = doRequest(t, srv, http.MethodPost, "/api/tasks", token, model.Task{
		TaskName: "iphone", Keyword: "iphone 15",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate create status = %d, want 409", w.Code)
	}

	w = doRequest(t, srv, http.MethodPatch, "/api/tasks/1", token, map[string]any{
		"enabled": false,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("patch status = %d, body = %s", w.Code, w.Body.String())
	}

	tasks = listTasks()
	if len(tasks) != 2 {
		t.Fatalf("task count = %d, want 2", len(tasks))
	}
	if tasks[1].Enabled {
		t.Fatal("patch did not disable task")
	}
	if tasks[1].Keyword != "iphone 15" {
		t.Fatalf("patch lost existing fields: %+v", tasks[1])
	}

	w = doRequest(t, srv, http.MethodDelete, "/api/tasks/9", token, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("delete missing status = %d, want 404", w.Code)
	}

	w = doRequest(t, srv, http.MethodDelete, "/api/tasks/1", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}
	if tasks = listTasks(); len(tasks) != 1 {
		t.Fatalf("task count after delete = %d, want 1", len(tasks))
	}
}

func TestGenerateTask_AIUnavailable(t *testing.T) {
	srv, _ := newTestServer(t)
	token := loginToken(t, srv)

	w := doRequest(t, srv, http.MethodPost, "/api/tasks/generate", token, generateTaskRequest{
		TaskName: "gen", Keyword: "switch", Description: "95 新以上的 Switch",
	})
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestResults(t *testing.T) {
	srv, dir := newTestServer(t)
	token := loginToken(t, srv)

	dataDir := filepath.Join(dir, "jsonl")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		t.Fatalf("mkdir data dir: %v", err)
	}
	lines := `{"item_info":{"商品标题":"a"},"crawl_time":"2026-01-01T10:00:00","ai_analysis":{"is_recommended":true}}
{"item_info":{"商品标题":"b"},"crawl_time":"2026-01-02T10:00:00","ai_analysis":{"is_recommended":false}}
`
	if err := os.WriteFile(filepath.Join(dataDir, "macbook.jsonl"), []byte(lines), 0644); err != nil {
		t.Fatalf("write result file: %v", err)
	}

	w := doRequest(t, srv, http.MethodGet, "/api/results/files", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("files status = %d", w.Code)
	}
	var files struct {
		Files []string `json:"files"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &files); err != nil {
		t.Fatalf("decode files: %v", err)
	}
	if len(files.Files) != 1 || files.Files[0] != "macbook.jsonl" {
		t.Fatalf("unexpected files: %v", files.Files)
	}

	w = doRequest(t, srv, http.MethodGet, "/api/results/macbook.jsonl?recommended_only=true", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("query status = %d, body = %s", w.Code, w.Body.String())
	}
	var result struct {
		TotalItems int `json:"total_items"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode query result: %v", err)
	}
	if result.TotalItems != 1 {
		t.Fatalf("recommended total = %d, want 1", result.TotalItems)
	}

	w = doRequest(t, srv, http.MethodGet, "/api/results/ghost.jsonl", token, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing file status = %d, want 404", w.Code)
	}

	w = doRequest(t, srv, http.MethodGet, "/api/results/secret.txt", token, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad filename status = %d, want 400", w.Code)
	}
}

func TestPrompts(t *testing.T) {
	srv, _ := newTestServer(t)
	token := loginToken(t, srv)

	w := doRequest(t, srv, http.MethodGet, "/api/prompts", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}

	w = doRequest(t, srv, http.MethodPut, "/api/prompts/base_prompt.txt", token, map[string]string{
		"content": "你是一个严格的商品筛选助手。",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("put status = %d, body = %s", w.Code, w.Body.String())
	}

	w = doRequest(t, srv, http.MethodGet, "/api/prompts/base_prompt.txt", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var resp struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode prompt: %v", err)
	}
	if resp.Content != "你是一个严格的商品筛选助手。" {
		t.Fatalf("unexpected content: %q", resp.Content)
	}

	for _, name := range []string{"secret.md", "..base.txt"} {
		w = doRequest(t, srv, http.MethodGet, "/api/prompts/"+name, token, nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("name %q status = %d, want 400", name, w.Code)
		}
	}
}

func TestLogsIncremental(t *testing.T) {
	srv, dir := newTestServer(t)
	token := loginToken(t, srv)

	logPath := filepath.Join(dir, "scraper.log")
	if err := os.WriteFile(logPath, []byte("hello\n"), 0644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	type logResp struct {
		Content string `json:"content"`
		NewPos  int64  `json:"new_pos"`
	}
	getLogs := func(path string) logResp {
		w := doRequest(t, srv, http.MethodGet, path, token, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("logs status = %d", w.Code)
		}
		var resp logResp
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode logs: %v", err)
		}
		return resp
	}

	first := getLogs("/api/logs")
	if first.Content != "hello\n" || first.NewPos != 6 {
		t.Fatalf("first read = %+v", first)
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("open log for append: %v", err)
	}
	if _, err := f.WriteString("world\n"); err != nil {
		t.Fatalf("append log: %v", err)
	}
	f.Close()

	second := getLogs("/api/logs?from_pos=6")
	if second.Content != "world\n" || second.NewPos != 12 {
		t.Fatalf("incremental read = %+v", second)
	}

	w := doRequest(t, srv, http.MethodDelete, "/api/logs", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("clear status = %d", w.Code)
	}
	if cleared := getLogs("/api/logs"); cleared.Content != "" || cleared.NewPos != 0 {
		t.Fatalf("after clear = %+v", cleared)
	}
}

func TestMonitorStatus(t *testing.T) {
	srv, _ := newTestServer(t)
	token := loginToken(t, srv)

	w := doRequest(t, srv, http.MethodGet, "/api/monitor/status", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Running bool `json:"running"`
		PID     int  `json:"pid"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if resp.Running || resp.PID != 0 {
		t.Fatalf("expected stopped monitor, got %+v", resp)
	}
}

func TestSettingsStatus(t *testing.T) {
	srv, _ := newTestServer(t)
	token := loginToken(t, srv)

	w := doRequest(t, srv, http.MethodGet, "/api/settings/status", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		AIConfigured     bool `json:"ai_configured"`
		LoginStateExists bool `json:"login_state_exists"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode settings: %v", err)
	}
	if resp.AIConfigured || resp.LoginStateExists {
		t.Fatalf("expected unconfigured environment, got %+v", resp)
	}
}
