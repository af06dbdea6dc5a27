package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dingyufei615/ai-goofish-monitor/internal/ai"
	"github.com/dingyufei615/ai-goofish-monitor/internal/api/auth"
	"github.com/dingyufei615/ai-goofish-monitor/internal/api/middleware"
	"github.com/dingyufei615/ai-goofish-monitor/internal/config"
	"github.com/dingyufei615/ai-goofish-monitor/internal/model"
	"github.com/dingyufei615/ai-goofish-monitor/internal/pkg/metrics"
	"github.com/dingyufei615/ai-goofish-monitor/internal/storage"
)

// 日志接口单次最多返回的字节数, 避免一次性把超大日志全读进内存
const maxLogChunk = 256 * 1024

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9_\-\x{4e00}-\x{9fa5}]`)

// Server 管理后台 API。
//
// 它负责任务配置的增删改查、监控进程的启停、结果文件查询
// 以及提示词文件的在线编辑。
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	router   *gin.Engine
	auth     *auth.Handler
	store    *storage.Store
	proc     *ProcessManager
	analyzer *ai.Analyzer

	// 串行化任务配置文件的读改写
	tasksMu sync.Mutex
}

// NewServer 初始化 API 服务器。
func NewServer(cfg *config.Config, logger *slog.Logger, proc *ProcessManager) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Security.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET 未配置")
	}

	metrics.InitMetrics()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	s := &Server{
		cfg:    cfg,
		logger: logger,
		router: r,
		auth:   auth.NewHandler(&cfg.Security, logger),
		store:  storage.NewStore(cfg.Paths.DataDir, logger),
		proc:   proc,
	}
	if err := cfg.ValidateAI(); err == nil {
		s.analyzer = ai.NewAnalyzer(cfg, logger)
	} else {
		logger.Warn("AI 配置不完整, 任务生成接口不可用",
			slog.String("reason", err.Error()))
	}

	s.registerRoutes()
	return s, nil
}

// Router 返回底层的 Gin 引擎, 由入口程序挂到 http.Server 上。
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.handleHealthz)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.POST("/api/login", s.auth.Login)

	authed := s.router.Group("/api")
	authed.Use(middleware.AuthMiddleware(s.cfg.Security.JWTSecret))
	authed.POST("/logout", s.auth.Logout)

	authed.GET("/tasks", s.handleListTasks)
	authed.POST("/tasks", s.handleCreateTask)
	authed.POST("/tasks/generate", s.handleGenerateTask)
	authed.PATCH("/tasks/:id", s.handleUpdateTask)
	authed.DELETE("/tasks/:id", s.handleDeleteTask)

	authed.GET("/monitor/status", s.handleMonitorStatus)
	authed.POST("/monitor/start-all", s.handleStartAll)
	authed.POST("/monitor/stop-all", s.handleStopAll)

	authed.GET("/logs", s.handleGetLogs)
	authed.DELETE("/logs", s.handleClearLogs)

	authed.GET("/results/files", s.handleListResultFiles)
	authed.GET("/results/:filename", s.handleGetResults)

	authed.GET("/settings/status", s.handleSettingsStatus)

	authed.GET("/prompts", s.handleListPrompts)
	authed.GET("/prompts/:filename", s.handleGetPrompt)
	authed.PUT("/prompts/:filename", s.handleUpdatePrompt)
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ----------------------------------------------------------------------------
// 任务管理
// ----------------------------------------------------------------------------

// taskWithID 对外暴露的任务结构, id 是任务在配置数组中的下标。
type taskWithID struct {
	ID int `json:"id"`
	model.Task
}

func (s *Server) handleListTasks(c *gin.Context) {
	s.tasksMu.Lock()
	tasks, err := config.LoadTasks(s.cfg.Paths.TasksFile)
	s.tasksMu.Unlock()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]taskWithID, 0, len(tasks))
	for i, t := range tasks {
		out = append(out, taskWithID{ID: i, Task: t})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleCreateTask(c *gin.Context) {
	var task model.Task
	if err := c.ShouldBindJSON(&task); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if task.TaskName == "" || task.Keyword == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "task_name and keyword are required"})
		return
	}
	if task.MaxPages <= 0 {
		task.MaxPages = 1
	}

	id, err := s.mutateTasks(func(tasks []model.Task) ([]model.Task, error) {
		for _, t := range tasks {
			if t.TaskName == task.TaskName {
				return nil, fmt.Errorf("任务 %q 已存在", task.TaskName)
			}
		}
		return append(tasks, task), nil
	})
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	s.logger.Info("任务已创建", slog.String("task", task.TaskName))
	c.JSON(http.StatusCreated, taskWithID{ID: id, Task: task})
}

func (s *Server) handleUpdateTask(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var updated model.Task
	_, err = s.mutateTasks(func(tasks []model.Task) ([]model.Task, error) {
		if id < 0 || id >= len(tasks) {
			return nil, errTaskNotFound
		}
		// 把请求体合并到现有任务上, 未出现的字段保持原值
		t := tasks[id]
		if err := json.Unmarshal(body, &t); err != nil {
			return nil, fmt.Errorf("解析更新内容失败: %w", err)
		}
		tasks[id] = t
		updated = t
		return tasks, nil
	})
	if errors.Is(err, errTaskNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, taskWithID{ID: id, Task: updated})
}

func (s *Server) handleDeleteTask(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return
	}

	_, err = s.mutateTasks(func(tasks []model.Task) ([]model.Task, error) {
		if id < 0 || id >= len(tasks) {
			return nil, errTaskNotFound
		}
		return append(tasks[:id], tasks[id+1:]...), nil
	})
	if errors.Is(err, errTaskNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "task deleted"})
}

var errTaskNotFound = errors.New("task not found")

// mutateTasks 在锁内完成任务配置的读改写, 返回改动前的任务数量。
func (s *Server) mutateTasks(fn func([]model.Task) ([]model.Task, error)) (int, error) {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()

	tasks, err := config.LoadTasks(s.cfg.Paths.TasksFile)
	if err != nil {
		return 0, err
	}
	n := len(tasks)
	next, err := fn(tasks)
	if err != nil {
		return n, err
	}
	if err := config.SaveTasks(s.cfg.Paths.TasksFile, next); err != nil {
		return n, err
	}
	return n, nil
}

// generateTaskRequest AI 生成任务的请求参数。
type generateTaskRequest struct {
	TaskName      string `json:"task_name" binding:"required"`
	Keyword       string `json:"keyword" binding:"required"`
	Description   string `json:"description" binding:"required"`
	ReferenceFile string `json:"reference_file"`
	MinPrice      string `json:"min_price"`
	MaxPrice      string `json:"max_price"`
	MaxPages      int    `json:"max_pages"`
	PersonalOnly  bool   `json:"personal_only"`
}

// handleGenerateTask 根据用户的自然语言描述生成分析标准文件并创建任务。
// 配置写入失败时会把生成的标准文件一并回滚。
func (s *Server) handleGenerateTask(c *gin.Context) {
	if s.analyzer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "AI 服务未配置"})
		return
	}

	var req generateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reference := req.ReferenceFile
	if reference == "" {
		reference = filepath.Join(s.cfg.Paths.PromptsDir, "macbook_criteria.txt")
	}

	criteria, err := s.analyzer.GenerateCriteria(c.Request.Context(), req.Description, reference)
	if err != nil {
		s.logger.Error("生成分析标准失败", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	safe := unsafeNameChars.ReplaceAllString(req.Keyword, "_")
	criteriaFile := filepath.Join(s.cfg.Paths.PromptsDir, safe+"_criteria.txt")
	if err := os.MkdirAll(s.cfg.Paths.PromptsDir, 0755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := os.WriteFile(criteriaFile, []byte(criteria), 0644); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	maxPages := req.MaxPages
	if maxPages <= 0 {
		maxPages = 3
	}
	task := model.Task{
		TaskName:             req.TaskName,
		Enabled:              true,
		Keyword:              req.Keyword,
		Description:          req.Description,
		MaxPages:             maxPages,
		PersonalOnly:         req.PersonalOnly,
		MinPrice:             req.MinPrice,
		MaxPrice:             req.MaxPrice,
		AIPromptBaseFile:     filepath.Join(s.cfg.Paths.PromptsDir, "base_prompt.txt"),
		AIPromptCriteriaFile: criteriaFile,
	}

	id, err := s.mutateTasks(func(tasks []model.Task) ([]model.Task, error) {
		for _, t := range tasks {
			if t.TaskName == task.TaskName {
				return nil, fmt.Errorf("任务 %q 已存在", task.TaskName)
			}
		}
		return append(tasks, task), nil
	})
	if err != nil {
		// 任务没建成, 生成的标准文件也不留下
		_ = os.Remove(criteriaFile)
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	s.logger.Info("AI 生成任务完成",
		slog.String("task", task.TaskName),
		slog.String("criteria_file", criteriaFile))
	c.JSON(http.StatusCreated, taskWithID{ID: id, Task: task})
}

// ----------------------------------------------------------------------------
// 监控进程控制
// ----------------------------------------------------------------------------

func (s *Server) handleMonitorStatus(c *gin.Context) {
	running, pid := s.proc.Running()
	c.JSON(http.StatusOK, gin.H{"running": running, "pid": pid})
}

func (s *Server) handleStartAll(c *gin.Context) {
	if err := s.proc.Start(s.cfg.App.DebugLimit); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "monitor started"})
}

func (s *Server) handleStopAll(c *gin.Context) {
	if err := s.proc.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "monitor stopped"})
}

// ----------------------------------------------------------------------------
// 日志
// ----------------------------------------------------------------------------

// handleGetLogs 增量读取爬虫日志。客户端带上上次返回的 new_pos,
// 服务端只回传新增部分; 日志被清空或轮转时从头再读。
func (s *Server) handleGetLogs(c *gin.Context) {
	fromPos, _ := strconv.ParseInt(c.DefaultQuery("from_pos", "0"), 10, 64)
	if fromPos < 0 {
		fromPos = 0
	}

	f, err := os.Open(s.cfg.Paths.LogFile)
	if err != nil {
		if os.IsNotExist(err) {
			c.JSON(http.StatusOK, gin.H{"content": "", "new_pos": 0})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	size := info.Size()
	if fromPos > size {
		fromPos = 0
	}
	if size-fromPos > maxLogChunk {
		fromPos = size - maxLogChunk
	}

	if _, err := f.Seek(fromPos, io.SeekStart); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"content": string(data), "new_pos": size})
}

func (s *Server) handleClearLogs(c *gin.Context) {
	if err := os.Truncate(s.cfg.Paths.LogFile, 0); err != nil && !os.IsNotExist(err) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "logs cleared"})
}

// ----------------------------------------------------------------------------
// 结果查询
// ----------------------------------------------------------------------------

func (s *Server) handleListResultFiles(c *gin.Context) {
	files, err := s.store.ListFiles()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

func (s *Server) handleGetResults(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	recommendedOnly := c.DefaultQuery("recommended_only", "false") == "true"

	result, err := s.store.Query(c.Param("filename"), storage.QueryOptions{
		Page:            page,
		Limit:           limit,
		RecommendedOnly: recommendedOnly,
		SortBy:          c.DefaultQuery("sort_by", "crawl_time"),
		SortOrder:       c.DefaultQuery("sort_order", "desc"),
	})
	if err != nil {
		if os.IsNotExist(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "result file not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// ----------------------------------------------------------------------------
// 系统状态与提示词
// ----------------------------------------------------------------------------

func (s *Server) handleSettingsStatus(c *gin.Context) {
	_, stateErr := os.Stat(s.cfg.Paths.StateFile)
	c.JSON(http.StatusOK, gin.H{
		"ai_configured":      s.analyzer != nil,
		"login_state_exists": stateErr == nil,
		"notify": gin.H{
			"ntfy":  s.cfg.Notify.NtfyTopicURL != "",
			"wecom": s.cfg.Notify.WeComBotURL != "",
			"email": s.cfg.Email.SMTPHost != "" && s.cfg.Email.ToEmail != "",
		},
	})
}

func (s *Server) handleListPrompts(c *gin.Context) {
	entries, err := os.ReadDir(s.cfg.Paths.PromptsDir)
	if err != nil {
		if os.IsNotExist(err) {
			c.JSON(http.StatusOK, gin.H{"files": []string{}})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	files := []string{}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".txt") {
			files = append(files, e.Name())
		}
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

// promptPath 校验提示词文件名并拼出完整路径, 拒绝目录穿越。
func (s *Server) promptPath(name string) (string, error) {
	if name == "" || strings.Contains(name, "/") || strings.Contains(name, "\\") ||
		strings.Contains(name, "..") || !strings.HasSuffix(name, ".txt") {
		return "", fmt.Errorf("非法的提示词文件名: %s", name)
	}
	return filepath.Join(s.cfg.Paths.PromptsDir, name), nil
}

func (s *Server) handleGetPrompt(c *gin.Context) {
	path, err := s.promptPath(c.Param("filename"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "prompt file not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"filename": c.Param("filename"), "content": string(data)})
}

func (s *Server) handleUpdatePrompt(c *gin.Context) {
	path, err := s.promptPath(c.Param("filename"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := os.MkdirAll(s.cfg.Paths.PromptsDir, 0755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := os.WriteFile(path, []byte(req.Content), 0644); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.logger.Info("提示词文件已更新", slog.String("file", c.Param("filename")))
	c.JSON(http.StatusOK, gin.H{"message": "prompt updated"})
}
