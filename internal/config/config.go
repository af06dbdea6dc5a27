package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 保存应用程序配置。
type Config struct {
	App      AppConfig      `json:"app"`
	AI       AIConfig       `json:"ai"`
	Browser  BrowserConfig  `json:"browser"`
	Notify   NotifyConfig   `json:"notify"`
	Email    EmailConfig    `json:"email"`
	Security SecurityConfig `json:"security"`
	Paths    PathsConfig    `json:"paths"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	LogLevel       string  `json:"log_level"`        // 日志级别: debug / info / warn / error
	ServerPort     int     `json:"server_port"`      // Web 管理服务端口
	MetricsAddr    string  `json:"metrics_addr"`     // Prometheus 指标监听地址
	DebugLimit     int     `json:"debug_limit"`      // 每个任务最多处理的新商品数（0 表示不限制）
	RateLimit      float64 `json:"rate_limit"`       // 页面请求限流速率（token/s）
	RateBurst      int     `json:"rate_burst"`       // 限流桶容量
	ImageWorkers   int     `json:"image_workers"`    // 图片下载 worker 数量
	ImageQueueSize int     `json:"image_queue_size"` // 图片下载队列容量
	AIDebugMode    bool    `json:"ai_debug_mode"`    // 打印 AI 请求与响应详情
}

// AIConfig AI 分析相关配置。
type AIConfig struct {
	APIKey         string `json:"api_key"`         // OpenAI 兼容接口密钥（部分代理可为空）
	BaseURL        string `json:"base_url"`        // OpenAI 兼容接口地址
	ModelName      string `json:"model_name"`      // 分析用模型名
	EmbeddingModel string `json:"embedding_model"` // 语义筛选用 embedding 模型名
}

// BrowserConfig 浏览器配置。
type BrowserConfig struct {
	BinPath         string `json:"bin_path"`         // 浏览器可执行文件路径
	Headless        bool   `json:"headless"`         // 是否使用无头模式
	UseEdge         bool   `json:"use_edge"`         // 使用 Edge 而不是 Chrome
	InDocker        bool   `json:"in_docker"`        // 容器内运行（强制无头）
	ProxyURL        string `json:"proxy_url"`        // 代理服务器 URL
	DebugScreenshot bool   `json:"debug_screenshot"` // 页面异常时保存调试截图
}

// NotifyConfig 推送通知配置。
type NotifyConfig struct {
	NtfyTopicURL  string `json:"ntfy_topic_url"`  // ntfy 主题完整 URL
	WeComBotURL   string `json:"wecom_bot_url"`   // 企业微信群机器人 Webhook
	PCURLToMobile bool   `json:"pcurl_to_mobile"` // 通知中附带手机端跳转链接
}

// EmailConfig 邮件通知配置。
type EmailConfig struct {
	SMTPHost  string `json:"smtp_host"`
	SMTPPort  int    `json:"smtp_port"`
	SMTPUser  string `json:"smtp_user"`
	SMTPPass  string `json:"smtp_pass"`
	FromEmail string `json:"from_email"`
	ToEmail   string `json:"to_email"`
}

// SecurityConfig Web 管理界面的访问控制。
type SecurityConfig struct {
	JWTSecret   string `json:"jwt_secret"`   // JWT 签名密钥
	WebUsername string `json:"web_username"` // 管理员用户名
	WebPassword string `json:"web_password"` // 管理员密码（明文或 bcrypt 哈希）
}

// PathsConfig 数据文件路径配置。
type PathsConfig struct {
	StateFile  string `json:"state_file"`  // 登录态文件
	TasksFile  string `json:"tasks_file"`  // 任务配置文件
	DataDir    string `json:"data_dir"`    // JSONL 结果目录
	ImagesDir  string `json:"images_dir"`  // 商品图片下载目录
	PromptsDir string `json:"prompts_dir"` // AI 提示词目录
	LogFile    string `json:"log_file"`    // 抓取进程日志文件
}

// Load 加载配置。
//
// 先加载 .env（存在时）, 再读取 JSON 配置文件（存在时）,
// 最后用环境变量覆盖, 优先级: 环境变量 > 配置文件 > 默认值。
//
// 参数:
//
//	configPath: 配置文件路径（为空时使用默认路径 "configs/config.json"）
//
// 返回值:
//
//	*Config: 加载完成的配置对象
//	error: 加载失败返回错误
func Load(configPath ...string) (*Config, error) {
	// .env 不存在不算错误
	_ = godotenv.Load()

	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := getDefaultConfig()
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// ValidateAI 校验 AI 分析所需的配置项。
// 接口地址与模型名缺一不可, API Key 允许为空（部分网关不校验）。
func (c *Config) ValidateAI() error {
	if c.AI.BaseURL == "" {
		return errors.New("OPENAI_BASE_URL is not set")
	}
	if c.AI.ModelName == "" {
		return errors.New("OPENAI_MODEL_NAME is not set")
	}
	return nil
}

// Save 保存配置到 JSON 文件。
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// getDefaultConfig 返回默认配置。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			LogLevel:       "info",
			ServerPort:     8000,
			MetricsAddr:    ":2112",
			DebugLimit:     0,
			RateLimit:      1,
			RateBurst:      3,
			ImageWorkers:   3,
			ImageQueueSize: 64,
		},
		AI: AIConfig{
			EmbeddingModel: "text-embedding-3-small",
		},
		Browser: BrowserConfig{
			Headless: true,
		},
		Email: EmailConfig{
			SMTPPort: 587,
		},
		Security: SecurityConfig{
			JWTSecret:   "dev_secret_change_me",
			WebUsername: "admin",
			WebPassword: "admin",
		},
		Paths: PathsConfig{
			StateFile:  "xianyu_state.json",
			TasksFile:  "config.json",
			DataDir:    "jsonl",
			ImagesDir:  "images",
			PromptsDir: "prompts",
			LogFile:    "logs/scraper.log",
		},
	}
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	defaults := getDefaultConfig()

	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.ServerPort == 0 {
		cfg.App.ServerPort = defaults.App.ServerPort
	}
	if cfg.App.MetricsAddr == "" {
		cfg.App.MetricsAddr = defaults.App.MetricsAddr
	}
	if cfg.App.RateLimit == 0 {
		cfg.App.RateLimit = defaults.App.RateLimit
	}
	if cfg.App.RateBurst == 0 {
		cfg.App.RateBurst = defaults.App.RateBurst
	}
	if cfg.App.ImageWorkers == 0 {
		cfg.App.ImageWorkers = defaults.App.ImageWorkers
	}
	if cfg.App.ImageQueueSize == 0 {
		cfg.App.ImageQueueSize = defaults.App.ImageQueueSize
	}
	if cfg.AI.EmbeddingModel == "" {
		cfg.AI.EmbeddingModel = defaults.AI.EmbeddingModel
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = defaults.Email.SMTPPort
	}
	if cfg.Security.JWTSecret == "" {
		cfg.Security.JWTSecret = defaults.Security.JWTSecret
	}
	if cfg.Security.WebUsername == "" {
		cfg.Security.WebUsername = defaults.Security.WebUsername
	}
	if cfg.Security.WebPassword == "" {
		cfg.Security.WebPassword = defaults.Security.WebPassword
	}
	if cfg.Paths.StateFile == "" {
		cfg.Paths.StateFile = defaults.Paths.StateFile
	}
	if cfg.Paths.TasksFile == "" {
		cfg.Paths.TasksFile = defaults.Paths.TasksFile
	}
	if cfg.Paths.DataDir == "" {
		cfg.Paths.DataDir = defaults.Paths.DataDir
	}
	if cfg.Paths.ImagesDir == "" {
		cfg.Paths.ImagesDir = defaults.Paths.ImagesDir
	}
	if cfg.Paths.PromptsDir == "" {
		cfg.Paths.PromptsDir = defaults.Paths.PromptsDir
	}
	if cfg.Paths.LogFile == "" {
		cfg.Paths.LogFile = defaults.Paths.LogFile
	}
}

func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	_ = viper.BindEnv("openai_api_key", "OPENAI_API_KEY")
	_ = viper.BindEnv("jwt_secret", "JWT_SECRET")
	_ = viper.BindEnv("web_password", "WEB_PASSWORD")
	_ = viper.BindEnv("smtp_pass", "SMTP_PASS")

	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.ServerPort = i
		}
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.App.MetricsAddr = v
	}
	if v := os.Getenv("APP_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.RateLimit = f
		}
	}
	if v := os.Getenv("APP_RATE_BURST"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.RateBurst = i
		}
	}
	if v := os.Getenv("AI_DEBUG_MODE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.App.AIDebugMode = b
		}
	}

	if v := viper.GetString("openai_api_key"); v != "" {
		cfg.AI.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.AI.BaseURL = v
	}
	if v := os.Getenv("OPENAI_MODEL_NAME"); v != "" {
		cfg.AI.ModelName = v
	}
	if v := os.Getenv("OPENAI_EMBEDDING_MODEL"); v != "" {
		cfg.AI.EmbeddingModel = v
	}

	if v := os.Getenv("CHROME_BIN"); v != "" {
		cfg.Browser.BinPath = v
	}
	// 默认无头, 显式设置 false 才切换到有头模式
	if v := os.Getenv("RUN_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Browser.Headless = b
		}
	}
	if v := os.Getenv("LOGIN_IS_EDGE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Browser.UseEdge = b
		}
	}
	if v := os.Getenv("RUNNING_IN_DOCKER"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Browser.InDocker = b
		}
	}
	if v := os.Getenv("PROXY_URL"); v != "" {
		cfg.Browser.ProxyURL = v
	}
	if v := os.Getenv("BROWSER_DEBUG_SCREENSHOT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Browser.DebugScreenshot = b
		}
	}

	if v := os.Getenv("NTFY_TOPIC_URL"); v != "" {
		cfg.Notify.NtfyTopicURL = v
	}
	if v := os.Getenv("WX_BOT_URL"); v != "" {
		cfg.Notify.WeComBotURL = v
	}
	if v := os.Getenv("PCURL_TO_MOBILE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Notify.PCURLToMobile = b
		}
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Email.SMTPHost = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Email.SMTPPort = i
		}
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		cfg.Email.SMTPUser = v
	}
	if v := viper.GetString("smtp_pass"); v != "" {
		cfg.Email.SMTPPass = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		cfg.Email.FromEmail = v
	}
	if v := os.Getenv("SMTP_TO"); v != "" {
		cfg.Email.ToEmail = v
	}

	if v := viper.GetString("jwt_secret"); v != "" {
		cfg.Security.JWTSecret = v
	}
	if v := os.Getenv("WEB_USERNAME"); v != "" {
		cfg.Security.WebUsername = v
	}
	if v := viper.GetString("web_password"); v != "" {
		cfg.Security.WebPassword = v
	}

	if v := os.Getenv("STATE_FILE"); v != "" {
		cfg.Paths.StateFile = v
	}
	if v := os.Getenv("TASKS_FILE"); v != "" {
		cfg.Paths.TasksFile = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Paths.DataDir = v
	}
	if v := os.Getenv("IMAGES_DIR"); v != "" {
		cfg.Paths.ImagesDir = v
	}
	if v := os.Getenv("PROMPTS_DIR"); v != "" {
		cfg.Paths.PromptsDir = v
	}
	if v := os.Getenv("SCRAPER_LOG_FILE"); v != "" {
		cfg.Paths.LogFile = v
	}
}
