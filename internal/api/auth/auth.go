package auth

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/dingyufei615/ai-goofish-monitor/internal/config"
)

// Handler 提供管理后台的登录接口。
// 只有一个管理员账号, 用户名与密码来自配置。
type Handler struct {
	jwtSecret []byte
	username  string
	password  string
	logger    *slog.Logger
}

// NewHandler 创建 Auth Handler。
func NewHandler(cfg *config.SecurityConfig, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		jwtSecret: []byte(cfg.JWTSecret),
		username:  cfg.WebUsername,
		password:  cfg.WebPassword,
		logger:    logger,
	}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// Login 校验管理员凭据并签发 24 小时有效的 JWT。
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if h.password == "" {
		h.logger.Error("管理密码未配置, 拒绝登录")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "web password not configured"})
		return
	}

	if !h.verify(req.Username, req.Password) {
		h.logger.Warn("登录失败",
			slog.String("username", req.Username),
			slog.String("client_ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := h.issueToken(req.Username)
	if err != nil {
		h.logger.Error("签发 token 失败", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign token failed"})
		return
	}

	h.logger.Info("管理员登录成功", slog.String("username", req.Username))
	c.JSON(http.StatusOK, tokenResponse{Token: token})
}

// Logout 处理注销请求（无状态, 直接返回成功）。
func (h *Handler) Logout(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// verify 比较用户名和密码。密码支持 bcrypt 散列或明文两种配置方式,
// 明文比较走常数时间。
func (h *Handler) verify(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(h.username)) == 1

	var passOK bool
	if strings.HasPrefix(h.password, "$2a$") || strings.HasPrefix(h.password, "$2b$") {
		passOK = bcrypt.CompareHashAndPassword([]byte(h.password), []byte(password)) == nil
	} else {
		passOK = subtle.ConstantTimeCompare([]byte(password), []byte(h.password)) == 1
	}
	return userOK && passOK
}

func (h *Handler) issueToken(username string) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   username,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(h.jwtSecret)
}
