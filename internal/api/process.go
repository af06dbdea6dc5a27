package api

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

const stopGraceTimeout = 5 * time.Second

// ProcessManager 管理监控进程的生命周期。
// Web 后台通过它拉起和停止爬虫, 爬虫的输出重定向到日志文件。
type ProcessManager struct {
	mu      sync.Mutex
	cmd     *exec.Cmd
	done    chan struct{}
	logFile *os.File

	binPath string
	logPath string
	logger  *slog.Logger
}

// NewProcessManager 创建进程管理器。
//
// 参数:
//   - binPath: monitor 可执行文件路径
//   - logPath: 爬虫输出追加写入的日志文件
//   - logger: 日志记录器
func NewProcessManager(binPath, logPath string, logger *slog.Logger) *ProcessManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessManager{
		binPath: binPath,
		logPath: logPath,
		logger:  logger,
	}
}

// Running 返回监控进程是否在运行, 以及进程 PID。
func (m *ProcessManager) Running() (bool, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cmd == nil || m.cmd.Process == nil {
		return false, 0
	}
	return true, m.cmd.Process.Pid
}

// Start 拉起监控进程。已有进程在运行时返回错误。
func (m *ProcessManager) Start(debugLimit int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cmd != nil {
		return fmt.Errorf("监控进程已在运行 (pid %d)", m.cmd.Process.Pid)
	}

	if err := os.MkdirAll(filepath.Dir(m.logPath), 0755); err != nil {
		return fmt.Errorf("创建日志目录失败: %w", err)
	}
	logFile, err := os.OpenFile(m.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("打开日志文件失败: %w", err)
	}

	args := []string{}
	if debugLimit > 0 {
		args = append(args, "--debug-limit", fmt.Sprintf("%d", debugLimit))
	}
	cmd := exec.Command(m.binPath, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	// 独立进程组, 停止时可以连同浏览器子进程一起干掉
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return fmt.Errorf("启动监控进程失败: %w", err)
	}

	m.cmd = cmd
	m.logFile = logFile
	m.done = make(chan struct{})
	m.logger.Info("监控进程已启动", slog.Int("pid", cmd.Process.Pid))

	go m.reap(cmd, logFile, m.done)
	return nil
}

// reap 等待进程退出并清理状态。
func (m *ProcessManager) reap(cmd *exec.Cmd, logFile *os.File, done chan struct{}) {
	err := cmd.Wait()
	_ = logFile.Close()
	close(done)

	m.mu.Lock()
	if m.cmd == cmd {
		m.cmd = nil
		m.logFile = nil
		m.done = nil
	}
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("监控进程退出", slog.String("error", err.Error()))
	} else {
		m.logger.Info("监控进程正常退出")
	}
}

// Stop 停止监控进程: 先对进程组发 SIGTERM, 超时后 SIGKILL。
// 没有进程在运行时静默返回。
func (m *ProcessManager) Stop() error {
	m.mu.Lock()
	cmd := m.cmd
	done := m.done
	m.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	pid := cmd.Process.Pid
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		m.logger.Warn("发送 SIGTERM 失败", slog.Int("pid", pid), slog.String("error", err.Error()))
	}

	select {
	case <-done:
		m.logger.Info("监控进程已停止", slog.Int("pid", pid))
		return nil
	case <-time.After(stopGraceTimeout):
	}

	m.logger.Warn("监控进程未响应 SIGTERM, 强制终止", slog.Int("pid", pid))
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("强制终止进程失败: %w", err)
	}
	<-done
	return nil
}
