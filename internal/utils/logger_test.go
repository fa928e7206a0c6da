package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testLogConfig(dir, level string) LogConfig {
	return LogConfig{
		Level:      level,
		LogDir:     dir,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
		NoConsole:  true,
	}
}

func TestInitLogger(t *testing.T) {
	tempDir := t.TempDir()

	if err := InitLogger(testLogConfig(tempDir, "debug")); err != nil {
		t.Fatalf("初始化日志器失败: %v", err)
	}

	Info("测试信息日志")
	Warn("测试警告日志")
	Debug("测试调试日志")

	time.Sleep(100 * time.Millisecond)

	mainLogPath := filepath.Join(tempDir, "wxgather.log")
	if _, err := os.Stat(mainLogPath); os.IsNotExist(err) {
		t.Errorf("主日志文件未创建: %s", mainLogPath)
	}
}

func TestErrorLogFilter(t *testing.T) {
	tempDir := t.TempDir()

	if err := InitLogger(testLogConfig(tempDir, "info")); err != nil {
		t.Fatalf("初始化日志器失败: %v", err)
	}

	Warnf("只应出现在主日志: %d", 1)
	Errorf("同时出现在错误日志: %d", 2)

	time.Sleep(100 * time.Millisecond)

	errContent, err := os.ReadFile(filepath.Join(tempDir, "wxgather_error.log"))
	if err != nil {
		t.Fatalf("读取错误日志失败: %v", err)
	}
	if strings.Contains(string(errContent), "只应出现在主日志") {
		t.Error("警告日志不应写入错误日志文件")
	}
	if !strings.Contains(string(errContent), "同时出现在错误日志") {
		t.Error("错误日志未写入错误日志文件")
	}

	mainContent, err := os.ReadFile(filepath.Join(tempDir, "wxgather.log"))
	if err != nil {
		t.Fatalf("读取主日志失败: %v", err)
	}
	if !strings.Contains(string(mainContent), "只应出现在主日志") {
		t.Error("主日志缺少警告日志")
	}
}

func TestDefaultLogConfig(t *testing.T) {
	config := DefaultLogConfig()

	if config.Level != "info" {
		t.Errorf("默认日志级别错误: 期望 'info', 得到 '%s'", config.Level)
	}
	if config.LogDir != "logs" {
		t.Errorf("默认日志目录错误: 期望 'logs', 得到 '%s'", config.LogDir)
	}
	if config.MaxSize != 10 || config.MaxBackups != 3 || config.MaxAge != 28 {
		t.Errorf("默认轮转参数错误: %+v", config)
	}
	if !config.Compress {
		t.Error("默认应该启用压缩")
	}
}
