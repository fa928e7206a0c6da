package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/RecoveryAshes/wxgather/internal/models"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigFile 采集请求头配置
	DefaultConfigFile = "configs/headers.yaml"

	// MaxConfigFileSize 头部配置只放少量键值,超过1MB视为误用
	MaxConfigFileSize = 1 << 20
)

//go:embed headers_template.yaml
var defaultHeaderTemplate string

// HeaderConfigLoader 读取叠加到公众号请求上的自定义头部
type HeaderConfigLoader struct {
	configPath string
}

// NewHeaderConfigLoader configPath 为空时使用 configs/headers.yaml
func NewHeaderConfigLoader(configPath string) *HeaderConfigLoader {
	if configPath == "" {
		configPath = DefaultConfigFile
	}
	return &HeaderConfigLoader{configPath: configPath}
}

// EnsureConfigExists 首次运行时写出带注释的模板
func (hcl *HeaderConfigLoader) EnsureConfigExists() error {
	_, err := os.Stat(hcl.configPath)
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(hcl.configPath), 0755); err != nil {
		return fmt.Errorf("创建头部配置目录失败: %w", err)
	}
	if err := os.WriteFile(hcl.configPath, []byte(defaultHeaderTemplate), 0644); err != nil {
		return fmt.Errorf("写出头部配置模板失败 [%s]: %w", hcl.configPath, err)
	}
	return nil
}

// LoadConfig 解析 headers.yaml
// 键名按 http.CanonicalHeaderKey 归一,大小写不同的重复键视为配置错误
func (hcl *HeaderConfigLoader) LoadConfig() (*models.HeaderConfig, error) {
	if err := hcl.EnsureConfigExists(); err != nil {
		return nil, err
	}

	f, err := os.Open(hcl.configPath)
	if err != nil {
		return nil, &models.ConfigError{FilePath: hcl.configPath, Cause: err}
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileSize+1))
	if err != nil {
		return nil, &models.ConfigError{FilePath: hcl.configPath, Cause: err}
	}
	if len(data) > MaxConfigFileSize {
		return nil, &models.ConfigError{
			FilePath: hcl.configPath,
			Cause:    fmt.Errorf("配置文件过大, 上限 %d 字节", MaxConfigFileSize),
		}
	}

	var raw struct {
		Headers map[string]string `yaml:"headers"`
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, &models.ConfigError{FilePath: hcl.configPath, Cause: err}
	}

	cfg := &models.HeaderConfig{Headers: make(map[string]string, len(raw.Headers))}
	for name, value := range raw.Headers {
		key := http.CanonicalHeaderKey(name)
		if _, dup := cfg.Headers[key]; dup {
			return nil, &models.ConfigError{
				FilePath: hcl.configPath,
				Cause:    fmt.Errorf("头部 %s 重复配置", key),
			}
		}
		cfg.Headers[key] = value
	}
	return cfg, nil
}
