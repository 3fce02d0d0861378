package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config 配置文件结构体
type Config struct {
	Version string `yaml:"version"`

	Sqlite struct {
		Dsn    string `yaml:"dsn"`
		Prefix string `yaml:"prefix"`
	} `yaml:"sqlite"`

	Log struct {
		Level  string   `yaml:"level"`
		Writer []string `yaml:"writer"`
		File   string   `yaml:"file"`
	} `yaml:"log"`

	Manager struct {
		Parallel int `yaml:"parallel"` // 并发传输上限，0 表示不限
		Timeout  int `yaml:"timeout"`  // 默认请求超时秒数，0 表示不限
	} `yaml:"manager"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	cfg := &Config{Version: "1.0.0"}
	cfg.Sqlite.Dsn = ""
	cfg.Sqlite.Prefix = "multireq_"
	cfg.Log.Level = "info"
	cfg.Log.Writer = []string{"console"}
	cfg.Log.File = "multireq.log"
	cfg.Manager.Parallel = 8
	return cfg
}

// Load 读取 YAML 配置文件并覆盖默认值
func Load(path string) (*Config, error) {
	cfg := NewConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置取值
func (c *Config) Validate() error {
	if c.Manager.Parallel < 0 {
		return errors.Errorf("manager.parallel must be >= 0, got %d", c.Manager.Parallel)
	}
	if c.Manager.Timeout < 0 {
		return errors.Errorf("manager.timeout must be >= 0, got %d", c.Manager.Timeout)
	}
	return nil
}
