package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// YAMLConfig YAML配置文件结构
type YAMLConfig struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Data struct {
		Source string `yaml:"source"` // eastmoney / csv
		Dir    string `yaml:"dir"`    // CSV数据目录
		Limit  int    `yaml:"limit"`  // 远端单次拉取K线根数上限
	} `yaml:"data"`

	Results struct {
		Dir  string `yaml:"dir"`  // 回测结果输出目录
		File string `yaml:"file"` // API结果持久化文件
	} `yaml:"results"`

	Log struct {
		Level string `yaml:"level"` // debug / info / warn / error
	} `yaml:"log"`
}

// Config 应用配置
type Config struct {
	// HTTP 服务端口
	Port int

	// 行情来源: eastmoney 或 csv
	DataSource string

	// CSV数据目录（source=csv 时使用）
	DataDir string

	// 远端单次拉取K线根数上限
	FetchLimit int

	// 回测结果输出目录
	ResultsDir string

	// API结果持久化文件
	ResultsFile string

	// 日志级别
	LogLevel string
}

// DefaultConfig 默认配置
var DefaultConfig = Config{
	Port:        19530,
	DataSource:  "eastmoney",
	DataDir:     "data",
	FetchLimit:  2000,
	ResultsDir:  "results",
	ResultsFile: "results/runs.json",
	LogLevel:    "info",
}

// LoadFromFile 从YAML文件加载配置
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var yc YAMLConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	config := DefaultConfig

	if yc.Server.Port > 0 {
		config.Port = yc.Server.Port
	}
	if yc.Data.Source != "" {
		config.DataSource = yc.Data.Source
	}
	if yc.Data.Dir != "" {
		config.DataDir = yc.Data.Dir
	}
	if yc.Data.Limit > 0 {
		config.FetchLimit = yc.Data.Limit
	}
	if yc.Results.Dir != "" {
		config.ResultsDir = yc.Results.Dir
	}
	if yc.Results.File != "" {
		config.ResultsFile = yc.Results.File
	}
	if yc.Log.Level != "" {
		config.LogLevel = yc.Log.Level
	}

	return &config, nil
}

// GetConfig 获取配置 (优先级: 环境变量 > 配置文件 > 默认值)
func GetConfig(configPath string) *Config {
	config := DefaultConfig

	if configPath != "" {
		if cfg, err := LoadFromFile(configPath); err == nil {
			config = *cfg
		} else {
			fmt.Printf("警告: 无法加载配置文件 %s: %v\n", configPath, err)
		}
	}

	// 环境变量覆盖配置文件
	if v := os.Getenv("MYTRADE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			config.Port = port
		}
	}
	if v := os.Getenv("MYTRADE_DATA_SOURCE"); v != "" {
		config.DataSource = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("MYTRADE_DATA_DIR"); v != "" {
		config.DataDir = v
	}
	if v := os.Getenv("MYTRADE_RESULTS_DIR"); v != "" {
		config.ResultsDir = v
	}
	if v := os.Getenv("MYTRADE_LOG_LEVEL"); v != "" {
		config.LogLevel = strings.ToLower(strings.TrimSpace(v))
	}

	return &config
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch c.DataSource {
	case "eastmoney", "csv":
	default:
		return fmt.Errorf("未知的行情来源: %s (支持 eastmoney / csv)", c.DataSource)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("端口无效: %d", c.Port)
	}
	return nil
}
