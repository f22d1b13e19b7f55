package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config 配置文件结构体
type Config struct {
	Version string `yaml:"version"`

	Browser struct {
		DevToolsURL string `yaml:"devtoolsURL"`
	} `yaml:"browser"`

	Sqlite struct {
		Dsn    string `yaml:"dsn"`
		Prefix string `yaml:"prefix"`
	} `yaml:"sqlite"`

	Log struct {
		Level  string   `yaml:"level"`
		Writer []string `yaml:"writer"`
		File   string   `yaml:"file"`
	} `yaml:"log"`

	Recorder struct {
		HostedEnvironment  bool   `yaml:"hostedEnvironment"`
		NavigationMode     bool   `yaml:"navigationMode"`
		TransferSizeHeader string `yaml:"transferSizeHeader"`
		ResourceSizeHeader string `yaml:"resourceSizeHeader"`
	} `yaml:"recorder"`

	Capture struct {
		RedactHeaders []string `yaml:"redactHeaders"`
	} `yaml:"capture"`

	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	c := &Config{Version: "1.0.0"}
	c.Browser.DevToolsURL = "http://127.0.0.1:9222"
	c.Sqlite.Dsn = "netgraph.sqlite3"
	c.Sqlite.Prefix = "netgraph_"
	c.Log.Level = "info"
	c.Log.Writer = []string{"console"}
	c.Log.File = "logs/netgraph.log"
	c.Recorder.TransferSizeHeader = "X-TotalFetchedSize"
	c.Recorder.ResourceSizeHeader = "X-UncompressedSize"
	c.Capture.RedactHeaders = []string{"cookie", "set-cookie", "authorization"}
	return c
}

// Load 读取 yaml 配置，未出现的字段保持默认值；path 为空时直接返回默认配置
func Load(path string) (*Config, error) {
	c := NewConfig()
	if path == "" {
		return c, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return c, nil
}
