// Package config loads the service configuration: defaults, then the config
// file, then environment overrides, in that order.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type ProviderConfig struct {
	BaseURL    string `json:"base_url"`
	Model      string `json:"model"`
	APIKey     string `json:"api_key"`
	TimeoutMS  int    `json:"timeout_ms"`
	MaxRetries int    `json:"max_retries"`
}

type ServerConfig struct {
	Addr       string `json:"addr"`
	LogLevel   string `json:"log_level"`
	PrettyLogs bool   `json:"pretty_logs"`
}

type StorageConfig struct {
	DBPath string `json:"db_path"`
}

// ContextWindowConfig 上下文窗口的压缩阈值与保留窗口
// ContextWindowConfig tunes when history is summarized and how many recent
// turns survive compaction. The threshold is an estimate target, not an
// exact token budget.
type ContextWindowConfig struct {
	TokenThreshold int    `json:"token_threshold"`
	KeepRecent     int    `json:"keep_recent"`
	Encoding       string `json:"encoding"`
}

type ToolsConfig struct {
	SearchBaseURL    string `json:"search_base_url"`
	SearchTimeoutSec int    `json:"search_timeout_sec"`
	FetchTimeoutSec  int    `json:"fetch_timeout_sec"`
	FetchMaxBodyKB   int    `json:"fetch_max_body_kb"`
}

type AgentConfig struct {
	MaxSteps     int    `json:"max_steps"`
	SystemPrompt string `json:"system_prompt"`
}

type Config struct {
	Provider      ProviderConfig      `json:"provider"`
	Server        ServerConfig        `json:"server"`
	Storage       StorageConfig       `json:"storage"`
	ContextWindow ContextWindowConfig `json:"context_window"`
	Tools         ToolsConfig         `json:"tools"`
	Agent         AgentConfig         `json:"agent"`
}

type fileConfig struct {
	Provider      *ProviderConfig      `json:"provider"`
	Server        *ServerConfig        `json:"server"`
	Storage       *StorageConfig       `json:"storage"`
	ContextWindow *ContextWindowConfig `json:"context_window"`
	Tools         *ToolsConfig         `json:"tools"`
	Agent         *AgentConfig         `json:"agent"`
}

// defaultSystemPrompt 默认智能体指令
const defaultSystemPrompt = `You are a helpful web search assistant. Always respond in English, regardless of the language used in search results or user queries.
You have access to a tool that searches the web, and a tool that fetches the contents of a web page.
Create optimized search queries from the user's input and use them with the search_web tool to get the best results.
Use the fetch_page_contents tool to fetch the contents of a web page from the results of the search_web tool if the user's query is about the content of a web page.
Review the results and provide a concise summary of the information found in English. Include sources and links if available.`

func Default() Config {
	return Config{
		Provider: ProviderConfig{
			BaseURL:    "http://localhost:11434/v1",
			Model:      "qwen3:8b",
			TimeoutMS:  120000,
			MaxRetries: 2,
		},
		Server: ServerConfig{
			Addr:     ":8787",
			LogLevel: "info",
		},
		Storage: StorageConfig{
			DBPath: "~/.sat/sat.db",
		},
		ContextWindow: ContextWindowConfig{
			// ~75% of a 32k context window
			TokenThreshold: 24000,
			KeepRecent:     10,
			Encoding:       "cl100k_base",
		},
		Tools: ToolsConfig{
			SearchBaseURL:    "http://localhost:8080",
			SearchTimeoutSec: 15,
			FetchTimeoutSec:  10,
			FetchMaxBodyKB:   2048,
		},
		Agent: AgentConfig{
			MaxSteps:     8,
			SystemPrompt: defaultSystemPrompt,
		},
	}
}

// Load 组装最终配置：默认值 ← 配置文件 ← 环境变量。
// Load resolves the config path (explicit arg, then SAT_CONFIG_PATH, then
// ./sat.config.json) and layers it over defaults before env overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	resolvedPath := strings.TrimSpace(path)
	if envPath := strings.TrimSpace(os.Getenv("SAT_CONFIG_PATH")); envPath != "" {
		resolvedPath = envPath
	}
	if resolvedPath == "" {
		if _, err := os.Stat("sat.config.json"); err == nil {
			resolvedPath = "sat.config.json"
		}
	}
	if err := mergeFromFile(&cfg, resolvedPath); err != nil {
		return Config{}, err
	}

	cfg = applyEnv(cfg)
	if err := normalize(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func mergeFromFile(cfg *Config, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	resolved, err := expandPath(path)
	if err != nil {
		return fmt.Errorf("expand config path %q: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %q: %w", resolved, err)
	}

	var fc fileConfig
	if err := json.Unmarshal(stripJSONComments(data), &fc); err != nil {
		return fmt.Errorf("parse config %q: %w", resolved, err)
	}
	applyFileConfig(cfg, fc)
	return nil
}

func applyFileConfig(cfg *Config, fc fileConfig) {
	if fc.Provider != nil {
		p := *fc.Provider
		if strings.TrimSpace(p.BaseURL) != "" {
			cfg.Provider.BaseURL = p.BaseURL
		}
		if strings.TrimSpace(p.Model) != "" {
			cfg.Provider.Model = p.Model
		}
		if strings.TrimSpace(p.APIKey) != "" {
			cfg.Provider.APIKey = p.APIKey
		}
		if p.TimeoutMS > 0 {
			cfg.Provider.TimeoutMS = p.TimeoutMS
		}
		if p.MaxRetries > 0 {
			cfg.Provider.MaxRetries = p.MaxRetries
		}
	}
	if fc.Server != nil {
		s := *fc.Server
		if strings.TrimSpace(s.Addr) != "" {
			cfg.Server.Addr = s.Addr
		}
		if strings.TrimSpace(s.LogLevel) != "" {
			cfg.Server.LogLevel = s.LogLevel
		}
		cfg.Server.PrettyLogs = s.PrettyLogs
	}
	if fc.Storage != nil {
		if strings.TrimSpace(fc.Storage.DBPath) != "" {
			cfg.Storage.DBPath = fc.Storage.DBPath
		}
	}
	if fc.ContextWindow != nil {
		cw := *fc.ContextWindow
		if cw.TokenThreshold > 0 {
			cfg.ContextWindow.TokenThreshold = cw.TokenThreshold
		}
		if cw.KeepRecent > 0 {
			cfg.ContextWindow.KeepRecent = cw.KeepRecent
		}
		if strings.TrimSpace(cw.Encoding) != "" {
			cfg.ContextWindow.Encoding = cw.Encoding
		}
	}
	if fc.Tools != nil {
		tl := *fc.Tools
		if strings.TrimSpace(tl.SearchBaseURL) != "" {
			cfg.Tools.SearchBaseURL = tl.SearchBaseURL
		}
		if tl.SearchTimeoutSec > 0 {
			cfg.Tools.SearchTimeoutSec = tl.SearchTimeoutSec
		}
		if tl.FetchTimeoutSec > 0 {
			cfg.Tools.FetchTimeoutSec = tl.FetchTimeoutSec
		}
		if tl.FetchMaxBodyKB > 0 {
			cfg.Tools.FetchMaxBodyKB = tl.FetchMaxBodyKB
		}
	}
	if fc.Agent != nil {
		a := *fc.Agent
		if a.MaxSteps > 0 {
			cfg.Agent.MaxSteps = a.MaxSteps
		}
		if strings.TrimSpace(a.SystemPrompt) != "" {
			cfg.Agent.SystemPrompt = a.SystemPrompt
		}
	}
}

func applyEnv(cfg Config) Config {
	if v := strings.TrimSpace(os.Getenv("SAT_BASE_URL")); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("SAT_MODEL")); v != "" {
		cfg.Provider.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("SAT_API_KEY")); v != "" {
		cfg.Provider.APIKey = v
	} else if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("SAT_ADDR")); v != "" {
		cfg.Server.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("SAT_LOG_LEVEL")); v != "" {
		cfg.Server.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("SAT_DB_PATH")); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := strings.TrimSpace(os.Getenv("SAT_SEARCH_URL")); v != "" {
		cfg.Tools.SearchBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("SAT_TOKEN_THRESHOLD")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ContextWindow.TokenThreshold = n
		}
	}
	return cfg
}

func normalize(cfg *Config) error {
	def := Default()
	if strings.TrimSpace(cfg.Provider.BaseURL) == "" {
		cfg.Provider.BaseURL = def.Provider.BaseURL
	}
	if strings.TrimSpace(cfg.Provider.Model) == "" {
		cfg.Provider.Model = def.Provider.Model
	}
	if cfg.Provider.TimeoutMS <= 0 {
		cfg.Provider.TimeoutMS = def.Provider.TimeoutMS
	}
	if cfg.Provider.MaxRetries < 0 {
		cfg.Provider.MaxRetries = def.Provider.MaxRetries
	}
	if strings.TrimSpace(cfg.Server.Addr) == "" {
		cfg.Server.Addr = def.Server.Addr
	}
	if cfg.ContextWindow.TokenThreshold <= 0 {
		cfg.ContextWindow.TokenThreshold = def.ContextWindow.TokenThreshold
	}
	if cfg.ContextWindow.KeepRecent <= 0 {
		cfg.ContextWindow.KeepRecent = def.ContextWindow.KeepRecent
	}
	if strings.TrimSpace(cfg.ContextWindow.Encoding) == "" {
		cfg.ContextWindow.Encoding = def.ContextWindow.Encoding
	}
	if cfg.Agent.MaxSteps <= 0 {
		cfg.Agent.MaxSteps = def.Agent.MaxSteps
	}
	if strings.TrimSpace(cfg.Agent.SystemPrompt) == "" {
		cfg.Agent.SystemPrompt = def.Agent.SystemPrompt
	}

	dbPath, err := expandPath(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	cfg.Storage.DBPath = dbPath
	return nil
}

func expandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		if path == "~" {
			path = home
		} else {
			path = filepath.Join(home, strings.TrimPrefix(path, "~/"))
		}
	}
	return filepath.Abs(path)
}

// stripJSONComments 允许配置文件写 // 与 /* */ 注释
// stripJSONComments removes // and /* */ comments so the config file can be
// annotated; string contents are preserved untouched.
func stripJSONComments(data []byte) []byte {
	const (
		stateNormal = iota
		stateString
		stateLineComment
		stateBlockComment
	)

	state := stateNormal
	escaped := false
	out := bytes.Buffer{}

	for i := 0; i < len(data); i++ {
		c := data[i]
		next := byte(0)
		if i+1 < len(data) {
			next = data[i+1]
		}

		switch state {
		case stateNormal:
			if c == '"' {
				state = stateString
				out.WriteByte(c)
				continue
			}
			if c == '/' && next == '/' {
				state = stateLineComment
				i++
				continue
			}
			if c == '/' && next == '*' {
				state = stateBlockComment
				i++
				continue
			}
			out.WriteByte(c)
		case stateString:
			out.WriteByte(c)
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' {
				escaped = true
				continue
			}
			if c == '"' {
				state = stateNormal
			}
		case stateLineComment:
			if c == '\n' {
				state = stateNormal
				out.WriteByte(c)
			}
		case stateBlockComment:
			if c == '*' && next == '/' {
				state = stateNormal
				i++
			}
		}
	}

	return out.Bytes()
}
