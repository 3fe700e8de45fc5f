package config

import (
	"os"
	"sync"
)

// Config is the full kestrel configuration.
// Layering: Default() → JSON5 config file → KESTREL_* env overrides.
type Config struct {
	mu sync.RWMutex

	// Workspace is the root directory holding all projects
	// (workspace/<project>/<branch> working trees).
	Workspace string `json:"workspace"`

	LLM       LLMConfig       `json:"llm"`
	Gateway   GatewayConfig   `json:"gateway"`
	STT       STTConfig       `json:"stt"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Agents    AgentsConfig    `json:"agents"`
}

// LLMConfig points at an OpenAI-compatible chat completions endpoint.
type LLMConfig struct {
	APIBase         string `json:"api_base"`
	APIKey          string `json:"api_key"`
	Model           string `json:"model"`
	ManagerModel    string `json:"manager_model,omitempty"`    // falls back to Model
	SummarizerModel string `json:"summarizer_model,omitempty"` // falls back to Model
	TimeoutSec      int    `json:"timeout_sec"`
}

// GatewayConfig configures the WebSocket/HTTP surface.
type GatewayConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Token          string   `json:"token,omitempty"`
	RateLimitRPM   int      `json:"rate_limit_rpm"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

// STTConfig points at the speech-to-text proxy service.
type STTConfig struct {
	ProxyURL   string `json:"proxy_url,omitempty"`
	APIKey     string `json:"api_key,omitempty"`
	TimeoutSec int    `json:"timeout_sec"`
}

// TelemetryConfig configures optional OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}

// AgentsConfig tunes the Manager/Coder control loop.
type AgentsConfig struct {
	MaxSteps   int `json:"max_steps"`   // coder tool-use loop bound
	MaxRetries int `json:"max_retries"` // manager retries per task

	// ControllerEnabled gates plan decomposition. When false, every
	// request runs as a single task without a planning call.
	ControllerEnabled bool `json:"controller_enabled"`
}

// ManagerModel returns the model used for plan decomposition.
func (c *Config) ManagerModel() string {
	if c.LLM.ManagerModel != "" {
		return c.LLM.ManagerModel
	}
	return c.LLM.Model
}

// SummarizerModel returns the model used for voice recaps.
func (c *Config) SummarizerModel() string {
	if c.LLM.SummarizerModel != "" {
		return c.LLM.SummarizerModel
	}
	return c.LLM.Model
}

// WorkspacePath returns the expanded workspace root.
func (c *Config) WorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Workspace)
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
