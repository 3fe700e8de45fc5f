package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Workspace: "~/.kestrel/workspace",
		LLM: LLMConfig{
			APIBase:    "http://localhost:8080/v1",
			Model:      "qwen3-coder",
			TimeoutSec: 300,
		},
		Gateway: GatewayConfig{
			Host:         "0.0.0.0",
			Port:         8000,
			RateLimitRPM: 0,
		},
		STT: STTConfig{
			TimeoutSec: 30,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "kestrel",
		},
		Agents: AgentsConfig{
			MaxSteps:          30,
			MaxRetries:        2,
			ControllerEnabled: true,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error; defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("KESTREL_WORKSPACE", &c.Workspace)

	envStr("KESTREL_LLM_API_BASE", &c.LLM.APIBase)
	envStr("KESTREL_LLM_API_KEY", &c.LLM.APIKey)
	envStr("KESTREL_MODEL", &c.LLM.Model)
	envStr("KESTREL_MANAGER_MODEL", &c.LLM.ManagerModel)
	envStr("KESTREL_SUMMARIZER_MODEL", &c.LLM.SummarizerModel)

	envStr("KESTREL_HOST", &c.Gateway.Host)
	if v := os.Getenv("KESTREL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}
	envStr("KESTREL_GATEWAY_TOKEN", &c.Gateway.Token)
	if v := os.Getenv("KESTREL_RATE_LIMIT_RPM"); v != "" {
		if rpm, err := strconv.Atoi(v); err == nil {
			c.Gateway.RateLimitRPM = rpm
		}
	}

	if v := os.Getenv("KESTREL_CONTROLLER_ENABLED"); v != "" {
		c.Agents.ControllerEnabled = v == "true" || v == "1"
	}

	envStr("KESTREL_STT_PROXY_URL", &c.STT.ProxyURL)
	envStr("KESTREL_STT_API_KEY", &c.STT.APIKey)

	envStr("KESTREL_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("KESTREL_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("KESTREL_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("KESTREL_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}
