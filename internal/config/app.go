package config

// AppConfig is the streamloop CLI configuration.
type AppConfig struct {
	Provider ProviderConfig `mapstructure:"provider" json:"provider"`
	Agent    AgentConfig    `mapstructure:"agent" json:"agent"`
	Bridge   BridgeConfig   `mapstructure:"bridge" json:"bridge"`
	Log      LogConfig      `mapstructure:"log" json:"log"`
	Retry    RetryConfig    `mapstructure:"retry" json:"retry"`
}

// ProviderConfig selects and configures the protocol adapter.
type ProviderConfig struct {
	// Name is anthropic, openai, deepseek, openrouter or any
	// OpenAI-compatible vendor; gollm: prefixes route through gollm.
	Name              string `mapstructure:"name" json:"name"`
	BaseURL           string `mapstructure:"base_url" json:"base_url"`
	APIKey            string `mapstructure:"api_key" json:"api_key"`
	Model             string `mapstructure:"model" json:"model"`
	ArraySystemFormat bool   `mapstructure:"array_system_format" json:"array_system_format"`
	Strict            bool   `mapstructure:"strict" json:"strict"`
}

// AgentConfig feeds the loop engine and generation settings.
type AgentConfig struct {
	SystemPrompt   string  `mapstructure:"system_prompt" json:"system_prompt"`
	MaxTokens      int     `mapstructure:"max_tokens" json:"max_tokens"`
	Temperature    float64 `mapstructure:"temperature" json:"temperature"`
	MaxIterations  int     `mapstructure:"max_iterations" json:"max_iterations"`
	ToolPolicy     string  `mapstructure:"tool_policy" json:"tool_policy"`
	MaxConcurrency int     `mapstructure:"max_concurrency" json:"max_concurrency"`
	FailFast       bool    `mapstructure:"fail_fast" json:"fail_fast"`
}

// BridgeConfig tunes the remote tools.
type BridgeConfig struct {
	CommandTimeoutSecs    int `mapstructure:"command_timeout" json:"command_timeout"`
	ScrollbackTimeoutSecs int `mapstructure:"scrollback_timeout" json:"scrollback_timeout"`
	DuplicateWindowSecs   int `mapstructure:"duplicate_window" json:"duplicate_window"`
	DuplicateCapacity     int `mapstructure:"duplicate_capacity" json:"duplicate_capacity"`
}

// LogConfig configures the tint handler.
type LogConfig struct {
	Level   string `mapstructure:"level" json:"level"`
	NoColor bool   `mapstructure:"no_color" json:"no_color"`
}

// RetryConfig enables retries of model calls that failed before streaming.
type RetryConfig struct {
	MaxRetries int `mapstructure:"max_retries" json:"max_retries"`
}

// Defaults returns the default settings keyed by dotted path.
func Defaults() map[string]any {
	return map[string]any{
		"provider.name":                "anthropic",
		"provider.base_url":            "",
		"provider.api_key":             "",
		"provider.model":               "claude-sonnet-4-5",
		"provider.array_system_format": false,
		"provider.strict":              false,
		"agent.system_prompt":          "You are a helpful assistant with access to the user's terminal.",
		"agent.max_tokens":             4096,
		"agent.temperature":            0.0,
		"agent.max_iterations":         25,
		"agent.tool_policy":            "sequential",
		"agent.max_concurrency":        4,
		"agent.fail_fast":              false,
		"bridge.command_timeout":       120,
		"bridge.scrollback_timeout":    30,
		"bridge.duplicate_window":      30,
		"bridge.duplicate_capacity":    100,
		"log.level":                    "info",
		"log.no_color":                 false,
		"retry.max_retries":            0,
	}
}

// LoadApp loads AppConfig from path (optional) and the environment.
func LoadApp(path string, opts ...Option[AppConfig]) (*Config[AppConfig], error) {
	base := []Option[AppConfig]{
		WithDefaults[AppConfig](Defaults()),
		WithEnv[AppConfig](EnvPrefix),
	}
	return Load(path, append(base, opts...)...)
}
