// Package config loads and validates the application configuration
// from defaults, a YAML file, environment variables and CLI flags.
package config

// Config holds all application configuration.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	State  StateConfig  `mapstructure:"state"`
	LLM    LLMConfig    `mapstructure:"llm"`
	Craft  CraftConfig  `mapstructure:"craft"`
	Feishu FeishuConfig `mapstructure:"feishu"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	RequestTimeout string   `mapstructure:"request_timeout"`
	CORSOrigins    []string `mapstructure:"cors_origins"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StateConfig configures run persistence.
type StateConfig struct {
	// Backend is "json" or "sqlite".
	Backend string `mapstructure:"backend"`
	// Path is a directory for json and a database file for sqlite.
	Path string `mapstructure:"path"`
}

// LLMConfig configures the analysis models.
type LLMConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	AsideModel  string  `mapstructure:"aside_model"`
	Temperature float64 `mapstructure:"temperature"`
}

// CraftConfig configures the archive API.
type CraftConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`
	SpaceID string `mapstructure:"space_id"`
}

// FeishuConfig configures the chat bot. The bot is optional: with an
// empty AppID the decision card channel is disabled and decisions
// arrive through the HTTP API only.
type FeishuConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	AppID             string `mapstructure:"app_id"`
	AppSecret         string `mapstructure:"app_secret"`
	VerificationToken string `mapstructure:"verification_token"`
}

// Enabled reports whether the bot is configured.
func (c FeishuConfig) Enabled() bool {
	return c.AppID != "" && c.AppSecret != ""
}
