package config

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{errors: make(ValidationErrors, 0)}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateServer(&cfg.Server)
	v.validateLog(&cfg.Log)
	v.validateState(&cfg.State)
	v.validateLLM(&cfg.LLM)
	v.validateCraft(&cfg.Craft)
	v.validateFeishu(&cfg.Feishu)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{Field: field, Value: value, Message: msg})
}

func (v *Validator) validateServer(cfg *ServerConfig) {
	if cfg.Port < 1 || cfg.Port > 65535 {
		v.addError("server.port", cfg.Port, "must be between 1 and 65535")
	}
	if cfg.RequestTimeout != "" {
		if _, err := time.ParseDuration(cfg.RequestTimeout); err != nil {
			v.addError("server.request_timeout", cfg.RequestTimeout, "must be a valid duration")
		}
	}
}

func (v *Validator) validateLog(cfg *LogConfig) {
	switch cfg.Level {
	case "debug", "info", "warn", "error":
	default:
		v.addError("log.level", cfg.Level, "must be one of debug, info, warn, error")
	}
	switch cfg.Format {
	case "auto", "text", "json":
	default:
		v.addError("log.format", cfg.Format, "must be one of auto, text, json")
	}
}

func (v *Validator) validateState(cfg *StateConfig) {
	switch cfg.Backend {
	case "json", "sqlite":
	default:
		v.addError("state.backend", cfg.Backend, "must be json or sqlite")
	}
	if strings.TrimSpace(cfg.Path) == "" {
		v.addError("state.path", cfg.Path, "cannot be empty")
	}
}

func (v *Validator) validateLLM(cfg *LLMConfig) {
	if cfg.APIKey == "" {
		v.addError("llm.api_key", "", "API key is required")
	}
	if cfg.Model == "" {
		v.addError("llm.model", cfg.Model, "model name is required")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		v.addError("llm.temperature", cfg.Temperature, "must be between 0 and 2")
	}
}

func (v *Validator) validateCraft(cfg *CraftConfig) {
	if cfg.BaseURL == "" {
		v.addError("craft.base_url", cfg.BaseURL, "archive base URL is required")
	}
	if cfg.Token == "" {
		v.addError("craft.token", "", "archive API token is required")
	}
	if cfg.SpaceID == "" {
		v.addError("craft.space_id", cfg.SpaceID, "archive space ID is required")
	}
}

func (v *Validator) validateFeishu(cfg *FeishuConfig) {
	// The bot is optional but must be complete when enabled.
	if cfg.AppID == "" && cfg.AppSecret == "" {
		return
	}
	if cfg.AppID == "" {
		v.addError("feishu.app_id", "", "required when app_secret is set")
	}
	if cfg.AppSecret == "" {
		v.addError("feishu.app_secret", "", "required when app_id is set")
	}
	if cfg.VerificationToken == "" {
		v.addError("feishu.verification_token", "", "required when the bot is enabled")
	}
}
