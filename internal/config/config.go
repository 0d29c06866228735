// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/ctxchat/internal/llm"
	"github.com/jeranaias/ctxchat/internal/util"
	"github.com/jeranaias/ctxchat/internal/window"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete ctxchat configuration.
type Config struct {
	AI       AIConfig       `toml:"ai" yaml:"ai" json:"ai"`
	Backend  BackendConfig  `toml:"backend" yaml:"backend" json:"backend"`
	Sampling SamplingConfig `toml:"sampling" yaml:"sampling" json:"sampling"`
	Log      LogConfig      `toml:"log" yaml:"log" json:"log"`
}

// AIConfig holds the conversation settings read at the start of every turn.
type AIConfig struct {
	// ContextSize is the token ceiling of one generation call
	ContextSize int `toml:"context_size" yaml:"context_size" json:"context_size"`
	// ContextMgmt is "sliding_window" or "periodic_summary"
	ContextMgmt string `toml:"context_mgmt" yaml:"context_mgmt" json:"context_mgmt"`
	// HistoryEnabled keeps messages across turns
	HistoryEnabled bool `toml:"history_enabled" yaml:"history_enabled" json:"history_enabled"`
	// Personality is the chat system prompt
	Personality string `toml:"personality" yaml:"personality" json:"personality"`
	// TokenizerPath points at a SentencePiece tokenizer.model. Empty uses the
	// built-in estimate.
	TokenizerPath string `toml:"tokenizer_path" yaml:"tokenizer_path" json:"tokenizer_path"`
}

// BackendConfig selects and addresses the model server.
type BackendConfig struct {
	// Kind is "ollama" or "llamacpp"
	Kind string `toml:"kind" yaml:"kind" json:"kind"`
	// URL of the server; empty uses the backend default
	URL   string `toml:"url" yaml:"url" json:"url"`
	Model string `toml:"model" yaml:"model" json:"model"`
	// APIKey is sent to OpenAI-compatible servers that require one
	APIKey string `toml:"api_key" yaml:"api_key" json:"api_key"`
	// StreamTimeoutSecs bounds the wait for response headers (0 = backend default)
	StreamTimeoutSecs int `toml:"stream_timeout_secs" yaml:"stream_timeout_secs" json:"stream_timeout_secs"`
}

// SamplingConfig holds the generation parameters of normal replies.
type SamplingConfig struct {
	Temperature   float64  `toml:"temperature" yaml:"temperature" json:"temperature"`
	TopP          float64  `toml:"top_p" yaml:"top_p" json:"top_p"`
	RepeatPenalty float64  `toml:"repeat_penalty" yaml:"repeat_penalty" json:"repeat_penalty"`
	Mirostat      int      `toml:"mirostat" yaml:"mirostat" json:"mirostat"`
	Stop          []string `toml:"stop" yaml:"stop" json:"stop"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Debug bool `toml:"debug" yaml:"debug" json:"debug"`
	// Path of the log file; empty writes to ~/.ctxchat/ctxchat.log
	Path string `toml:"path" yaml:"path" json:"path"`
}

// Backend kinds.
const (
	BackendOllama   = "ollama"
	BackendLlamaCpp = "llamacpp"
)

// MinContextSize is the smallest accepted context size.
const MinContextSize = 512

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		AI: AIConfig{
			ContextSize:    2048,
			ContextMgmt:    string(window.SlidingWindow),
			HistoryEnabled: true,
			Personality:    window.DefaultSystemPrompt,
		},
		Backend: BackendConfig{
			Kind:  BackendOllama,
			URL:   "http://127.0.0.1:11434",
			Model: "llama3.2",
		},
		Sampling: SamplingConfig{
			Temperature:   llm.DefaultTemperature,
			TopP:          llm.DefaultTopP,
			RepeatPenalty: llm.DefaultRepeatPenalty,
			Mirostat:      llm.DefaultMirostat,
			Stop:          append([]string(nil), llm.DefaultStop...),
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// Format is a config file encoding.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatOf returns the encoding implied by the file extension. Unknown
// extensions are treated as TOML.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".json":
		return FormatJSON
	default:
		return FormatTOML
	}
}

// ConfigDir returns the ctxchat configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".ctxchat"), nil
}

// ConfigPathTOML returns the path to the default TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// FindConfigFile returns the first existing config file, in order
// config.toml, config.yaml, config.yml, config.json. CTXCHAT_CONFIG, when
// set, wins. It returns "" when there is none.
func FindConfigFile() (string, error) {
	if p := os.Getenv("CTXCHAT_CONFIG"); p != "" {
		return p, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	for _, name := range []string{"config.toml", "config.yaml", "config.yml", "config.json"} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads the configuration file found by FindConfigFile, or the
// defaults when there is none. Environment overrides are applied last.
func Load() (*Config, error) {
	path, err := FindConfigFile()
	if err != nil {
		return nil, err
	}
	if path == "" {
		cfg := Default()
		cfg.ApplyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return cfg, nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific file with full
// validation. Keys missing from the file keep their defaults.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg, err := Decode(data, FormatOf(path))
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Decode parses data in the given format on top of the defaults.
func Decode(data []byte, format Format) (*Config, error) {
	cfg := Default()
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, cfg)
	case FormatJSON:
		err = json.Unmarshal(data, cfg)
	default:
		_, err = toml.Decode(string(data), cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", format, err)
	}
	cfg.fillDefaults()
	return cfg, nil
}

// fillDefaults fills in values a file set to empty.
func (c *Config) fillDefaults() {
	defaults := Default()

	if c.AI.ContextSize == 0 {
		c.AI.ContextSize = defaults.AI.ContextSize
	}
	if c.AI.ContextMgmt == "" {
		c.AI.ContextMgmt = defaults.AI.ContextMgmt
	}
	if strings.TrimSpace(c.AI.Personality) == "" {
		c.AI.Personality = defaults.AI.Personality
	}
	if c.Backend.Kind == "" {
		c.Backend.Kind = defaults.Backend.Kind
	}
	if c.Backend.Model == "" && c.Backend.Kind == BackendOllama {
		c.Backend.Model = defaults.Backend.Model
	}
	if c.Sampling.Stop == nil {
		c.Sampling.Stop = defaults.Sampling.Stop
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveToPath(cfg, path)
}

// SaveToPath writes the configuration in the format implied by the path.
// Files are written atomically with 0600 permissions.
func SaveToPath(cfg *Config, path string) error {
	data, err := Encode(cfg, FormatOf(path))
	if err != nil {
		return err
	}
	if err := util.AtomicWriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Encode renders the configuration in the given format.
func Encode(cfg *Config, format Format) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return nil, fmt.Errorf("failed to encode config: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("failed to encode config: %w", err)
		}
	case FormatJSON:
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode config: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	default:
		fmt.Fprintln(&buf, "# ctxchat configuration file")
		fmt.Fprintln(&buf, "# Generated by ctxchat - edit with care")
		fmt.Fprintln(&buf)
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, fmt.Errorf("failed to encode config: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...interface{}) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// AI
	if c.AI.ContextSize < MinContextSize {
		add("ai.context_size", "must be at least %d, got %d", MinContextSize, c.AI.ContextSize)
	}
	if _, err := window.ParseStrategy(c.AI.ContextMgmt); err != nil {
		add("ai.context_mgmt", "invalid strategy '%s', must be one of: sliding_window, periodic_summary", c.AI.ContextMgmt)
	}
	if c.AI.ContextSize >= MinContextSize {
		limit := window.NewBudget(c.AI.ContextSize).PersonalityLimit()
		if n := utf8.RuneCountInString(c.AI.Personality); n > limit {
			add("ai.personality", "%d characters, limit for this context size is %d", n, limit)
		}
	}

	// Backend
	switch strings.ToLower(c.Backend.Kind) {
	case BackendOllama, BackendLlamaCpp:
	default:
		add("backend.kind", "invalid backend '%s', must be one of: ollama, llamacpp", c.Backend.Kind)
	}
	if c.Backend.URL != "" {
		u, err := url.Parse(c.Backend.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("backend.url", "must be an http(s) URL, got '%s'", c.Backend.URL)
		}
	}
	if c.Backend.StreamTimeoutSecs < 0 {
		add("backend.stream_timeout_secs", "must not be negative")
	}

	// Sampling
	if c.Sampling.Temperature < 0 || c.Sampling.Temperature > 2 {
		add("sampling.temperature", "must be between 0 and 2, got %g", c.Sampling.Temperature)
	}
	if c.Sampling.TopP <= 0 || c.Sampling.TopP > 1 {
		add("sampling.top_p", "must be in (0, 1], got %g", c.Sampling.TopP)
	}
	if c.Sampling.RepeatPenalty <= 0 {
		add("sampling.repeat_penalty", "must be positive, got %g", c.Sampling.RepeatPenalty)
	}
	if c.Sampling.Mirostat < 0 || c.Sampling.Mirostat > 2 {
		add("sampling.mirostat", "must be 0, 1 or 2, got %d", c.Sampling.Mirostat)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - CTXCHAT_CONTEXT_SIZE: overrides ai.context_size
//   - CTXCHAT_CONTEXT_MGMT: overrides ai.context_mgmt
//   - CTXCHAT_HISTORY: "1"/"true"/"on" or "0"/"false"/"off"
//   - CTXCHAT_BACKEND: overrides backend.kind
//   - CTXCHAT_MODEL: overrides backend.model
//   - CTXCHAT_URL: overrides backend.url
//   - CTXCHAT_API_KEY: overrides backend.api_key
//   - CTXCHAT_DEBUG: set to "1" or "true" to enable debug logging
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("CTXCHAT_CONTEXT_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.AI.ContextSize = n
		}
	}
	if v := os.Getenv("CTXCHAT_CONTEXT_MGMT"); v != "" {
		c.AI.ContextMgmt = v
	}
	if v := os.Getenv("CTXCHAT_HISTORY"); v != "" {
		if b, ok := parseBool(v); ok {
			c.AI.HistoryEnabled = b
		}
	}
	if v := os.Getenv("CTXCHAT_BACKEND"); v != "" {
		c.Backend.Kind = strings.ToLower(v)
	}
	if v := os.Getenv("CTXCHAT_MODEL"); v != "" {
		c.Backend.Model = v
	}
	if v := os.Getenv("CTXCHAT_URL"); v != "" {
		c.Backend.URL = v
	}
	if v := os.Getenv("CTXCHAT_API_KEY"); v != "" {
		c.Backend.APIKey = v
	}
	if v := os.Getenv("CTXCHAT_DEBUG"); v != "" {
		if b, ok := parseBool(v); ok {
			c.Log.Debug = b
		}
	}
}

func parseBool(s string) (value, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	return false, false
}

// =============================================================================
// TURN SNAPSHOT
// =============================================================================

// Snapshot returns the read-only settings consumed at the start of a turn.
// The configuration must be valid.
func (c *Config) Snapshot() window.Settings {
	strategy, err := window.ParseStrategy(c.AI.ContextMgmt)
	if err != nil {
		strategy = window.SlidingWindow
	}
	return window.Settings{
		ContextSize:    c.AI.ContextSize,
		Strategy:       strategy,
		HistoryEnabled: c.AI.HistoryEnabled,
		SystemPrompt:   c.AI.Personality,
		Params:         c.Params(),
	}
}

// Params returns the sampling parameters of normal replies.
func (c *Config) Params() llm.Params {
	p := llm.DefaultParams()
	p.Temperature = c.Sampling.Temperature
	p.TopP = c.Sampling.TopP
	p.RepeatPenalty = c.Sampling.RepeatPenalty
	p.Mirostat = c.Sampling.Mirostat
	if c.Sampling.Stop != nil {
		p.Stop = append([]string(nil), c.Sampling.Stop...)
	}
	return p
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "ai.context_size").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation. String values are
// converted to the field type.
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go field equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		result.WriteString(strings.ToUpper(part[:1]))
		result.WriteString(strings.ToLower(part[1:]))
	}
	return result.String()
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			b, ok := parseBool(strVal)
			if !ok {
				return fmt.Errorf("invalid boolean value: %q", strVal)
			}
			field.SetBool(b)
			return nil
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.String {
				var items []string
				for _, s := range strings.Split(strVal, ",") {
					if s = strings.TrimSpace(s); s != "" {
						items = append(items, s)
					}
				}
				field.Set(reflect.ValueOf(items))
				return nil
			}
		}
	}

	val := reflect.ValueOf(value)
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// Keys returns all configuration keys in dot notation.
func Keys() []string {
	return []string{
		"ai.context_size",
		"ai.context_mgmt",
		"ai.history_enabled",
		"ai.personality",
		"ai.tokenizer_path",
		"backend.kind",
		"backend.url",
		"backend.model",
		"backend.api_key",
		"backend.stream_timeout_secs",
		"sampling.temperature",
		"sampling.top_p",
		"sampling.repeat_penalty",
		"sampling.mirostat",
		"sampling.stop",
		"log.debug",
		"log.path",
	}
}

// =============================================================================
// COPY & DISPLAY
// =============================================================================

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Sampling.Stop != nil {
		clone.Sampling.Stop = append([]string(nil), c.Sampling.Stop...)
	}
	return &clone
}

// String returns the config as TOML with the API key redacted.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Backend.APIKey != "" {
		safe.Backend.APIKey = "[REDACTED]"
	}
	data, err := Encode(safe, FormatTOML)
	if err != nil {
		return err.Error()
	}
	return string(data)
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance.
// Loads configuration on first access and falls back to defaults on error.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
		}
		globalConfigMu.Lock()
		globalConfig = cfg
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigOnce.Do(func() {})
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state for testing.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
