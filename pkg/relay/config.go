package relay

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config carries everything the relay process needs: where to listen, how
// to reach the provider, where session artifacts land, and the streaming
// options applied when a client supplies none.
type Config struct {
	Addr          string         `mapstructure:"addr"`
	APIKey        string         `mapstructure:"api_key"`
	ResponsesDir  string         `mapstructure:"responses_dir"`
	UploadDir     string         `mapstructure:"upload_dir"`
	LogLevel      string         `mapstructure:"log_level"`
	LogFormat     string         `mapstructure:"log_format"`
	RawSampleRate int            `mapstructure:"raw_sample_rate"`
	Streaming     map[string]any `mapstructure:"streaming"`
}

// LoadConfig reads a config file when path is non-empty, otherwise runs on
// defaults plus environment expansion. ${VAR} references in string values
// are expanded, so api_key can stay out of the file.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetDefault("addr", ":5000")
	v.SetDefault("api_key", "${DEEPGRAM_API_KEY}")
	v.SetDefault("responses_dir", "responses")
	v.SetDefault("upload_dir", "uploads")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("raw_sample_rate", 8000)
	v.SetDefault("streaming", map[string]any{
		"model":           "nova-2",
		"language":        "en-US",
		"smart_format":    true,
		"interim_results": true,
	})

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("api_key is required (set DEEPGRAM_API_KEY)")
	}
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("addr is required")
	}
	if strings.TrimSpace(c.ResponsesDir) == "" {
		return fmt.Errorf("responses_dir is required")
	}
	return nil
}

func expandEnvStrings(cfg *Config) {
	cfg.Addr = os.ExpandEnv(cfg.Addr)
	cfg.APIKey = expandMissingEmpty(cfg.APIKey)
	cfg.ResponsesDir = os.ExpandEnv(cfg.ResponsesDir)
	cfg.UploadDir = os.ExpandEnv(cfg.UploadDir)
	cfg.Streaming = expandSettings(cfg.Streaming)
}

// expandMissingEmpty expands ${VAR} and treats an unset variable as empty so
// validation can report it instead of forwarding the literal reference.
func expandMissingEmpty(s string) string {
	return os.Expand(s, os.Getenv)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, val := range settings {
		settings[k] = expandAny(val)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, inner := range val {
			val[k] = expandAny(inner)
		}
		return val
	default:
		return v
	}
}
