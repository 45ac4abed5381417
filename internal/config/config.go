// Package config loads service settings from an optional config file and the
// environment. Settings are read once at startup.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultJWTSecret is only suitable for local development; the server warns
// when it is still in use.
const DefaultJWTSecret = "visionai-development-secret-change-me"

type ServerSettings struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowedorigins"`
	MaxUploadBytes int64    `mapstructure:"maxuploadbytes"`
}

// Addr returns host:port for net/http.
func (s ServerSettings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseSettings struct {
	URL string `mapstructure:"url"`
}

type ModelSettings struct {
	Path          string `mapstructure:"path"`
	MetadataPath  string `mapstructure:"metadatapath"`
	LibraryPath   string `mapstructure:"librarypath"`
	RequireActive bool   `mapstructure:"requireactive"`
}

type AuthSettings struct {
	Secret   string        `mapstructure:"secret"`
	TokenTTL time.Duration `mapstructure:"tokenttl"`
}

type LogSettings struct {
	Mode string `mapstructure:"mode"`
}

// Settings is the full service configuration.
type Settings struct {
	Server   ServerSettings   `mapstructure:"server"`
	Database DatabaseSettings `mapstructure:"database"`
	Model    ModelSettings    `mapstructure:"model"`
	Auth     AuthSettings     `mapstructure:"auth"`
	Log      LogSettings      `mapstructure:"log"`
}

type envBinding struct {
	ConfigKey string
	EnvVar    string
	Validate  func(string) error
}

func envBindings() []envBinding {
	return []envBinding{
		{"server.host", "HOST", nil},
		{"server.port", "PORT", validatePort},
		{"server.allowedorigins", "ALLOWED_ORIGINS", nil},
		{"server.maxuploadbytes", "MAX_UPLOAD_BYTES", validatePositiveInt},
		{"database.url", "DATABASE_URL", nil},
		{"model.path", "MODEL_PATH", nil},
		{"model.metadatapath", "MODEL_METADATA_PATH", nil},
		{"model.librarypath", "ONNXRUNTIME_LIB", nil},
		{"model.requireactive", "REQUIRE_ACTIVE_MODEL", validateBool},
		{"auth.secret", "JWT_SECRET", nil},
		{"auth.tokenttl", "ACCESS_TOKEN_TTL", validateDuration},
		{"log.mode", "LOG_MODE", nil},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.allowedorigins", []string{"*"})
	v.SetDefault("server.maxuploadbytes", 5<<20)
	v.SetDefault("database.url", "visionai.db")
	v.SetDefault("model.path", "models/model_embedded.onnx")
	v.SetDefault("model.metadatapath", "models/model_metadata.json")
	v.SetDefault("model.librarypath", "")
	v.SetDefault("model.requireactive", false)
	v.SetDefault("auth.secret", DefaultJWTSecret)
	v.SetDefault("auth.tokenttl", 24*time.Hour)
	v.SetDefault("log.mode", "development")
}

// Load reads config.yaml and .env from the given search paths (both
// optional) and then applies environment overrides. A variable set in the
// process environment wins over the same variable in .env.
func Load(searchPaths ...string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range searchPaths {
		v.AddConfigPath(p)
	}
	if len(searchPaths) > 0 {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}
	if err := applyDotEnv(v, searchPaths); err != nil {
		return nil, err
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	settings.Server.AllowedOrigins = splitList(settings.Server.AllowedOrigins)
	if len(settings.Server.AllowedOrigins) == 0 {
		settings.Server.AllowedOrigins = []string{"*"}
	}
	return settings, nil
}

func bindEnvVars(v *viper.Viper) error {
	var problems []string
	for _, b := range envBindings() {
		if err := v.BindEnv(b.ConfigKey, b.EnvVar); err != nil {
			problems = append(problems, fmt.Sprintf("bind %s: %v", b.EnvVar, err))
			continue
		}
		if b.Validate == nil {
			continue
		}
		if raw, ok := os.LookupEnv(b.EnvVar); ok && raw != "" {
			if err := b.Validate(raw); err != nil {
				problems = append(problems, fmt.Sprintf("invalid %s=%q: %v", b.EnvVar, raw, err))
			}
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// applyDotEnv reads the first .env found in searchPaths and sets the bound
// keys the process environment leaves unset.
func applyDotEnv(v *viper.Viper, searchPaths []string) error {
	path := ""
	for _, dir := range searchPaths {
		candidate := filepath.Join(dir, ".env")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			path = candidate
			break
		}
	}
	if path == "" {
		return nil
	}

	dot := viper.New()
	dot.SetConfigFile(path)
	dot.SetConfigType("env")
	if err := dot.ReadInConfig(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	var problems []string
	for _, b := range envBindings() {
		if !dot.IsSet(b.EnvVar) {
			continue
		}
		if raw, ok := os.LookupEnv(b.EnvVar); ok && raw != "" {
			continue
		}
		raw := dot.GetString(b.EnvVar)
		if raw == "" {
			continue
		}
		if b.Validate != nil {
			if err := b.Validate(raw); err != nil {
				problems = append(problems, fmt.Sprintf("invalid %s=%q: %v", b.EnvVar, raw, err))
				continue
			}
		}
		v.Set(b.ConfigKey, raw)
	}
	if len(problems) > 0 {
		return fmt.Errorf(".env issues:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, entry := range in {
		for _, part := range strings.Split(entry, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func validatePort(value string) error {
	p, err := strconv.Atoi(value)
	if err != nil {
		return err
	}
	if p < 1 || p > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", p)
	}
	return nil
}

func validatePositiveInt(value string) error {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return err
	}
	if n <= 0 {
		return fmt.Errorf("must be positive, got %d", n)
	}
	return nil
}

func validateBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true/false, 1/0")
	}
	return nil
}

func validateDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	if d <= 0 {
		return fmt.Errorf("must be positive, got %s", d)
	}
	return nil
}
