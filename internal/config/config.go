// Package config loads subforge settings from an optional TOML file and the
// process environment. Environment variables win over the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"subforge/internal/pkg/errors"
	"subforge/internal/pkg/logger"
)

const (
	TransportRedis = "redis"
	TransportHTTP  = "http"

	ProviderLocalFS = "localfs"
	ProviderGDrive  = "gdrive"
)

type Config struct {
	HTTP     HTTPConfig     `toml:"http"`
	Log      LogConfig      `toml:"log"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	Render   RenderConfig   `toml:"render"`
	Storage  StorageConfig  `toml:"storage"`
}

type HTTPConfig struct {
	Port               string   `toml:"port"`
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Source bool   `toml:"source"`
}

type DatabaseConfig struct {
	URL string `toml:"url"`
}

type RedisConfig struct {
	Addr string `toml:"addr"`
}

type RenderConfig struct {
	// Transport selects how requests reach the renderer: redis or http.
	Transport      string `toml:"transport"`
	HTTPBaseURL    string `toml:"http_base_url"`
	QueueName      string `toml:"queue_name"`
	EventsChannel  string `toml:"events_channel"`
	CancelChannel  string `toml:"cancel_channel"`
	StallTimeoutMS int    `toml:"stall_timeout_ms"`
	// InstanceID owns the journal rows this process creates. Defaults to
	// the hostname; instances sharing a database need distinct ids.
	InstanceID string `toml:"instance_id"`
	// OrphanAfterMS fails other instances' pending rows at startup once
	// they have not been updated for this long. Zero disables it.
	OrphanAfterMS int `toml:"orphan_after_ms"`
}

type StorageConfig struct {
	Provider     string       `toml:"provider"`
	LocalRoot    string       `toml:"local_root"`
	CleanupLocal bool         `toml:"cleanup_local"`
	GDrive       GDriveConfig `toml:"gdrive"`
	// PublishTimeoutMS bounds uploading the outputs of one render.
	PublishTimeoutMS int `toml:"publish_timeout_ms"`
}

type GDriveConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RefreshToken string `toml:"refresh_token"`
	FolderID     string `toml:"folder_id"`
}

func Default() Config {
	return Config{
		HTTP: HTTPConfig{Port: "8080"},
		Log:  LogConfig{Level: "info", Format: "json"},
		Render: RenderConfig{
			Transport:      TransportRedis,
			QueueName:      "subforge:render:requests",
			EventsChannel:  "subforge:render:events",
			CancelChannel:  "subforge:render:cancel",
			StallTimeoutMS: 60000,
			OrphanAfterMS:  24 * 60 * 60 * 1000,
		},
		Storage: StorageConfig{Provider: ProviderLocalFS, LocalRoot: "./data/storage", PublishTimeoutMS: 600000},
	}
}

// Load reads path (when non-empty) over the defaults, then applies the
// environment and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrap(err, "config.load", "read config file")
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.WrapWithCode(err, errors.CodeValidation, "config.load", "parse config file")
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if cfg.Render.InstanceID == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.Render.InstanceID = host
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	boolean := func(key string, dst *bool) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return errors.ValidationField(key, fmt.Sprintf("not a boolean: %q", v))
		}
		*dst = b
		return nil
	}

	str("HTTP_PORT", &c.HTTP.Port)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("DATABASE_URL", &c.Database.URL)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("RENDERER_TRANSPORT", &c.Render.Transport)
	str("RENDERER_HTTP_BASEURL", &c.Render.HTTPBaseURL)
	str("RENDER_QUEUE_NAME", &c.Render.QueueName)
	str("RENDER_EVENTS_CHANNEL", &c.Render.EventsChannel)
	str("RENDER_CANCEL_CHANNEL", &c.Render.CancelChannel)
	str("SUBFORGE_INSTANCE_ID", &c.Render.InstanceID)
	str("STORAGE_PROVIDER", &c.Storage.Provider)
	str("STORAGE_LOCAL_ROOT", &c.Storage.LocalRoot)
	str("GDRIVE_CLIENT_ID", &c.Storage.GDrive.ClientID)
	str("GDRIVE_CLIENT_SECRET", &c.Storage.GDrive.ClientSecret)
	str("GDRIVE_REFRESH_TOKEN", &c.Storage.GDrive.RefreshToken)
	str("GDRIVE_FOLDER_ID", &c.Storage.GDrive.FolderID)

	if err := boolean("LOG_SOURCE", &c.Log.Source); err != nil {
		return err
	}
	if err := boolean("STORAGE_CLEANUP_LOCAL", &c.Storage.CleanupLocal); err != nil {
		return err
	}

	for key, dst := range map[string]*int{
		"RENDER_STALL_TIMEOUT_MS":    &c.Render.StallTimeoutMS,
		"RENDER_ORPHAN_AFTER_MS":     &c.Render.OrphanAfterMS,
		"STORAGE_PUBLISH_TIMEOUT_MS": &c.Storage.PublishTimeoutMS,
	} {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		ms, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return errors.ValidationField(key, fmt.Sprintf("not an integer: %q", v))
		}
		*dst = ms
	}
	if v, ok := lookup("CORS_ALLOWED_ORIGINS"); ok && strings.TrimSpace(v) != "" {
		c.HTTP.CORSAllowedOrigins = splitList(v)
	}
	return nil
}

// Validate checks the settings the selected transport and provider need.
func (c Config) Validate() error {
	if c.HTTP.Port == "" {
		return errors.ValidationField("http.port", "required")
	}
	if c.Render.StallTimeoutMS <= 0 {
		return errors.ValidationField("render.stall_timeout_ms", "must be positive")
	}
	if c.Render.OrphanAfterMS < 0 {
		return errors.ValidationField("render.orphan_after_ms", "must not be negative")
	}
	if c.Storage.PublishTimeoutMS < 0 {
		return errors.ValidationField("storage.publish_timeout_ms", "must not be negative")
	}

	switch c.Render.Transport {
	case TransportRedis:
		if c.Redis.Addr == "" {
			return errors.ValidationField("redis.addr", "required for redis transport")
		}
		if c.Render.QueueName == "" || c.Render.EventsChannel == "" || c.Render.CancelChannel == "" {
			return errors.ValidationField("render", "queue and channel names are required for redis transport")
		}
	case TransportHTTP:
		if c.Render.HTTPBaseURL == "" {
			return errors.ValidationField("render.http_base_url", "required for http transport")
		}
	default:
		return errors.ValidationField("render.transport", fmt.Sprintf("unknown transport %q", c.Render.Transport))
	}

	switch c.Storage.Provider {
	case ProviderLocalFS:
		if c.Storage.LocalRoot == "" {
			return errors.ValidationField("storage.local_root", "required for localfs")
		}
	case ProviderGDrive:
		g := c.Storage.GDrive
		if g.ClientID == "" || g.ClientSecret == "" || g.RefreshToken == "" {
			return errors.ValidationField("storage.gdrive", "client_id, client_secret and refresh_token are required")
		}
	default:
		return errors.ValidationField("storage.provider", fmt.Sprintf("unknown provider %q", c.Storage.Provider))
	}
	return nil
}

// StallTimeout is the coordinator's default per-operation stall window.
func (c Config) StallTimeout() time.Duration {
	return time.Duration(c.Render.StallTimeoutMS) * time.Millisecond
}

// OrphanAfter is how long another instance's pending row may go without an
// update before startup fails it.
func (c Config) OrphanAfter() time.Duration {
	return time.Duration(c.Render.OrphanAfterMS) * time.Millisecond
}

// PublishTimeout bounds uploading one render's outputs.
func (c Config) PublishTimeout() time.Duration {
	return time.Duration(c.Storage.PublishTimeoutMS) * time.Millisecond
}

// Logger builds the logger config for a named service.
func (c Config) Logger(service string) logger.Config {
	return logger.Config{
		Level:       c.Log.Level,
		Format:      c.Log.Format,
		AddSource:   c.Log.Source,
		ServiceName: service,
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
