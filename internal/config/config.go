// Package config loads adrecon settings from defaults, an optional YAML
// file and ADRECON_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/roach88/adrecon/internal/engine"
	"github.com/roach88/adrecon/internal/profile"
)

// EnvPrefix namespaces environment overrides, e.g. ADRECON_CHANNEL_BASE_URL.
const EnvPrefix = "ADRECON"

// Transport names accepted by channel.transport.
const (
	TransportSSE   = "sse"
	TransportRedis = "redis"
)

// Config is the full runtime configuration.
type Config struct {
	DB          string        `mapstructure:"db" validate:"required"`
	Secret      string        `mapstructure:"secret" validate:"required"`
	Subject     string        `mapstructure:"subject"`
	Timezone    string        `mapstructure:"timezone"`
	ProfilesDir string        `mapstructure:"profiles_dir"`
	MatchPolicy string        `mapstructure:"match_policy" validate:"omitempty,oneof=all unique first"`
	MaxMessages int           `mapstructure:"max_messages" validate:"gte=0"`
	Channel     ChannelConfig `mapstructure:"channel"`
	Redis       RedisConfig   `mapstructure:"redis"`
	HTTP        HTTPConfig    `mapstructure:"http"`
	Views       []ViewConfig  `mapstructure:"views" validate:"dive"`
	Log         LogConfig     `mapstructure:"log"`
}

// ChannelConfig selects and tunes the event transport.
type ChannelConfig struct {
	Transport     string            `mapstructure:"transport" validate:"oneof=sse redis"`
	BaseURL       string            `mapstructure:"base_url" validate:"omitempty,url"`
	Retry         time.Duration     `mapstructure:"retry" validate:"gt=0"`
	MaxReconnects int               `mapstructure:"max_reconnects" validate:"gte=0"`
	Headers       map[string]string `mapstructure:"headers"`
}

// RedisConfig is used when channel.transport is redis.
type RedisConfig struct {
	URL    string `mapstructure:"url"`
	Prefix string `mapstructure:"prefix"`
}

// HTTPConfig configures the serve command's listener.
type HTTPConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`
}

// ViewConfig binds a view name to a profile. Profile defaults to Name.
type ViewConfig struct {
	Name    string `mapstructure:"name" validate:"required"`
	Topic   string `mapstructure:"topic"`
	Profile string `mapstructure:"profile"`
	Subject string `mapstructure:"subject"`
}

// LogConfig configures the slog handler and optional rotating file.
type LogConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"oneof=text json"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// SetDefaults registers every known key so environment overrides apply
// on Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("db", "adrecon.db")
	v.SetDefault("secret", "")
	v.SetDefault("subject", "")
	v.SetDefault("timezone", "Asia/Manila")
	v.SetDefault("profiles_dir", "")
	v.SetDefault("match_policy", string(engine.MatchAll))
	v.SetDefault("max_messages", 2000)

	v.SetDefault("channel.transport", TransportSSE)
	v.SetDefault("channel.base_url", "")
	v.SetDefault("channel.retry", 1500*time.Millisecond)
	v.SetDefault("channel.max_reconnects", 0)
	v.SetDefault("channel.headers", map[string]string{})

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.prefix", "adrecon")

	v.SetDefault("http.addr", "127.0.0.1:8080")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 3)
}

// Load reads the optional config file into v and decodes the result.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate checks field constraints. Commands that never touch the store
// (profiles list) skip it.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// ValidateChannel checks the settings only streaming commands need.
func (c *Config) ValidateChannel() error {
	switch c.Channel.Transport {
	case TransportSSE:
		if c.Channel.BaseURL == "" {
			return errors.New("invalid config: channel.base_url is required for the sse transport")
		}
	case TransportRedis:
		if c.Redis.URL == "" {
			return errors.New("invalid config: redis.url is required for the redis transport")
		}
	}
	return nil
}

// Location resolves Timezone; empty means UTC.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid config: timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Policy parses MatchPolicy.
func (c *Config) Policy() (engine.MatchPolicy, error) {
	return engine.ParseMatchPolicy(c.MatchPolicy)
}

// EngineViews resolves configured views against the profile set. With no
// views configured, every profile becomes a view of the same name.
func (c *Config) EngineViews(set *profile.Set) ([]engine.ViewConfig, error) {
	views := c.Views
	if len(views) == 0 {
		for _, name := range set.Names() {
			views = append(views, ViewConfig{Name: name})
		}
	}

	out := make([]engine.ViewConfig, 0, len(views))
	for _, vc := range views {
		name := vc.Profile
		if name == "" {
			name = vc.Name
		}
		p, ok := set.Get(name)
		if !ok {
			return nil, fmt.Errorf("view %s: unknown profile %q", vc.Name, name)
		}
		subject := vc.Subject
		if subject == "" {
			subject = c.Subject
		}
		out = append(out, engine.ViewConfig{
			Name:    vc.Name,
			Topic:   vc.Topic,
			Subject: subject,
			Profile: p,
		})
	}
	return out, nil
}
