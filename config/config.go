// Package config loads server settings from defaults, an optional
// cosmoscope.yaml, COSMOSCOPE_* environment variables and bound flags.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/stevemurr/cosmoscope/errs"
	"github.com/stevemurr/cosmoscope/events"
	"github.com/stevemurr/cosmoscope/store"
)

const (
	DefaultServerAddress    = "tcp://127.0.0.1:4242"
	DefaultPublisherAddress = "tcp://127.0.0.1:4243"
	EnvPrefix               = "COSMOSCOPE"
)

// Config holds the configuration for the server.
type Config struct {
	ServerAddress    string `mapstructure:"server_address"`
	PublisherAddress string `mapstructure:"publisher_address"`
	Session          struct {
		Driver    string `mapstructure:"driver"`
		Dir       string `mapstructure:"dir"`
		Bucket    string `mapstructure:"bucket"`
		Prefix    string `mapstructure:"prefix"`
		Region    string `mapstructure:"region"`
		Endpoint  string `mapstructure:"endpoint"`
		PathStyle bool   `mapstructure:"path_style"`
		DSN       string `mapstructure:"dsn"`
	} `mapstructure:"session"`
	Events struct {
		QueueSize    int           `mapstructure:"queue_size"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
		PingInterval time.Duration `mapstructure:"ping_interval"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	} `mapstructure:"events"`
}

// New returns a viper instance carrying the defaults and reading
// COSMOSCOPE_* variables, e.g. COSMOSCOPE_SESSION_DRIVER for session.driver.
func New() *viper.Viper {
	v := viper.New()
	ev := events.DefaultSettings()
	v.SetDefault("server_address", DefaultServerAddress)
	v.SetDefault("publisher_address", DefaultPublisherAddress)
	v.SetDefault("session.driver", store.DriverFS)
	v.SetDefault("session.dir", store.DefaultDir())
	v.SetDefault("session.bucket", "")
	v.SetDefault("session.prefix", "sessions/")
	v.SetDefault("session.region", "")
	v.SetDefault("session.endpoint", "")
	v.SetDefault("session.path_style", false)
	v.SetDefault("session.dsn", "")
	v.SetDefault("events.queue_size", ev.QueueSize)
	v.SetDefault("events.write_timeout", ev.WriteTimeout)
	v.SetDefault("events.ping_interval", ev.PingInterval)
	v.SetDefault("events.read_timeout", ev.ReadTimeout)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file, if any, and decodes v. An explicit file must
// exist; otherwise cosmoscope.yaml is looked up in the working directory and
// in ~/.cosmoscope and is optional.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("cosmoscope")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.cosmoscope")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, errs.Invalid("read config: %v", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errs.Invalid("decode config: %v", err)
	}
	if cfg.Events.QueueSize < 0 || cfg.Events.WriteTimeout < 0 || cfg.Events.PingInterval < 0 || cfg.Events.ReadTimeout < 0 {
		return nil, errs.Invalid("events settings must not be negative")
	}
	return &cfg, nil
}

// SessionOptions selects the snapshot backend.
func (c *Config) SessionOptions() store.Options {
	return store.Options{
		Driver:    c.Session.Driver,
		Dir:       c.Session.Dir,
		Bucket:    c.Session.Bucket,
		Prefix:    c.Session.Prefix,
		Region:    c.Session.Region,
		Endpoint:  c.Session.Endpoint,
		PathStyle: c.Session.PathStyle,
		DSN:       c.Session.DSN,
	}
}

// EventSettings tunes the publisher. Zero values fall back to the
// publisher defaults.
func (c *Config) EventSettings() events.Settings {
	return events.Settings{
		QueueSize:    c.Events.QueueSize,
		WriteTimeout: c.Events.WriteTimeout,
		PingInterval: c.Events.PingInterval,
		ReadTimeout:  c.Events.ReadTimeout,
	}
}

// ListenAddress strips the tcp:// scheme so addr can be passed to net.Listen.
func ListenAddress(addr string) string {
	return strings.TrimPrefix(addr, "tcp://")
}
