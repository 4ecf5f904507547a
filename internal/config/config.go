// Package config loads settings from flags, TADA_* environment variables and
// an optional config.yaml in the data directory.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"github.com/zeebo/errs"

	"github.com/Makepad-fr/tada/internal/backend"
)

// Error is the error class for configuration problems.
var Error = errs.Class("config")

// Backends.
const (
	BackendLocal  = "local"
	BackendRemote = "remote"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Key-value stores for the local backend.
const (
	KVJSON = "json"
	KVBolt = "bolt"
)

// EnvPrefix prefixes every environment variable, e.g. TADA_REMOTE_URL.
const EnvPrefix = "TADA"

type Remote struct {
	URL     string `mapstructure:"url"`
	AnonKey string `mapstructure:"anon_key"`
}

type Server struct {
	Listen  string `mapstructure:"listen"`
	DB      string `mapstructure:"db"`
	Token   string `mapstructure:"token"`
	AnonKey string `mapstructure:"anon_key"`
}

type Log struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// Config is the full application configuration.
type Config struct {
	Backend    string `mapstructure:"backend"`
	DataDir    string `mapstructure:"data_dir"`
	Collection string `mapstructure:"collection"`
	KV         string `mapstructure:"kv"`
	Theme      string `mapstructure:"theme"`
	Remote     Remote `mapstructure:"remote"`
	Server     Server `mapstructure:"server"`
	Log        Log    `mapstructure:"log"`
}

// DefaultDataDir is ~/.tada, or ./.tada when the home directory is unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tada"
	}
	return filepath.Join(home, ".tada")
}

// SetDefaults registers every key so environment variables are picked up
// even without a config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("backend", BackendLocal)
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("collection", "todos")
	v.SetDefault("kv", KVJSON)
	v.SetDefault("theme", "classic")
	v.SetDefault("remote.url", "")
	v.SetDefault("remote.anon_key", "")
	v.SetDefault("server.listen", "127.0.0.1:8787")
	v.SetDefault("server.db", "")
	v.SetDefault("server.token", "")
	v.SetDefault("server.anon_key", "")
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.file", "")
}

// Load resolves the configuration held by v.
func Load(v *viper.Viper) (Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(v.GetString("data_dir"))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || v.GetString("config") != "" {
			return Config{}, Error.Wrap(err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, Error.Wrap(err)
	}
	if cfg.Server.DB == "" {
		cfg.Server.DB = filepath.Join(cfg.DataDir, "server.db")
	}
	return cfg, cfg.Validate()
}

// Validate checks enumerations and required settings.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendLocal, BackendSQLite, BackendMemory:
	case BackendRemote:
		if c.Remote.URL == "" {
			return Error.New("backend %q needs remote.url (TADA_REMOTE_URL)", c.Backend)
		}
	default:
		return Error.New("unknown backend %q", c.Backend)
	}
	switch c.KV {
	case KVJSON, KVBolt:
	default:
		return Error.New("unknown kv %q", c.KV)
	}
	if c.DataDir == "" {
		return Error.New("empty data_dir")
	}
	return backend.ValidateCollection(c.Collection)
}
