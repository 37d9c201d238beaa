// Package config loads gopi settings from defaults, an optional YAML file,
// GOPI_* environment variables and bound command-line flags, in increasing
// order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "GOPI"

type Config struct {
	Mode       string  `mapstructure:"mode" yaml:"mode"`
	LogLevel   string  `mapstructure:"log_level" yaml:"log_level"`
	ShmPath    string  `mapstructure:"shm_path" yaml:"shm_path"`
	SpawnRate  float64 `mapstructure:"spawn_rate" yaml:"spawn_rate"`
	SpawnBurst int     `mapstructure:"spawn_burst" yaml:"spawn_burst"`
	Progress   bool    `mapstructure:"progress" yaml:"progress"`

	Serve    ServeConfig    `mapstructure:"serve" yaml:"serve"`
	Converge ConvergeConfig `mapstructure:"converge" yaml:"converge"`
	Submit   SubmitConfig   `mapstructure:"submit" yaml:"submit"`
}

type ServeConfig struct {
	Port    int `mapstructure:"port" yaml:"port"`
	Workers int `mapstructure:"workers" yaml:"workers"`
}

type ConvergeConfig struct {
	MaxExp  int    `mapstructure:"max_exp" yaml:"max_exp"`
	Workers int    `mapstructure:"workers" yaml:"workers"`
	Format  string `mapstructure:"format" yaml:"format"`
}

// SubmitConfig addresses a running gopi server.
type SubmitConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
	// Job, when positive, submits an asynchronous job with this id.
	Job  int           `mapstructure:"job" yaml:"job"`
	Wait time.Duration `mapstructure:"wait" yaml:"wait"`
}

// DefaultShmPath is the ftok token file used when none is configured.
func DefaultShmPath() string {
	return filepath.Join(os.TempDir(), "gopi.shm")
}

// SetDefaults registers every key so that env lookups and Unmarshal see it.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("mode", "thread")
	v.SetDefault("log_level", "info")
	v.SetDefault("shm_path", DefaultShmPath())
	v.SetDefault("spawn_rate", 0.0)
	v.SetDefault("spawn_burst", 1)
	v.SetDefault("progress", false)

	v.SetDefault("serve.port", 3000)
	v.SetDefault("serve.workers", 0)

	v.SetDefault("converge.max_exp", 6)
	v.SetDefault("converge.workers", 4)
	v.SetDefault("converge.format", "table")

	v.SetDefault("submit.url", "http://localhost:3000")
	v.SetDefault("submit.job", 0)
	v.SetDefault("submit.wait", 30*time.Second)
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

// Load reads the optional config file and decodes the merged settings.
func Load(v *viper.Viper, file string) (Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if cfg.ShmPath == "" {
		cfg.ShmPath = DefaultShmPath()
	}
	return cfg, nil
}
