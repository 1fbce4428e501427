// Package config loads sizemap settings from defaults, a YAML file and
// SIZEMAP_* environment variables.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"gopkg.in/validator.v2"

	apperrors "github.com/sizemap/pkg/errors"
)

// EnvPrefix prefixes every environment override, e.g. SIZEMAP_LAYOUT_WIDTH.
const EnvPrefix = "SIZEMAP"

// Config holds all configuration for the application.
type Config struct {
	Extract  ExtractConfig  `mapstructure:"extract"`
	Resolver ResolverConfig `mapstructure:"resolver"`
	Tree     TreeConfig     `mapstructure:"tree"`
	Layout   LayoutConfig   `mapstructure:"layout"`
	Output   OutputConfig   `mapstructure:"output"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
}

// ExtractConfig controls symbol extraction.
type ExtractConfig struct {
	Workers           int    `mapstructure:"workers" validate:"min=0"`
	ParallelThreshold int    `mapstructure:"parallel_threshold" validate:"min=1"`
	Format            string `mapstructure:"format"` // auto, elf, macho, pe or nm
}

// ResolverConfig controls name demangling.
type ResolverConfig struct {
	Simplify   bool `mapstructure:"simplify"`
	GroupStd   bool `mapstructure:"group_std"`
	KeepParams bool `mapstructure:"keep_params"`
}

// TreeConfig controls presentation pruning.
type TreeConfig struct {
	PruneZero bool   `mapstructure:"prune_zero"`
	MinSize   uint64 `mapstructure:"min_size"`
}

// LayoutConfig is the treemap canvas size.
type LayoutConfig struct {
	Width  float64 `mapstructure:"width"`
	Height float64 `mapstructure:"height"`
}

// OutputConfig selects the emitted files.
type OutputConfig struct {
	Dir         string   `mapstructure:"dir" validate:"nonzero"`
	Formats     []string `mapstructure:"formats"`
	Compression string   `mapstructure:"compression"` // none, gzip or zstd
	TopN        int      `mapstructure:"top_n" validate:"min=0"`
	MaxDepth    int      `mapstructure:"max_depth" validate:"min=0"`
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	Type      string `mapstructure:"type"` // cos or local
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	SecretID  string `mapstructure:"secret_id"`
	SecretKey string `mapstructure:"secret_key"`
	Domain    string `mapstructure:"domain"` // e.g., "myqcloud.com"
	Scheme    string `mapstructure:"scheme"` // e.g., "https" or "http"
	LocalPath string `mapstructure:"local_path"`
	// Upload copies emitted files to storage after each analysis.
	Upload bool `mapstructure:"upload"`
}

// DatabaseConfig holds the report history database settings.
type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Type     string `mapstructure:"type"` // sqlite, mysql or postgres
	Path     string `mapstructure:"path"` // sqlite only
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port" validate:"min=0,max=65535"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	MaxConns int    `mapstructure:"max_conns" validate:"min=1"`
}

// ServerConfig configures `sizemap serve`.
type ServerConfig struct {
	Addr    string `mapstructure:"addr" validate:"nonzero"`
	Metrics bool   `mapstructure:"metrics"`
	// Pprof mounts the runtime profiling endpoints under /debug/pprof/.
	Pprof bool `mapstructure:"pprof"`
	// MaxBodyBytes caps uploaded artifacts.
	MaxBodyBytes int64 `mapstructure:"max_body_bytes" validate:"min=1"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
}

// Load reads configuration from configPath, or from sizemap.yaml in the
// usual locations when configPath is empty. A missing file is not an
// error; defaults and environment variables still apply.
func Load(configPath string) (*Config, error) {
	v := newViper()

	if configPath != "" {
		path, err := homedir.Expand(configPath)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeConfigError, "invalid config path", err)
		}
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("sizemap")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(home + "/.config/sizemap")
		}
		v.AddConfigPath("/etc/sizemap")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, apperrors.Wrap(apperrors.CodeConfigError, "failed to read config file", err)
		}
	}

	return decode(v)
}

// LoadFromReader loads configuration from YAML or another viper config
// type held in memory. Environment overrides apply as in Load.
func LoadFromReader(configType string, content []byte) (*Config, error) {
	v := newViper()
	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfigError, "failed to read config", err)
	}
	return decode(v)
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg, err := decode(newViper())
	if err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfigError, "failed to unmarshal config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("extract.workers", 0)
	v.SetDefault("extract.parallel_threshold", 16384)
	v.SetDefault("extract.format", "auto")

	v.SetDefault("resolver.simplify", false)
	v.SetDefault("resolver.group_std", false)
	v.SetDefault("resolver.keep_params", true)

	v.SetDefault("tree.prune_zero", false)
	v.SetDefault("tree.min_size", 0)

	v.SetDefault("layout.width", 1200)
	v.SetDefault("layout.height", 800)

	v.SetDefault("output.dir", "./sizemap-out")
	v.SetDefault("output.formats", []string{"json", "html"})
	v.SetDefault("output.compression", "none")
	v.SetDefault("output.top_n", 20)
	v.SetDefault("output.max_depth", 6)

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_path", "./storage")
	v.SetDefault("storage.scheme", "https")
	v.SetDefault("storage.domain", "myqcloud.com")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.path", "./sizemap.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 0)
	v.SetDefault("database.max_conns", 10)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.metrics", true)
	v.SetDefault("server.pprof", false)
	v.SetDefault("server.max_body_bytes", 512<<20)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.output_path", "")
}

// Validate checks struct tags, then the rules that span several fields.
func (c *Config) Validate() error {
	if err := validator.Validate(c); err != nil {
		return apperrors.Wrap(apperrors.CodeConfigError, "config validation failed", err)
	}

	invalid := func(format string, args ...interface{}) error {
		return apperrors.Newf(apperrors.CodeConfigError, format, args...)
	}

	if c.Layout.Width < 0 || c.Layout.Height < 0 {
		return invalid("layout size must not be negative: %vx%v", c.Layout.Width, c.Layout.Height)
	}
	switch strings.ToLower(c.Extract.Format) {
	case "", "auto", "elf", "macho", "mach-o", "macho-fat", "fat", "universal", "pe", "coff", "pe/coff", "nm":
	default:
		return invalid("unsupported extract format: %s", c.Extract.Format)
	}
	switch c.Output.Compression {
	case "", "none", "gzip", "zstd":
	default:
		return invalid("unsupported output compression: %s", c.Output.Compression)
	}

	switch c.Storage.Type {
	case "local":
		if c.Storage.LocalPath == "" {
			return invalid("storage local_path is required for local storage")
		}
	case "cos":
		if c.Storage.Bucket == "" || c.Storage.Region == "" {
			return invalid("storage bucket and region are required for cos storage")
		}
	default:
		return invalid("unsupported storage type: %s", c.Storage.Type)
	}

	if c.Database.Enabled {
		switch c.Database.Type {
		case "sqlite":
			if c.Database.Path == "" {
				return invalid("database path is required for sqlite")
			}
		case "mysql", "postgres":
			if c.Database.Host == "" {
				return invalid("database host is required for %s", c.Database.Type)
			}
		default:
			return invalid("unsupported database type: %s", c.Database.Type)
		}
	}
	return nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.Output.Dir, &c.Storage.LocalPath, &c.Database.Path, &c.Log.OutputPath} {
		if *p == "" || *p == ":memory:" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeConfigError, "invalid path "+*p, err)
		}
		*p = expanded
	}
	return nil
}
