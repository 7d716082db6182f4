// Package config loads the settings of a pool manager, its declared pools,
// the size-classed memory pool and the allocation service.
//
// Settings come from a YAML file, then from RSRC_* environment variables
// (RSRC_MANAGER_SOURCE, RSRC_LOG_LEVEL, RSRC_SERVER_ADDRESS, ...), then from
// built-in defaults.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/shenjiangwei/rsrcpool/logger"
	"github.com/shenjiangwei/rsrcpool/mpool"
	"github.com/shenjiangwei/rsrcpool/rsrc"
	"github.com/shenjiangwei/rsrcpool/source"
)

// EnvPrefix is prepended to every environment override
const EnvPrefix = "RSRC"

// Config is the complete configuration
type Config struct {
	Manager ManagerConfig `mapstructure:"manager" yaml:"manager"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Pools   []PoolConfig  `mapstructure:"pools" yaml:"pools"`
	MPool   mpool.Options `mapstructure:"mpool" yaml:"mpool"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
}

// ManagerConfig carries the process-wide pool behavior
type ManagerConfig struct {
	Clear            bool   `mapstructure:"clear" yaml:"clear"`
	DoubleFree       string `mapstructure:"double_free" yaml:"double_free"` // report or abort
	Source           string `mapstructure:"source" yaml:"source"`           // heap, buddy or mmap
	SourceSize       int    `mapstructure:"source_size" yaml:"source_size"` // heap budget or buddy arena
	MinBlock         int    `mapstructure:"min_block" yaml:"min_block"`
	RegistrySource   string `mapstructure:"registry_source" yaml:"registry_source"`
	RegistryCapacity int    `mapstructure:"registry_capacity" yaml:"registry_capacity"`
}

// LogConfig mirrors logger.Config
type LogConfig struct {
	Level       string   `mapstructure:"level" yaml:"level"`
	Development bool     `mapstructure:"development" yaml:"development"`
	Encoding    string   `mapstructure:"encoding" yaml:"encoding"`
	OutputPaths []string `mapstructure:"output_paths" yaml:"output_paths,omitempty"`
}

// PoolConfig declares a pool created at startup
type PoolConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Kind        string `mapstructure:"kind" yaml:"kind"` // fixed or variable
	ElementSize int    `mapstructure:"element_size" yaml:"element_size,omitempty"`
	Initial     int    `mapstructure:"initial" yaml:"initial,omitempty"`
	Increment   int    `mapstructure:"increment" yaml:"increment,omitempty"`
	Max         int    `mapstructure:"max" yaml:"max,omitempty"`
	ClassID     uint32 `mapstructure:"class_id" yaml:"class_id,omitempty"`
}

// ServerConfig configures the allocation service
type ServerConfig struct {
	Address        string `mapstructure:"address" yaml:"address"`
	MetricsAddress string `mapstructure:"metrics_address" yaml:"metrics_address"`
}

// Default returns the configuration used when nothing overrides it
func Default() Config {
	return Config{
		Manager: ManagerConfig{
			Clear:            true,
			DoubleFree:       "report",
			Source:           source.KindHeap,
			MinBlock:         source.DefaultMinBlock,
			RegistrySource:   source.KindMmap,
			RegistryCapacity: rsrc.DefaultRegistryCapacity,
		},
		Log: LogConfig{
			Level:    "info",
			Encoding: "console",
		},
		MPool: mpool.DefaultOptions(),
		Server: ServerConfig{
			Address:        "localhost:1234",
			MetricsAddress: "localhost:9090",
		},
	}
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("manager.clear", cfg.Manager.Clear)
	v.SetDefault("manager.double_free", cfg.Manager.DoubleFree)
	v.SetDefault("manager.source", cfg.Manager.Source)
	v.SetDefault("manager.source_size", cfg.Manager.SourceSize)
	v.SetDefault("manager.min_block", cfg.Manager.MinBlock)
	v.SetDefault("manager.registry_source", cfg.Manager.RegistrySource)
	v.SetDefault("manager.registry_capacity", cfg.Manager.RegistryCapacity)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.encoding", cfg.Log.Encoding)
	v.SetDefault("mpool.overflow_max", cfg.MPool.OverflowMax)
	v.SetDefault("server.address", cfg.Server.Address)
	v.SetDefault("server.metrics_address", cfg.Server.MetricsAddress)
}

// Load reads the configuration file at path. An empty path loads defaults and
// environment overrides only.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	setDefaults(v, cfg)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	// lists from the file replace the defaults instead of merging into them
	zeroFields := viper.DecoderConfigOption(func(dc *mapstructure.DecoderConfig) {
		dc.ZeroFields = true
	})
	if err := v.Unmarshal(&cfg, zeroFields); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes cfg to path as YAML
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil { //nolint:gosec
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks the enumerated settings and the declared pools
func (c *Config) Validate() error {
	if _, err := c.Manager.doubleFreePolicy(); err != nil {
		return err
	}
	for _, kind := range []string{c.Manager.Source, c.Manager.RegistrySource} {
		switch kind {
		case "", source.KindHeap, source.KindBuddy, source.KindMmap:
		default:
			return fmt.Errorf("invalid source kind %q", kind)
		}
	}
	if c.Manager.RegistrySource == source.KindBuddy {
		return fmt.Errorf("registry source cannot be a buddy arena")
	}
	seen := make(map[string]bool, len(c.Pools))
	for _, p := range c.Pools {
		if p.Name == "" {
			return fmt.Errorf("pool without a name")
		}
		if seen[p.Name] {
			return fmt.Errorf("pool %q declared twice", p.Name)
		}
		seen[p.Name] = true
		switch p.Kind {
		case "", "fixed":
			if p.ElementSize <= 0 {
				return fmt.Errorf("pool %q: element_size must be positive", p.Name)
			}
		case "variable":
		default:
			return fmt.Errorf("pool %q: invalid kind %q", p.Name, p.Kind)
		}
	}
	return nil
}

func (c ManagerConfig) doubleFreePolicy() (rsrc.DoubleFreePolicy, error) {
	switch strings.ToLower(c.DoubleFree) {
	case "", "report":
		return rsrc.ReportDoubleFree, nil
	case "abort":
		return rsrc.AbortOnDoubleFree, nil
	default:
		return 0, fmt.Errorf("invalid double_free policy %q", c.DoubleFree)
	}
}

// LoggerConfig converts the log section for logger.Init
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:       c.Log.Level,
		Development: c.Log.Development,
		Encoding:    c.Log.Encoding,
		OutputPaths: c.Log.OutputPaths,
	}
}

// ManagerConfig builds the rsrc configuration, creating the memory sources
func (c *Config) ManagerConfig() (rsrc.Config, error) {
	policy, err := c.Manager.doubleFreePolicy()
	if err != nil {
		return rsrc.Config{}, err
	}
	src, err := source.New(c.Manager.Source, c.Manager.SourceSize, c.Manager.MinBlock)
	if err != nil {
		return rsrc.Config{}, fmt.Errorf("failed to create pool source: %w", err)
	}
	regSrc, err := source.New(c.Manager.RegistrySource, 0, 0)
	if err != nil {
		return rsrc.Config{}, fmt.Errorf("failed to create registry source: %w", err)
	}

	rc := rsrc.DefaultConfig()
	rc.Clear = rsrc.NoClear
	if c.Manager.Clear {
		rc.Clear = rsrc.Clear
	}
	rc.DoubleFree = policy
	rc.Source = src
	rc.RegistrySource = regSrc
	rc.RegistryCapacity = c.Manager.RegistryCapacity
	return rc, nil
}

// NewManager creates a manager from the manager section
func (c *Config) NewManager() (*rsrc.Manager, error) {
	rc, err := c.ManagerConfig()
	if err != nil {
		return nil, err
	}
	return rsrc.New(rc), nil
}

// CreatePools creates every declared pool in m, in declaration order
func (c *Config) CreatePools(m *rsrc.Manager) ([]*rsrc.Pool, error) {
	pools := make([]*rsrc.Pool, 0, len(c.Pools))
	for _, pc := range c.Pools {
		var (
			p   *rsrc.Pool
			err error
		)
		if pc.Kind == "variable" {
			p, err = m.NewVarPool(pc.Name, pc.Max)
		} else {
			p, err = m.NewPool(pc.Name, pc.ElementSize, pc.Initial, pc.Increment, pc.Max, pc.ClassID)
		}
		if err != nil {
			return pools, fmt.Errorf("failed to create pool %q: %w", pc.Name, err)
		}
		pools = append(pools, p)
	}
	return pools, nil
}
