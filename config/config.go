// Package config holds the patterns, offsets and switches of the binding
// layer and loads them from disk.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ObjectOptions locates a static manager object: the pattern points at an
// instruction that references the object, Offsets is the pointer chain from
// the match to the object itself.
type ObjectOptions struct {
	Pattern string `mapstructure:"pattern" yaml:"pattern"`
	Offsets []int  `mapstructure:"offsets" yaml:"offsets"`
}

type Browser struct {
	NetworkManager ObjectOptions `mapstructure:"network_manager" yaml:"network_manager"`
	UnitManager    ObjectOptions `mapstructure:"unit_manager" yaml:"unit_manager"`
	PlayerManager  ObjectOptions `mapstructure:"player_manager" yaml:"player_manager"`
	PetManagerList ObjectOptions `mapstructure:"pet_manager_list" yaml:"pet_manager_list"`
}

type Synchronizer struct {
	// MaxTasksPerTick bounds how much queued work one game tick runs.
	MaxTasksPerTick int `mapstructure:"max_tasks_per_tick" yaml:"max_tasks_per_tick"`
}

type Client struct {
	AllowIntercept bool `mapstructure:"allow_intercept" yaml:"allow_intercept"`
	// SuppressFirstCancel drops the first "cancel" packet received, which
	// crashes some server builds.
	SuppressFirstCancel bool `mapstructure:"suppress_first_cancel" yaml:"suppress_first_cancel"`
}

type Config struct {
	Hooks        Hooks        `mapstructure:"hooks" yaml:"hooks"`
	Browser      Browser      `mapstructure:"browser" yaml:"browser"`
	Synchronizer Synchronizer `mapstructure:"synchronizer" yaml:"synchronizer"`
	Client       Client       `mapstructure:"client" yaml:"client"`
}

func DefaultBrowser() Browser {
	return Browser{
		NetworkManager: ObjectOptions{
			Pattern: "A1 ?? ?? ?? ?? 8B 00 BA ?? ?? ?? ?? E8 ?? ?? ?? ?? E9 ?? ?? ?? ?? A1 ?? ?? ?? ?? 8B 00 8B 40 40",
			Offsets: []int{1, 0, 0},
		},
		UnitManager: ObjectOptions{
			Pattern: "A1 ?? ?? ?? ?? E8 ?? ?? ?? ?? 33 C0 5A 59 59 64 89 10 68 ?? ?? ?? ?? 8D 45 F0 BA",
			Offsets: []int{1, 0},
		},
		PlayerManager: ObjectOptions{
			Pattern: "33 C9 8B 55 FC A1 ?? ?? ?? ?? E8 ?? ?? ?? ??",
			Offsets: []int{6, 0},
		},
		PetManagerList: ObjectOptions{
			Pattern: "8B F8 8B D3 A1 ?? ?? ?? ?? E8 ?? ?? ?? ?? 8B D0",
			Offsets: []int{5, 0},
		},
	}
}

func Default() Config {
	return Config{
		Hooks:        DefaultHooks(),
		Browser:      DefaultBrowser(),
		Synchronizer: Synchronizer{MaxTasksPerTick: 10},
		Client:       Client{AllowIntercept: false, SuppressFirstCancel: true},
	}
}

// Load reads path (yaml, json or toml by extension) over the defaults.
// NOSBIND_ environment variables override both, e.g.
// NOSBIND_HOOKS_PLAYER_WALK_ENABLED=true. An empty path loads defaults and
// environment only.
func Load(path string) (Config, error) {
	defaults, err := yaml.Marshal(Default())
	if err != nil {
		return Config{}, fmt.Errorf("encode defaults: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, fmt.Errorf("seed defaults: %w", err)
	}
	v.SetEnvPrefix("NOSBIND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		file := viper.New()
		file.SetConfigFile(path)
		if err := file.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read %s: %w", path, err)
		}
		if err := v.MergeConfigMap(file.AllSettings()); err != nil {
			return Config{}, fmt.Errorf("merge %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg as yaml.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
