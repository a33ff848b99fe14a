package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/alphacombiner/internal/combiner"
)

// Config represents the alphacombiner configuration file
// (~/.config/alphacombiner/config.yaml). Booleans are pointers so we can
// distinguish "not set" from false.
type Config struct {
	PhaseFiles string `yaml:"phase_files"`

	ConvertJPG      *bool `yaml:"convert_jpg"`
	ConvertRGB      *bool `yaml:"convert_rgb"`
	Overwrite       *bool `yaml:"overwrite"`
	ConvertImages   *bool `yaml:"convert_images"`
	WipeOld         *bool `yaml:"wipe_old"`
	EarlyExit       *bool `yaml:"early_exit"`
	ConvertRelative *bool `yaml:"convert_relative"`

	MaxHandleDepth *int `yaml:"max_handle_depth"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "alphacombiner", "config.yaml")
}

// LoadConfig reads the config file. Returns a zero Config if the file doesn't exist.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	return loadConfigFile(path)
}

func loadConfigFile(path string) Config {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}

type configKey struct{}

func withConfig(ctx context.Context, cfg Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

func configFromContext(ctx context.Context) Config {
	cfg, _ := ctx.Value(configKey{}).(Config)
	return cfg
}

// applyLoggingConfig applies config file defaults to the root logging flags.
func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyConvertConfig applies config file defaults to convert options when
// the corresponding CLI flag was not explicitly set.
func applyConvertConfig(c *cli.Command, cfg Config, opts *combiner.Options, maxDepth *int) {
	if cfg.PhaseFiles != "" && !c.IsSet("phase-files") {
		opts.PhaseFiles = cfg.PhaseFiles
	}
	setBool := func(flag string, v *bool, dst *bool) {
		if v != nil && !c.IsSet(flag) {
			*dst = *v
		}
	}
	setBool("jpg", cfg.ConvertJPG, &opts.ConvertPlain)
	setBool("rgb", cfg.ConvertRGB, &opts.ConvertPaired)
	setBool("overwrite", cfg.Overwrite, &opts.Overwrite)
	setBool("convert-images", cfg.ConvertImages, &opts.ConvertImages)
	setBool("wipe-jpg", cfg.WipeOld, &opts.WipeOld)
	setBool("early-exit", cfg.EarlyExit, &opts.EarlyExit)
	setBool("convert-relative", cfg.ConvertRelative, &opts.ConvertRelative)
	if cfg.MaxHandleDepth != nil && !c.IsSet("max-handle-depth") {
		*maxDepth = *cfg.MaxHandleDepth
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string, maxDepth *int) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
	if cfg.MaxHandleDepth != nil && !c.IsSet("max-handle-depth") {
		*maxDepth = *cfg.MaxHandleDepth
	}
}
