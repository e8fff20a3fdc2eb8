// Package config loads tapbump settings and the list of packages the tap
// maintains.
//
// Values are resolved with the precedence
// defaults < config file < TAPBUMP_* environment < overrides, where
// overrides normally come from command-line flags.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/clxrityy/tapbump/internal/formula"
	"github.com/clxrityy/tapbump/internal/index"
	"github.com/clxrityy/tapbump/internal/updater"
)

const (
	KeyTapDir          = "tap_dir"
	KeyIndexURL        = "index_url"
	KeySourceURL       = "source_url"
	KeyMetadataTimeout = "metadata_timeout"
	KeyDownloadTimeout = "download_timeout"
	KeyDBPath          = "db_path"
	KeyMetricsFile     = "metrics_file"
	KeyUserAgent       = "user_agent"
	KeyPackages        = "packages"
)

const (
	envPrefix = "TAPBUMP"

	// FileName is the config file looked up in the tap directory.
	FileName = "tapbump.yaml"

	DefaultMetadataTimeout = 30 * time.Second
	DefaultDownloadTimeout = 60 * time.Second
	DefaultUserAgent       = "tapbump (+https://github.com/clxrityy/homebrew-tap)"
)

// PackageConfig is one entry of the packages list.
type PackageConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	IndexName   string `mapstructure:"index_name" yaml:"index_name"`
	FormulaPath string `mapstructure:"formula_path" yaml:"formula_path"`
}

// Config is the fully resolved configuration.
type Config struct {
	TapDir          string          `mapstructure:"tap_dir" yaml:"tap_dir"`
	IndexURL        string          `mapstructure:"index_url" yaml:"index_url"`
	SourceURL       string          `mapstructure:"source_url" yaml:"source_url"`
	MetadataTimeout time.Duration   `mapstructure:"metadata_timeout" yaml:"metadata_timeout"`
	DownloadTimeout time.Duration   `mapstructure:"download_timeout" yaml:"download_timeout"`
	DBPath          string          `mapstructure:"db_path" yaml:"db_path"`
	MetricsFile     string          `mapstructure:"metrics_file" yaml:"metrics_file,omitempty"`
	UserAgent       string          `mapstructure:"user_agent" yaml:"user_agent"`
	Packages        []PackageConfig `mapstructure:"packages" yaml:"packages"`

	// ConfigFile is the file the values were read from, if any.
	ConfigFile string `mapstructure:"-" yaml:"-"`
}

// Options control where Load looks for configuration.
type Options struct {
	// ConfigFile, if set, must exist and is used instead of discovery.
	ConfigFile string

	// WorkingDir is used as the tap directory when none is configured.
	// Defaults to the process working directory.
	WorkingDir string

	// Overrides are applied last, keyed by the Key* constants.
	Overrides map[string]any
}

// DefaultPackages are the formulas shipped in the tap.
func DefaultPackages() []PackageConfig {
	return []PackageConfig{
		{Name: "autochange", IndexName: "autochange", FormulaPath: "Formula/autochange.rb"},
		{Name: "gatenet", IndexName: "gatenet", FormulaPath: "Formula/gatenet.rb"},
	}
}

// Dir returns the tapbump config directory, respecting XDG_CONFIG_HOME.
// Defaults to ~/.config/tapbump if XDG_CONFIG_HOME is not set.
func Dir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "tapbump"), nil
}

// Load resolves the configuration.
func Load(opts Options) (*Config, error) {
	workingDir := strings.TrimSpace(opts.WorkingDir)
	if workingDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("determine working directory: %w", err)
		}
		workingDir = wd
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	configFile := strings.TrimSpace(opts.ConfigFile)
	if configFile != "" {
		if _, err := os.Stat(configFile); err != nil {
			return nil, fmt.Errorf("config file %s: %w", configFile, err)
		}
	} else {
		configFile = discover(workingDir, opts.Overrides)
	}
	if err := mergeConfigFile(v, configFile); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	for k, val := range opts.Overrides {
		v.Set(k, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.ConfigFile = configFile

	if err := cfg.resolve(workingDir); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyTapDir, "")
	v.SetDefault(KeyIndexURL, index.DefaultRoot)
	v.SetDefault(KeySourceURL, formula.DefaultSourceBase)
	v.SetDefault(KeyMetadataTimeout, DefaultMetadataTimeout)
	v.SetDefault(KeyDownloadTimeout, DefaultDownloadTimeout)
	v.SetDefault(KeyDBPath, "")
	v.SetDefault(KeyMetricsFile, "")
	v.SetDefault(KeyUserAgent, DefaultUserAgent)

	pkgs := DefaultPackages()
	def := make([]map[string]any, 0, len(pkgs))
	for _, p := range pkgs {
		def = append(def, map[string]any{
			"name":         p.Name,
			"index_name":   p.IndexName,
			"formula_path": p.FormulaPath,
		})
	}
	v.SetDefault(KeyPackages, def)
}

// discover returns the first existing config file among the tap directory
// (from overrides or the working directory) and the user config directory.
func discover(workingDir string, overrides map[string]any) string {
	tapDir := workingDir
	if s, ok := overrides[KeyTapDir].(string); ok && s != "" {
		tapDir = s
	}
	candidates := []string{filepath.Join(tapDir, FileName)}
	if dir, err := Dir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, "config.yaml"))
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c
		}
	}
	return ""
}

func mergeConfigFile(v *viper.Viper, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config path %s is a directory", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// resolve turns relative paths into absolute ones. A relative tap_dir read
// from a config file is taken relative to that file; formula paths are
// taken relative to the tap directory.
func (c *Config) resolve(workingDir string) error {
	switch {
	case c.TapDir == "":
		c.TapDir = workingDir
	case !filepath.IsAbs(c.TapDir) && c.ConfigFile != "":
		c.TapDir = filepath.Join(filepath.Dir(c.ConfigFile), c.TapDir)
	case !filepath.IsAbs(c.TapDir):
		c.TapDir = filepath.Join(workingDir, c.TapDir)
	}
	abs, err := filepath.Abs(c.TapDir)
	if err != nil {
		return fmt.Errorf("resolve tap directory: %w", err)
	}
	c.TapDir = abs

	if c.DBPath == "" {
		dir, err := Dir()
		if err != nil {
			return fmt.Errorf("failed to get config directory: %w", err)
		}
		c.DBPath = filepath.Join(dir, "history.db")
	}

	for i := range c.Packages {
		p := &c.Packages[i]
		if p.IndexName == "" {
			p.IndexName = p.Name
		}
		if p.FormulaPath == "" && p.Name != "" {
			p.FormulaPath = filepath.Join("Formula", p.Name+".rb")
		}
		if p.FormulaPath != "" && !filepath.IsAbs(p.FormulaPath) {
			p.FormulaPath = filepath.Join(c.TapDir, p.FormulaPath)
		}
	}
	return nil
}

// Validate checks that the package list is usable.
func (c *Config) Validate() error {
	if len(c.Packages) == 0 {
		return fmt.Errorf("no packages configured")
	}
	seen := make(map[string]bool, len(c.Packages))
	for i, p := range c.Packages {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("packages[%d]: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("packages[%d]: duplicate package %q", i, p.Name)
		}
		seen[p.Name] = true
	}
	if c.MetadataTimeout <= 0 {
		return fmt.Errorf("%s must be positive", KeyMetadataTimeout)
	}
	if c.DownloadTimeout <= 0 {
		return fmt.Errorf("%s must be positive", KeyDownloadTimeout)
	}
	return nil
}

// UpdaterPackages converts the package list for the updater.
func (c *Config) UpdaterPackages() []updater.Package {
	out := make([]updater.Package, 0, len(c.Packages))
	for _, p := range c.Packages {
		out = append(out, updater.Package{
			Name:        p.Name,
			IndexName:   p.IndexName,
			FormulaPath: p.FormulaPath,
		})
	}
	return out
}
