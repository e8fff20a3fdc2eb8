package app

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/clxrityy/tapbump/internal/config"
	"github.com/clxrityy/tapbump/internal/formula"
	"github.com/clxrityy/tapbump/internal/index"
)

var (
	configInitForce bool

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration tapbump would use, after applying defaults, the
config file, TAPBUMP_* environment variables and command-line flags.
Paths are shown resolved.`,
		Args: cobra.NoArgs,
		RunE: runConfig,
	}

	configInitCmd = &cobra.Command{
		Use:   "init",
		Short: "Write a starter tapbump.yaml into the tap",
		Long: `Write tapbump.yaml into the tap directory listing the default packages.
Edit the packages list to match the formulas in your tap.`,
		Args: cobra.NoArgs,
		RunE: runConfigInit,
	}
)

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing tapbump.yaml")
	configCmd.AddCommand(configInitCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	data, err := encodeYAML(cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if cfg.ConfigFile != "" {
		fmt.Fprintf(out, "# loaded from %s\n", cfg.ConfigFile)
	} else {
		fmt.Fprintln(out, "# no config file found; using defaults")
	}
	_, err = out.Write(data)
	return err
}

// starterConfig is written by `config init`. Paths stay relative so the
// file can be committed to the tap.
type starterConfig struct {
	IndexURL  string                 `yaml:"index_url"`
	SourceURL string                 `yaml:"source_url"`
	Packages  []config.PackageConfig `yaml:"packages"`
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	dir := tapDir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		dir = wd
	}
	path := filepath.Join(dir, config.FileName)

	if _, err := os.Stat(path); err == nil && !configInitForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	data, err := encodeYAML(starterConfig{
		IndexURL:  index.DefaultRoot,
		SourceURL: formula.DefaultSourceBase,
		Packages:  config.DefaultPackages(),
	})
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote %s\n", path)
	return nil
}

func encodeYAML(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("failed to encode configuration: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode configuration: %w", err)
	}
	return buf.Bytes(), nil
}
