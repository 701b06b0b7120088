package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/fixit-bot/fixit/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and create the fixit configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets redacted",
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and report every problem",
	RunE:  runConfigValidate,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file in use",
	Run: func(cmd *cobra.Command, _ []string) {
		if used := viper.ConfigFileUsed(); used != "" {
			fmt.Fprintln(cmd.OutOrStdout(), used)
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (not created)\n", config.ConfigFile())
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the default settings",
	RunE:  runConfigInit,
}

var configInitForce bool

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configShowCmd, configValidateCmd, configPathCmd, configInitCmd)
	rootCmd.AddCommand(configCmd)
}

// secretKeys are redacted by config show.
var secretKeys = map[string][]string{
	"github": {"token", "webhook_secret"},
	"llm":    {"api_key"},
}

// loadedSettings returns the loaded configuration as a map, without the keys
// that only exist as command line flags.
func loadedSettings() map[string]any {
	s := viper.AllSettings()
	delete(s, "config")
	delete(s, "env_file")
	return s
}

func redactedSettings() map[string]any {
	settings := loadedSettings()
	for section, keys := range secretKeys {
		m, ok := settings[section].(map[string]any)
		if !ok {
			continue
		}
		for _, k := range keys {
			if v, ok := m[k].(string); ok && v != "" {
				m[k] = "********"
			}
		}
	}
	return settings
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	out, err := yaml.Marshal(redactedSettings())
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	var cfg config.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to decode configuration: %w", err)
	}
	errs := cfg.Validate()
	if len(errs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), lipglossOK("configuration is valid"))
		return nil
	}
	for _, e := range errs {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s %s\n", errorMark, e.Error())
	}
	return fmt.Errorf("%d configuration problem(s)", len(errs))
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	path := viper.GetString("config")
	if path == "" {
		path = config.ConfigFile()
	}
	if _, err := os.Stat(path); err == nil && !configInitForce {
		return fmt.Errorf("%s already exists; use --force to overwrite", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	settings := loadedSettings()
	// Secrets belong in the environment, not the file.
	for section, keys := range secretKeys {
		if m, ok := settings[section].(map[string]any); ok {
			for _, k := range keys {
				delete(m, k)
			}
		}
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}
