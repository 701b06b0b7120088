// Package cmd implements the fixit command line.
package cmd

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/fixit-bot/fixit/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "fixit",
	Short: "Turn tagged GitHub issues into pull requests",
	Long: `fixit watches a GitHub repository for issues that mention the bot and
carry a trigger label. Each such issue is decomposed by an LLM into concrete
instructions and files, handed to aider in an isolated git worktree, and the
result is opened as a pull request that links back to the issue. Token usage
and cost are recorded per run.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/fixit/config.yaml)")
	rootCmd.PersistentFlags().String("env-file", ".env", "dotenv file with secrets, ignored when missing")
	rootCmd.PersistentFlags().String("repo", "", "GitHub repository in owner/name form (overrides github.repository)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	bindFlags(rootCmd.PersistentFlags(), map[string]string{
		"config":            "config",
		"env_file":          "env-file",
		"github.repository": "repo",
		"logging.level":     "log-level",
	})
}

// bindFlags binds viper keys to the named flags of fs.
func bindFlags(fs *pflag.FlagSet, keys map[string]string) {
	for key, flag := range keys {
		_ = viper.BindPFlag(key, fs.Lookup(flag))
	}
}

func initConfig() {
	// Secrets from .env never override the real environment.
	if envFile := viper.GetString("env_file"); envFile != "" {
		_ = godotenv.Load(envFile)
	}

	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("FIXIT")
	// e.g. FIXIT_RESOURCES_DAILY_COST_LIMIT for resources.daily_cost_limit
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	config.BindSecrets()

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
