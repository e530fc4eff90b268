package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/siherrmann/newsdedup/helper"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is set at build time with -ldflags "-X github.com/siherrmann/newsdedup/internal/cli.Version=..."
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "newsdedup",
	Short: "Newsdedup - semantic deduplication of company news",
	Long: `Newsdedup embeds candidate news articles per company, drops articles that are
semantically equal to already stored ones or to a better ranked article of the
same batch, stores the rest in a pgvector backed history and hands them on as a
digest.

Every company has its own history. A failure for one article or one company
never stops the others.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "newsdedup %s\n", Version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./newsdedup.yaml or $HOME/.newsdedup/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(versionCmd)
}

// initConfig reads in config file and ENV variables
func initConfig() {
	setDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigType("yaml")
		viper.SetConfigName("newsdedup")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home + "/.newsdedup")
		}
	}

	// NEWSDEDUP_DEDUP_THRESHOLD overrides dedup.threshold
	viper.SetEnvPrefix("NEWSDEDUP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if cfgFile != "" {
			fmt.Fprintf(os.Stderr, "Error reading config file %s: %v\n", cfgFile, err)
		}
	} else if verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

func newLogger() *slog.Logger {
	if verbose {
		return helper.NewLogger(slog.LevelDebug)
	}
	return helper.NewLogger(slog.LevelInfo)
}
