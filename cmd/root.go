// Package cmd implements the command-line interface for the WARC archiver.
// It provides the root command and subcommands for archiving crawl data,
// crawling seed URLs straight into archives and inspecting finished archives.
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	archivecmd "github.com/jonesrussell/north-cloud/warc-archiver/cmd/archive"
	configcmd "github.com/jonesrussell/north-cloud/warc-archiver/cmd/config"
	"github.com/jonesrussell/north-cloud/warc-archiver/cmd/crawl"
	"github.com/jonesrussell/north-cloud/warc-archiver/cmd/inspect"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

var (
	// cfgFile holds the path to the configuration file.
	cfgFile string

	// Debug enables debug logging for all commands
	Debug bool

	// rootCmd represents the root command for the archiver CLI.
	rootCmd = &cobra.Command{
		Use:   "warc-archiver",
		Short: "Archive crawled pages as deduplicated WARC files",
		Long: `warc-archiver writes crawled pages into gzip-compressed WARC archives,
replacing repeated payloads with revisit records, rotating archives by size
and committing them to a directory or an S3-compatible bucket.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command
func Execute() error {
	// Load .env file early so environment variables are available
	_ = godotenv.Load()

	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml or ./config/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&Debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "warc-archiver version %s\n", Version)
		},
	})

	rootCmd.AddCommand(archivecmd.Command(viper.GetViper()))
	rootCmd.AddCommand(crawl.Command(viper.GetViper()))
	rootCmd.AddCommand(inspect.Command())
	rootCmd.AddCommand(configcmd.Command(viper.GetViper()))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// The config file is optional: defaults and environment variables suffice.
	if err := viper.ReadInConfig(); err != nil {
		if cfgFile != "" {
			return fmt.Errorf("read config %s: %w", cfgFile, err)
		}
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			fmt.Fprintf(os.Stderr, "Warning: failed to read config file: %v\n", err)
		}
	}

	if Debug {
		viper.Set("logging.level", "debug")
	}
	return nil
}
