// Package config implements the config command, which prints the effective
// configuration after defaults, the config file and environment overrides.
package config

import (
	"fmt"
	"io"

	appconfig "github.com/jonesrussell/north-cloud/warc-archiver/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const redacted = "********"

// Command creates the config command.
func Command(v *viper.Viper) *cobra.Command {
	var showSecrets bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(v)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err = Print(cmd.OutOrStdout(), cfg, showSecrets); err != nil {
				return err
			}
			if err = cfg.Validate(); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "# invalid: %v\n", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "print credentials instead of masking them")
	return cmd
}

// Print writes cfg to w as YAML. Credentials are masked unless showSecrets is set.
func Print(w io.Writer, cfg *appconfig.Config, showSecrets bool) error {
	out := *cfg
	if !showSecrets && cfg.Storage != nil {
		storage := *cfg.Storage
		if storage.S3.AccessKey != "" {
			storage.S3.AccessKey = redacted
		}
		if storage.S3.SecretKey != "" {
			storage.S3.SecretKey = redacted
		}
		out.Storage = &storage
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&out); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}
