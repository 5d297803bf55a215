package server

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	config "github.com/mwantia/imghost/internal/config/server"
)

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management utilities",
		Long: `Manage imghost configuration files.

Generate a default configuration, create api tokens or check
the configuration that would be loaded.`,
	}

	cmd.AddCommand(newConfigGenerateCommand())
	cmd.AddCommand(newConfigTokenCommand())
	cmd.AddCommand(newConfigValidateCommand())

	return cmd
}

func newConfigGenerateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputDir, _ := cmd.Flags().GetString("output")
			overwrite, _ := cmd.Flags().GetBool("overwrite")

			if err := os.MkdirAll(outputDir, 0o755); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}

			filename := filepath.Join(outputDir, "config.yaml")
			if _, err := os.Stat(filename); err == nil && !overwrite {
				fmt.Fprintf(cmd.OutOrStdout(), "Skipping %s (file exists, use --overwrite to replace)\n", filename)
				return nil
			}

			data, err := yaml.Marshal(config.GetServerDefault())
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}

			if err := os.WriteFile(filename, data, 0o600); err != nil {
				return fmt.Errorf("failed to write config file %s: %w", filename, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Generated %s\n", filename)
			return nil
		},
	}

	cmd.Flags().String("output", ".", "output directory for the configuration file")
	cmd.Flags().Bool("overwrite", false, "overwrite an existing file")

	return cmd
}

// newConfigTokenCommand prints a yaml entry for api.tokens.
func newConfigTokenCommand() *cobra.Command {
	var validFor time.Duration

	cmd := &cobra.Command{
		Use:   "token <name>",
		Short: "Create a new api token entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token := config.APITokenConfig{
				ID:    uuid.NewString(),
				Name:  args[0],
				Token: uuid.NewString(),
			}
			if validFor > 0 {
				token.ExpiresAt = time.Now().Add(validFor).UTC().Format(time.RFC3339)
			}

			data, err := yaml.Marshal([]config.APITokenConfig{token})
			if err != nil {
				return fmt.Errorf("failed to marshal token: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "# add to api.tokens")
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().DurationVar(&validFor, "valid-for", 0, "token lifetime, zero never expires")

	return cmd
}

func newConfigValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the active configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServerConfig()
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Configuration is valid (storage: %s, remote configured: %t, %d api tokens)\n",
				cfg.Storage.Default, cfg.Storage.Remote.Configured(), len(cfg.API.Tokens))
			return nil
		},
	}
}
