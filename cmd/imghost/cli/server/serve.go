package server

import (
	"context"
	"fmt"

	"github.com/mwantia/imghost/internal/agent"
	"github.com/spf13/cobra"

	config "github.com/mwantia/imghost/internal/config/server"
)

func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"agent"},
		Short:   "Start the image host",
		Long:    `Start the HTTP server serving uploads, the image listing and /i/ links.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServerConfig()
			if err != nil {
				return fmt.Errorf("failed to load server configuration: %w", err)
			}

			return agent.NewAgent(cfg).Serve(context.Background())
		},
	}

	return cmd
}
