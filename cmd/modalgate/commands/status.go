package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/modalgate/modalgate/pkg/apiclient"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check whether the server is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()

		client := apiclient.New(apiAddr)
		health, err := client.Health(ctx)
		if err != nil {
			return fmt.Errorf("server unreachable at %s: %w", apiAddr, err)
		}

		fmt.Printf("Server at %s is %s\n", apiAddr, health.Status)
		return nil
	},
}
