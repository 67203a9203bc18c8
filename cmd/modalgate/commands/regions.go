package commands

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/modalgate/modalgate/pkg/apiclient"
)

var regionsCmd = &cobra.Command{
	Use:   "regions",
	Short: "List the server's shared-memory regions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()

		client := apiclient.New(apiAddr)
		resp, err := client.ListRegions(ctx)
		if err != nil {
			return err
		}

		if resp.Count == 0 {
			fmt.Println("No shared-memory regions.")
			return nil
		}

		names := make([]string, 0, len(resp.Regions))
		for name := range resp.Regions {
			names = append(names, name)
		}
		sort.Strings(names)

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Name", "State", "Data", "Capacity", "Type", "Owner", "Accesses"})
		for _, name := range names {
			region := resp.Regions[name]
			table.Append([]string{
				region.Name,
				region.State,
				fmt.Sprintf("%d", region.DataSize),
				fmt.Sprintf("%d", region.BufferSize),
				region.DataType,
				region.Metadata.Owner,
				fmt.Sprintf("%d", region.Metadata.AccessCount),
			})
		}
		table.Render()
		return nil
	},
}
