package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vitwit/xpay/registry"
)

var networksTestnets bool

func init() {
	networksCmd.Flags().BoolVar(&networksTestnets, "testnets", false, "include test networks")
	rootCmd.AddCommand(networksCmd)
}

var networksCmd = &cobra.Command{
	Use:   "networks",
	Short: "List known networks and their bridge capability",
	RunE:  runNetworks,
}

func runNetworks(cmd *cobra.Command, args []string) error {
	reg, err := registry.New(cfg.Overrides()...)
	if err != nil {
		return fmt.Errorf("failed to build network registry: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-16s %-10s %-20s %-6s %-8s %s\n", "ID", "CHAIN", "NAME", "NATIVE", "BRIDGE", "ROUTER")
	for _, d := range reg.All() {
		if d.Testnet && !networksTestnets {
			continue
		}
		router := "-"
		if route, ok := reg.Route(d.ID); ok {
			router = route.Router.Hex()
		}
		fmt.Fprintf(out, "%-16s %-10s %-20s %-6s %-8t %s\n",
			d.ID,
			d.ChainID,
			truncate(d.DisplayName, 20),
			d.NativeSymbol,
			d.SupportsBridging,
			router,
		)
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
