package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vitwit/xpay/registry"
	"github.com/vitwit/xpay/routing"
	"github.com/vitwit/xpay/types"
)

var (
	modeFrom string
	modeTo   string
)

func init() {
	modeCmd.Flags().StringVar(&modeFrom, "from", "", "payer network id")
	modeCmd.Flags().StringVar(&modeTo, "to", "", "payee network id")
	_ = modeCmd.MarkFlagRequired("from")
	_ = modeCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(modeCmd)
}

var modeCmd = &cobra.Command{
	Use:   "mode",
	Short: "Show how a payer on one network would pay a payee on another",
	RunE:  runMode,
}

func runMode(cmd *cobra.Command, args []string) error {
	reg, err := registry.New(cfg.Overrides()...)
	if err != nil {
		return fmt.Errorf("failed to build network registry: %w", err)
	}
	from, to := types.NetworkID(modeFrom), types.NetworkID(modeTo)
	for _, id := range []types.NetworkID{from, to} {
		if _, ok := reg.Get(id); !ok {
			return fmt.Errorf("unknown network %s", id)
		}
	}

	sel := routing.NewSelector(reg)
	d := sel.Select(from, to)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "mode:   %s\n", d.Mode)
	fmt.Fprintf(out, "reason: %s\n", d.Reason)
	if d.Mode == types.ModeSwitchNetwork {
		ins := sel.SwitchInstruction(from, to, d.Reason)
		fmt.Fprintf(out, "switch: %s (chain %s)\n", ins.Required.DisplayName, ins.Required.ChainID)
	}
	return nil
}
