package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vitwit/xpay/types"
	"github.com/vitwit/xpay/utils"
)

var (
	quoteFrom      string
	quoteTo        string
	quoteToken     string
	quoteAmount    string
	quoteRecipient string
)

func init() {
	quoteCmd.Flags().StringVar(&quoteFrom, "from", "", "payer network id")
	quoteCmd.Flags().StringVar(&quoteTo, "to", "", "payee network id")
	quoteCmd.Flags().StringVar(&quoteToken, "token", "USDC", "token symbol")
	quoteCmd.Flags().StringVar(&quoteAmount, "amount", "", "amount in whole token units")
	quoteCmd.Flags().StringVar(&quoteRecipient, "recipient", "", "recipient address on the payee network")
	for _, f := range []string{"from", "to", "amount", "recipient"} {
		_ = quoteCmd.MarkFlagRequired(f)
	}
	rootCmd.AddCommand(quoteCmd)
}

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Quote the bridge fee for a cross-chain payment",
	RunE:  runQuote,
}

func runQuote(cmd *cobra.Command, args []string) error {
	amount, err := utils.ValidateAmount(quoteAmount)
	if err != nil {
		return err
	}
	recipient, err := utils.ValidateAddress(quoteRecipient)
	if err != nil {
		return err
	}

	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	fee, err := s.x.QuoteFee(cmd.Context(), types.NetworkID(quoteFrom), types.NetworkID(quoteTo), quoteToken, *amount, recipient)
	if err != nil {
		return err
	}
	printFee(cmd, s, types.NetworkID(quoteFrom), fee)
	return nil
}

// printFee renders the fee in the payer network's native unit.
func printFee(cmd *cobra.Command, s *session, payer types.NetworkID, fee *types.FeeEstimate) {
	out := cmd.OutOrStdout()
	decimals := int32(18)
	if desc, ok := s.x.Registry().Get(payer); ok {
		decimals = desc.NativeDecimals
	}
	native := utils.FormatAmountFromBigInt(fee.Buffered, decimals)
	fmt.Fprintf(out, "fee:      %s %s (quoted %s, +%d%%)\n", native, fee.NativeSymbol, fee.Raw, fee.BufferPercent)
	fmt.Fprintf(out, "source:   %s\n", fee.Source)
	fmt.Fprintf(out, "quotedAt: %s\n", fee.QuotedAt.Format("15:04:05"))
}
