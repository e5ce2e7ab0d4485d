package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vitwit/xpay"
	"github.com/vitwit/xpay/clients"
	"github.com/vitwit/xpay/events"
	"github.com/vitwit/xpay/registry"
	"github.com/vitwit/xpay/types"
	"github.com/vitwit/xpay/utils"
)

var (
	preparePayee     string
	prepareRecipient string
	prepareNetwork   string
	prepareAmount    string
	prepareToken     string
	prepareQR        string
	prepareAckRisk   bool
	prepareSend      bool
	prepareTrack     bool
	prepareOrderID   string
	preparePayer     string
	preparePayerNet  string
	prepareTarget    string
)

func init() {
	f := prepareCmd.Flags()
	f.StringVar(&preparePayee, "payee", "", "payee id")
	f.StringVar(&prepareRecipient, "recipient", "", "payee address")
	f.StringVar(&prepareNetwork, "network", "", "network the payee settles on")
	f.StringVar(&prepareAmount, "amount", "", "amount in whole token units")
	f.StringVar(&prepareToken, "token", "USDC", "token symbol")
	f.StringVar(&prepareQR, "qr", "", "write the payment QR code PNG to this path")
	f.BoolVar(&prepareAckRisk, "acknowledge-risk", false, "continue when the dry run fails")
	f.BoolVar(&prepareSend, "send", false, "send the transaction through the connected wallet")
	f.BoolVar(&prepareTrack, "track", false, "follow the payment after sending")
	f.StringVar(&prepareOrderID, "order-id", "", "order id known to the status source (defaults to the transaction hash)")
	f.StringVar(&preparePayer, "payer", "", "prepare for this payer address without a connected wallet")
	f.StringVar(&preparePayerNet, "payer-network", "", "network the --payer account pays from")
	f.StringVar(&prepareTarget, "target-file", "", "read the payment target from a JSON file instead of the flags above")
	rootCmd.AddCommand(prepareCmd)
}

var prepareCmd = &cobra.Command{
	Use:   "prepare",
	Short: "Prepare a payment and issue its link",
	Long:  "Detects the payer's network from the connected wallet, picks a payment mode, quotes and simulates the transaction, and prints the payment link. Without a wallet a direct transfer link on the payee's network is issued instead.",
	RunE:  runPrepare,
}

func runPrepare(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	target, err := loadTarget()
	if err != nil {
		return err
	}

	var opts []xpay.Option
	if (preparePayer == "") != (preparePayerNet == "") {
		return fmt.Errorf("--payer and --payer-network must be given together")
	}
	if preparePayer != "" {
		w, err := staticWallet(preparePayer, types.NetworkID(preparePayerNet))
		if err != nil {
			return err
		}
		opts = append(opts, xpay.WithWallet(w))
	}

	s, err := openSession(ctx, opts...)
	if err != nil {
		return err
	}
	defer s.Close()

	unsubscribe := s.x.Subscribe(func(e events.Event) {
		s.log.Info("intent stage", map[string]any{"intent": e.IntentID, "stage": e.Stage})
	}, events.StageChanged)
	defer unsubscribe()

	out := cmd.OutOrStdout()
	intent, err := s.x.Prepare(ctx, target)
	var pe *types.PaymentError
	switch {
	case err == nil:
	case errors.As(err, &pe) && pe.Code == types.ErrNoWallet:
		_ = s.x.Cancel(intent.ID)
		art, err := s.x.EncodeTarget(target)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "no wallet connected, issued a direct transfer link")
		return printArtifact(cmd, art)
	case errors.As(err, &pe) && pe.Kind == types.KindSimulation && prepareAckRisk:
		s.log.Warn("proceeding past failed simulation", map[string]any{"intent": intent.ID, "reason": pe.Message})
		if intent, err = s.x.Proceed(ctx, intent.ID, true); err != nil {
			return err
		}
	default:
		return describe(err)
	}

	fmt.Fprintf(out, "intent: %s\n", intent.ID)
	fmt.Fprintf(out, "mode:   %s (%s -> %s)\n", intent.Mode, intent.PayerNetwork, intent.PayeeNetwork)
	if intent.Switch != nil {
		fmt.Fprintf(out, "switch your wallet to %s (chain %s): %s\n",
			intent.Switch.Required.DisplayName, intent.Switch.Required.ChainID, intent.Switch.Reason)
		return nil
	}
	if intent.Fee != nil {
		printFee(cmd, s, intent.PayerNetwork, intent.Fee)
	}
	if err := printArtifact(cmd, intent.Artifact); err != nil {
		return err
	}
	if !prepareSend || preparePayer != "" {
		return nil
	}

	hash, err := s.x.Send(ctx, intent.ID)
	if err != nil {
		return describe(err)
	}
	fmt.Fprintf(out, "tx:     %s\n", hash.Hex())
	if !prepareTrack {
		return nil
	}

	res, err := s.x.Track(ctx, intent.ID, prepareOrderID)
	if err != nil {
		return describe(err)
	}
	fmt.Fprintf(out, "status: %s via %s\n", res.Status, res.Transport)
	return nil
}

// loadTarget reads the target from --target-file when given, otherwise from
// the individual flags.
func loadTarget() (types.PaymentTarget, error) {
	if prepareTarget != "" {
		data, err := os.ReadFile(prepareTarget)
		if err != nil {
			return types.PaymentTarget{}, fmt.Errorf("failed to read target file: %w", err)
		}
		t, err := utils.ParsePaymentTarget(data)
		if err != nil {
			return types.PaymentTarget{}, err
		}
		return *t, nil
	}

	amount, err := utils.ValidateAmount(prepareAmount)
	if err != nil {
		return types.PaymentTarget{}, err
	}
	t := types.PaymentTarget{
		PayeeID:   preparePayee,
		Recipient: prepareRecipient,
		Network:   types.NetworkID(prepareNetwork),
		Amount:    *amount,
		Token:     prepareToken,
	}
	if err := utils.ValidateTarget(&t); err != nil {
		return types.PaymentTarget{}, err
	}
	return t, nil
}

// staticWallet stands in for a payer that signs on another device.
func staticWallet(addr string, network types.NetworkID) (*clients.StaticWallet, error) {
	account, err := utils.ValidateAddress(addr)
	if err != nil {
		return nil, err
	}
	reg, err := registry.New(cfg.Overrides()...)
	if err != nil {
		return nil, fmt.Errorf("failed to build network registry: %w", err)
	}
	desc, ok := reg.Get(network)
	if !ok {
		return nil, fmt.Errorf("unknown network %s", network)
	}
	return &clients.StaticWallet{Account: account, Chain: desc.ChainID}, nil
}

func printArtifact(cmd *cobra.Command, art *types.PaymentArtifact) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "link:   %s\n", art.URI)
	fmt.Fprintf(out, "expires: %s\n", art.ExpiresAt.Format("15:04:05"))
	if prepareQR == "" {
		return nil
	}
	if err := os.WriteFile(prepareQR, art.QRCode, 0o644); err != nil {
		return fmt.Errorf("failed to write qr code: %w", err)
	}
	fmt.Fprintf(out, "qr:     %s\n", prepareQR)
	return nil
}

// describe appends the suggested remedy to payment errors.
func describe(err error) error {
	var pe *types.PaymentError
	if errors.As(err, &pe) && pe.Remedy != types.RemedyNone {
		return fmt.Errorf("%w (remedy: %s)", err, pe.Remedy)
	}
	return err
}
