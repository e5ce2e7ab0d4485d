package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vitwit/xpay/types"
)

var (
	trackNetwork string
	trackTimeout time.Duration
)

func init() {
	trackCmd.Flags().StringVar(&trackNetwork, "network", "", "network the transaction was sent on, for transaction hash order ids")
	trackCmd.Flags().DurationVar(&trackTimeout, "timeout", 0, "give up and report expired after this long (defaults to artifact_ttl)")
	rootCmd.AddCommand(trackCmd)
}

var trackCmd = &cobra.Command{
	Use:   "track <order-id>",
	Short: "Follow a payment until it completes, fails or expires",
	Args:  cobra.ExactArgs(1),
	RunE:  runTrack,
}

func runTrack(cmd *cobra.Command, args []string) error {
	timeout := trackTimeout
	if timeout <= 0 {
		timeout = cfg.ArtifactTTL
	}

	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.x.TrackOrder(cmd.Context(), types.NetworkID(trackNetwork), args[0], time.Now().Add(timeout))
	if err != nil {
		return describe(err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "status:  %s\n", res.Status)
	if res.Transport != "" {
		fmt.Fprintf(out, "via:     %s\n", res.Transport)
	}
	fmt.Fprintf(out, "history: %v\n", res.History)
	return nil
}
