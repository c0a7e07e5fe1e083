package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"metricbridge/pkg/channel/httpapi"
	"metricbridge/pkg/ui/watch"

	"github.com/spf13/cobra"
)

var watchURL string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Show pushed report envelopes from a running gateway",
	Long:  "Attaches to the gateway event stream as the listener and shows each metric or diagnostic envelope as it arrives.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		target := resolveGatewayURL(watchURL)
		client := httpapi.NewClient(target, nil)
		return watch.Run(ctx, client.Events, target)
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&watchURL, "url", "", "gateway HTTP channel URL (default: $METRICBRIDGE_URL or "+defaultGatewayURL+")")
}
