package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"metricbridge/pkg/bridge"
	"metricbridge/pkg/bus"
	"metricbridge/pkg/channel/httpapi"
	"metricbridge/pkg/ui/watch"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
)

const callTimeout = 30 * time.Second

var errCallFailed = errors.New("call failed")

var callURL string

var callCmd = &cobra.Command{
	Use:   "call <action>",
	Short: "Send one action to a running gateway",
	Long: "Sends one action to a running gateway over its HTTP channel and prints the result.\n\nActions: " +
		strings.Join(knownActions(), ", "),
	Args:          cobra.ExactArgs(1),
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), callTimeout)
		defer cancel()

		client := httpapi.NewClient(resolveGatewayURL(callURL), &http.Client{Timeout: callTimeout})
		result, err := client.Call(ctx, bus.MethodCall{Method: strings.TrimSpace(args[0])})
		if err != nil {
			fmt.Fprintln(os.Stderr, watch.RenderError("transport_error", err.Error()))
			return errCallFailed
		}

		return printResult(cmd.OutOrStdout(), cmd.ErrOrStderr(), result)
	},
}

func init() {
	rootCmd.AddCommand(callCmd)
	callCmd.Flags().StringVar(&callURL, "url", "", "gateway HTTP channel URL (default: $METRICBRIDGE_URL or "+defaultGatewayURL+")")
}

func knownActions() []string {
	return []string{
		bridge.ActionStartReceivingReports,
		bridge.ActionStopReceivingReports,
		bridge.ActionGetPastPayloads,
		bridge.ActionGetDiagnosticPastPayloads,
	}
}

// printResult writes a successful result to out, or a typed error to errOut
// and returns errCallFailed.
func printResult(out io.Writer, errOut io.Writer, result bus.MethodResult) error {
	if result.Error != nil {
		fmt.Fprintln(errOut, watch.RenderError(result.Error.Code, result.Error.Message))
		return errCallFailed
	}

	fmt.Fprintln(out, formatResult(result.Result))
	return nil
}

// formatResult pretty-prints JSON string results, such as past payload
// arrays, and prints everything else as its JSON literal.
func formatResult(value any) string {
	if text, ok := value.(string); ok {
		if gjson.Valid(text) {
			return strings.TrimRight(string(pretty.Pretty([]byte(text))), "\n")
		}
		return text
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprint(value)
	}
	return string(encoded)
}
