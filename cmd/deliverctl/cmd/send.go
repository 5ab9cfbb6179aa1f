package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/austindbirch/grpc_deliver/internal/accessor"
	"github.com/austindbirch/grpc_deliver/internal/config"
	"github.com/austindbirch/grpc_deliver/internal/host"
	"github.com/austindbirch/grpc_deliver/internal/logging"
	"github.com/austindbirch/grpc_deliver/internal/plugin"
	"github.com/austindbirch/grpc_deliver/internal/reporter"
	"github.com/austindbirch/grpc_deliver/internal/rfc822"
)

var sendTxID string

// ErrDeferred is returned when the endpoint did not accept the message.
var ErrDeferred = errors.New("delivery deferred")

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send [file]",
	Short: "Deliver a message file to the endpoint",
	Long: `Deliver an RFC 822 message file through the plugin's delivery pipeline
and print the result the host would see.

Examples:
  deliverctl send message.eml
  deliverctl send message.eml --endpoint grpcs://mx.example.com --txid abc123`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		txID := sendTxID
		if txID == "" {
			txID = uuid.NewString()
		}

		logging.SetDefaultService("deliverctl")
		logging.SetOutput(cmd.ErrOrStderr())
		if err := ensurePlugin(); err != nil {
			return err
		}

		fc := host.NewFileContext(args[0], txID, map[string]any{accessor.URLArgument: endpoint})
		plugin.Deliver(fc)

		select {
		case <-fc.Wait():
		case <-time.After(timeout):
			return fmt.Errorf("no result within %s", timeout)
		}

		res := fc.Result()
		out := map[string]any{
			"transaction_id": txID,
			"endpoint":       endpoint,
			"code":           res.Code,
			"reason":         res.Reason,
		}
		printOutput(cmd.OutOrStdout(), out, func(w io.Writer) {
			fmt.Fprintf(w, "%s -> %s: %d %s\n", txID, endpoint, res.Code, res.Reason)
		})
		if res.Code != reporter.CodeAccepted {
			return fmt.Errorf("%w: %d %s", ErrDeferred, res.Code, res.Reason)
		}
		return nil
	},
}

// ensurePlugin initializes the plugin from the global flags unless it already
// is.
func ensurePlugin() error {
	if plugin.Workers() > 0 {
		return nil
	}
	startup := config.Startup{Threads: threads}
	if jwtSecret != "" {
		startup.Auth = config.Auth{Secret: jwtSecret, Issuer: "grpc-deliver", Audience: rfc822.ServiceName}
	}
	raw, err := json.Marshal(startup)
	if err != nil {
		return err
	}
	if !plugin.Init(host.StaticInit(raw)) {
		return errors.New("plugin initialization failed")
	}
	return nil
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVar(&sendTxID, "txid", "", "transaction id (default: random UUID)")
}
