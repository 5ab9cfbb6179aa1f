package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/austindbirch/grpc_deliver/internal/rfc822"
	"github.com/austindbirch/grpc_deliver/internal/transport"
)

// pingCmd represents the ping command
var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the delivery endpoint is serving",
	Long:  `Query the endpoint's gRPC health service for the rfc822.Deliverer service.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := checkHealth(cmd.Context(), endpoint)
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		out := map[string]string{"endpoint": endpoint, "status": status.String()}
		printOutput(cmd.OutOrStdout(), out, func(w io.Writer) {
			fmt.Fprintf(w, "%s: %s\n", endpoint, status)
		})
		if status != healthpb.HealthCheckResponse_SERVING {
			return fmt.Errorf("%s is %s", endpoint, status)
		}
		return nil
	},
}

func checkHealth(ctx context.Context, raw string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	ep, err := transport.ParseEndpoint(raw)
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	cc, err := grpc.NewClient(ep.Address, grpc.WithTransportCredentials(transport.Credentials(ep, nil)))
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	defer cc.Close()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	resp, err := healthpb.NewHealthClient(cc).Check(ctx, &healthpb.HealthCheckRequest{Service: rfc822.ServiceName})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

func init() {
	rootCmd.AddCommand(pingCmd)
}
