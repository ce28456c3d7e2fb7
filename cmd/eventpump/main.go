package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	clientcmd "github.com/rzbill/eventpump/internal/cmd/client"
	serverrun "github.com/rzbill/eventpump/internal/cmd/server"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "eventpump",
		Short:         "eventpump runtime CLI",
		Long:          "eventpump keeps durable consumers in step with an append-only event log. This CLI runs the server and operates on streams and consumers.",
		SilenceUsage: true,
	}
	clientcmd.AddPersistentFlags(rootCmd)

	// server start
	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the eventpump server (gRPC health and HTTP ops)",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := clientcmd.LoadConfig(cmd)
			if err != nil {
				return err
			}
			for flag, dst := range map[string]*string{
				"grpc":       &cfg.GRPCAddr,
				"http":       &cfg.HTTPAddr,
				"fsync":      &cfg.Fsync,
				"log-level":  &cfg.Log.Level,
				"log-format": &cfg.Log.Format,
			} {
				if cmd.Flags().Changed(flag) {
					*dst, _ = cmd.Flags().GetString(flag)
				}
			}
			if cmd.Flags().Changed("fsync-interval-ms") {
				cfg.FsyncIntervalMs, _ = cmd.Flags().GetInt("fsync-interval-ms")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if err := serverrun.Run(ctx, serverrun.Options{Config: cfg}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	serverStartCmd.Flags().String("grpc", ":50061", "gRPC listen address")
	serverStartCmd.Flags().String("http", ":8061", "HTTP listen address")
	serverStartCmd.Flags().String("fsync", "always", "Fsync mode: always|interval|never")
	serverStartCmd.Flags().Int("fsync-interval-ms", 5, "When --fsync=interval, group-commit window in ms")
	serverStartCmd.Flags().String("log-level", "info", "Log level: debug|info|warn|error")
	serverStartCmd.Flags().String("log-format", "text", "Log format: text|json")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	rootCmd.AddCommand(clientcmd.NewStreamCommand())
	rootCmd.AddCommand(clientcmd.NewConsumerCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
