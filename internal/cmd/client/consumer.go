package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rzbill/eventpump/internal/cmd/client/transports"
	"github.com/rzbill/eventpump/internal/dispatch"
	"github.com/rzbill/eventpump/internal/eventconsumer"
	"github.com/rzbill/eventpump/internal/projections"
	"github.com/rzbill/eventpump/internal/runtime"
	grpcserver "github.com/rzbill/eventpump/internal/server/grpc"
)

// NewConsumerCommand constructs the `consumer` command group.
func NewConsumerCommand() *cobra.Command {
	consumerCmd := &cobra.Command{Use: "consumer", Short: "Consumer operations"}
	consumerCmd.AddCommand(
		newConsumerListCommand(),
		newConsumerStatusCommand(),
		newConsumerActionCommand("start", "Start a consumer from its last position", (*eventconsumer.Actor).Start),
		newConsumerActionCommand("stop", "Stop a consumer, keeping its position", (*eventconsumer.Actor).Stop),
		newConsumerActionCommand("reset", "Clear a consumer's projection and replay from the beginning", (*eventconsumer.Actor).Reset),
	)
	return consumerCmd
}

// localInfos merges persisted snapshots with configured consumers that have
// never written one.
func localInfos(ctx context.Context, rt *runtime.Runtime) ([]eventconsumer.Info, error) {
	snaps, err := rt.Snapshots().List(ctx)
	if err != nil {
		return nil, err
	}
	byName := map[string]eventconsumer.Info{}
	for key, b := range snaps {
		var st eventconsumer.State
		if err := json.Unmarshal(b, &st); err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", key, err)
		}
		byName[key] = st.Info(key)
	}
	for _, c := range rt.Config().Consumers {
		if _, ok := byName[c.Name]; !ok {
			byName[c.Name] = eventconsumer.DefaultState().Info(c.Name)
		}
	}
	out := make([]eventconsumer.Info, 0, len(byName))
	for _, info := range byName {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func remoteInfos(ctx context.Context, base string) ([]eventconsumer.Info, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/v1/consumers", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list consumers: %s", resp.Status)
	}
	var out struct {
		Consumers []eventconsumer.Info `json:"consumers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Consumers, nil
}

func printInfos(cmd *cobra.Command, infos []eventconsumer.Info) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATUS\tPOSITION\tERROR")
	for _, info := range infos {
		pos := info.Position
		if pos == "" {
			pos = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", info.Name, info.Status, pos, info.Error)
	}
	return tw.Flush()
}

func newConsumerListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List consumers and their persisted status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if base := serverURL(cmd); base != "" {
				infos, err := remoteInfos(cmdContext(cmd), base)
				if err != nil {
					return err
				}
				return printInfos(cmd, infos)
			}
			return withRuntime(cmd, func(ctx context.Context, rt *runtime.Runtime) error {
				infos, err := localInfos(ctx, rt)
				if err != nil {
					return err
				}
				return printInfos(cmd, infos)
			})
		},
	}
}

func newConsumerStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status NAME",
		Short: "Show one consumer's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if addr, _ := cmd.Flags().GetString("grpc"); addr != "" {
				st, err := checkHealth(cmd.Context(), addr, grpcserver.ConsumerService(name))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", name, st)
				return nil
			}
			if base := serverURL(cmd); base != "" {
				raw, err := transports.NewHTTPTransport(base, nil).ConsumerStatus(cmdContext(cmd), name)
				if err != nil {
					return err
				}
				var buf bytes.Buffer
				if err := json.Indent(&buf, raw, "", "  "); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), buf.String())
				return nil
			}
			return withRuntime(cmd, func(ctx context.Context, rt *runtime.Runtime) error {
				infos, err := localInfos(ctx, rt)
				if err != nil {
					return err
				}
				for _, info := range infos {
					if info.Name == name {
						enc := json.NewEncoder(cmd.OutOrStdout())
						enc.SetIndent("", "  ")
						return enc.Encode(info)
					}
				}
				return fmt.Errorf("%w: %s", eventconsumer.ErrUnknownConsumer, name)
			})
		},
	}
	cmd.Flags().String("grpc", "", "Query a running server's gRPC health service at this address")
	return cmd
}

func checkHealth(ctx context.Context, addr, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	defer func() { _ = conn.Close() }()
	res, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return res.GetStatus(), nil
}

// newConsumerActionCommand sends one command to a running server when
// --server is set. Otherwise it runs the command against the local data dir
// and prints the resulting status.
func newConsumerActionCommand(use, short string, action func(*eventconsumer.Actor) *dispatch.Future) *cobra.Command {
	return &cobra.Command{
		Use:   use + " NAME",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if base := serverURL(cmd); base != "" {
				if err := transports.NewHTTPTransport(base, nil).ConsumerCommand(cmdContext(cmd), name, use); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s accepted\n", name, use)
				return nil
			}
			return withRuntime(cmd, func(ctx context.Context, rt *runtime.Runtime) error {
				var def *projections.Definition
				for _, d := range rt.Config().Definitions() {
					if d.Name == name {
						def = &d
						break
					}
				}
				if def == nil {
					return fmt.Errorf("%w: %s is not configured", eventconsumer.ErrUnknownConsumer, name)
				}
				c, err := projections.New(rt.DB(), *def, nil)
				if err != nil {
					return err
				}
				a, err := rt.Manager().Register(ctx, c)
				if err != nil {
					return err
				}
				if err := action(a).Wait(ctx); err != nil {
					return err
				}
				info := a.Status()
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", info.Name, info.Status)
				return nil
			})
		},
	}
}
