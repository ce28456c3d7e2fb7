package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rzbill/eventpump/internal/cmd/client/transports"
)

// NewStreamCommand constructs the `stream` command group and subcommands.
func NewStreamCommand() *cobra.Command {
	streamCmd := &cobra.Command{Use: "stream", Short: "Event log operations"}
	streamCmd.AddCommand(
		newStreamPublishCommand(),
		newStreamReadCommand(),
		newStreamTailCommand(),
	)
	return streamCmd
}

// parseMetadata turns repeated key=value flags into a map.
func parseMetadata(kvs []string) (map[string]string, error) {
	if len(kvs) == 0 {
		return nil, nil
	}
	md := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --meta %q; expected key=value", kv)
		}
		md[k] = v
	}
	return md, nil
}

// newStreamPublishCommand constructs the `stream publish` subcommand.
func newStreamPublishCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Append one event to a stream",
		RunE: func(cmd *cobra.Command, _ []string) error {
			stream, _ := cmd.Flags().GetString("stream")
			typ, _ := cmd.Flags().GetString("type")
			data, _ := cmd.Flags().GetString("data")
			id, _ := cmd.Flags().GetString("id")
			metaKVs, _ := cmd.Flags().GetStringArray("meta")
			if stream == "" || typ == "" {
				return fmt.Errorf("--stream and --type are required")
			}
			if data != "" && !json.Valid([]byte(data)) {
				return fmt.Errorf("--data must be a JSON document")
			}
			md, err := parseMetadata(metaKVs)
			if err != nil {
				return err
			}
			req := transports.PublishRequest{
				Stream: stream,
				Events: []transports.NewEvent{{ID: id, Type: typ, Metadata: md}},
			}
			if data != "" {
				req.Events[0].Payload = json.RawMessage(data)
			}
			if cmd.Flags().Changed("expected-version") {
				v, _ := cmd.Flags().GetInt64("expected-version")
				req.ExpectedVersion = &v
			}
			return withStreams(cmd, func(ctx context.Context, t transports.StreamsTransport) error {
				positions, err := t.Publish(ctx, req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "position: %s\n", strings.Join(positions, ","))
				return nil
			})
		},
	}
	cmd.Flags().String("stream", "", "Stream name")
	cmd.Flags().String("type", "", "Event type")
	cmd.Flags().String("data", "", "JSON payload")
	cmd.Flags().String("id", "", "Event id (default: generated)")
	cmd.Flags().StringArray("meta", nil, "Metadata key=value (repeatable)")
	cmd.Flags().Int64("expected-version", -1, "Expected stream version (-1 any, 0 new stream)")
	return cmd
}

// newStreamReadCommand constructs the `stream read` subcommand.
func newStreamReadCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read events from the global log or one stream",
		RunE: func(cmd *cobra.Command, _ []string) error {
			stream, _ := cmd.Flags().GetString("stream")
			from, _ := cmd.Flags().GetUint64("from")
			after, _ := cmd.Flags().GetString("after")
			limit, _ := cmd.Flags().GetInt("limit")
			enc := json.NewEncoder(cmd.OutOrStdout())
			return withStreams(cmd, func(ctx context.Context, t transports.StreamsTransport) error {
				evs, err := t.Read(ctx, transports.ReadRequest{Stream: stream, From: from, After: after, Limit: limit})
				if err != nil {
					return err
				}
				for _, ev := range evs {
					if err := enc.Encode(ev); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().String("stream", "", "Read one stream instead of the global log")
	cmd.Flags().Uint64("from", 1, "First stream version to read (with --stream)")
	cmd.Flags().String("after", "", "Read the global log after this position")
	cmd.Flags().Int("limit", 100, "Maximum number of events")
	return cmd
}

// newStreamTailCommand constructs the `stream tail` subcommand.
func newStreamTailCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow the global log, optionally filtered",
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, _ := cmd.Flags().GetString("filter")
			expr, _ := cmd.Flags().GetString("expr")
			after, _ := cmd.Flags().GetString("after")
			limit, _ := cmd.Flags().GetInt("limit")
			enc := json.NewEncoder(cmd.OutOrStdout())
			return withStreams(cmd, func(ctx context.Context, t transports.StreamsTransport) error {
				return t.Tail(ctx, transports.TailRequest{Filter: filter, Expr: expr, After: after, Limit: limit}, func(ev transports.Event) error {
					return enc.Encode(ev)
				})
			})
		},
	}
	cmd.Flags().String("filter", "", "Regular expression over stream names")
	cmd.Flags().String("expr", "", "CEL predicate, e.g. type == \"OrderPlaced\"")
	cmd.Flags().String("after", "", "Start after this position (default: beginning)")
	cmd.Flags().Int("limit", 0, "Stop after N events (0 = follow)")
	return cmd
}
