package client

import (
	"github.com/spf13/cobra"
)

// NewRoot constructs the client command groups under one root. The
// persistent --config, --data-dir and --server flags are shared by every
// subcommand.
func NewRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "eventpump",
		Short: "eventpump client commands",
	}
	AddPersistentFlags(root)
	root.AddCommand(NewStreamCommand())
	root.AddCommand(NewConsumerCommand())
	return root
}

// AddPersistentFlags registers the flags every client command reads.
func AddPersistentFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("config", "", "Config file (JSON or YAML); defaults to $EVENTPUMP_CONFIG")
	cmd.PersistentFlags().String("data-dir", "", "Data directory; overrides the config file")
	cmd.PersistentFlags().String("server", "", "HTTP address of a running server (e.g. http://127.0.0.1:8061); defaults to $EVENTPUMP_SERVER. Empty opens the data dir directly")
}
