package cmdutil

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/leefowlercu/mailroom/internal/config"
	"github.com/leefowlercu/mailroom/internal/daemonclient"
)

// AddAddrFlag registers --addr, which overrides the configured daemon
// address.
func AddAddrFlag(cmd *cobra.Command) {
	cmd.PersistentFlags().String("addr", "", "Daemon base URL (default from config, e.g. http://127.0.0.1:7700)")
}

// NewClient builds a daemon client from the loaded config, honoring --addr
// when the command defines it.
func NewClient(cmd *cobra.Command, timeout time.Duration) (*daemonclient.Client, error) {
	opts := []daemonclient.Option{daemonclient.WithTimeout(timeout)}
	if f := cmd.Flag("addr"); f != nil && f.Value.String() != "" {
		opts = append(opts, daemonclient.WithBaseURL(f.Value.String()))
	}
	client, err := daemonclient.NewFromConfig(config.Get(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize daemon client; %w", err)
	}
	return client, nil
}
