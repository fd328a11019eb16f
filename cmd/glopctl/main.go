// Command glopctl is the operator CLI for a running glopd: each
// subcommand is one control-socket round trip. The control-socket
// address resolves in layers — --addr flag, GLOPCTL_ADDR env var,
// ~/.glopctl.toml — so scripted and interactive use share one binary.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/glop/glop/internal/gloprpc"
)

var dialTimeout = 5 * time.Second

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "glopctl",
		Short:         "Operator CLI for a running glopd control socket",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("addr", "127.0.0.1:7890", "glopd control socket address")
	_ = viper.BindPFlag("addr", root.PersistentFlags().Lookup("addr"))
	viper.SetEnvPrefix("GLOPCTL")
	viper.AutomaticEnv()

	// Optional ~/.glopctl.toml: flag > env > file > default.
	viper.SetConfigName(".glopctl")
	viper.SetConfigType("toml")
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
	}
	_ = viper.ReadInConfig()

	root.AddCommand(newAddCmd())
	root.AddCommand(newRemoveCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newSendCmd())
	return root
}

// dial retries briefly before giving up: glopctl is often invoked right
// after `glopd &`, before the control socket is accepting.
func dial() (*gloprpc.Client, error) {
	var c *gloprpc.Client
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	err := backoff.Retry(func() error {
		var err error
		c, err = gloprpc.Dial(viper.GetString("addr"), dialTimeout)
		return err
	}, bo)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func newAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <name> <source-path>",
		Short: "Compile a .glop file and register it as a running agent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.Add(args[1], args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "agent %q added from %s\n", args[0], args[1])
			return nil
		},
	}
}

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Stop and forget a named agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.Remove(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "agent %q removed\n", args[0])
			return nil
		},
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every registered agent name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			names, err := c.List()
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}

func newSendCmd() *cobra.Command {
	var contentsJSON string
	cmd := &cobra.Command{
		Use:   "send <dst> <topic>",
		Short: "Deliver a message to a named agent's mailbox",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			contents := map[string]any{}
			if contentsJSON != "" {
				if err := json.Unmarshal([]byte(contentsJSON), &contents); err != nil {
					return fmt.Errorf("--contents: %w", err)
				}
			}
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			err = c.SendTo(gloprpc.Envelope{Dst: args[0], Topic: args[1], Contents: contents})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent to %q on topic %q\n", args[0], args[1])
			return nil
		},
	}
	cmd.Flags().StringVar(&contentsJSON, "contents", "", "JSON object payload for the message")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "glopctl: "+err.Error())
		os.Exit(1)
	}
}
