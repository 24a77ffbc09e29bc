package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"jtechpush/internal/config"
	"jtechpush/internal/relay"
)

func newRegisterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Subscribe to a topic",
		Long: `Store the relay server and topic to listen on.

The server defaults to https://ntfy.sh for the ntfy variant. The push
variant has no default server.

Examples:
  jtechpush register --topic forum-alerts
  jtechpush register --server https://push.example.org --topic alerts --variant push`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			server, _ := cmd.Flags().GetString("server")
			topic, _ := cmd.Flags().GetString("topic")
			variant, _ := cmd.Flags().GetString("variant")
			return runRegister(cmd, server, topic, variant)
		},
	}
	cmd.Flags().String("server", "", "relay server base URL")
	cmd.Flags().String("topic", "", "topic to subscribe to")
	cmd.Flags().String("variant", "", "relay variant: ntfy or push (default: keep current)")
	_ = cmd.MarkFlagRequired("topic")
	return cmd
}

func runRegister(cmd *cobra.Command, server, topic, variant string) error {
	m, cfg, err := configManager(cmd)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return errors.New("topic must not be empty")
	}
	if strings.TrimSpace(variant) == "" {
		variant = cfg.Subscription.Variant
	}
	v, err := relay.LookupVariant(variant)
	if err != nil {
		return err
	}
	sub := v.Resolve(relay.Subscription{Server: server, Topic: topic})
	if _, err := v.URL(sub); err != nil {
		if errors.Is(err, relay.ErrNotConfigured) {
			return fmt.Errorf("the %s variant needs --server", v.Name)
		}
		return err
	}

	err = m.Update(cmd.Context(), func(c *config.Config) error {
		c.Subscription.Server = strings.TrimSpace(server)
		c.Subscription.Topic = topic
		if strings.TrimSpace(variant) != "" {
			c.Subscription.Variant = v.Name
		}
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Registered topic %s on %s (%s)\n", sub.Topic, sub.Server, v.Name)
	return nil
}

func newUnregisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unregister",
		Short: "Clear the subscription",
		Long: `Clear the stored server and topic. A running daemon closes its stream
and waits until a new topic is registered.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, _, err := configManager(cmd)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if err := m.SetSubscription(cmd.Context(), relay.Subscription{}); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Unregistered")
			return nil
		},
	}
}

func newControlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "control",
		Short: "Turn a notification type on or off",
		Long: `Turn a notification type on or off.

Types:
  messages   forum message notifications (push variant only)
  service    connection state on the service status line

Example:
  jtechpush control --type messages --enabled=false`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			typ, _ := cmd.Flags().GetString("type")
			enabled, _ := cmd.Flags().GetBool("enabled")
			typ = strings.ToLower(strings.TrimSpace(typ))
			if typ != config.FlagMessages && typ != config.FlagService {
				return fmt.Errorf("unknown type %q (want %s or %s)", typ, config.FlagMessages, config.FlagService)
			}
			m, _, err := configManager(cmd)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if err := m.SetFlag(cmd.Context(), typ, enabled); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s notifications %s\n", typ, onOff(enabled))
			return nil
		},
	}
	cmd.Flags().String("type", "", "notification type: messages or service")
	cmd.Flags().Bool("enabled", true, "enable (true) or disable (false)")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
