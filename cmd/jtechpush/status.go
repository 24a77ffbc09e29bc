package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"jtechpush/internal/app"
	"jtechpush/internal/config"
	"jtechpush/internal/lifecycle"
	"jtechpush/internal/relay"
	"jtechpush/internal/storage"
	logx "jtechpush/pkg/logx"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the subscription and recent notifications",
		Long: `Show whether a topic is registered, the server in use, the notification
flags and, when storage is enabled, the most recent deliveries.

With --unit the systemd unit state is queried as well.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			history, _ := cmd.Flags().GetInt("history")
			unit, _ := cmd.Flags().GetString("unit")
			user, _ := cmd.Flags().GetBool("user")
			return runStatus(cmd, history, unit, user)
		},
	}
	cmd.Flags().Int("history", 5, "number of recent deliveries to show")
	cmd.Flags().String("unit", "", "systemd unit to query (e.g. jtechpush.service)")
	cmd.Flags().Bool("user", false, "query the user service manager")
	return cmd
}

func runStatus(cmd *cobra.Command, history int, unit string, user bool) error {
	_, cfg, err := configManager(cmd)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	out := cmd.OutOrStdout()

	v, err := relay.LookupVariant(cfg.Subscription.Variant)
	if err != nil {
		return err
	}
	sub := v.Resolve(relay.Subscription{Server: cfg.Subscription.Server, Topic: cfg.Subscription.Topic})
	fmt.Fprintf(out, "Registered: %t\n", sub.Topic != "")
	fmt.Fprintf(out, "Variant:    %s\n", v.Name)
	fmt.Fprintf(out, "Server:     %s\n", sub.Server)
	fmt.Fprintf(out, "Topic:      %s\n", sub.Topic)
	fmt.Fprintf(out, "Messages:   %s\n", onOff(cfg.Notifications.Enabled(config.FlagMessages)))
	fmt.Fprintf(out, "Service:    %s\n", onOff(cfg.Notifications.Enabled(config.FlagService)))

	if unit != "" {
		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		st, err := lifecycle.QueryUnit(ctx, unit, user)
		cancel()
		if err != nil {
			fmt.Fprintf(out, "Unit:       %s (%v)\n", unit, err)
		} else {
			fmt.Fprintf(out, "Unit:       %s %s/%s", st.Name, st.Active, st.SubState)
			if !st.ActiveSince.IsZero() {
				fmt.Fprintf(out, " since %s", st.ActiveSince.Format(time.RFC3339))
			}
			fmt.Fprintln(out)
		}
	}

	if history <= 0 {
		return nil
	}
	return printHistory(cmd.Context(), out, cfg, history)
}

func printHistory(ctx context.Context, out io.Writer, cfg *config.Config, limit int) error {
	st, err := openStore(cfg)
	if errors.Is(err, storage.ErrDisabled) {
		return nil
	}
	if err != nil {
		return err
	}
	defer st.Close()

	items, err := st.RecentDeliveries(ctx, limit)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nRecent notifications (%d):\n", len(items))
	for _, d := range items {
		status := "ok"
		if d.Error != "" {
			status = "failed: " + d.Error
		}
		fmt.Fprintf(out, "  #%d %s  %s: %s  [%s via %s]\n",
			d.ID, d.At.Local().Format(time.DateTime), d.Title, d.Body, status, d.Sink)
	}
	return nil
}

func openStore(cfg *config.Config) (storage.Store, error) {
	sc, enabled, err := app.MapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, storage.ErrDisabled
	}
	return storage.Open(sc, logx.Nop())
}

func newDeviceIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "device-id",
		Short: "Print the stable device identifier",
		Long: `Print the device identifier, creating it on first use. It is kept in
the configured storage, so storage must be enabled.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, cfg, err := configManager(cmd)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			st, err := openStore(cfg)
			if err != nil {
				if errors.Is(err, storage.ErrDisabled) {
					return fmt.Errorf("device id needs storage: %w", err)
				}
				return err
			}
			defer st.Close()
			id, err := st.DeviceID(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}
