package main

import (
	"github.com/spf13/cobra"

	"jtechpush/internal/config"
)

const rootLongDesc string = `jtechpush keeps a subscription to one topic on an ntfy-style relay
and turns every forum message it receives into a notification.

Run the daemon with:
  jtechpush run

Manage the subscription while it runs; the daemon picks up changes from the
config file and reconnects:
  jtechpush register --topic <topic> [--server <url>] [--variant ntfy|push]
  jtechpush unregister
  jtechpush control --type messages --enabled=false
  jtechpush status`

const defaultConfigPath = "./config.yaml"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "jtechpush",
		Short:         "JTech forum push notifications",
		Long:          rootLongDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringP("config", "c", defaultConfigPath, "path to the config file (json or yaml)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newRegisterCmd())
	cmd.AddCommand(newUnregisterCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newControlCmd())
	cmd.AddCommand(newDeviceIDCmd())
	return cmd
}

// configManager opens the config file named by --config for read-modify-write.
func configManager(cmd *cobra.Command) (*config.ConfigManager, *config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	m := config.NewConfigManager(path)
	m.SetValidator(config.Validate)
	cfg, err := m.LoadOrEmpty()
	if err != nil {
		return nil, nil, err
	}
	return m, cfg, nil
}
