package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"thumbfix/internal/config"
	"thumbfix/internal/settings"
)

// openSettings builds the configured store, loads the gateway from it and
// returns a function releasing the backend.
func openSettings(ctx context.Context, cfg config.SettingsConfig, logger *log.Logger) (*settings.Gateway, func(), error) {
	var (
		store  settings.Store
		legacy settings.Store
		closer = func() {}
	)
	switch cfg.Backend {
	case config.BackendFile:
		fs, err := settings.OpenFileStore(cfg.File, logger)
		if err != nil {
			return nil, nil, err
		}
		store = fs
		if cfg.LegacyKey != "" {
			old, err := settings.OpenFileStore(cfg.LegacyKey, logger)
			if err != nil {
				return nil, nil, fmt.Errorf("legacy settings: %w", err)
			}
			legacy = old
		}
	case config.BackendRedis:
		client, err := settings.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		store = settings.NewRedisStore(client, cfg.RedisKey, logger)
		if cfg.LegacyKey != "" {
			legacy = settings.NewRedisStore(client, cfg.LegacyKey, logger)
		}
		closer = func() { client.Close() }
	default:
		store = settings.NewMemoryStore()
	}

	gw := settings.NewGateway(store, legacy, logger)
	if err := gw.Load(ctx); err != nil {
		logger.Warn("settings loaded with errors", "err", err)
	}
	return gw, closer, nil
}

func (c *CLI) settingsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Read or change the stored preferences",
		Long: fmt.Sprintf(`Read or change the preferences shared by every thumbfix process using the
same settings backend. Keys: %v.`, settings.Keys),
	}
	cmd.AddCommand(c.settingsGetCommand())
	cmd.AddCommand(c.settingsSetCommand())
	return cmd
}

func (c *CLI) settingsGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get [key]",
		Short: "Print all settings as JSON, or one value",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			gw, closeStore, err := openSettings(ctx, c.cfg.Settings, log.FromContext(ctx))
			if err != nil {
				return err
			}
			defer closeStore()

			values := gw.Values()
			if len(args) == 1 {
				v, ok := values[args[0]]
				if !ok {
					return fmt.Errorf("%w: %q", settings.ErrUnknownKey, args[0])
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), v)
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(values)
		},
	}
}

func (c *CLI) settingsSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store one setting",
		Example: `  thumbfix settings set domainOverride i-cf.pximg.net
  thumbfix settings set allowCustom true`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]
			if !slices.Contains(settings.Keys, key) {
				return fmt.Errorf("%w: %q", settings.ErrUnknownKey, key)
			}
			ctx := cmd.Context()
			logger := log.FromContext(ctx)
			gw, closeStore, err := openSettings(ctx, c.cfg.Settings, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			if c.cfg.Settings.Backend == config.BackendMemory {
				logger.Warn("memory settings backend does not persist across runs")
			}
			if err := gw.SetValue(ctx, key, value); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), gw.Values()[key])
			return err
		},
	}
}
