package main

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"snipebot/internal/allowlist"
)

// storeDefaults mirrors the bot's allow-list environment so both binaries
// agree on the store location without flags.
type storeDefaults struct {
	Backend   string `env:"ALLOWLIST_BACKEND" envDefault:"file"`
	Path      string `env:"ALLOWLIST_PATH" envDefault:"data/whitelist.json"`
	PebbleDir string `env:"ALLOWLIST_PEBBLE_DIR" envDefault:"data/allowlist"`
}

type storeFlags struct {
	backend   string
	path      string
	pebbleDir string
}

func (f *storeFlags) config() allowlist.Config {
	return allowlist.Config{
		Backend:   allowlist.Backend(strings.TrimSpace(f.backend)),
		FilePath:  f.path,
		PebbleDir: f.pebbleDir,
	}
}

func newRootCommand() *cobra.Command {
	_ = godotenv.Load()

	return newRootCommandWithEnv(env.Options{})
}

func newRootCommandWithEnv(opts env.Options) *cobra.Command {
	defaults := storeDefaults{}
	if err := env.ParseWithOptions(&defaults, opts); err != nil {
		defaults = storeDefaults{Backend: string(allowlist.BackendFile)}
	}

	flags := &storeFlags{}
	rootCmd := &cobra.Command{
		Use:           "allowlist",
		Short:         "Manage the roles allowed to use snipe commands",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&flags.backend, "backend", defaults.Backend, "storage backend: file or pebble")
	rootCmd.PersistentFlags().StringVar(&flags.path, "path", defaults.Path, "file backend path (.json, .yaml, .yml)")
	rootCmd.PersistentFlags().StringVar(&flags.pebbleDir, "pebble-dir", defaults.PebbleDir, "pebble backend directory")

	rootCmd.AddCommand(
		newEditCommand(flags, "add", "Allow one or more roles", addRole),
		newEditCommand(flags, "remove", "Revoke one or more roles", removeRole),
		newListCommand(flags),
	)

	return rootCmd
}

type editFunc func(cmd *cobra.Command, store allowlist.Store, roleID string) error

func newEditCommand(flags *storeFlags, use string, short string, edit editFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <role-id>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(flags, func(store allowlist.Store) error {
				for _, raw := range args {
					roleID, err := allowlist.NormalizeRoleID(raw)
					if err != nil {
						return err
					}
					if err := edit(cmd, store, roleID); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newListCommand(flags *storeFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print the allowed roles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(flags, func(store allowlist.Store) error {
				roles, err := store.AllowedRoleIDs(cmd.Context())
				if err != nil {
					return fmt.Errorf("list roles: %w", err)
				}
				for _, roleID := range roles {
					fmt.Fprintln(cmd.OutOrStdout(), roleID)
				}
				return nil
			})
		},
	}
}

func addRole(cmd *cobra.Command, store allowlist.Store, roleID string) error {
	added, err := store.Add(cmd.Context(), roleID)
	if err != nil {
		return fmt.Errorf("add role %s: %w", roleID, err)
	}
	if added {
		fmt.Fprintf(cmd.OutOrStdout(), "added %s\n", roleID)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "%s already allowed\n", roleID)
	}

	return nil
}

func removeRole(cmd *cobra.Command, store allowlist.Store, roleID string) error {
	removed, err := store.Remove(cmd.Context(), roleID)
	if err != nil {
		return fmt.Errorf("remove role %s: %w", roleID, err)
	}
	if removed {
		fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", roleID)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "%s was not allowed\n", roleID)
	}

	return nil
}

func withStore(flags *storeFlags, fn func(allowlist.Store) error) (err error) {
	store, err := allowlist.Open(flags.config())
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close allow-list: %w", closeErr)
		}
	}()

	return fn(store)
}
