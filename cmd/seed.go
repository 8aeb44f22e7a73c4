package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goinbox/internal/bootstrap"
	"github.com/nextlevelbuilder/goinbox/internal/config"
	"github.com/nextlevelbuilder/goinbox/internal/store/pg"
)

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed tenants, agents and bridge connections",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "example",
		Short: "Print an example seed file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := bootstrap.Example()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "apply <file>",
		Short: "Apply a seed file to the Postgres database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			setupLogging(cfg.LogFormat)
			sc := cfg.StoreConfig()
			if sc.PostgresDSN == "" {
				fmt.Fprintln(os.Stderr, "in-memory gateways are seeded with `goinbox --seed <file>` instead")
				return fmt.Errorf("GOINBOX_POSTGRES_DSN environment variable is not set")
			}
			stores, err := pg.NewPGStores(sc)
			if err != nil {
				return err
			}
			defer stores.Close()
			return bootstrap.SeedFile(context.Background(), stores, args[0])
		},
	})
	return cmd
}
