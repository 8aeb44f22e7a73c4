package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goinbox/pkg/protocol"
)

// Version is set at build time via -ldflags "-X github.com/nextlevelbuilder/goinbox/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile  string
	seedFile string
	verbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "goinbox",
	Short: "goinbox: automated reply runtime for a multi-tenant inbox",
	Long:  "goinbox runs the automated agent behind a shared inbox: it receives WhatsApp bridge webhooks and operator messages, and answers contacts in paced, human-sized fragments until a human takes over.",
	Run: func(cmd *cobra.Command, args []string) {
		runGateway()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: goinbox.json5 or $GOINBOX_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.Flags().StringVar(&seedFile, "seed", "", "json5 file of tenants and connections to seed on start")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(chunkCmd())
	rootCmd.AddCommand(seedCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("goinbox %s (protocol %d)\n", Version, protocol.ProtocolVersion)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("GOINBOX_CONFIG"); v != "" {
		return v
	}
	return "goinbox.json5"
}

// setupLogging installs the default slog handler. format "json" selects
// JSON output; anything else is text.
func setupLogging(format string) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if format == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h))
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
