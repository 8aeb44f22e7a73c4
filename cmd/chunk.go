package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goinbox/internal/agent"
	"github.com/nextlevelbuilder/goinbox/internal/store"
)

// chunkCmd previews how a reply would be split and paced. Handy when tuning
// maxChunks and responseDelayMs for an agent.
func chunkCmd() *cobra.Command {
	var (
		maxChunks int
		delayMs   int
		typing    bool
	)
	cmd := &cobra.Command{
		Use:   "chunk",
		Short: "Split a reply read from stdin into the fragments the agent would send",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			reply := agent.SanitizeReply(string(data))
			if strings.TrimSpace(reply) == "" {
				return fmt.Errorf("empty reply")
			}

			settings := store.DefaultBehaviorSettings(uuid.Nil)
			settings.MaxChunks = maxChunks
			settings.ResponseDelayMs = delayMs
			settings.TypingSimulation = typing
			if err := agent.ValidateSettings(&settings); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for i, frag := range agent.ChunkReply(reply, settings.MaxChunks) {
				wait := agent.FragmentDelay(settings, frag, i == 0)
				fmt.Fprintf(out, "--- fragment %d (after %s, %d chars)\n%s\n", i+1, wait, len([]rune(frag)), frag)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxChunks, "max", 3, "maximum number of fragments")
	cmd.Flags().IntVar(&delayMs, "delay-ms", 1500, "response delay before the first fragment")
	cmd.Flags().BoolVar(&typing, "typing", true, "add simulated typing time per fragment")
	return cmd
}
