package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/paperflow/internal/core"
)

var thoughtsCmd = &cobra.Command{
	Use:   "thoughts <run-id> <text>...",
	Short: "Append reader thoughts to a run's reading document",
	Long: `Record your thoughts on a paper after reading it. The text is
appended to the reading document created by a deep_read decision, so
the run must have finished the deep-read branch.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runThoughts,
}

func init() {
	rootCmd.AddCommand(thoughtsCmd)
}

func runThoughts(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.Close()

	run, err := app.engine.AddThoughts(cmd.Context(),
		core.RunID(args[0]), strings.Join(args[1:], " "))
	if err != nil {
		return err
	}

	fmt.Printf("Thoughts recorded for %q (run %s).\n",
		run.Payload.GetString(core.KeyTitle), run.ID)
	return nil
}
