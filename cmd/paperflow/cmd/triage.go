package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/paperflow/internal/core"
	"github.com/hugo-lorenzo-mato/paperflow/internal/workflow"
)

var triageCmd = &cobra.Command{
	Use:   "triage <paper-url>",
	Short: "Run the pipeline for a paper up to the decision point",
	Long: `Ingest a paper link, extract its metadata, run the LLM triage pass
and archive the result. The run then suspends waiting for a human
decision; resume it with 'paperflow resume'.`,
	Args: cobra.ExactArgs(1),
	RunE: runTriage,
}

var triageJSON bool

func init() {
	rootCmd.AddCommand(triageCmd)

	triageCmd.Flags().BoolVar(&triageJSON, "json", false, "emit the run as JSON")
}

func runTriage(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.Close()

	res, err := app.engine.Start(cmd.Context(), args[0], workflow.StartOptions{})
	if err != nil {
		return err
	}

	if triageJSON {
		return printJSON(res.Run)
	}

	if res.AlreadyExisted {
		fmt.Println("Run already exists, no steps executed.")
	}
	printRun(res.Run)
	if res.Prompt != nil {
		printPrompt(res.Prompt)
	}
	if res.Run.Phase == core.PhaseFailed {
		return fmt.Errorf("run %s failed: %s", res.Run.ID, res.Run.Error)
	}
	return nil
}
