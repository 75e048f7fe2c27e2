package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/paperflow/internal/core"
	"github.com/hugo-lorenzo-mato/paperflow/internal/workflow"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id> <decision>",
	Short: "Apply a decision to a suspended run",
	Long: `Resume a run waiting at the decision point. The decision is one of
deep_read, skim or drop. deep_read generates a reading note and a
knowledge-base document; skim and drop just record the outcome.`,
	Args: cobra.ExactArgs(2),
	RunE: runResume,
}

var (
	resumeTags    []string
	resumeComment string
	resumeJSON    bool
)

func init() {
	rootCmd.AddCommand(resumeCmd)

	resumeCmd.Flags().StringSliceVar(&resumeTags, "tags", nil,
		"tags to record (default: the triage suggestions)")
	resumeCmd.Flags().StringVar(&resumeComment, "comment", "", "reviewer comment")
	resumeCmd.Flags().BoolVar(&resumeJSON, "json", false, "emit the run as JSON")
}

func runResume(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.Close()

	run, err := app.engine.Resume(cmd.Context(), core.RunID(args[0]), workflow.ResumeInput{
		Decision: args[1],
		Tags:     resumeTags,
		Comment:  resumeComment,
	})
	if err != nil {
		return err
	}

	if resumeJSON {
		return printJSON(run)
	}

	printRun(run)
	if run.Phase == core.PhaseFailed {
		return fmt.Errorf("run %s failed: %s", run.ID, run.Error)
	}
	return nil
}
