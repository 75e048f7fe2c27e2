package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/paperflow/internal/core"
	"github.com/hugo-lorenzo-mato/paperflow/internal/workflow"
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show one run or list all runs",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

var statusJSON bool

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "emit JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.Close()

	if len(args) == 1 {
		run, err := app.engine.Status(cmd.Context(), core.RunID(args[0]))
		if err != nil {
			return err
		}
		if statusJSON {
			return printJSON(run)
		}
		printRun(run)
		if run.Phase == core.PhaseWaitingDecision {
			prompt := workflow.BuildDecisionPrompt(run)
			printPrompt(&prompt)
		}
		return nil
	}

	summaries, err := app.engine.List(cmd.Context())
	if err != nil {
		return err
	}
	if statusJSON {
		return printJSON(summaries)
	}

	if len(summaries) == 0 {
		fmt.Println("No runs.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tPHASE\tTITLE\tUPDATED")
	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			s.ID, s.Phase, s.Title, s.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}
