package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/siherrmann/newsdedup"
	"github.com/siherrmann/newsdedup/helper"
	"github.com/siherrmann/newsdedup/model"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	dryRun     bool
	jsonOutput bool
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run [company...]",
	Short: "Deduplicate, store and notify the candidates of each company",
	Long: `Run the pipeline for the given companies. Without arguments the configured
companies are used, and without configured companies every company found in the
candidates file.

With --dry-run the history is kept in memory: nothing is read from or written to
the database, so every article is only compared to its own batch.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(viper.GetViper())
		if err != nil {
			return err
		}

		var dbConfig *helper.DatabaseConfiguration
		if !dryRun {
			dbConfig, err = helper.NewDatabaseConfiguration()
			if err != nil {
				return err
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		n, err := newsdedup.New(cfg, dbConfig, newsdedup.Options{Logger: newLogger()})
		if err != nil {
			return err
		}
		defer n.Close()

		report, err := n.Run(ctx, args)
		if err != nil {
			return err
		}

		if jsonOutput {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
		} else {
			printReport(cmd.OutOrStdout(), report)
		}

		return reportError(report)
	},
}

func init() {
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "keep the history in memory, do not touch the database")
	runCmd.Flags().BoolVar(&jsonOutput, "json", false, "print the run report as JSON")
	runCmd.Flags().String("candidates", "", "candidates file (JSON)")
	runCmd.Flags().Float64("threshold", 0, "similarity threshold in (0, 1]")
	runCmd.Flags().Int("concurrency", 0, "companies processed in parallel")

	_ = viper.BindPFlag("candidates_file", runCmd.Flags().Lookup("candidates"))
	_ = viper.BindPFlag("dedup.threshold", runCmd.Flags().Lookup("threshold"))
	_ = viper.BindPFlag("company_concurrency", runCmd.Flags().Lookup("concurrency"))

	rootCmd.AddCommand(runCmd)
}

func printReport(out io.Writer, report model.RunReport) {
	bold := color.New(color.Bold)
	_, _ = bold.Fprintln(out, "Run summary")

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COMPANY\tCOLLECTED\tEMBEDDED\tNEW\tDUPLICATE\tSTORED\tFAILED\tSTATUS")
	rows := append(report.Companies, report.Totals())
	for _, c := range rows {
		status := "ok"
		switch {
		case c.Aborted && c.AbortReason != "":
			status = "aborted: " + c.AbortReason
		case c.Aborted:
			status = "aborted"
		case c.NotifyError != "":
			status = "notify failed"
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			c.Company, c.Collected, c.Embedded, c.New, c.Duplicate, c.Stored, c.Failed(), status)
	}
	_ = w.Flush()

	for _, c := range report.Companies {
		for _, warning := range c.Warnings {
			_, _ = color.New(color.FgYellow).Fprintf(out, "warning [%s]: %s\n", c.Company, warning)
		}
	}
}

// reportError turns aborted companies into a non zero exit code.
func reportError(report model.RunReport) error {
	aborted := 0
	for _, c := range report.Companies {
		if c.Aborted {
			aborted++
		}
	}
	if aborted > 0 {
		return fmt.Errorf("%d of %d companies aborted", aborted, len(report.Companies))
	}
	return nil
}
