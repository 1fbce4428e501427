package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sizemap/internal/repository"
	"github.com/sizemap/internal/service"
	apperrors "github.com/sizemap/pkg/errors"
	"github.com/sizemap/pkg/model"
	"github.com/sizemap/pkg/utils"
)

var (
	// History command flags
	historyLimit    int
	historyArtifact string
	historyDiff     bool
	historyDepth    int
)

var historyCmd = &cobra.Command{
	Use:   "history [--diff <before-id> <after-id>]",
	Short: "List stored reports or compare two of them",
	Long: `History lists the reports recorded by "analyze --save", newest first.

With --diff it compares the entries of two reports down to --depth and prints
the paths whose size changed, largest change first.`,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "Maximum number of reports to list")
	historyCmd.Flags().StringVar(&historyArtifact, "artifact", "", "Only list reports of this artifact")
	historyCmd.Flags().BoolVar(&historyDiff, "diff", false, "Compare two reports given as arguments")
	historyCmd.Flags().IntVar(&historyDepth, "depth", 1, "Entry depth to compare; 0 compares every stored entry")
}

func runHistory(cmd *cobra.Command, args []string) error {
	if historyDiff && len(args) != 2 {
		return apperrors.New(apperrors.CodeInvalidInput, "--diff needs exactly two report IDs")
	}
	if !historyDiff && len(args) != 0 {
		return apperrors.New(apperrors.CodeInvalidInput, "unexpected arguments; did you mean --diff?")
	}

	svc, err := service.New(cfg, GetLogger())
	if err != nil {
		return err
	}
	if err := svc.Initialize(cmd.Context()); err != nil {
		return err
	}
	defer svc.Close()

	if historyDiff {
		deltas, err := svc.Diff(cmd.Context(), args[0], args[1], historyDepth)
		if err != nil {
			return err
		}
		return printDiff(cmd.OutOrStdout(), deltas)
	}

	repo := svc.Reports()
	if repo == nil {
		return apperrors.New(apperrors.CodeConfigError, "the report database is disabled (set database.enabled)")
	}
	reports, err := repo.List(cmd.Context(), repository.ListOptions{Artifact: historyArtifact, Limit: historyLimit})
	if err != nil {
		return err
	}
	return printReports(cmd.OutOrStdout(), reports)
}

func printReports(w io.Writer, reports []*model.Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tARTIFACT\tFORMAT\tSIZE\tSYMBOLS")
	for _, r := range reports {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n", r.ID, r.CreatedAt.Local().Format(time.DateTime),
			r.Artifact, r.Format, utils.FormatBytes(r.TotalSize), r.SymbolCount)
	}
	return tw.Flush()
}

func printDiff(w io.Writer, deltas []model.EntryDelta) error {
	if len(deltas) == 0 {
		_, err := fmt.Fprintln(w, "No size changes.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "DELTA\tBEFORE\tAFTER\t PATH")
	for _, d := range deltas {
		fmt.Fprintf(tw, "%+d\t%d\t%d\t %s\n", d.Delta, d.Before, d.After, d.Path)
	}
	return tw.Flush()
}
