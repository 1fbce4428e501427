package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sizemap/internal/service"
	"github.com/sizemap/pkg/model"
	"github.com/sizemap/pkg/utils"
)

var (
	// Analyze command flags
	inputFile   string
	outputDir   string
	formats     []string
	inputFormat string
	width       float64
	height      float64
	topN        int
	simplify    bool
	upload      bool
	save        bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Break an artifact's size down by symbol namespace",
	Long: `Analyze reads an artifact's symbols, builds the namespace tree and lays it
out as a treemap. Outputs go to <output>/<report-id>/sizemap.<ext>.

Supported inputs:
  - ELF (32/64-bit, either byte order)
  - Mach-O, including universal (fat) binaries
  - PE/COFF
  - "nm -S" listings (--format nm)

Input may be a local path or storage://<key> to fetch from the configured
storage backend.`,
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	binName := BinName()
	analyzeCmd.Example = `  # Default outputs (json, html) into ./sizemap-out
  ` + binName + ` analyze -i ./app

  # All outputs, simplified C++ names, larger canvas
  ` + binName + ` analyze -i ./libfoo.so -f json,html,svg,folded,pprof,md --simplify --width 1920 --height 1080

  # Analyze an artifact from object storage and record the report
  ` + binName + ` analyze -i storage://builds/app --save --upload`

	analyzeCmd.Flags().StringVarP(&inputFile, "input", "i", "", "Artifact path or storage://<key> (required)")
	analyzeCmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output directory (default: output.dir)")
	analyzeCmd.Flags().StringSliceVarP(&formats, "formats", "f", nil, "Outputs: json,html,svg,folded,pprof,md (default: output.formats)")
	analyzeCmd.Flags().StringVar(&inputFormat, "format", "", "Input format: auto, elf, macho, pe, nm (default: extract.format)")
	analyzeCmd.Flags().Float64Var(&width, "width", 0, "Treemap width (default: layout.width)")
	analyzeCmd.Flags().Float64Var(&height, "height", 0, "Treemap height (default: layout.height)")
	analyzeCmd.Flags().IntVarP(&topN, "top", "n", 0, "Number of largest symbols to log (default: output.top_n)")
	analyzeCmd.Flags().BoolVar(&simplify, "simplify", false, "Drop template arguments from demangled names")
	analyzeCmd.Flags().BoolVar(&upload, "upload", false, "Upload outputs to storage (default: storage.upload)")
	analyzeCmd.Flags().BoolVar(&save, "save", false, "Record the report in the database")
	analyzeCmd.MarkFlagRequired("input")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	log := GetLogger()
	ctx := cmd.Context()
	flags := cmd.Flags()

	svc, err := service.New(cfg, log)
	if err != nil {
		return err
	}
	if err := svc.Initialize(ctx); err != nil {
		return err
	}
	defer svc.Close()

	popts := svc.PipelineOptions()
	if flags.Changed("format") {
		f, ok := model.ParseFormat(inputFormat)
		if !ok {
			return fmt.Errorf("unknown input format: %q", inputFormat)
		}
		popts.Format = f
	}
	if flags.Changed("width") {
		popts.Width = width
	}
	if flags.Changed("height") {
		popts.Height = height
	}
	if flags.Changed("simplify") {
		popts.Simplify = simplify
	}

	req := service.AnalyzeRequest{
		Pipeline:  popts,
		Formats:   formats,
		OutputDir: cfg.Output.Dir,
		Upload:    cfg.Storage.Upload,
		Save:      save,
	}
	if outputDir != "" {
		req.OutputDir = outputDir
	}
	if flags.Changed("upload") {
		req.Upload = upload
	}

	art, err := svc.Open(ctx, inputFile)
	if err != nil {
		return err
	}
	defer art.Close()

	log.Info("Analyzing %s (%s)", inputFile, utils.FormatBytes(uint64(art.Size())))
	res, err := svc.Analyze(ctx, art, req)
	if err != nil {
		return err
	}

	n := cfg.Output.TopN
	if flags.Changed("top") {
		n = topN
	}
	printSummary(log, res, n)
	return nil
}

func printSummary(log utils.Logger, res *service.AnalyzeResult, n int) {
	r := res.Report
	log.Info("=== Report %s ===", r.ID)
	log.Info("Format:    %s %s", r.Format, r.Arch)
	log.Info("Total:     %s", utils.FormatBytes(r.TotalSize))
	log.Info("Symbols:   %d (%d nodes, depth %d)", r.SymbolCount, r.NodeCount, r.MaxDepth)

	if top := res.Tree.Top(n); len(top) > 0 {
		log.Info("=== Largest symbols ===")
		for i, v := range top {
			log.Info("  %2d. %10s %6.2f%%  %s", i+1, utils.FormatBytes(v.Node.Size),
				utils.Percent(v.Node.Size, r.TotalSize), truncateString(v.Path.String(), 100))
		}
	}
	for _, f := range res.Files {
		log.Info("Wrote %s", f)
	}
	for _, k := range res.Keys {
		log.Info("Uploaded %s", k)
	}
}

// truncateString truncates a string to maxLen characters.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen || maxLen < 4 {
		return s
	}
	return s[:maxLen-3] + "..."
}
