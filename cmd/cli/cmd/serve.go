package cmd

import (
	"github.com/spf13/cobra"

	"github.com/sizemap/internal/server"
	"github.com/sizemap/internal/service"
)

var (
	// Serve command flags
	serveAddr    string
	serveMetrics bool
	servePprof   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the analysis API over HTTP",
	Long: `Start an HTTP server exposing:
  POST   /api/analyze                      analyze the request body (gzip/zstd accepted)
  GET    /api/reports                      list stored reports
  GET    /api/reports/{id}                 one report with its entries
  DELETE /api/reports/{id}                 delete a report
  GET    /api/reports/{id}/diff/{other}    size changes between two reports
  GET    /healthz                          health check
  GET    /metrics                          Prometheus metrics

Report endpoints need database.enabled.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	binName := BinName()
	serveCmd.Example = `  # Listen on the configured address
  ` + binName + ` serve

  # Analyze a binary through the API
  curl --data-binary @./app 'http://localhost:8080/api/analyze?output=svg' > app.svg`

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default: server.addr)")
	serveCmd.Flags().BoolVar(&serveMetrics, "metrics", true, "Expose /metrics (default: server.metrics)")
	serveCmd.Flags().BoolVar(&servePprof, "pprof", false, "Expose /debug/pprof/ (default: server.pprof)")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := GetLogger()
	flags := cmd.Flags()
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if flags.Changed("metrics") {
		cfg.Server.Metrics = serveMetrics
	}
	if flags.Changed("pprof") {
		cfg.Server.Pprof = servePprof
	}

	svc, err := service.New(cfg, log)
	if err != nil {
		return err
	}
	if err := svc.Initialize(cmd.Context()); err != nil {
		return err
	}
	defer svc.Close()

	if svc.Reports() == nil {
		log.Info("Report database disabled; /api/reports answers 503")
	}
	return server.New(svc, log).ListenAndServe(cmd.Context())
}
