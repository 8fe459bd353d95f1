package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/bureau-cli/internal/monitoring"
	"github.com/sells-group/bureau-cli/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the report API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		env, err := initPipeline(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		mon := cfg.Monitoring
		collector := monitoring.NewCollector(env.Store, env.Pipeline.Breakers(),
			time.Duration(mon.StuckAfterMins)*time.Minute)
		if mon.WebhookURL != "" {
			checker := monitoring.NewChecker(collector, monitoring.NewAlerter(mon), mon)
			go checker.Run(ctx)
		}

		srv := server.New(env.Store, env.Pipeline,
			server.WithBreakers(env.Pipeline.Breakers()),
			server.WithMetrics(collector, mon.LookbackWindowHours),
			server.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		)
		return srv.ListenAndServe(ctx, cfg.Server.Port)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
