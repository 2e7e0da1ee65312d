package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/virtworld/entityd/pkg/log"
	"github.com/virtworld/entityd/pkg/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the entity store and event bus as a long-lived process",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		application, err := newApp(cfg)
		if err != nil {
			return fmt.Errorf("start: %w", err)
		}
		application.start()

		metrics.SetVersion(Version)
		metrics.RegisterComponent("store", true, "")
		metrics.RegisterComponent("updatemgr", true, "")
		metrics.RegisterComponent("eventbus", true, "")

		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/health", metrics.HealthHandler())
		mux.HandleFunc("/ready", metrics.ReadyHandler())
		mux.HandleFunc("/live", metrics.LivenessHandler())
		go func() {
			log.WithComponent("serve").Info().Str("addr", metricsAddr).Msg("metrics/health server listening")
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.WithComponent("serve").Error().Err(err).Msg("metrics server stopped")
			}
		}()

		fmt.Printf("entityd running, data dir %s\n", cfg.DB.DataDir)
		fmt.Println("Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\nShutting down...")
		application.stop()
		fmt.Println("✓ shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "address to serve Prometheus metrics on")
}
