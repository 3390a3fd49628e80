package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// newServeCmd runs just the health/metrics surface, grounded on the
// teacher's own main.go (start an HTTP observability server, block on
// SIGINT/SIGTERM, shut down with a bounded timeout).
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the health and metrics HTTP server only",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := loadEngine()
			if err != nil {
				return err
			}
			eng.registerHealthChecks()

			srv := maybeStartObservabilityServer()
			if srv == nil {
				log.Println("http-port is 0, nothing to serve")
				return nil
			}
			log.Printf("serving health/metrics on :%d", httpPort)

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	}
}
