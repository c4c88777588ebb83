package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shuttlehq/shuttle/pkg/connector"
	"github.com/shuttlehq/shuttle/pkg/connector/fs"
	"github.com/shuttlehq/shuttle/pkg/log"
)

var connectorCmd = &cobra.Command{
	Use:   "connector",
	Short: "Run a connector worker",
	Long: `Run a connector worker process. The worker serves the connector
protocol and reports back to the coordinator over the SDK surface.`,
	RunE: runConnector,
}

func init() {
	connectorCmd.Flags().String("type", "files", "Connector type to run")
	connectorCmd.Flags().String("listen", ":7710", "HTTP listen address")
	connectorCmd.Flags().String("coordinator", "http://localhost:7700", "Coordinator base URL")
	connectorCmd.Flags().String("log-level", "info", "Log level")
	connectorCmd.Flags().Bool("log-json", false, "Log as JSON")
}

func runConnector(cmd *cobra.Command, args []string) error {
	connectorType, _ := cmd.Flags().GetString("type")
	listen, _ := cmd.Flags().GetString("listen")
	coordinatorURL, _ := cmd.Flags().GetString("coordinator")
	logLevel, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")

	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})

	var impl connector.Connector
	switch connectorType {
	case "files":
		impl = fs.New()
	default:
		return fmt.Errorf("unknown connector type %q", connectorType)
	}

	rt := connector.NewRuntime(connector.RuntimeConfig{
		ListenAddr:     listen,
		CoordinatorURL: coordinatorURL,
	}, impl)

	errCh := make(chan error, 1)
	go func() {
		errCh <- rt.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.WithComponent("main").Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("worker server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return rt.Stop(shutdownCtx)
}
