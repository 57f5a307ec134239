package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/datavet-io/datavet"
	"github.com/spf13/cobra"
)

var (
	configPath string
	serveHost  string
	servePort  int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the validation engine with its HTTP API",
	Long: `Run the engine as a long-lived service exposing the HTTP API:
statistics computation, schema inference and adoption, validation runs,
run history, and a websocket event stream.

Examples:
  datavet serve
  datavet serve --config datavet.yaml
  datavet serve --config datavet.yaml --port 9090`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen address override")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Listen port override")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := datavet.DefaultConfig()
	if configPath != "" {
		var err error
		cfg, err = datavet.LoadConfig(configPath)
		if err != nil {
			return err
		}
	}
	cfg.HTTP.Enabled = true
	if serveHost != "" {
		cfg.HTTP.Host = serveHost
	}
	if servePort != 0 {
		cfg.HTTP.Port = servePort
	}

	engine, err := datavet.Open(cfg)
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}

	host := cfg.HTTP.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	fmt.Printf("datavet %s serving on http://%s:%d\n", version, host, cfg.HTTP.Port)
	fmt.Printf("schema version %d, press Ctrl+C to stop\n", engine.Schemas().Version())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nshutting down...")
	return engine.Close()
}
