package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mcp-hub/mcphub-go/internal/config"
	"github.com/mcp-hub/mcphub-go/internal/logs"
	"github.com/mcp-hub/mcphub-go/internal/upstream"
)

var (
	configPath   string
	logLevel     string
	logToFile    bool
	logDir       string
	traceJSONRPC bool

	version = "v0.1.0" // injected by -ldflags during release builds
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "mcphub",
		Short:   "Multi-server MCP client hub - connect, discover, and call tools across MCP servers",
		Version: version,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Configuration file path (default: ~/.mcphub/mcphub.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logToFile, "log-to-file", false, "Also write logs to a rotated file")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Custom log directory path")
	rootCmd.PersistentFlags().BoolVar(&traceJSONRPC, "trace-jsonrpc", false, "Log every JSON-RPC message exchanged with servers")

	rootCmd.AddCommand(serversCmd, toolsCmd, callCmd, pingCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// buildManager loads the configuration file and assembles a manager with the
// CLI's logging settings.
func buildManager() (*upstream.Manager, *zap.Logger, error) {
	logger, err := logs.SetupCommandLogger(logLevel, logToFile, logDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logging: %w", err)
	}

	file, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	configs, err := file.ServerConfigs()
	if err != nil {
		return nil, nil, err
	}

	opts := &config.ManagerOptions{
		DefaultClientName: "mcphub",
		DefaultLogJSONRPC: traceJSONRPC,
	}
	mgr, err := upstream.NewManager(configs, opts, logger)
	if err != nil {
		return nil, nil, err
	}
	return mgr, logger, nil
}
