package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcp-hub/mcphub-go/internal/upstream"
)

var (
	callJSONArgs string
	callTimeout  time.Duration

	serversCmd = &cobra.Command{
		Use:   "servers",
		Short: "Show all configured servers and their connection status",
		RunE:  runServers,
	}

	toolsCmd = &cobra.Command{
		Use:   "tools [server]",
		Short: "List tools exposed by one server, or by all servers",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runTools,
	}

	callCmd = &cobra.Command{
		Use:   "call <server> <tool>",
		Short: "Call a tool on a server",
		Args:  cobra.ExactArgs(2),
		RunE:  runCall,
		Example: `  # Call a tool with JSON arguments
  mcphub call github list_repos --json-args='{"owner":"myorg"}'

  # Trace the JSON-RPC exchange while calling
  mcphub call weather get_forecast --json-args='{"city":"Oslo"}' --trace-jsonrpc`,
	}

	pingCmd = &cobra.Command{
		Use:   "ping <server>",
		Short: "Check that a server answers a protocol-level ping",
		Args:  cobra.ExactArgs(1),
		RunE:  runPing,
	}
)

func init() {
	callCmd.Flags().StringVarP(&callJSONArgs, "json-args", "j", "{}", "JSON arguments for the tool")
	callCmd.Flags().DurationVar(&callTimeout, "timeout", 30*time.Second, "Tool call timeout")
}

func runServers(_ *cobra.Command, _ []string) error {
	mgr, logger, err := buildManager()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	failures := mgr.ConnectAll(ctx)
	defer mgr.DisconnectAll(context.Background())

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SERVER\tSTATUS\tTRANSPORT\tERROR")
	for _, summary := range mgr.Summaries() {
		errText := ""
		if err, ok := failures[summary.ID]; ok {
			errText = err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", summary.ID, summary.Status, summary.Transport, errText)
	}
	return w.Flush()
}

func runTools(_ *cobra.Command, args []string) error {
	mgr, logger, err := buildManager()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	defer mgr.DisconnectAll(context.Background())

	ids := mgr.ListServers()
	if len(args) == 1 {
		if !mgr.HasServer(args[0]) {
			return &upstream.UnknownServerError{ServerID: args[0]}
		}
		ids = args[:1]
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SERVER\tTOOL\tDESCRIPTION")
	for _, id := range ids {
		res, err := mgr.ListTools(ctx, id, nil)
		if err != nil {
			return fmt.Errorf("listing tools for %q: %w", id, err)
		}
		for _, tool := range res.Tools {
			fmt.Fprintf(w, "%s\t%s\t%s\n", id, tool.Name, tool.Description)
		}
	}
	return w.Flush()
}

func runCall(_ *cobra.Command, args []string) error {
	serverID, toolName := args[0], args[1]

	var toolArgs map[string]any
	if err := json.Unmarshal([]byte(callJSONArgs), &toolArgs); err != nil {
		return fmt.Errorf("invalid JSON arguments: %w", err)
	}

	mgr, logger, err := buildManager()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	defer mgr.DisconnectAll(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	res, err := mgr.ExecuteTool(ctx, serverID, toolName, toolArgs)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runPing(_ *cobra.Command, args []string) error {
	mgr, logger, err := buildManager()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	defer mgr.DisconnectAll(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	if err := mgr.Ping(ctx, args[0]); err != nil {
		return fmt.Errorf("ping %q: %w", args[0], err)
	}
	fmt.Printf("%s: ok (%s)\n", args[0], time.Since(start).Round(time.Millisecond))
	return nil
}
