package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"researchdesk/internal/transport"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// healthCmd probes the research service
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the research service is reachable",
	Long: `Calls GET /health on the configured research service and prints the
status and payload. Exits non-zero when the service is unreachable or unhealthy.`,
	Args: cobra.NoArgs,
	RunE: runHealth,
}

func runHealth(cmd *cobra.Command, args []string) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, cfg.GetHealthTimeout())
	defer cancel()

	client := newClient()
	status, err := client.Health(ctx)
	if err != nil {
		return err
	}
	return printHealth(cmd.OutOrStdout(), client.BaseURL(), status)
}

func printHealth(w io.Writer, base string, status *transport.HealthStatus) error {
	if base == "" {
		base = "(current origin)"
	}

	if status.OK {
		color.New(color.FgGreen, color.Bold).Fprintf(w, "● healthy")
	} else {
		color.New(color.FgYellow, color.Bold).Fprintf(w, "● unhealthy")
	}
	fmt.Fprintf(w, " %s (HTTP %d, %s)\n", base, status.StatusCode, status.Latency.Round(time.Millisecond))

	switch {
	case status.Payload != nil:
		data, err := json.MarshalIndent(status.Payload, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(data))
	case status.Raw != "":
		fmt.Fprintln(w, status.Raw)
	}

	if !status.OK {
		return fmt.Errorf("research service reported HTTP %d", status.StatusCode)
	}
	return nil
}
