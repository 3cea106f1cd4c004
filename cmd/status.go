package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gantry-app/gantry/internal/bridge"
)

const statusUsage = `Usage: gantry status [options]

Queries a running shell for its state.

Options:
  --addr <host:port>   Bridge address (default: 127.0.0.1:7171)
  --json               Output in JSON format
`

func runStatus(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	addr := fs.String("addr", "127.0.0.1:7171", "Bridge address")
	jsonOutput := fs.Bool("json", false, "Output in JSON format")
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, statusUsage) }
	if err := fs.Parse(args); err != nil {
		return 1
	}

	resp, err := statusGet(*addr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		enc.Encode(resp)
		return 0
	}

	fmt.Fprintf(stdout, "Bridge: %s (%d clients, up %ds)\n",
		resp.ListeningAddress, resp.ConnectedClients, resp.UptimeSeconds)
	fmt.Fprintf(stdout, "Backend: %s", resp.Backend.State)
	if resp.Backend.Port != 0 {
		fmt.Fprintf(stdout, ", port %d", resp.Backend.Port)
	}
	if resp.Backend.PID != 0 {
		fmt.Fprintf(stdout, ", pid %d", resp.Backend.PID)
	}
	fmt.Fprintf(stdout, ", %d restarts\n", resp.Backend.Restarts)

	if len(resp.RecentRuns) > 0 {
		fmt.Fprintf(stdout, "\nRecent runs:\n")
		for _, r := range resp.RecentRuns {
			line := fmt.Sprintf("  %s  pid %d", r.ID, r.PID)
			if r.Port != 0 {
				line += fmt.Sprintf("  port %d", r.Port)
			}
			if r.ExitCode != nil {
				line += fmt.Sprintf("  exit %d", *r.ExitCode)
			} else {
				line += "  running"
			}
			fmt.Fprintln(stdout, line)
		}
	}

	return 0
}

func statusGet(addr string) (*bridge.StatusResponse, error) {
	client := &http.Client{Timeout: 10 * time.Second}

	url := fmt.Sprintf("http://%s/status", addr)
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("shell returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result bridge.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &result, nil
}
