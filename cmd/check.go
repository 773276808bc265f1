// ABOUTME: Check command probing a running gateway
// ABOUTME: Reports gateway and upstream health with exit codes for scripts and probes

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/markalston/admin-gateway/internal/client"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check gateway and upstream health",
	Long: `Check that the gateway is serving and can reach its upstream.

Exit codes:
  0 - Gateway and upstream are reachable
  1 - Gateway is serving but the upstream is unreachable
  2 - Error (gateway unreachable or invalid response)`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		if exitCode := runCheck(ctx, os.Stdout); exitCode != 0 {
			os.Exit(exitCode)
		}
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

// checkReport is the outcome of one health probe
type checkReport struct {
	Gateway  string `json:"gateway"`
	Upstream string `json:"upstream"`
	URL      string `json:"url"`
}

// runCheck probes the gateway and returns the exit code
func runCheck(ctx context.Context, w io.Writer) int {
	url := GetGatewayURL()
	c := client.New(url)

	status, err := c.Health(ctx)
	if err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return 2
	}

	report := checkReport{Gateway: "ok", Upstream: status.Upstream, URL: url}
	if IsJSONOutput() {
		fmt.Fprintln(w, formatCheckJSON(report))
	} else {
		fmt.Fprintln(w, formatCheckHuman(report))
	}

	if report.Upstream != "ok" {
		return 1
	}
	return 0
}

func formatCheckHuman(r checkReport) string {
	return title.Render("Gateway "+r.URL) + "\n" +
		row("gateway", statusText(r.Gateway)) + "\n" +
		row("upstream", statusText(r.Upstream))
}

func formatCheckJSON(r checkReport) string {
	data, _ := json.MarshalIndent(r, "", "  ")
	return string(data)
}
