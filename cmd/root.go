// ABOUTME: Root command for the admin-gateway binary
// ABOUTME: Handles global flags for the operator commands

package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	gatewayURL string
	jsonOutput bool
)

const defaultGatewayURL = "http://localhost:8080"

// rootCmd is the base command
var rootCmd = &cobra.Command{
	Use:   "admin-gateway",
	Short: "Same-origin auth gateway for the admin console",
	Long: `admin-gateway sits between the admin console and the backend API.

It keeps the backend's access and refresh tokens in httpOnly cookies, forwards
/api requests with the bearer attached, and refreshes expired sessions once
per request.

Commands other than serve talk to a running gateway.

Environment Variables:
  ADMIN_GATEWAY_URL  Gateway URL for check and login (default: http://localhost:8080)
  UPSTREAM_BASE_URL  Backend API URL for serve (required)`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&gatewayURL, "gateway-url", "", "Gateway URL (overrides ADMIN_GATEWAY_URL)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output JSON instead of human-readable text")
}

// GetGatewayURL returns the gateway URL from flag, env, or default (in priority order)
func GetGatewayURL() string {
	if gatewayURL != "" {
		return gatewayURL
	}
	if envURL := os.Getenv("ADMIN_GATEWAY_URL"); envURL != "" {
		return envURL
	}
	return defaultGatewayURL
}

// IsJSONOutput returns whether JSON output is requested
func IsJSONOutput() bool {
	return jsonOutput
}
