// ABOUTME: Login command verifying credentials end to end through the gateway
// ABOUTME: Signs in, resolves the current user via the cookie session, then signs out

package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/markalston/admin-gateway/internal/client"
)

var (
	loginAccount  string
	loginPassword string
	keepSession   bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Verify a login round trip through the gateway",
	Long: `Sign in through the gateway, fetch the current user with the session
cookies, and sign out again.

Missing --account or --password values are prompted for interactively.

Exit codes:
  0 - Login and identity lookup succeeded
  1 - Credentials were rejected
  2 - Error (gateway unreachable, invalid response, prompt aborted)`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		if exitCode := runLogin(ctx, os.Stdout); exitCode != 0 {
			os.Exit(exitCode)
		}
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
	loginCmd.Flags().StringVar(&loginAccount, "account", "", "Account name")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "Password (prompted when omitted)")
	loginCmd.Flags().BoolVar(&keepSession, "keep-session", false, "Skip the logout at the end")
}

// promptCredentials asks for whichever credential is missing
var promptCredentials = func(account, password *string) error {
	var fields []huh.Field
	if *account == "" {
		fields = append(fields, huh.NewInput().
			Title("Account").
			Value(account).
			Validate(requireValue("account")))
	}
	if *password == "" {
		fields = append(fields, huh.NewInput().
			Title("Password").
			EchoMode(huh.EchoModePassword).
			Value(password).
			Validate(requireValue("password")))
	}
	if len(fields) == 0 {
		return nil
	}
	return huh.NewForm(huh.NewGroup(fields...)).Run()
}

func requireValue(name string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", name)
		}
		return nil
	}
}

// loginReport is the JSON form of a successful round trip
type loginReport struct {
	Account string          `json:"account"`
	User    json.RawMessage `json:"user"`
	Logout  bool            `json:"logged_out"`
}

// runLogin performs the round trip and returns the exit code
func runLogin(ctx context.Context, w io.Writer) int {
	account, password := loginAccount, loginPassword
	if err := promptCredentials(&account, &password); err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return 2
	}

	c := client.New(GetGatewayURL())

	if _, err := c.Login(ctx, account, password); err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && apiErr.Status < 500 {
			return 1
		}
		return 2
	}

	user, err := c.Me(ctx)
	if err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return 2
	}

	report := loginReport{Account: account, User: user.Raw}
	if !keepSession {
		if err := c.Logout(ctx); err != nil {
			fmt.Fprintf(w, "Warning: logout failed: %v\n", err)
		} else {
			report.Logout = true
		}
	}

	if IsJSONOutput() {
		data, _ := json.MarshalIndent(report, "", "  ")
		fmt.Fprintln(w, string(data))
		return 0
	}

	fmt.Fprintln(w, title.Render("Signed in as "+displayName(user, account)))
	fmt.Fprintln(w, row("user", string(user.Raw)))
	if report.Logout {
		fmt.Fprintln(w, row("session", statusText("ok")+" (signed out)"))
	}
	return 0
}

func displayName(u *client.User, fallback string) string {
	if name := u.DisplayName(); name != "" {
		return name
	}
	return fallback
}
