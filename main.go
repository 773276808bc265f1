// ABOUTME: Entry point for the admin gateway
// ABOUTME: Dispatches to the serve, check and login commands

package main

import (
	"fmt"
	"os"

	"github.com/markalston/admin-gateway/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
