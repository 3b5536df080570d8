// cartctl is a CLI for driving a running cartd.
// Each command performs a single operation, making it composable for scripts.
//
// Examples:
//
//	cartctl add 60 --qty 2
//	cartctl login --email ada@example.com
//	cartctl gate && cartctl checkout
//	cartctl watch
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Global flags (apply to all commands)
var (
	daemonURL string
	quiet     bool
	noColor   bool
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "cartctl",
	Short: "Drive the storefront cart daemon",
	Long: `cartctl talks to a running cartd over its local HTTP API.

Cart commands print the cart after the change. Exit status is non-zero when
the daemon rejects the request, so 'cartctl gate' can guard a script.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor || os.Getenv("NO_COLOR") != "" {
			disableColors()
		}
	},
}

func init() {
	defaultURL := os.Getenv("CARTD_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8420"
	}

	rootCmd.PersistentFlags().StringVar(&daemonURL, "daemon", defaultURL, "cartd base URL (env CARTD_URL)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "print only essential output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print raw responses")

	rootCmd.AddCommand(
		showCmd, addCmd, updateCmd, removeCmd, clearCmd, refreshCmd,
		gateCmd, checkoutCmd, completeCmd,
		loginCmd, logoutCmd, sessionCmd,
		watchCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
