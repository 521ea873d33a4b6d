package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

// Set by the release build through -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion renders release numbers as v1.2.3 and leaves names like dev alone.
func formatVersion(ver string) string {
	if ver != "" && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

var rootCmd = &cobra.Command{
	Use:   "penlink",
	Short: "Keep a BLE smart pen connected",
	Long: `penlink pairs with a BLE smart pen and keeps the link alive.

Pair once with 'penlink pair', then 'penlink run' reconnects on its own after
link loss, system wake-up and every retry interval. When the pen cannot be
found silently it asks before scanning again.`,
	Version:       formatVersion(version),
	SilenceErrors: true,
}

func main() {
	err := rootCmd.Execute()
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return
	default:
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("penlink {{.Version}} (commit %s, built %s)\n", commit, date))
	rootCmd.AddCommand(pairCmd, runCmd, statusCmd, forgetCmd)

	flags := rootCmd.PersistentFlags()
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.BoolP("verbose", "V", false, "Shorthand for --log-level debug")
	flags.String("config", "", "YAML configuration file")
	flags.String("store", "", "State file holding the remembered pen (default: user config dir)")

	rootCmd.Flags().BoolP("version", "v", false, "Print the penlink version")
}
