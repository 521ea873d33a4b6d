package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/srg/penlink/internal/store"
)

// pairCmd represents the pair command
var pairCmd = &cobra.Command{
	Use:   "pair",
	Short: "Pick a pen and remember it",
	Long: `Scan for pens advertising the pen service, let you pick one and connect to it.

The chosen pen is remembered so that 'penlink run' can reconnect to it without
asking. Without a terminal the pen with the strongest signal is chosen.`,
	Args: cobra.NoArgs,
	RunE: runPair,
}

func runPair(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	interactive := isTerminal(os.Stdin)
	var in lineSource
	if interactive {
		in = newConsole(ctx, cmd.InOrStdin())
	}
	a, err := newApp(cmd, chooserFor(in, cmd.OutOrStdout(), interactive))
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Scanning for pens (%s)...\n", a.cfg.ScanTimeout)

	mgr := a.manager()
	if err := mgr.Connect(ctx); err != nil {
		return err
	}

	NewRenderer(out, false, isTerminal(os.Stdout)).Render(mgr.State())
	if info, ok, err := store.LoadDeviceInfo(a.store); err == nil && ok {
		fmt.Fprintf(out, "Remembered %s (%s) in %s\n", info.Name, info.ID, a.store.Path())
	}

	// pair only proves the link works; 'run' keeps it.
	return mgr.Disconnect()
}
