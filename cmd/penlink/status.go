package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/penlink/internal/store"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the remembered pen",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

// forgetCmd represents the forget command
var forgetCmd = &cobra.Command{
	Use:   "forget",
	Short: "Forget the remembered pen",
	Long: `Delete the remembered pen and its authorization. The next 'penlink run'
will not reconnect until a pen is paired again.`,
	Args: cobra.NoArgs,
	RunE: runForget,
}

func init() {
	statusCmd.Flags().StringP("format", "f", "text", "Output format (text, json)")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("format")
	if format != "text" && format != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [text json]", format)
	}

	a, err := newApp(cmd, nil)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	info, ok, err := store.LoadDeviceInfo(a.store)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if format == "json" {
		var v any
		if ok {
			v = info
		}
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode status: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	if !ok {
		fmt.Fprintln(out, "No pen paired.")
		return nil
	}
	fmt.Fprintf(out, "Remembered pen: %s (%s)\n", info.Name, info.ID)
	fmt.Fprintf(out, "State file:     %s\n", a.store.Path())
	return nil
}

func runForget(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd, nil)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	info, ok, err := store.LoadDeviceInfo(a.store)
	if err != nil {
		a.logger.WithError(err).Warn("Stored pen is unreadable, removing it")
	}
	if !ok && err == nil {
		return ErrNothingPaired
	}

	if ok {
		if err := a.registry.Revoke(info.ID); err != nil {
			return fmt.Errorf("revoke %s: %w", info.ID, err)
		}
	}
	if err := store.ForgetDeviceInfo(a.store); err != nil {
		return err
	}

	if ok {
		fmt.Fprintf(cmd.OutOrStdout(), "Forgot %s (%s)\n", info.Name, info.ID)
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "Removed unreadable pen record")
	}
	return nil
}
