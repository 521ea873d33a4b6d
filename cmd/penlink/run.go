package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/penlink/internal/connmgr"
	"github.com/srg/penlink/internal/groutine"
	"github.com/srg/penlink/internal/resume"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Stay connected to the remembered pen",
	Long: `Connect to the remembered pen and keep the link alive until interrupted.

The connection is retried silently on startup, after link loss, every retry
interval, and whenever the process resumes (SIGCONT, SIGUSR1, or a system wake
reported by systemd-logind). When the pen cannot be found silently, penlink
asks before scanning again.

Interactive commands (followed by Enter):
  r      reconnect, scanning for the pen if needed
  c      pair with a new pen
  d      disconnect; automatic reconnection pauses until r or c
  q      quit
  Enter  nudge a silent reconnect`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().Bool("no-input", false, "Do not read commands from stdin")
}

func runRun(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	noInput, _ := cmd.Flags().GetBool("no-input")
	interactive := !noInput && isTerminal(os.Stdin)
	var in *console
	if interactive {
		in = newConsole(ctx, cmd.InOrStdin())
	}

	a, err := newApp(cmd, chooserFor(in, cmd.OutOrStdout(), interactive))
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	mgr := a.manager()
	nudge := resume.NewBroadcaster()
	mgr.AttachResumeSource(nudge)
	closeSources := attachResumeSources(mgr, a.cfg.ResumeSignals, a.cfg.Logind, a.logger)
	defer closeSources()

	renderCtx, stopRender := context.WithCancel(ctx)
	renderer := NewRenderer(cmd.OutOrStdout(), interactive, isTerminal(os.Stdout))
	updates := mgr.Watch(renderCtx)
	rendered := make(chan struct{})
	groutine.Go(renderCtx, "penlink-render", func(context.Context) {
		defer close(rendered)
		for snap := range updates {
			renderer.Render(snap)
		}
	})
	defer func() {
		stopRender()
		<-rendered
	}()

	if err := mgr.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := mgr.Stop(); err != nil {
			a.logger.WithError(err).Warn("Failed to stop connection manager")
		}
	}()

	if !interactive {
		<-ctx.Done()
		return nil
	}
	return handleInput(ctx, in, mgr, nudge, a.logger)
}

// handleInput executes commands until ctx ends or the user quits. Commands
// run synchronously so a picker opened by r or c owns the input meanwhile.
func handleInput(ctx context.Context, in lineSource, mgr *connmgr.Manager, nudge *resume.Broadcaster, logger *logrus.Logger) error {
	for {
		line, err := in.ReadLine(ctx)
		switch {
		case errors.Is(err, io.EOF):
			// Input closed; keep running until interrupted.
			<-ctx.Done()
			return nil
		case errors.Is(err, context.Canceled):
			return nil
		case err != nil:
			return err
		}

		switch strings.ToLower(strings.TrimSpace(line)) {
		case "":
			nudge.Resume()
		case "r":
			mgr.ReconnectManually(ctx)
		case "c":
			if err := mgr.Connect(ctx); err != nil {
				logger.WithError(err).Info("Pairing did not complete")
			}
		case "d":
			if err := mgr.Disconnect(); err != nil {
				logger.WithError(err).Warn("Disconnect failed")
			}
		case "q":
			return nil
		default:
			logger.WithField("input", line).Debug("Unknown command")
		}
	}
}

// attachResumeSources wires process signals and, on Linux, logind wake-ups.
// The returned function releases what was opened.
func attachResumeSources(mgr *connmgr.Manager, signalNames []string, logind bool, logger *logrus.Logger) func() {
	var closers []func()

	if len(signalNames) > 0 {
		if sigs, err := resume.SignalsByName(signalNames...); err != nil {
			logger.WithError(err).Warn("Ignoring resume signals")
		} else {
			mgr.AttachResumeSource(resume.NewSignalSource(logger, sigs...))
		}
	}

	if logind && runtime.GOOS == "linux" {
		src, err := resume.NewLogindSource(logger)
		if err != nil {
			logger.WithError(err).Info("System sleep notifications unavailable")
		} else {
			mgr.AttachResumeSource(src)
			closers = append(closers, func() { _ = src.Close() })
		}
	}

	return func() {
		for _, c := range closers {
			c()
		}
	}
}
