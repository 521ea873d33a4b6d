package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/srg/penlink/internal/connmgr"
)

// Renderer prints one line per distinct view of the manager state.
type Renderer struct {
	out         io.Writer
	interactive bool

	ok   *color.Color
	busy *color.Color
	warn *color.Color
	idle *color.Color

	last string
}

// NewRenderer writes to out. Interactive renderers append the key hints of
// the run command; colors are used only when useColor is set.
func NewRenderer(out io.Writer, interactive, useColor bool) *Renderer {
	r := &Renderer{
		out:         out,
		interactive: interactive,
		ok:          color.New(color.FgGreen, color.Bold),
		busy:        color.New(color.FgYellow),
		warn:        color.New(color.FgRed),
		idle:        color.New(color.Faint),
	}
	for _, c := range []*color.Color{r.ok, r.busy, r.warn, r.idle} {
		if useColor {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return r
}

// View returns the text for a snapshot.
func (r *Renderer) View(s connmgr.Snapshot) string {
	switch {
	case s.State == connmgr.Connected && s.Device != nil:
		return r.ok.Sprintf("Connected to: %s", displayName(s.Device))
	case s.Busy:
		return r.busy.Sprint("Attempting to reconnect...")
	case s.State == connmgr.AwaitingUserConfirmation:
		msg := r.warn.Sprint("Connection lost. Would you like to reconnect?")
		if r.interactive {
			msg += " [r] Reconnect"
		}
		return msg
	default:
		if r.interactive {
			return r.idle.Sprint("Not connected.") + " [c] Connect to Device"
		}
		return r.idle.Sprint("Not connected.")
	}
}

// Render prints the view of s unless it equals the previous one.
func (r *Renderer) Render(s connmgr.Snapshot) {
	view := r.View(s)
	if view == r.last {
		return
	}
	r.last = view
	fmt.Fprintln(r.out, view)
}

func displayName(d *connmgr.DeviceRef) string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}
