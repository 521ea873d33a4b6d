package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/srg/penlink/internal/device/goble"
)

type lineSource interface {
	ReadLine(ctx context.Context) (string, error)
}

// chooserFor prompts on a terminal and picks the strongest signal otherwise.
func chooserFor(in lineSource, out io.Writer, interactive bool) goble.Chooser {
	if !interactive {
		return goble.StrongestSignal
	}
	return promptChooser(in, out)
}

// promptChooser lists the scan candidates and reads the user's choice.
// An empty answer, "q" or the end of input dismisses the picker.
func promptChooser(in lineSource, out io.Writer) goble.Chooser {
	return func(ctx context.Context, candidates []goble.Candidate) (goble.Candidate, bool, error) {
		if len(candidates) == 0 {
			fmt.Fprintln(out, "No pens found.")
			return goble.Candidate{}, false, nil
		}

		bold := color.New(color.Bold)
		fmt.Fprintln(out, bold.Sprint("Pens in range:"))
		for i, c := range candidates {
			name := c.Name
			if name == "" {
				name = "(unnamed)"
			}
			fmt.Fprintf(out, "  %d) %-20s %s  %d dBm\n", i+1, name, c.ID, c.RSSI)
		}

		for {
			fmt.Fprintf(out, "Select a pen [1-%d, q to cancel]: ", len(candidates))

			line, err := in.ReadLine(ctx)
			if errors.Is(err, io.EOF) {
				return goble.Candidate{}, false, nil
			}
			if err != nil {
				return goble.Candidate{}, false, err
			}

			answer := strings.TrimSpace(line)
			if answer == "" || strings.EqualFold(answer, "q") {
				return goble.Candidate{}, false, nil
			}
			if n, convErr := strconv.Atoi(answer); convErr == nil && n >= 1 && n <= len(candidates) {
				return candidates[n-1], true, nil
			}
			fmt.Fprintf(out, "Invalid choice %q\n", answer)
		}
	}
}
