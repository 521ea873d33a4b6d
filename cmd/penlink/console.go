package main

import (
	"bufio"
	"context"
	"io"
	"os"

	"github.com/srg/penlink/internal/groutine"
	"golang.org/x/term"
)

// isTerminal reports whether f is an interactive terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// console pumps input lines from one goroutine so the picker and the key
// handler never read the stream concurrently.
type console struct {
	lines chan string
}

func newConsole(ctx context.Context, in io.Reader) *console {
	c := &console{lines: make(chan string)}
	groutine.Go(ctx, "penlink-console", func(ctx context.Context) {
		defer close(c.lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case c.lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	})
	return c
}

// ReadLine returns the next line, io.EOF once input is exhausted, or the
// context error.
func (c *console) ReadLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-c.lines:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	}
}
