package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kalambet/paramsync/internal/paramsync"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// statusOut receives human-oriented status lines. Command data (tables,
// exports) goes to stdout so it can be piped.
var statusOut io.Writer = os.Stderr

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func emit(color, mark, format string, args ...any) {
	fmt.Fprintln(statusOut, colorize(color, mark+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { emit(colorGreen, "✓", format, args...) }

func printError(format string, args ...any) { emit(colorRed, "✗", format, args...) }

func printWarning(format string, args ...any) { emit(colorYellow, "⚠", format, args...) }

func printStep(format string, args ...any) { emit(colorCyan, "→", format, args...) }

func printStatus(label string, format string, args ...any) {
	l := colorize(colorBold, label+":")
	fmt.Fprintf(statusOut, "  %s %s\n", l, fmt.Sprintf(format, args...))
}

// reportEntryErrors prints one line per parameter that failed in a sync
// pass and returns how many there were.
func reportEntryErrors(err error) int {
	failed := paramsync.EntryErrors(err)
	for _, ee := range failed {
		printError("%s: %s", ee.Name, strings.TrimPrefix(ee.Err.Error(), ee.Name+": "))
	}
	return len(failed)
}
