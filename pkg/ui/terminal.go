package ui

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
)

// ASCII logo for the application
const ASCIILogo = `
    ╔════════════════════════════════════════════════════╗
    ║  ┌─┐┌─┐┌─┐┌┬┐  ┬ ┬┌─┐┬─┐┬  ┬┌─┐┌─┐┌┬┐              ║
    ║  ├┤ ├┤ ├┤  ││  ├─┤├─┤├┬┘└┐┌┘├┤ └─┐ │               ║
    ║  └  └─┘└─┘─┴┘  ┴ ┴┴ ┴┴└─ └┘ └─┘└─┘ ┴               ║
    ║        resumable concurrent feed harvester         ║
    ╚════════════════════════════════════════════════════╝
`

// Color functions for terminal output
var (
	Cyan    = colorize("\033[36m%s\033[0m")
	Yellow  = colorize("\033[33m%s\033[0m")
	Red     = colorize("\033[31m%s\033[0m")
	Green   = colorize("\033[32m%s\033[0m")
	Magenta = colorize("\033[35m%s\033[0m")
	Dim     = colorize("\033[2m%s\033[0m")
)

var (
	quiet   atomic.Bool
	noColor atomic.Bool
	out     io.Writer = os.Stdout
	errOut  io.Writer = os.Stderr
)

// SetQuietMode suppresses everything but errors
func SetQuietMode(q bool) {
	quiet.Store(q)
}

// SetNoColor disables ANSI colours
func SetNoColor(v bool) {
	noColor.Store(v)
}

// SetOutput redirects regular and error output, mainly for tests
func SetOutput(w io.Writer) {
	out = w
	errOut = w
}

// colorize returns a function that wraps text with ANSI color codes
func colorize(colorString string) func(string) string {
	return func(text string) string {
		if noColor.Load() {
			return text
		}
		return fmt.Sprintf(colorString, text)
	}
}

// detail joins msg with its optional first argument
func detail(msg string, args []interface{}) string {
	if len(args) == 0 {
		return msg
	}
	if s := fmt.Sprintf("%v", args[0]); s != "" {
		return msg + ": " + s
	}
	return msg
}

// PrintLogo prints the ASCII logo with color
func PrintLogo() {
	if quiet.Load() {
		return
	}
	fmt.Fprint(out, Cyan(ASCIILogo))
}

// PrintError prints an error message in red to stderr. Errors are printed
// even in quiet mode.
func PrintError(msg string, args ...interface{}) {
	fmt.Fprintln(errOut, Red(detail(msg, args)))
}

// PrintSuccess prints a success message in green
func PrintSuccess(msg string) {
	if quiet.Load() {
		return
	}
	fmt.Fprintln(out, Green(msg))
}

// PrintInfo prints a label and value
func PrintInfo(label string, value string) {
	if quiet.Load() {
		return
	}
	fmt.Fprintf(out, "%s: %s\n", Cyan(label), Yellow(value))
}

// PrintWarning prints a warning message in yellow
func PrintWarning(msg string, args ...interface{}) {
	if quiet.Load() {
		return
	}
	fmt.Fprintln(out, Yellow(detail(msg, args)))
}

// PrintHighlight prints a highlighted message in magenta
func PrintHighlight(msg string) {
	if quiet.Load() {
		return
	}
	fmt.Fprintln(out, Magenta(msg))
}

// PrintList prints one dimmed bullet per item under a heading
func PrintList(heading string, items []string) {
	if quiet.Load() || len(items) == 0 {
		return
	}
	fmt.Fprintln(out, heading)
	for _, item := range items {
		fmt.Fprintf(out, "  %s %s\n", Dim("-"), item)
	}
}
