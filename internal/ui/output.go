package ui

import (
	"fmt"
	"io"
	"os"
)

var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// SetOutput redirects OK/Fail/Info, mainly for tests and cobra's writers.
func SetOutput(out, errOut io.Writer) {
	stdout, stderr = out, errOut
}

func OK(msg string) {
	t := Current()
	fmt.Fprintln(stdout, t.Success.Render(t.SymOK+" "+msg))
}

func Fail(msg string) {
	t := Current()
	fmt.Fprintln(stderr, t.Error.Render(t.SymFail+" "+msg))
}

// Info prints a muted hint line to stderr.
func Info(msg string) {
	fmt.Fprintln(stderr, Current().Muted.Render(msg))
}

// Warn prints a highlighted banner line to stderr.
func Warn(msg string) {
	fmt.Fprintln(stderr, Current().Banner.Render(msg))
}
