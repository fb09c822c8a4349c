package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"golang.org/x/term"
)

var (
	successStyle = color.New(color.FgGreen, color.Bold)
	errorStyle   = color.New(color.FgRed, color.Bold)
	warnStyle    = color.New(color.FgYellow, color.Bold)
	labelStyle   = color.New(color.Faint)
	valueStyle   = color.New(color.FgCyan)
	headingStyle = color.New(color.Bold)
)

func printSuccess(w io.Writer, msg string) {
	fmt.Fprintf(w, "%s %s\n", successStyle.Sprint("✓"), msg)
}

func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "%s %v\n", errorStyle.Sprint("✗"), err)
	if tip := hint(err); tip != "" {
		fmt.Fprintf(w, "  %s %s\n", labelStyle.Sprint("Tip:"), tip)
	}
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "\n%s\n", headingStyle.Sprint(title))
}

func printField(w io.Writer, name string, v any) {
	fmt.Fprintf(w, "  %s %v\n", labelStyle.Sprintf("%-16s", name), v)
}

// onOff renders a boolean state.
func onOff(v bool, on, off string) string {
	if v {
		return successStyle.Sprint(on)
	}
	return warnStyle.Sprint(off)
}

// startSpinner shows progress on stderr when it is a terminal. The returned
// function stops it.
func startSpinner(suffix string) func() {
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		return func() {}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " " + suffix
	s.Start()
	return s.Stop
}

// readPassphrase prompts on the controlling terminal, leaving stdin free
// for data. Tests replace it.
var readPassphrase = func(prompt string) ([]byte, error) {
	ttyPath := "/dev/tty"
	if runtime.GOOS == "windows" {
		ttyPath = "CON"
	}

	tty, err := os.Open(ttyPath)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s for passphrase input: %w", ttyPath, err)
	}
	defer tty.Close()

	fd := int(tty.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("%s is not a terminal", ttyPath)
	}

	fmt.Fprint(os.Stderr, prompt)
	passphrase, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("read passphrase: %w", err)
	}
	return passphrase, nil
}

// confirm asks a yes/no question on r.
func confirm(r io.Reader, w io.Writer, question string) bool {
	fmt.Fprintf(w, "%s [y/N] ", question)
	line, _ := bufio.NewReader(r).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}
