package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"ludexdash/internal/appinfo"
)

func binaryName() string {
	if len(os.Args) == 0 {
		return "ludex"
	}
	name := strings.TrimSpace(filepath.Base(os.Args[0]))
	if name == "" {
		return "ludex"
	}
	return name
}

func versionString() string {
	return appinfo.Display()
}

func isHelpArg(arg string) bool {
	switch strings.ToLower(strings.TrimSpace(arg)) {
	case "-h", "--help", "-help", "help":
		return true
	default:
		return false
	}
}

func printRootUsage(w io.Writer) {
	bin := binaryName()
	fmt.Fprintf(w, `%s - live dashboard for the LUDEX game design pipeline

Usage:
  %s [command] [options]

Commands:
  watch       Interactive dashboard (default)
  tail        Print pipeline events as log lines until the run ends
  export      Render a design document markdown file to HTML
  health      Check that the pipeline backend is reachable
  version     Print the version

Config:
  - --config is optional; without it the defaults and LUDEX_* environment
    variables are used. Files ending in .yaml/.yml are read as YAML.

Help:
  %s -h
  %s help <command>
`, bin, bin, bin, bin)
}

func printCommandUsage(w io.Writer, cmd string) {
	bin := binaryName()
	switch strings.TrimSpace(cmd) {
	case "watch":
		fmt.Fprintf(w, `Usage:
  %s watch [options]
  %s [options]        (same as "watch")

Options:
  --config <file>        Config file (JSON or YAML)
  --concept <text>       Game concept; starts a run immediately when set
  --genre <text>         Genre sent with the concept
  --export-dir <dir>     Where "e" writes the design document (default: .)
  --no-metrics           Do not poll the metrics endpoint

Keys:
  y / x      approve / reject the pending gate
  a          answer the director's questions
  n / N      start a new run / with a new concept
  tab        switch between activity and design document
  e          export the design document
  q          quit
`, bin, bin)
	case "tail":
		fmt.Fprintf(w, `Usage:
  %s tail --concept <text> [options]

Options:
  --config <file>        Config file (JSON or YAML)
  --concept <text>       Game concept (required)
  --genre <text>         Genre sent with the concept
  --auto-approve         Approve every gate as it is reached
  --answer <text>        Answer sent to every round of director questions

Exits 0 when the run completes and 1 when it ends in error.
`, bin)
	case "export":
		fmt.Fprintf(w, `Usage:
  %s export --in <file.md> [--out <file.html>] [--title <text>]
`, bin)
	case "health":
		fmt.Fprintf(w, `Usage:
  %s health [--config <file>]
`, bin)
	default:
		printRootUsage(w)
	}
}
