package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		exitOnError(runWatch(nil))
		return
	}

	switch os.Args[1] {
	case "watch":
		exitOnError(runWatch(os.Args[2:]))
	case "tail":
		exitOnError(runTail(os.Args[2:]))
	case "export":
		exitOnError(runExport(os.Args[2:]))
	case "health":
		exitOnError(runHealth(os.Args[2:]))
	case "version", "--version", "-version":
		fmt.Println(versionString())
	default:
		if isHelpArg(os.Args[1]) {
			if len(os.Args) > 2 {
				printCommandUsage(os.Stdout, os.Args[2])
			} else {
				printRootUsage(os.Stdout)
			}
			return
		}
		exitOnError(runWatch(os.Args[1:]))
	}
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
