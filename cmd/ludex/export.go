package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"ludexdash/internal/docrender"
)

func runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	in := fs.String("in", "", "design document markdown file")
	out := fs.String("out", "", "output html file (default: input with .html)")
	title := fs.String("title", "", "page title (default: first heading)")
	fs.Usage = func() { printCommandUsage(fs.Output(), "export") }
	fs.Parse(args)

	src := strings.TrimSpace(*in)
	if src == "" {
		return errors.New("--in is required")
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	dst := strings.TrimSpace(*out)
	if dst == "" {
		dst = strings.TrimSuffix(src, filepath.Ext(src)) + ".html"
	}
	if err := docrender.ExportHTML(dst, string(data), docrender.HTMLOptions{Title: strings.TrimSpace(*title)}); err != nil {
		return err
	}
	fmt.Println("wrote", dst)
	return nil
}
