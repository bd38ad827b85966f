package main

import (
	"context"
	"flag"
	"fmt"
	"time"
)

func runHealth(args []string) error {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file (JSON or YAML)")
	fs.Usage = func() { printCommandUsage(fs.Output(), "health") }
	fs.Parse(args)

	a, err := newApp(*configPath, false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	resp, err := a.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", a.cfg.HealthURL(), err)
	}
	fmt.Printf("%s %s (%s)\n", resp.Status, resp.Service, a.cfg.Server.BaseURL)
	return nil
}
