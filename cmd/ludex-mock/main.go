package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ludexdash/internal/dashlog"
	"ludexdash/internal/mockserver"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("ludex-mock", flag.ExitOnError)
	listen := fs.String("listen", "127.0.0.1:9090", "listen address (host:port)")
	stepDelay := fs.Duration("step-delay", 600*time.Millisecond, "pause between scripted events")
	decisionTimeout := fs.Duration("decision-timeout", 10*time.Minute, "how long a gate or question waits for a reply")
	accessLog := fs.Bool("access-log", false, "log every HTTP request")
	fs.Parse(args)

	log := dashlog.New(dashlog.Options{
		Term:        os.Stderr,
		TermEnabled: true,
		TermColor:   dashlog.TermColorEnabled(os.Stderr),
	})
	srv := mockserver.New(mockserver.Options{
		StepDelay:       *stepDelay,
		DecisionTimeout: *decisionTimeout,
		AccessLog:       *accessLog,
		Logf:            log.Func(dashlog.KindInfo),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(*listen)
	}()
	log.Logf(dashlog.KindInfo, "mock pipeline listening on http://%s (ws path /ws)", *listen)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Log(dashlog.KindInfo, "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
