package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/ligustah/fanout/internal/server"
)

func runServe(args []string) int {
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)

	var ef engineFlags
	ef.register(fs)
	listen := fs.StringP("listen", "l", "", "Listen address (default from config, :8080)")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: fanout serve [options]

Serve media over HTTP. GET /media/{id} honours single byte ranges and
streams the response through every configured client. Clients disabled
after repeated failures are pinged every health.interval and rejoin once
they answer.

Options:`)
		fs.PrintDefaults()
	}

	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	cfg, err := ef.config()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	if *listen != "" {
		cfg.Listen = *listen
	}

	ctx, cancel := signalContext()
	defer cancel()

	sess, err := openSession(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitSourceNotAccess
	}
	defer sess.Close()

	go sess.registry.Watch(ctx, cfg.Health.Interval)

	srv := server.New(sess.engine(), sess.registry, sess.logger, server.Options{
		Addr:           cfg.Listen,
		CopyBufferSize: int(cfg.CopyBuffer),
	})
	if err := srv.Run(ctx); err != nil {
		sess.logger.Error("server failed", zap.Error(err))
		return ExitGeneralError
	}
	return ExitSuccess
}
