package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/driftworks/pimnet/logger"
	"github.com/driftworks/pimnet/monitor"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		logLevel    string
		logFormat   string
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the training monitor REST API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8090",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error)",
				Value:       "info",
				Destination: &logLevel,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Usage:       "log format (text or json)",
				Value:       "text",
				Destination: &logFormat,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log, err := logger.New(os.Stderr, logger.Config{Level: logLevel, Format: logFormat})
			if err != nil {
				return err
			}

			server := monitor.NewServer(monitor.NewRunStore())
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)

			log.Info("starting monitor", "address", addr)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
