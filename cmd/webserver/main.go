// Command webserver is the CLI entrypoint: parse flags into
// internal/config.Config, build the logger and reactor, and run until a
// signal or the reactor's own error stops it. The flag surface and the
// App/Action shape follow github.com/urfave/cli/v2, the CLI library the
// gaio author's own sibling project (xtaci/kcptun) uses for its command
// entrypoints.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/xtaci/webserver/internal/config"
	"github.com/xtaci/webserver/internal/logging"
	"github.com/xtaci/webserver/internal/reactor"
	"github.com/xtaci/webserver/internal/sqlpool"
	"github.com/xtaci/webserver/internal/userauth"
)

func main() {
	app := &cli.App{
		Name:  "webserver",
		Usage: "an epoll-reactor HTTP/1.1 static file server",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "port", Value: 8080, Usage: "listen port"},
			&cli.StringFlag{Name: "docroot", Value: "./resources", Usage: "static file document root"},
			&cli.StringFlag{Name: "index", Value: "/index.html", Usage: "path served for /"},
			&cli.DurationFlag{Name: "idle-timeout", Value: 60 * time.Second, Usage: "idle connection timeout"},
			&cli.IntFlag{Name: "workers", Value: 8, Usage: "worker pool size"},
			&cli.IntFlag{Name: "task-queue-size", Value: 4096, Usage: "bounded task queue depth, 0 for unbounded"},
			&cli.StringFlag{Name: "trigger-mode", Value: "edge", Usage: "epoll trigger mode: edge|level"},
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "debug|info|warn|error"},
			&cli.BoolFlag{Name: "log-async", Value: true, Usage: "buffer log writes on a background goroutine"},
			&cli.StringFlag{Name: "mysql-dsn", Usage: "DSN for the demo registration/login handler"},
			&cli.BoolFlag{Name: "enable-demo-login", Value: false, Usage: "enable the auxiliary SQL-backed demo login handler"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg := config.Default()
	cfg.Port = c.Int("port")
	cfg.DocRoot = c.String("docroot")
	cfg.IndexPath = c.String("index")
	cfg.IdleTimeout = c.Duration("idle-timeout")
	cfg.Workers = c.Int("workers")
	cfg.TaskQueueSize = c.Int("task-queue-size")
	cfg.LogLevel = c.String("log-level")
	cfg.MySQLDSN = c.String("mysql-dsn")
	cfg.EnableDemoLogin = c.Bool("enable-demo-login")

	switch c.String("trigger-mode") {
	case "level":
		cfg.Trigger = config.TriggerLevel
	default:
		cfg.Trigger = config.TriggerEdge
	}

	log, err := logging.New(cfg.LogLevel, c.Bool("log-async"))
	if err != nil {
		return errors.Wrap(err, "webserver: build logger")
	}
	defer log.Sync()

	r, err := reactor.New(cfg, log)
	if err != nil {
		return errors.Wrap(err, "webserver: build reactor")
	}

	if cfg.EnableDemoLogin {
		if cfg.MySQLDSN == "" {
			return errors.New("webserver: --enable-demo-login requires --mysql-dsn")
		}
		pool, err := sqlpool.Open(cfg.MySQLDSN, cfg.Workers)
		if err != nil {
			return errors.Wrap(err, "webserver: open sql pool")
		}
		defer pool.Shutdown()
		r.SetAuthHandler(userauth.New(pool))
	}

	errCh := make(chan error, 1)
	go func() { errCh <- r.Run() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("webserver started", zap.Int("port", cfg.Port), zap.String("docroot", cfg.DocRoot))

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		return r.Close()
	case err := <-errCh:
		return err
	}
}
