// Command demo-server is a local sandbox for feedrelay: it serves a sample
// feed and a fake chat webhook that records what it receives.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"feedrelay/internal/logging"
)

func main() {
	cmd := &cli.Command{
		Name:  "demo-server",
		Usage: "Serve a sample feed and a fake webhook for local feedrelay runs",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "host", Value: "localhost", Usage: "host to bind"},
			&cli.IntFlag{Name: "port", Value: 8080, Usage: "port to listen on"},
			&cli.IntFlag{Name: "fail-every", Usage: "reject every Nth webhook post with HTTP 500 (0 disables)"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			logger, closeLog, err := logging.New(logging.Options{Level: "debug"})
			if err != nil {
				return err
			}
			defer closeLog()
			return serve(ctx, fmt.Sprintf("%s:%d", c.String("host"), c.Int("port")), c.Int("fail-every"), logger)
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := cmd.Run(ctx, os.Args); err != nil {
		stop()
		log.Fatal(err)
	}
}

func serve(ctx context.Context, addr string, failEvery int, logger *zap.Logger) error {
	sb := newSandbox(failEvery, logger)
	server := &http.Server{Addr: addr, Handler: sb.handler(), ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() {
		logger.Info("demo server starting",
			zap.String("feed", "http://"+addr+"/feed"),
			zap.String("webhook", "http://"+addr+"/webhook"),
			zap.String("messages", "http://"+addr+"/messages"))
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down demo server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
