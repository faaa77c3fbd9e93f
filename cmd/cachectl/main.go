package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"catalog-rag/internal/bootstrap"
	"catalog-rag/internal/cli"
	"catalog-rag/internal/config"
	"catalog-rag/internal/logging"
	"catalog-rag/internal/pkg/jwtutil"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cli.Execute(ctx, cli.Deps{Connect: connect, IssueToken: issueToken})
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// connect opens the stores only; no broker, worker or janitor.
func connect(ctx context.Context) (cli.CacheAdmin, io.Closer, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config failed: %w", err)
	}
	log, err := logging.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	// keep command output readable
	if log.GetLevel() > logrus.WarnLevel {
		log.SetLevel(logrus.WarnLevel)
	}
	log.SetOutput(os.Stderr)

	app, err := bootstrap.New(ctx, cfg, log, bootstrap.Options{})
	if err != nil {
		return nil, nil, err
	}
	return app.Cache, app, nil
}

func issueToken(userID, username, role string) (string, error) {
	cfg, err := config.Load()
	if err != nil {
		return "", fmt.Errorf("load config failed: %w", err)
	}
	ttl := time.Duration(cfg.Auth.JWTExpireMinute) * time.Minute
	return jwtutil.GenerateToken(cfg.Auth.JWTSecret, userID, username, role, ttl)
}
