package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"thread-erp-go/internal/app"
	"thread-erp-go/pkg/logger"
)

func main() {
	configPath := pflag.String("config", "", "path to the agent YAML config")
	store := pflag.String("store", "", "queue store override: sqlite or memory")
	pflag.Parse()

	log := logger.NewFromEnv()
	log.Info("app: starting agent")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	agent, err := app.NewAgent(app.AgentOptions{ConfigPath: *configPath, Store: *store}, log)
	if err != nil {
		log.Critical("app: init failed", "err", err)
		_ = log.Sync()
		os.Exit(1)
	}
	if err := agent.Start(ctx); err != nil {
		log.Critical("app: start failed", "err", err)
		_ = agent.Close()
		_ = log.Sync()
		os.Exit(1)
	}

	srv := agent.HTTPServer()
	log.Info("http: listening", "addr", srv.Addr)

	serverErrCh := make(chan error, 1)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
		close(serverErrCh)
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
		log.Info("app: shutdown signal received")
	case err := <-serverErrCh:
		if err != nil {
			log.Critical("http: server failed", "addr", srv.Addr, "err", err)
			exitCode = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("http: graceful shutdown failed", "err", err)
		exitCode = 1
	}

	if err := agent.Close(); err != nil {
		log.Error("app: close failed", "err", err)
		exitCode = 1
	}

	if exitCode != 0 {
		_ = log.Sync()
		os.Exit(exitCode)
	}
	log.Info("app: stopped")
	_ = log.Sync()
}
