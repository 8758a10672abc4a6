package main

import (
	"bytes"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dimiro1/banner"

	"github.com/Jacob-Lasky/deepgram-stt-relay/pkg/logging"
	"github.com/Jacob-Lasky/deepgram-stt-relay/pkg/relay"
	"github.com/Jacob-Lasky/deepgram-stt-relay/pkg/server"
)

const version = "dev"

func printBanner() {
	tpl := "{{ .Title \"STT RELAY\" \"\" 0 }}\nVersion: " + version + "\n"
	banner.Init(os.Stdout, true, true, bytes.NewBufferString(tpl))
}

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	cfg, err := relay.LoadConfig(*configPath)
	if err != nil {
		slog.Error("config load failed", "error", err.Error())
		os.Exit(1)
	}

	logging.SetDefault(cfg.LogLevel, cfg.LogFormat)
	printBanner()

	srv := server.New(server.Config{
		Addr:      cfg.Addr,
		UploadDir: cfg.UploadDir,
	})
	engine := relay.NewEngine(cfg, srv)
	srv.Attach(engine)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		slog.Error("server start failed", "error", err.Error())
		os.Exit(1)
	}
	slog.Info("relay listening", "addr", cfg.Addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down")
	engine.Close()
	_ = srv.Stop()
}
